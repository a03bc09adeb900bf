package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/svat/internal/helpers"
	"github.com/mohammad-safakhou/svat/internal/news"
)

func newsCMD(load loader) *cobra.Command {
	var newsCmd = &cobra.Command{
		Use:   "news",
		Short: "Security news feeds",
	}
	var refresh = &cobra.Command{
		Use:   "refresh",
		Short: "Fetch every feed, warm the cache and print the digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			fetcher := news.NewFetcher(cfg.News.Feeds, cfg.News.MaxItems, helpers.NewHTTPClient(cfg.News.Timeout, 1, 0), nil)
			var cache news.Cache
			if cfg.Storage.Redis.Enabled() {
				rdb := redis.NewClient(&redis.Options{
					Addr:     cfg.Storage.Redis.Addr(),
					Password: cfg.Storage.Redis.Password,
					DB:       cfg.Storage.Redis.DB,
				})
				defer rdb.Close()
				cache = news.NewRedisCache(rdb)
			}
			d := news.NewService(fetcher, cache, cfg.News.CacheTTL, nil).Refresh(context.Background())
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{"news": d})
		},
	}
	newsCmd.AddCommand(refresh)
	return newsCmd
}
