// Package news aggregates security headlines from RSS and Atom feeds.
package news

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	"github.com/mohammad-safakhou/svat/internal/helpers"
	"github.com/mohammad-safakhou/svat/internal/telemetry"
	"github.com/mohammad-safakhou/svat/models"
)

const publishedLayout = "2006-01-02 15:04:05"

// Digest maps a source name to its latest items.
type Digest map[string][]models.NewsItem

// Fetcher reads every configured feed.
type Fetcher struct {
	Feeds    map[string]string
	MaxItems int
	Parser   *gofeed.Parser
	Logger   *log.Logger
}

func NewFetcher(feeds map[string]string, maxItems int, http *helpers.HTTPClient, logger *log.Logger) *Fetcher {
	if maxItems <= 0 {
		maxItems = 10
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[NEWS] ", log.LstdFlags)
	}
	p := gofeed.NewParser()
	if http != nil {
		p.Client = http.Client()
		if http.UserAgent != "" {
			p.UserAgent = http.UserAgent
		}
	}
	return &Fetcher{Feeds: feeds, MaxItems: maxItems, Parser: p, Logger: logger}
}

// FetchAll returns an entry for every source. A failing feed yields an
// empty list instead of an error.
func (f *Fetcher) FetchAll(ctx context.Context) Digest {
	names := make([]string, 0, len(f.Feeds))
	for name := range f.Feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Digest, len(names))
	for _, name := range names {
		items, err := f.Fetch(ctx, f.Feeds[name])
		if err != nil {
			telemetry.NewsFetchFailures.WithLabelValues(name).Inc()
			f.Logger.Printf("Error fetching news from %s: %v", name, err)
			items = []models.NewsItem{}
		}
		out[name] = items
	}
	return out
}

// Fetch parses one feed and keeps the first MaxItems entries.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]models.NewsItem, error) {
	feed, err := f.Parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, err
	}
	items := make([]models.NewsItem, 0, f.MaxItems)
	for _, it := range feed.Items {
		if len(items) == f.MaxItems {
			break
		}
		items = append(items, toItem(it))
	}
	return items, nil
}

func toItem(it *gofeed.Item) models.NewsItem {
	n := models.NewsItem{Title: "No title", Link: "#", Published: "N/A"}
	if t := helpers.PlainText(it.Title); t != "" {
		n.Title = t
	}
	if l := strings.TrimSpace(it.Link); l != "" {
		n.Link = l
	}
	n.Published = FormatPublished(it.Published, it.PublishedParsed)
	return n
}

// FormatPublished renders a publish date as "2006-01-02 15:04:05". Raw
// values that cannot be parsed are kept as they are.
func FormatPublished(raw string, parsed *time.Time) string {
	if parsed != nil {
		return parsed.Format(publishedLayout)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "N/A"
	}
	if t, err := dateparse.ParseAny(raw); err == nil {
		return t.Format(publishedLayout)
	}
	return raw
}
