package main

import (
	"github.com/spf13/cobra"

	srv "github.com/mohammad-safakhou/svat/internal/server"
)

func serveCMD(load loader) *cobra.Command {
	var addr string
	var migDir string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			return srv.Run(cfg, migDir)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	serve.Flags().StringVar(&migDir, "migrations", "file://migrations", "migrations source applied on startup")
	return serve
}
