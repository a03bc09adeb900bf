package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/svat/config"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	var cfgPath string
	var root = &cobra.Command{
		Use:           "svat",
		Short:         "Security vulnerability document ingestion and retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/svat.json)")

	load := func() (*config.Config, error) { return config.LoadConfig(cfgPath) }
	root.AddCommand(serveCMD(load), migrateCMD(load), newsCMD(load))
	if err := root.Execute(); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

type loader func() (*config.Config, error)
