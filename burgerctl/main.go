package main

import (
	"log/slog"
	"os"

	"burger-queue/pkg/config"
)

func main() {
	var cfg config.ClientConfig
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg.APIURL).Execute(); err != nil {
		os.Exit(1)
	}
}
