package main

import (
	"context"
	"flag"
	"log"
	"os"

	"PatternDesk/internal/di"
	"PatternDesk/pkg/config"
	"PatternDesk/pkg/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	modeFlag := flag.String("mode", "all", "producer, dashboard, all, once or status")
	flag.Parse()

	mode, err := server.ParseMode(*modeFlag)
	if err != nil {
		log.Fatalf("invalid mode: %v", err)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app, cleanup, err := di.InitializeApp(cfg, mode)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	err = app.Run(context.Background())
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
