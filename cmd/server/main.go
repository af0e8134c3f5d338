// Package main runs the SchemaFlow platform server: the tenant-facing
// HTTP API, the operational listener and the background job scheduler.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/schemaflow/platform/internal/app/runtime"
	"github.com/schemaflow/platform/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env-file", "", "load environment variables from this file")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env file %s: %v", *envFile, err)
		}
	} else {
		_ = godotenv.Load() // optional .env for local runs
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}

	if err := application.Shutdown(context.Background()); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
