package main

import (
	"context"
	"log"
	"os"

	"github.com/snasd/snas/internal/server"
	"github.com/snasd/snas/internal/server/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Printf("configuration error: %v", err)
		os.Exit(2)
	}

	app := server.NewApp(cfg)
	if err := app.Run(context.Background()); err != nil {
		os.Exit(1)
	}
}
