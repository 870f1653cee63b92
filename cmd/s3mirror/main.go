package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/s3mirror/internal/mirror"
	"github.com/dmitrijs2005/s3mirror/internal/mirror/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := mirror.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}
