package main

import (
	"context"
	"log"

	"github.com/corpass/corpass/internal/server"
	"github.com/corpass/corpass/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
