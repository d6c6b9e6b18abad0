package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkorchagin/camstream/internal/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := client.NewApp()
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}
}
