package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gridwatch/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp()
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		application.Close()
		log.Fatalf("Server stopped: %v", err)
	}
}
