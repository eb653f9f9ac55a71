// Package main is the entry point for a botfleet worker bot.
// Bots are stateless: they poll the coordinator for work, execute it locally,
// and report the outcome.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"botfleet/internal/bot"
	"botfleet/internal/logger"
	"botfleet/internal/operations"

	"github.com/google/uuid"
)

func main() {
	id := flag.String("id", "", "Bot id (default: generated)")
	coordinatorURL := flag.String("coordinator", "", "Coordinator base URL (default: $COORDINATOR_URL or http://localhost:8080)")
	operation := flag.String("operation", "", "Pin this bot to one operation (default: dynamic pinning on first claim)")
	flag.Parse()

	if *id == "" {
		*id = "bot-" + uuid.NewString()[:8]
	}
	if *coordinatorURL == "" {
		*coordinatorURL = os.Getenv("COORDINATOR_URL")
	}
	if *coordinatorURL == "" {
		*coordinatorURL = "http://localhost:8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	agent := bot.New(bot.Config{
		ID:                *id,
		CoordinatorURL:    *coordinatorURL,
		AssignedOperation: *operation,
	}, operations.Load(), logger.New())

	log.Printf("Bot %s starting against %s", *id, *coordinatorURL)
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Bot stopped: %v", err)
	}
}
