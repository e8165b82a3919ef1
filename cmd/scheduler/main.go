// Command scheduler runs the cron trigger loop (spec §4.6).
//
// Configuration:
//
//	DATABASE_URL                         sqlite:<path> or mysql:<dsn>
//	WORKFLOW_DEFINITIONS_PATH            directory of .wirl templates (default "workflow_definitions")
//	SCHEDULER_POLL_INTERVAL_SECONDS      how often due triggers are polled (default 60)
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/madmag77/wirl/cron"
	"github.com/madmag77/wirl/internal/bootstrap"
	"github.com/madmag77/wirl/scheduler"
	"github.com/madmag77/wirl/template"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	stores, err := bootstrap.Open(ctx, databaseURL)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}
	defer stores.Close()

	definitionsPath := getenvDefault("WORKFLOW_DEFINITIONS_PATH", "workflow_definitions")
	if _, err := template.Discover(definitionsPath); err != nil {
		log.Printf("template discovery at %q failed (continuing): %v", definitionsPath, err)
	}

	sched := scheduler.New(stores.Store, builtinRegistry(), cron.NewEvaluator(),
		scheduler.WithTickInterval(time.Duration(getenvInt("SCHEDULER_POLL_INTERVAL_SECONDS", 60))*time.Second),
	)

	log.Print("scheduler starting")
	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()
	log.Print("scheduler stopped")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
