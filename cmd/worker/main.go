// Command worker runs the pool of Run-claiming workers (spec §4.5).
//
// Configuration (matching original_source/apps/workers/workers/worker_pool.py's
// env reads):
//
//	DATABASE_URL               sqlite:<path> or mysql:<dsn>
//	WORKERS                    concurrent worker count (default 4)
//	TASK_TIMEOUT_MINUTES       per-run timeout in minutes (default 20)
//	WORKFLOW_DEFINITIONS_PATH  directory of .wirl templates (default "workflow_definitions")
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/madmag77/wirl/graph"
	"github.com/madmag77/wirl/graph/emit"
	"github.com/madmag77/wirl/internal/bootstrap"
	"github.com/madmag77/wirl/template"
	"github.com/madmag77/wirl/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
	discovered, err := template.Discover(definitionsPath)
	if err != nil {
		log.Printf("template discovery at %q failed (continuing with built-in registry): %v", definitionsPath, err)
	}

	registry := builtinRegistry()
	for _, t := range discovered {
		if _, err := registry.Resolve(t.ID); err != nil {
			log.Printf("discovered template %q has no registered Builder (template DSL parsing is not implemented)", t.ID)
		}
	}

	runnerOpts := []graph.Option{}
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		promRegistry := prometheus.NewRegistry()
		runnerOpts = append(runnerOpts, graph.WithMetrics(graph.NewPrometheusMetrics(promRegistry)))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // internal metrics endpoint
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		log.Printf("metrics exposed at http://%s/metrics", addr)
	}

	runner := graph.NewRunner(emit.NewLogEmitter(os.Stdout, false), runnerOpts...)
	pool := worker.NewPool(stores.Store, stores.Checkpointer, registry, runner,
		worker.WithConcurrency(getenvInt("WORKERS", 4)),
		worker.WithTaskTimeout(time.Duration(getenvInt("TASK_TIMEOUT_MINUTES", 20))*time.Minute),
	)

	log.Printf("worker pool starting: concurrency=%d", getenvInt("WORKERS", 4))
	if err := pool.Run(ctx); err != nil {
		log.Fatalf("worker pool exited with error: %v", err)
	}
	log.Print("worker pool stopped")
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
