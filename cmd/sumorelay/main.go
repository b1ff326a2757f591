package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/sumobot/internal/api"
	"github.com/banshee-data/sumobot/internal/monitoring"
	"github.com/banshee-data/sumobot/internal/relay"
)

var (
	listen = flag.String("listen", ":8081", "Listen address")
	debug  = flag.Bool("debug", false, "Development logging")
)

func main() {
	flag.Parse()

	logger, err := monitoring.NewLogger(*debug)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rl := relay.New(nil)
	server := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(rl.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		monitoring.Logf("relay listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("relay shutdown error: %v", err)
	}
	monitoring.Logf("Graceful shutdown complete")
}
