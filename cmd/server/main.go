package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	callmem "github.com/ringlink/ringlink/internal/adapter/driven/call/memory"
	"github.com/ringlink/ringlink/internal/adapter/driven/gateway/ws"
	handler "github.com/ringlink/ringlink/internal/adapter/driving/http"
	"github.com/ringlink/ringlink/internal/config"
	"github.com/ringlink/ringlink/internal/core/service"
	"github.com/ringlink/ringlink/internal/metrics"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	l := config.NewLogger(cfg)
	log.Logger = l

	stats := metrics.New()
	hub := ws.NewHub()
	table := callmem.NewCallTable()

	presence := service.NewPresenceService(hub, stats)
	calls := service.NewCallService(table, presence, hub, stats, cfg.RingTimeout)
	h := handler.NewHandler(presence, calls, hub, stats, cfg)

	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.ListenAddr).Dur("ring_timeout", cfg.RingTimeout).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Server exited")
}
