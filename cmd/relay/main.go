// Relay — the signaling relay server. It forwards call-signaling
// messages between agents by user id and does nothing else; all call
// logic lives in the agents.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutorlink/rtc/internal/config"
	"github.com/tutorlink/rtc/internal/relay"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Logger()

	cfg := config.RelayFromEnv()
	srv := relay.New(l)

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Router(),
	}

	go func() {
		l.Info().Str("addr", cfg.Addr).Msg("starting relay")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("failed to start relay")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("forced shutdown")
	}
	srv.Stop()
	l.Info().Msg("relay exited")
}
