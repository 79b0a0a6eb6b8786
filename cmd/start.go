package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/keeper/internal/manager"
	"github.com/tanq16/keeper/internal/output"
)

func newStartCmd() *cobra.Command {
	var all bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "start [ID...] [--all]",
		Short: "Start or resume downloads in the foreground",
		Long:  "Start or resume downloads and follow them until they finish. Ctrl-C pauses them; progress is kept for the next start.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("provide download IDs or --all, not both")
			}
			var ids []string
			if all {
				for _, s := range current.mgr.List() {
					if s.State == manager.StateQueued || s.State == manager.StatePaused {
						ids = append(ids, s.ID)
					}
				}
			} else {
				var err error
				if ids, err = resolveIDs(args); err != nil {
					return err
				}
			}
			if len(ids) == 0 {
				output.PrintInfo("Nothing to start")
				return nil
			}
			return runForeground(cmd.Context(), ids, metricsAddr)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Start every queued or paused download")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g., :9090)")
	return cmd
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", current.metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Str("op", "cmd/start").Str("addr", addr).Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("op", "cmd/start").Str("addr", addr).Msg("serving metrics")
	return server
}

// runForeground starts ids, draws their progress and blocks until all of
// them stop. An interrupt pauses whatever is still running.
func runForeground(parent context.Context, ids []string, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr == "" {
		metricsAddr = current.cfg.MetricsAddr
	}
	if metricsAddr != "" {
		server := serveMetrics(metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	events, unsubscribe := current.mgr.Subscribe(256)
	defer unsubscribe()
	display := output.NewDisplay()
	for _, id := range ids {
		if snap, err := current.mgr.Get(id); err == nil {
			display.Track(snap)
		}
	}
	display.Start(ctx, events)

	started := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := current.mgr.Start(id); err != nil {
			log.Warn().Str("op", "cmd/start").Str("id", id).Err(err).Msg("could not start download")
			continue
		}
		started = append(started, id)
	}
	for _, id := range started {
		if _, err := current.mgr.Wait(ctx, id); err != nil {
			break
		}
	}
	if ctx.Err() != nil {
		for _, id := range started {
			if err := current.mgr.Pause(id); err != nil {
				log.Debug().Str("op", "cmd/start").Str("id", id).Err(err).Msg("pause after interrupt")
			}
		}
	}

	var failed int
	for _, id := range ids {
		snap, err := current.mgr.Get(id)
		if err != nil {
			continue
		}
		display.Track(snap)
		if snap.State == manager.StateFailed {
			failed++
		}
	}
	display.Stop()
	if failed > 0 {
		return fmt.Errorf("%d download(s) failed", failed)
	}
	return nil
}
