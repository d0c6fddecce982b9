package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BanglaVai/ticketrag/engine/rag"
	"github.com/BanglaVai/ticketrag/pkg/natsutil"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print index reload events published by running servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.NATS.URL == "" {
				return errors.New("watch needs nats.url")
			}
			nc, err := natsutil.Connect(a.cfg.NATS.URL, "ticketrag-watch", a.logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watchReloads(ctx, nc, a.cfg.NATS.ReloadedSubject, a.out, a.logger)
		},
	}
}

// watchReloads prints one line per reload event on subject until ctx ends.
func watchReloads(ctx context.Context, nc natsutil.Subscriber, subject string, out io.Writer, logger *slog.Logger) error {
	sub, err := natsutil.Subscribe(nc, subject, logger, func(_ context.Context, ev rag.ReloadEvent) {
		fmt.Fprintf(out, "%s reloaded %s from %s: %d tickets (%d dropped) in %.1fs\n",
			ev.FinishedAt.Format("2006-01-02 15:04:05"), ev.Collection, ev.Source, ev.Count, ev.Dropped, ev.Duration.Seconds())
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if sub != nil {
		defer sub.Unsubscribe()
	}
	logger.Info("watching reload events", "subject", subject)
	<-ctx.Done()
	return nil
}
