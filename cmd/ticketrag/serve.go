package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BanglaVai/ticketrag/engine/rag"
	"github.com/BanglaVai/ticketrag/pkg/fn"
	"github.com/BanglaVai/ticketrag/pkg/natsutil"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP search API and the NATS reload listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// reloadNotifier publishes every completed rebuild on subject. A publish
// refused while the connection is reconnecting is retried.
func reloadNotifier(p natsutil.Publisher, subject string, retry fn.RetryOpts) rag.Notifier {
	return rag.NotifierFunc(func(ctx context.Context, ev rag.ReloadEvent) error {
		return fn.RetryErr(ctx, retry, func(ctx context.Context) error {
			return natsutil.Publish(ctx, p, subject, ev)
		})
	})
}

func (a *app) serve(ctx context.Context) error {
	var (
		nc       *nats.Conn
		notifier rag.Notifier
		err      error
	)
	if a.cfg.NATS.URL != "" {
		nc, err = natsutil.Connect(a.cfg.NATS.URL, "ticketrag", a.logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		notifier = reloadNotifier(nc, a.cfg.NATS.ReloadedSubject, fn.QuickRetry)
	}

	holder := a.newHolder(notifier)
	defer holder.Close()

	// Encoder and index failures are fatal, so build before taking traffic.
	if _, err := holder.Get(ctx); err != nil {
		return err
	}

	srvh := &server{holder: holder, corpus: a.cfg.Corpus.Path, logger: a.logger}
	if nc != nil {
		sub, err := natsutil.Handle(nc, a.cfg.NATS.ReloadSubject, a.logger, srvh.reload)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", a.cfg.NATS.ReloadSubject, err)
		}
		defer sub.Unsubscribe()
		a.logger.Info("listening for reload requests", "subject", a.cfg.NATS.ReloadSubject)
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      srvh.handler(a.cfg.Server, a.reg),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("api server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error {
			a.logger.Info("metrics server starting", "addr", a.cfg.Metrics.Addr)
			return a.reg.Serve(gctx, a.cfg.Metrics.Addr)
		})
	}
	return g.Wait()
}
