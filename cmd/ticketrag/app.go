package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/BanglaVai/ticketrag/engine/embed"
	"github.com/BanglaVai/ticketrag/engine/rag"
	"github.com/BanglaVai/ticketrag/engine/semantic"
	"github.com/BanglaVai/ticketrag/pkg/config"
	"github.com/BanglaVai/ticketrag/pkg/logging"
	"github.com/BanglaVai/ticketrag/pkg/metrics"
	"github.com/BanglaVai/ticketrag/pkg/resilience"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
	reg    *metrics.Registry

	out    io.Writer
	logOut io.Writer
}

func newRootCmd(out, logOut io.Writer) *cobra.Command {
	a := &app{out: out, logOut: logOut}
	root := &cobra.Command{
		Use:          "ticketrag",
		Short:        "Similarity search over historical support tickets",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.closer.Close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./ticketrag.yaml if present)")
	root.SetOut(out)
	root.SetErr(logOut)
	root.AddCommand(
		newServeCmd(a),
		newInitCmd(a),
		newStatusCmd(a),
		newSearchCmd(a),
		newReloadCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(a.logOut, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	a.closer = closer
	a.reg = metrics.New()
	return nil
}

func (a *app) openEncoder(ctx context.Context) (embed.Encoder, error) {
	c := a.cfg.Embedding
	breakerState := a.reg.Gauge("encoder_breaker_state", "Remote encoder circuit state (0 closed, 1 open, 2 half-open).").
		WithLabelValues()
	opts := resilience.DefaultBreakerOpts
	opts.OnStateChange = func(from, to resilience.State) {
		breakerState.Set(float64(to))
		a.logger.Warn("encoder circuit changed", "from", from.String(), "to", to.String())
	}
	return embed.Open(ctx, embed.Config{
		Provider:    c.Provider,
		Dimension:   c.Dimension,
		OllamaURL:   c.OllamaURL,
		OllamaModel: c.OllamaModel,
		Timeout:     c.Timeout,
		Breaker:     opts,
	}, a.logger)
}

func (a *app) openStore() (semantic.Store, error) {
	switch a.cfg.Index.Backend {
	case config.BackendQdrant:
		return semantic.NewQdrant(a.cfg.Index.QdrantAddr)
	default:
		return semantic.OpenLocal(a.cfg.Index.Path, a.logger)
	}
}

// buildService opens the encoder and the index and returns a ready service.
func (a *app) buildService(ctx context.Context, notifier rag.Notifier) (*rag.Service, error) {
	enc, err := a.openEncoder(ctx)
	if err != nil {
		return nil, err
	}
	dist, err := semantic.ParseDistance(a.cfg.Index.Distance)
	if err != nil {
		return nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	svc, err := rag.New(ctx, rag.Deps{
		Encoder:  enc,
		Store:    store,
		Metrics:  a.reg,
		Notifier: notifier,
		Logger:   a.logger,
	}, rag.Options{
		Collection:    a.cfg.Index.Collection,
		Distance:      dist,
		MinScore:      a.cfg.Index.MinScore,
		DatabaseType:  a.cfg.Index.Backend,
		BatchSize:     a.cfg.Index.BatchSize,
		SearchTimeout: a.cfg.Index.SearchTimeout,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open search service: %w", err)
	}
	return svc, nil
}

func (a *app) newHolder(notifier rag.Notifier) *rag.Holder {
	return rag.NewHolder(func(ctx context.Context) (*rag.Service, error) {
		return a.buildService(ctx, notifier)
	})
}
