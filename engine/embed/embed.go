// Package embed turns ticket text into fixed-length vectors.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BanglaVai/ticketrag/pkg/ollama"
	"github.com/BanglaVai/ticketrag/pkg/resilience"
)

// Encoder maps texts to embeddings of a fixed dimension. Implementations are
// deterministic for a given model and safe for concurrent use. Blank text
// encodes to the zero vector.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// Providers accepted by Open.
const (
	ProviderHashing = "hashing"
	ProviderOllama  = "ollama"
)

var ErrUnknownProvider = errors.New("unknown embedding provider")

// Config selects and tunes the encoder.
type Config struct {
	Provider  string
	Dimension int

	OllamaURL   string
	OllamaModel string
	Timeout     time.Duration
	Breaker     resilience.BreakerOpts
}

// Open builds the configured encoder and checks that it produces vectors of
// the advertised dimension. Callers treat an error as fatal.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Encoder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var enc Encoder
	switch cfg.Provider {
	case "", ProviderHashing:
		enc = NewHashing(cfg.Dimension)
	case ProviderOllama:
		c := ollama.NewEmbedClient(cfg.OllamaURL, cfg.OllamaModel,
			ollama.WithTimeout(cfg.Timeout),
			ollama.WithBreaker(resilience.NewBreaker(cfg.Breaker)),
		)
		if _, err := c.Probe(ctx); err != nil {
			return nil, fmt.Errorf("embed: open %s: %w", c.ModelName(), err)
		}
		enc = c
	default:
		return nil, fmt.Errorf("embed: %w: %q", ErrUnknownProvider, cfg.Provider)
	}

	vecs, err := enc.Encode(ctx, []string{"probe"})
	if err != nil {
		return nil, fmt.Errorf("embed: probe %s: %w", enc.ModelName(), err)
	}
	if len(vecs) != 1 || len(vecs[0]) != enc.Dimension() {
		return nil, fmt.Errorf("embed: probe %s: unexpected output shape", enc.ModelName())
	}
	logger.Info("encoder ready", "model", enc.ModelName(), "dimension", enc.Dimension())
	return enc, nil
}
