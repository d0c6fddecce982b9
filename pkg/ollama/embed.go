// Package ollama provides an embedding encoder backed by a local Ollama
// daemon's HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/BanglaVai/ticketrag/pkg/resilience"
)

const (
	DefaultURL     = "http://localhost:11434"
	DefaultModel   = "all-minilm"
	DefaultTimeout = 30 * time.Second
)

var ErrEmptyEmbedding = errors.New("ollama returned an empty embedding")

// EmbedClient implements the engine's Encoder contract using Ollama's
// /api/embeddings endpoint, one request per text.
type EmbedClient struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *resilience.Breaker

	mu  sync.Mutex
	dim int
}

// Option configures an EmbedClient.
type Option func(*EmbedClient)

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(e *EmbedClient) { e.client = c } }

// WithTimeout sets the per-request timeout. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(e *EmbedClient) {
		if d > 0 {
			e.client.Timeout = d
		}
	}
}

// WithBreaker guards every request with b.
func WithBreaker(b *resilience.Breaker) Option { return func(e *EmbedClient) { e.breaker = b } }

// NewEmbedClient creates an Ollama embedding client.
func NewEmbedClient(baseURL, model string, opts ...Option) *EmbedClient {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}
	c := &EmbedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultTimeout,
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return c
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (c *EmbedClient) ModelName() string { return "ollama/" + c.model }

// Dimension is zero until Probe or the first Encode has run.
func (c *EmbedClient) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

// Probe embeds a fixed string to learn the model's dimension.
func (c *EmbedClient) Probe(ctx context.Context) (int, error) {
	vec, err := c.embed(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.dim = len(vec)
	c.mu.Unlock()
	return len(vec), nil
}

// Encode embeds each text in order. Blank texts become zero vectors without
// a request.
func (c *EmbedClient) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	dim := c.Dimension()
	if dim == 0 {
		var err error
		if dim, err = c.Probe(ctx); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i] = make([]float32, dim)
			continue
		}
		vec, err := c.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama: embed batch [%d]: %w", i, err)
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("ollama: embed batch [%d]: got %d dimensions, want %d", i, len(vec), dim)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *EmbedClient) embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("ollama embed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		}

		var result ollamaEmbedResp
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("ollama embed decode: %w", err)
		}
		if len(result.Embedding) == 0 {
			return ErrEmptyEmbedding
		}
		out = make([]float32, len(result.Embedding))
		for i, v := range result.Embedding {
			out[i] = float32(v)
		}
		return nil
	})
	return out, err
}
