// Package rag is the ticket similarity search service. It owns the encoder
// and the vector index for the process lifetime, answers "which past tickets
// look like this one" queries, and rebuilds the index from the corpus on
// demand.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/BanglaVai/ticketrag/engine/domain"
	"github.com/BanglaVai/ticketrag/engine/embed"
	"github.com/BanglaVai/ticketrag/engine/ingest"
	"github.com/BanglaVai/ticketrag/engine/semantic"
	"github.com/BanglaVai/ticketrag/pkg/fn"
	"github.com/BanglaVai/ticketrag/pkg/metrics"
)

// Result count bounds for Search.
const (
	MinResults     = 1
	MaxResults     = 20
	DefaultResults = 5
)

// DefaultMinScore is the similarity a match must exceed to be returned.
const DefaultMinScore = 0.1

var ErrReindexInProgress = errors.New("reindex already in progress")

// State is the service lifecycle state reported by Stats.
type State string

const (
	StateReady          State = "ready"
	StateReinitializing State = "reinitializing"
)

// Deps holds the external dependencies of a Service.
type Deps struct {
	Encoder embed.Encoder
	Store   semantic.Store
	Metrics *metrics.Registry
	// Notifier, if set, is told about every completed reload.
	Notifier Notifier
	Logger   *slog.Logger
}

// Options configures the service.
type Options struct {
	Collection string
	Distance   semantic.Distance
	MinScore   float64
	// DatabaseType is reported by Stats, e.g. "badger" or "qdrant".
	DatabaseType    string
	BatchSize       int
	SearchTimeout   time.Duration
	CollectionRetry fn.RetryOpts
	AddRetry        fn.RetryOpts
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Collection:      domain.DefaultCollection,
		Distance:        semantic.Cosine,
		MinScore:        DefaultMinScore,
		DatabaseType:    "badger",
		BatchSize:       ingest.DefaultBatchSize,
		SearchTimeout:   5 * time.Second,
		CollectionRetry: fn.QuickRetry,
		AddRetry:        fn.QuickRetry,
	}
}

// Service answers similarity queries over the indexed ticket corpus.
type Service struct {
	enc      embed.Encoder
	store    semantic.Store
	loader   *ingest.Loader
	notifier Notifier
	opts     Options
	logger   *slog.Logger

	reindex sync.Mutex
	state   atomic.Value // State

	mu         sync.Mutex
	lastReload *ReloadEvent

	searches      *prometheus.CounterVec
	searchLatency prometheus.Observer
	resultCount   prometheus.Observer
	reloads       *prometheus.CounterVec
	indexSize     prometheus.Gauge
}

// New opens (creating if absent) the configured collection and returns a
// ready service.
func New(ctx context.Context, deps Deps, opts Options) (*Service, error) {
	def := DefaultOptions()
	if opts.Collection == "" {
		opts.Collection = def.Collection
	}
	if opts.Distance == "" {
		opts.Distance = def.Distance
	}
	if opts.MinScore == 0 {
		opts.MinScore = def.MinScore
	}
	if opts.DatabaseType == "" {
		opts.DatabaseType = def.DatabaseType
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	if opts.CollectionRetry.MaxAttempts == 0 {
		opts.CollectionRetry = def.CollectionRetry
	}
	if deps.Encoder == nil || deps.Store == nil {
		return nil, fmt.Errorf("rag: new: encoder and store are required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}

	_, err := semantic.OpenCollection(ctx, deps.Store, opts.Collection, semantic.CollectionOptions{
		Distance:  opts.Distance,
		Dimension: deps.Encoder.Dimension(),
	}, opts.CollectionRetry, log)
	if err != nil {
		return nil, fmt.Errorf("rag: new: %w", err)
	}

	s := &Service{
		enc:      deps.Encoder,
		store:    deps.Store,
		notifier: deps.Notifier,
		opts:     opts,
		logger:   log,
		loader: ingest.NewLoader(ingest.Deps{
			Encoder: deps.Encoder,
			Store:   deps.Store,
			Metrics: reg,
			Logger:  log,
		}, ingest.Options{
			BatchSize: opts.BatchSize,
			Distance:  opts.Distance,
			AddRetry:  opts.AddRetry,
		}),
		searches: reg.Counter("search_requests_total", "Similarity searches by outcome.", "outcome"),
		searchLatency: reg.Histogram("search_duration_seconds", "Similarity search latency.", nil).
			WithLabelValues(),
		resultCount: reg.Histogram("search_results", "Results returned per search.",
			[]float64{0, 1, 2, 3, 5, 10, 20}).WithLabelValues(),
		reloads:   reg.Counter("index_reloads_total", "Index rebuilds by outcome.", "outcome"),
		indexSize: reg.Gauge("index_tickets", "Tickets in the search index.").WithLabelValues(),
	}
	s.state.Store(StateReady)

	if n, err := deps.Store.Count(ctx, opts.Collection); err == nil {
		s.indexSize.Set(float64(n))
		log.Info("search service ready", "collection", opts.Collection, "tickets", n, "model", deps.Encoder.ModelName())
	}
	return s, nil
}

// Collection returns the name of the indexed collection.
func (s *Service) Collection() string { return s.opts.Collection }

// State returns the current lifecycle state.
func (s *Service) State() State { return s.state.Load().(State) }

// Close releases the underlying store.
func (s *Service) Close() error { return s.store.Close() }

// Initialize rebuilds the index from the CSV at path and returns how many
// tickets were indexed. Only one rebuild runs at a time; a concurrent call
// fails with ErrReindexInProgress.
func (s *Service) Initialize(ctx context.Context, path string) (int, error) {
	rep, err := s.InitializeReport(ctx, path)
	return rep.Inserted, err
}

// InitializeReport is Initialize with the loader's full report.
func (s *Service) InitializeReport(ctx context.Context, path string) (ingest.Report, error) {
	if !s.reindex.TryLock() {
		s.reloads.WithLabelValues("rejected").Inc()
		return ingest.Report{}, fmt.Errorf("rag: initialize: %w", ErrReindexInProgress)
	}
	defer s.reindex.Unlock()

	s.state.Store(StateReinitializing)
	defer s.state.Store(StateReady)

	s.logger.Info("rebuilding index", "path", path, "collection", s.opts.Collection)
	rep, err := s.loader.LoadReport(ctx, path, s.opts.Collection)
	if err != nil {
		s.reloads.WithLabelValues("failed").Inc()
		return rep, fmt.Errorf("rag: initialize: %w", err)
	}
	s.reloads.WithLabelValues("ok").Inc()
	s.indexSize.Set(float64(rep.Inserted))

	ev := ReloadEvent{
		Collection: rep.Collection,
		Count:      rep.Inserted,
		Dropped:    rep.Dropped,
		Source:     path,
		Duration:   rep.Duration,
		FinishedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.lastReload = &ev
	s.mu.Unlock()

	if s.notifier != nil {
		if err := s.notifier.IndexReloaded(ctx, ev); err != nil {
			s.logger.Warn("reload notification failed", "err", err)
		}
	}
	return rep, nil
}

// Search returns up to maxResults tickets similar to query, best first.
// Failures are logged and reported as no results.
func (s *Service) Search(ctx context.Context, query string, maxResults int) []SearchResult {
	results, err := s.SearchDetailed(ctx, query, maxResults)
	if err != nil {
		s.logger.Error("search failed", "err", err)
		return []SearchResult{}
	}
	return results
}

// SearchDetailed is Search with failures returned to the caller.
// maxResults is clamped to [MinResults, MaxResults].
func (s *Service) SearchDetailed(ctx context.Context, query string, maxResults int) (results []SearchResult, err error) {
	start := time.Now()
	ctx, span := otel.Tracer("engine/rag").Start(ctx, "rag.search")
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case len(results) == 0:
			outcome = "empty"
		}
		span.SetAttributes(attribute.Int("results", len(results)))
		span.End()
		s.searches.WithLabelValues(outcome).Inc()
		if err == nil {
			s.resultCount.Observe(float64(len(results)))
		}
		metrics.Since(s.searchLatency, start)
	}()

	results = []SearchResult{}
	if strings.TrimSpace(query) == "" {
		return results, nil
	}
	k := clamp(maxResults)
	span.SetAttributes(attribute.Int("max_results", k), attribute.Int("query_len", len(query)))

	ctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	count, err := s.store.Count(ctx, s.opts.Collection)
	if err != nil {
		return results, fmt.Errorf("rag: search: %w", err)
	}
	if count == 0 {
		return results, nil
	}
	if k > count {
		k = count
	}

	vecs, err := s.enc.Encode(ctx, []string{query})
	if err != nil {
		return results, fmt.Errorf("rag: search: encode query: %w", err)
	}
	if len(vecs) != 1 {
		return results, fmt.Errorf("rag: search: encoder returned %d vectors", len(vecs))
	}

	matches, err := s.store.Query(ctx, s.opts.Collection, vecs[0], k, semantic.IncludeAll)
	if err != nil {
		return results, fmt.Errorf("rag: search: %w", err)
	}
	for _, m := range matches {
		score := similarity(m.Distance)
		if score <= s.opts.MinScore {
			continue
		}
		results = append(results, newSearchResult(m, score))
	}
	s.logger.Debug("search done", "query_len", len(query), "k", k, "matches", len(matches), "results", len(results))
	return results, nil
}

func clamp(n int) int {
	if n < MinResults {
		return MinResults
	}
	if n > MaxResults {
		return MaxResults
	}
	return n
}

// Stats describes the index. It never fails; problems are reported in the
// Error field.
type Stats struct {
	TotalTickets         int          `json:"total_tickets"`
	CollectionName       string       `json:"collection_name"`
	EncoderModelName     string       `json:"encoder_model_name"`
	EncoderDimension     int          `json:"encoder_dimension"`
	DatabasePath         string       `json:"database_path"`
	DatabaseSizeBytes    int64        `json:"database_size_bytes"`
	DatabaseSizeMB       float64      `json:"database_size_mb"`
	DatabaseType         string       `json:"database_type"`
	State                State        `json:"state"`
	SingletonInitialized bool         `json:"singleton_initialized"`
	LastReload           *ReloadEvent `json:"last_reload,omitempty"`
	Error                string       `json:"error,omitempty"`
}

// Stats reports index size and configuration.
func (s *Service) Stats(ctx context.Context) Stats {
	st := Stats{
		CollectionName:       s.opts.Collection,
		EncoderModelName:     s.enc.ModelName(),
		EncoderDimension:     s.enc.Dimension(),
		DatabasePath:         s.store.Location(),
		DatabaseType:         s.opts.DatabaseType,
		State:                s.State(),
		SingletonInitialized: true,
	}
	s.mu.Lock()
	if s.lastReload != nil {
		ev := *s.lastReload
		st.LastReload = &ev
	}
	s.mu.Unlock()

	var errs []string
	n, err := s.store.Count(ctx, s.opts.Collection)
	if err != nil {
		errs = append(errs, err.Error())
	}
	st.TotalTickets = n

	size, err := s.store.DiskUsage()
	if err != nil {
		errs = append(errs, err.Error())
	}
	st.DatabaseSizeBytes = size
	st.DatabaseSizeMB = float64(size) / (1024 * 1024)
	st.Error = strings.Join(errs, "; ")
	return st
}
