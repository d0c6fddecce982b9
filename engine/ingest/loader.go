// Package ingest loads the historical ticket corpus into the vector index:
// read and clean the CSV, rebuild the collection, then encode and insert
// tickets in batches.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BanglaVai/ticketrag/engine/domain"
	"github.com/BanglaVai/ticketrag/engine/embed"
	"github.com/BanglaVai/ticketrag/engine/semantic"
	"github.com/BanglaVai/ticketrag/pkg/fn"
	"github.com/BanglaVai/ticketrag/pkg/metrics"
)

// DefaultBatchSize is the number of tickets per encode call and insert.
const DefaultBatchSize = 100

// Deps holds the external dependencies of a Loader.
type Deps struct {
	Encoder embed.Encoder
	Store   semantic.Store
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// Options tunes a Loader. Zero values select defaults.
type Options struct {
	BatchSize int
	Distance  semantic.Distance
	// AddRetry governs retries of a failed store insert before the batch
	// is skipped.
	AddRetry fn.RetryOpts
}

// Report summarises one load.
type Report struct {
	Collection     string        `json:"collection"`
	Read           int           `json:"read"`
	Dropped        int           `json:"dropped"`
	Inserted       int           `json:"inserted"`
	SkippedBatches int           `json:"skipped_batches"`
	Duration       time.Duration `json:"duration"`
}

// Loader rebuilds a collection from a ticket CSV.
type Loader struct {
	enc    embed.Encoder
	store  semantic.Store
	opts   Options
	logger *slog.Logger

	encode fn.Stage[[]domain.Ticket, [][]float32]
	add    fn.Stage[batch, int]

	rows     *prometheus.CounterVec
	batches  *prometheus.CounterVec
	duration prometheus.Observer
}

type batch struct {
	collection string
	records    []semantic.Record
}

// NewLoader wires a Loader.
func NewLoader(deps Deps, opts Options) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Distance == "" {
		opts.Distance = semantic.Cosine
	}
	if opts.AddRetry.MaxAttempts == 0 {
		opts.AddRetry = fn.QuickRetry
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}

	l := &Loader{
		enc:    deps.Encoder,
		store:  deps.Store,
		opts:   opts,
		logger: log,
		rows:   reg.Counter("ingest_rows_total", "Corpus rows by outcome.", "outcome"),
		batches: reg.Counter("ingest_batches_total",
			"Ingest batches by outcome.", "outcome"),
		duration: reg.Histogram("ingest_duration_seconds", "Full corpus load duration.",
			[]float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600}).WithLabelValues(),
	}
	l.encode = fn.TracedStage("ingest.encode", l.encodeBatch)
	l.add = fn.TracedStage("ingest.add", fn.RetryStage(opts.AddRetry, l.addBatch))
	return l
}

// Load rebuilds collection from the CSV at path and returns the number of
// tickets inserted. The collection is only touched once the file has been
// read and validated.
func (l *Loader) Load(ctx context.Context, path, collection string) (int, error) {
	rep, err := l.LoadReport(ctx, path, collection)
	return rep.Inserted, err
}

// LoadReport is Load with a full summary.
func (l *Loader) LoadReport(ctx context.Context, path, collection string) (Report, error) {
	start := time.Now()
	rep := Report{Collection: collection}

	corpus, err := ReadCorpus(path)
	if err != nil {
		return rep, fmt.Errorf("ingest: load: %w", err)
	}
	rep.Read = len(corpus.Tickets) + corpus.Dropped
	rep.Dropped = corpus.Dropped
	l.rows.WithLabelValues("dropped").Add(float64(corpus.Dropped))
	l.logger.Info("corpus read", "path", path, "tickets", len(corpus.Tickets), "dropped", corpus.Dropped)

	if err := l.store.DeleteCollection(ctx, collection); err != nil {
		l.logger.Warn("delete collection failed", "collection", collection, "err", err)
	}
	_, err = l.store.CreateCollection(ctx, collection, semantic.CollectionOptions{
		Distance:  l.opts.Distance,
		Dimension: l.enc.Dimension(),
		Overwrite: true,
	})
	if err != nil {
		return rep, fmt.Errorf("ingest: load: %w", err)
	}

	chunks := fn.Chunk(corpus.Tickets, l.opts.BatchSize)
	for i, tickets := range chunks {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, fmt.Errorf("ingest: load: %w", err)
		}
		log := l.logger.With("batch", i+1, "of", len(chunks), "size", len(tickets))

		vecs, err := l.encode(ctx, tickets).Unwrap()
		if err != nil {
			log.Error("encode failed, skipping batch", "err", err)
			l.batches.WithLabelValues("encode_failed").Inc()
			rep.SkippedBatches++
			continue
		}

		records := make([]semantic.Record, len(tickets))
		for j, t := range tickets {
			records[j] = semantic.Record{
				ID:        t.DocumentID(),
				Embedding: vecs[j],
				Document:  t.DocumentText(),
				Metadata:  t.Metadata(),
			}
		}
		n, err := l.add(ctx, batch{collection: collection, records: records}).Unwrap()
		if err != nil {
			log.Error("insert failed, skipping batch", "err", err)
			l.batches.WithLabelValues("add_failed").Inc()
			rep.SkippedBatches++
			continue
		}
		rep.Inserted += n
		l.batches.WithLabelValues("ok").Inc()
		l.rows.WithLabelValues("inserted").Add(float64(n))
		log.Debug("batch inserted", "total", rep.Inserted)
	}

	rep.Duration = time.Since(start)
	l.duration.Observe(rep.Duration.Seconds())
	l.logger.Info("corpus loaded",
		"collection", collection,
		"inserted", rep.Inserted,
		"skipped_batches", rep.SkippedBatches,
		"duration", rep.Duration,
	)
	return rep, nil
}

func (l *Loader) encodeBatch(ctx context.Context, tickets []domain.Ticket) fn.Result[[][]float32] {
	texts := fn.Map(tickets, domain.Ticket.DocumentText)
	vecs, err := l.enc.Encode(ctx, texts)
	if err != nil {
		return fn.Err[[][]float32](err)
	}
	if len(vecs) != len(texts) {
		return fn.Errf[[][]float32]("encoder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	return fn.Ok(vecs)
}

func (l *Loader) addBatch(ctx context.Context, b batch) fn.Result[int] {
	if err := l.store.Add(ctx, b.collection, b.records); err != nil {
		return fn.Err[int](err)
	}
	return fn.Ok(len(b.records))
}
