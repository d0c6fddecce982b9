// Package semantic is the vector index: named collections of embeddings with
// their document text and metadata, answering k-nearest-neighbour queries.
// LocalStore keeps everything on local disk; QdrantStore talks to a Qdrant
// server. Both implement Store.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors returned by Store implementations.
var (
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrInvalidRecord      = errors.New("invalid record")
	ErrUnknownDistance    = errors.New("unknown distance metric")
)

// IsNotFound reports whether err means the collection is missing.
func IsNotFound(err error) bool { return errors.Is(err, ErrCollectionNotFound) }

// Distance names the metric a collection ranks neighbours by.
type Distance string

const (
	// Cosine is 1 - cos(a, b). Magnitude is ignored, only direction counts.
	Cosine Distance = "cosine"
	// L2 is the squared Euclidean distance.
	L2 Distance = "l2"
	// InnerProduct is 1 - a·b.
	InnerProduct Distance = "ip"
)

// ParseDistance validates a metric name. Empty selects Cosine.
func ParseDistance(s string) (Distance, error) {
	switch Distance(s) {
	case "", Cosine:
		return Cosine, nil
	case L2, InnerProduct:
		return Distance(s), nil
	}
	return "", fmt.Errorf("semantic: %w: %q", ErrUnknownDistance, s)
}

// CollectionOptions configures CreateCollection.
type CollectionOptions struct {
	Distance Distance
	// Dimension fixes the vector length. Zero lets the local store take it
	// from the first insert; Qdrant requires it.
	Dimension int
	// Overwrite replaces an existing collection of the same name instead of
	// failing with ErrCollectionExists.
	Overwrite bool
}

// Collection describes a named collection.
type Collection struct {
	Name      string    `json:"name"`
	Distance  Distance  `json:"distance"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Record is one document to insert.
type Record struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  map[string]string
}

// Match is one neighbour returned by Query.
type Match struct {
	ID       string            `json:"id"`
	Distance float32           `json:"distance"`
	Document string            `json:"document,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Include selects which optional fields Query fills in. IDs are always set.
type Include uint8

const (
	IncludeDocuments Include = 1 << iota
	IncludeMetadatas
	IncludeDistances

	IncludeAll = IncludeDocuments | IncludeMetadatas | IncludeDistances
)

// Has reports whether f is selected.
func (i Include) Has(f Include) bool { return i&f != 0 }

// Store is the vector index contract.
//
// Add has upsert semantics: re-adding an id replaces its embedding, document
// and metadata. Query returns at most k matches ordered by ascending
// distance; the local store breaks ties by insertion order.
type Store interface {
	CreateCollection(ctx context.Context, name string, opts CollectionOptions) (Collection, error)
	GetCollection(ctx context.Context, name string) (Collection, error)
	// DeleteCollection succeeds when the collection does not exist.
	DeleteCollection(ctx context.Context, name string) error
	Add(ctx context.Context, collection string, records []Record) error
	Count(ctx context.Context, collection string) (int, error)
	Query(ctx context.Context, collection string, embedding []float32, k int, include Include) ([]Match, error)

	// Location is the directory or address the store persists to.
	Location() string
	// DiskUsage reports the bytes held on local disk, zero for remote stores.
	DiskUsage() (int64, error)
	Close() error
}

func validateRecords(records []Record) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record %d has empty id", ErrInvalidRecord, i)
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: record %q has empty embedding", ErrInvalidRecord, r.ID)
		}
	}
	return nil
}
