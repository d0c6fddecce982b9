package semantic

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// deleteChunk bounds how many documents one badger transaction removes.
const deleteChunk = 500

type collectionRecord struct {
	Name      string
	Distance  string
	Dimension int
	CreatedAt time.Time
}

type documentRecord struct {
	Collection string
	ID         string
	Seq        uint64
	Embedding  []float32
	Document   string
	Metadata   map[string]string
}

func documentKey(collection, id string) string { return collection + "\x00" + id }

// collectionView is the in-memory copy of one collection, loaded on first
// use and kept in step with every write.
type collectionView struct {
	mu      sync.RWMutex
	info    Collection
	docs    []*documentRecord // ascending Seq
	byID    map[string]*documentRecord
	nextSeq uint64
}

// LocalStore is a Store persisted in a badger database under one directory.
// Queries are exact brute-force scans over the in-memory view.
type LocalStore struct {
	dir    string
	db     *badgerhold.Store
	logger *slog.Logger

	mu    sync.Mutex
	views map[string]*collectionView
}

// OpenLocal opens (creating if needed) the store rooted at dir.
func OpenLocal(dir string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("semantic: create store dir %s: %w", dir, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("semantic: open store %s: %w", dir, err)
	}
	logger.Debug("vector store opened", "path", dir)
	return &LocalStore{
		dir:    dir,
		db:     db,
		logger: logger,
		views:  make(map[string]*collectionView),
	}, nil
}

func (s *LocalStore) Location() string { return s.dir }

// DiskUsage sums the sizes of all files under the store directory.
func (s *LocalStore) DiskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: disk usage: %w", err)
	}
	return total, nil
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) CreateCollection(ctx context.Context, name string, opts CollectionOptions) (Collection, error) {
	if name == "" {
		return Collection{}, fmt.Errorf("semantic: create collection: empty name")
	}
	dist, err := ParseDistance(string(opts.Distance))
	if err != nil {
		return Collection{}, err
	}

	if _, err := s.GetCollection(ctx, name); err == nil {
		if !opts.Overwrite {
			return Collection{}, fmt.Errorf("semantic: create collection %s: %w", name, ErrCollectionExists)
		}
		if err := s.DeleteCollection(ctx, name); err != nil {
			return Collection{}, err
		}
	} else if !errors.Is(err, ErrCollectionNotFound) {
		return Collection{}, err
	}

	rec := collectionRecord{
		Name:      name,
		Distance:  string(dist),
		Dimension: opts.Dimension,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Insert(name, &rec); err != nil {
		return Collection{}, fmt.Errorf("semantic: create collection %s: %w", name, err)
	}

	info := rec.collection()
	s.mu.Lock()
	s.views[name] = &collectionView{info: info, byID: make(map[string]*documentRecord)}
	s.mu.Unlock()

	s.logger.Info("collection created", "collection", name, "distance", dist)
	return info, nil
}

func (s *LocalStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	v, err := s.view(name)
	if err != nil {
		return Collection{}, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.info, nil
}

func (s *LocalStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.views, name)
	s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var docs []documentRecord
		err := s.db.Find(&docs, badgerhold.Where("Collection").Eq(name).Limit(deleteChunk))
		if err != nil {
			return fmt.Errorf("semantic: delete collection %s: %w", name, err)
		}
		if len(docs) == 0 {
			break
		}
		err = s.db.Badger().Update(func(tx *badger.Txn) error {
			for _, d := range docs {
				if err := s.db.TxDelete(tx, documentKey(name, d.ID), documentRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("semantic: delete collection %s: %w", name, err)
		}
	}

	if err := s.db.Delete(name, collectionRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("semantic: delete collection %s: %w", name, err)
	}
	s.logger.Info("collection deleted", "collection", name)
	return nil
}

// Add upserts records. A re-added id keeps its original insertion position.
// The first add into a collection without a dimension fixes it.
func (s *LocalStore) Add(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return fmt.Errorf("semantic: add to %s: %w", collection, err)
	}
	v, err := s.view(collection)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	dim := v.info.Dimension
	if dim == 0 {
		dim = len(records[0].Embedding)
	}
	for _, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("semantic: add to %s: %w: record %q has %d, want %d",
				collection, ErrDimensionMismatch, r.ID, len(r.Embedding), dim)
		}
	}

	seq := v.nextSeq
	batchSeq := make(map[string]uint64, len(records))
	staged := make([]*documentRecord, len(records))
	for i, r := range records {
		doc := &documentRecord{
			Collection: collection,
			ID:         r.ID,
			Embedding:  append([]float32(nil), r.Embedding...),
			Document:   r.Document,
			Metadata:   cloneMeta(r.Metadata),
		}
		if prev, ok := v.byID[r.ID]; ok {
			doc.Seq = prev.Seq
		} else if n, ok := batchSeq[r.ID]; ok {
			doc.Seq = n
		} else {
			doc.Seq = seq
			batchSeq[r.ID] = seq
			seq++
		}
		staged[i] = doc
	}

	err = s.db.Badger().Update(func(tx *badger.Txn) error {
		if v.info.Dimension == 0 {
			rec := collectionRecord{
				Name:      v.info.Name,
				Distance:  string(v.info.Distance),
				Dimension: dim,
				CreatedAt: v.info.CreatedAt,
			}
			if err := s.db.TxUpsert(tx, collection, &rec); err != nil {
				return err
			}
		}
		for _, d := range staged {
			if err := s.db.TxUpsert(tx, documentKey(collection, d.ID), d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("semantic: add %d records to %s: %w", len(records), collection, err)
	}

	v.info.Dimension = dim
	v.nextSeq = seq
	for _, d := range staged {
		if prev, ok := v.byID[d.ID]; ok {
			*prev = *d
			continue
		}
		v.byID[d.ID] = d
		v.docs = append(v.docs, d)
	}
	return nil
}

func (s *LocalStore) Count(ctx context.Context, collection string) (int, error) {
	v, err := s.view(collection)
	if err != nil {
		return 0, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.docs), nil
}

func (s *LocalStore) Query(ctx context.Context, collection string, embedding []float32, k int, include Include) ([]Match, error) {
	v, err := s.view(collection)
	if err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	if k <= 0 || len(v.docs) == 0 {
		return nil, nil
	}
	if len(embedding) != v.info.Dimension {
		return nil, fmt.Errorf("semantic: query %s: %w: got %d, want %d",
			collection, ErrDimensionMismatch, len(embedding), v.info.Dimension)
	}

	distance := distanceFunc(v.info.Distance)
	type scored struct {
		doc  *documentRecord
		dist float32
	}
	all := make([]scored, len(v.docs))
	for i, d := range v.docs {
		all[i] = scored{doc: d, dist: distance(embedding, d.Embedding)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if len(all) > k {
		all = all[:k]
	}

	out := make([]Match, len(all))
	for i, sc := range all {
		m := Match{ID: sc.doc.ID}
		if include.Has(IncludeDistances) {
			m.Distance = sc.dist
		}
		if include.Has(IncludeDocuments) {
			m.Document = sc.doc.Document
		}
		if include.Has(IncludeMetadatas) {
			m.Metadata = cloneMeta(sc.doc.Metadata)
		}
		out[i] = m
	}
	return out, nil
}

// view returns the cached collection, loading it from disk on first use.
func (s *LocalStore) view(name string) (*collectionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.views[name]; ok {
		return v, nil
	}

	var rec collectionRecord
	if err := s.db.Get(name, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("semantic: collection %s: %w", name, ErrCollectionNotFound)
		}
		return nil, fmt.Errorf("semantic: load collection %s: %w", name, err)
	}

	var docs []documentRecord
	if err := s.db.Find(&docs, badgerhold.Where("Collection").Eq(name)); err != nil {
		return nil, fmt.Errorf("semantic: load documents of %s: %w", name, err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Seq < docs[j].Seq })

	v := &collectionView{
		info: rec.collection(),
		docs: make([]*documentRecord, len(docs)),
		byID: make(map[string]*documentRecord, len(docs)),
	}
	for i := range docs {
		d := &docs[i]
		v.docs[i] = d
		v.byID[d.ID] = d
		if d.Seq >= v.nextSeq {
			v.nextSeq = d.Seq + 1
		}
	}
	s.views[name] = v
	s.logger.Debug("collection loaded", "collection", name, "documents", len(docs))
	return v, nil
}

func (r collectionRecord) collection() Collection {
	return Collection{
		Name:      r.Name,
		Distance:  Distance(r.Distance),
		Dimension: r.Dimension,
		CreatedAt: r.CreatedAt,
	}
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
