package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BanglaVai/ticketrag/pkg/fn"
)

// OpenCollection returns the named collection, retrying GetCollection while
// it reports ErrCollectionNotFound and creating the collection if it is
// still missing after the last attempt. Any other error is returned as is.
func OpenCollection(ctx context.Context, store Store, name string, opts CollectionOptions, retry fn.RetryOpts, logger *slog.Logger) (Collection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	retry.ShouldRetry = IsNotFound

	attempt := 0
	r := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[Collection] {
		attempt++
		c, err := store.GetCollection(ctx, name)
		if err != nil && IsNotFound(err) {
			logger.Debug("collection not found", "collection", name, "attempt", attempt)
		}
		return fn.FromPair(c, err)
	})
	c, err := r.Unwrap()
	if err == nil {
		return c, nil
	}
	if !IsNotFound(err) {
		return Collection{}, fmt.Errorf("semantic: open collection %s: %w", name, err)
	}

	logger.Info("creating collection", "collection", name, "attempts", attempt)
	opts.Overwrite = false
	c, err = store.CreateCollection(ctx, name, opts)
	if errors.Is(err, ErrCollectionExists) {
		return store.GetCollection(ctx, name)
	}
	return c, err
}
