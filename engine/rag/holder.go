package rag

import (
	"context"
	"errors"
	"sync"
)

// ErrBuildPanicked is reported to callers waiting on a build that panicked.
var ErrBuildPanicked = errors.New("rag: service build panicked")

// Builder constructs the service. It runs at most once per successful build.
type Builder func(ctx context.Context) (*Service, error)

// Holder owns the process-wide Service and builds it on first use. Callers
// that race on the first Get share one build; a failed build is reported to
// all of them and retried by the next Get.
type Holder struct {
	build Builder

	mu       sync.Mutex
	svc      *Service
	inflight *buildCall
}

type buildCall struct {
	done chan struct{}
	svc  *Service
	err  error
}

// NewHolder returns a Holder that uses build to create the service.
func NewHolder(build Builder) *Holder {
	return &Holder{build: build}
}

// Get returns the service, building it if needed. The build itself is not
// cancelled by ctx, so one impatient caller cannot fail the others.
func (h *Holder) Get(ctx context.Context) (*Service, error) {
	h.mu.Lock()
	if h.svc != nil {
		svc := h.svc
		h.mu.Unlock()
		return svc, nil
	}
	if c := h.inflight; c != nil {
		h.mu.Unlock()
		select {
		case <-c.done:
			return c.svc, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &buildCall{done: make(chan struct{}), err: ErrBuildPanicked}
	h.inflight = c
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.inflight = nil
		if c.err == nil {
			h.svc = c.svc
		}
		h.mu.Unlock()
		close(c.done)
	}()
	c.svc, c.err = h.build(context.WithoutCancel(ctx))
	return c.svc, c.err
}

// Initialized reports whether the service has been built.
func (h *Holder) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.svc != nil
}

// Close closes the service if it was built.
func (h *Holder) Close() error {
	h.mu.Lock()
	svc := h.svc
	h.svc = nil
	h.mu.Unlock()
	if svc == nil {
		return nil
	}
	return svc.Close()
}
