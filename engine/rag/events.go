package rag

import (
	"context"
	"time"
)

// ReloadEvent describes a completed index rebuild.
type ReloadEvent struct {
	Collection string        `json:"collection"`
	Count      int           `json:"count"`
	Dropped    int           `json:"dropped"`
	Source     string        `json:"source"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Notifier receives reload events, for example to publish them on a bus.
type Notifier interface {
	IndexReloaded(ctx context.Context, ev ReloadEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev ReloadEvent) error

func (f NotifierFunc) IndexReloaded(ctx context.Context, ev ReloadEvent) error { return f(ctx, ev) }
