// Package runstore persists training runs and their metric series.
package runstore

import (
	"context"
	"time"
)

// Run identifies one training run.
type Run struct {
	ID      string
	Started time.Time
	// Config is the run configuration as JSON.
	Config string
}

// Record is one metric sample. Batch is -1 for epoch-level summaries.
type Record struct {
	RunID string
	Split string // "train", "valid" or "test"
	Epoch int
	Batch int
	Name  string
	Value float64
}

// Store defines persistence operations for runs and metrics.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	AppendMetrics(ctx context.Context, records []Record) error
	// Metrics returns the records of runID and split in insertion order; an
	// empty split matches every split.
	Metrics(ctx context.Context, runID, split string) ([]Record, error)
	Close() error
}
