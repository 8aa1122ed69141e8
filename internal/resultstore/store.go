// Package resultstore provides run result persistence and event
// streaming for pipeline runs.
package resultstore

import (
	"context"
	"errors"
	"time"

	"github.com/flexinfer/datapipe/pkg/types"
)

// Common errors returned by Store implementations.
var ErrRunNotFound = errors.New("run not found")

// RunMeta is a lightweight representation of a run for listing.
type RunMeta struct {
	ID        string          `json:"id"`
	Pipeline  string          `json:"pipeline"`
	Status    types.RunStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Run is a full run record: metadata plus results, when available.
type Run struct {
	RunMeta
	Results *types.PipelineResults `json:"results,omitempty"`
}

// Store defines run persistence and event streaming. Implementations
// must be safe for concurrent use.
type Store interface {
	// CreateRun registers a new run for a pipeline and returns its ID.
	CreateRun(ctx context.Context, runID, pipeline string) error

	// UpdateRunStatus transitions the run's status.
	UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error

	// SaveResults stores the completed aggregate for a run.
	SaveResults(ctx context.Context, runID string, results *types.PipelineResults) error

	// GetRun returns the full run record.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns metadata for all known runs, newest first.
	ListRuns(ctx context.Context) ([]*RunMeta, error)

	// AppendEvent adds an event to the run's stream and returns it.
	AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error)

	// GetEventsSince returns events after the given event ID
	// (exclusive). Empty lastEventID returns all events.
	GetEventsSince(ctx context.Context, runID, lastEventID string) ([]*types.Event, error)

	// Subscribe returns a channel receiving new events for the run. The
	// cleanup function releases the subscription; the channel closes
	// when the run finishes.
	Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error)

	// AdapterInfo returns diagnostics about the backing store.
	AdapterInfo(ctx context.Context) (map[string]interface{}, error)

	// Close releases store resources.
	Close() error
}

// Config holds configuration for Store implementations.
type Config struct {
	// Maximum number of events to keep per run (ring buffer).
	EventMaxLen int64

	// TTL for runs (0 = no expiry). Only persistent stores honor it.
	TTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		TTL:         7 * 24 * time.Hour,
	}
}
