package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/flexinfer/datapipe/pkg/types"
)

// Manager holds the registered pipelines and runs them on demand.
// Pipelines execute sequentially in registration order; one pipeline's
// failure never prevents the rest from running.
type Manager struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	order     []string
	logger    *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pipelines: make(map[string]*Pipeline),
		logger:    logger,
	}
}

// Register adds a pipeline. Names must be unique.
func (m *Manager) Register(p *Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if _, ok := m.pipelines[name]; ok {
		return fmt.Errorf("pipeline %q already registered", name)
	}
	m.pipelines[name] = p
	m.order = append(m.order, name)
	return nil
}

// Get returns a registered pipeline by name.
func (m *Manager) Get(name string) (*Pipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[name]
	return p, ok
}

// Names returns registered pipeline names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Run executes the named pipelines sequentially, or every registered
// pipeline when no names are given. Unknown names are rejected up front
// before anything runs. Each pipeline's outcome lands in the returned
// map keyed by pipeline name; a construction failure is recorded as a
// failed result with Error set rather than aborting the batch.
func (m *Manager) Run(ctx context.Context, names ...string) (map[string]*types.PipelineResults, error) {
	m.mu.RLock()
	if len(names) == 0 {
		names = append([]string(nil), m.order...)
	}
	selected := make([]*Pipeline, 0, len(names))
	for _, name := range names {
		p, ok := m.pipelines[name]
		if !ok {
			m.mu.RUnlock()
			return nil, fmt.Errorf("unknown pipeline %q", name)
		}
		selected = append(selected, p)
	}
	m.mu.RUnlock()

	out := make(map[string]*types.PipelineResults, len(selected))
	for _, p := range selected {
		results, err := p.Run(ctx)
		if err != nil {
			// Construction failed before any node ran. Record a failed
			// result so callers see the batch outcome in one place.
			results = types.NewPipelineResults(p.Name(), uuid.New().String())
			results.Error = err.Error()
			results.Finish()
			m.logger.Error("pipeline construction failed",
				slog.String("pipeline", p.Name()),
				slog.String("error", err.Error()),
			)
		}
		out[p.Name()] = results
	}
	return out, nil
}
