package resultstore

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/flexinfer/datapipe/pkg/types"
)

// memoryRun holds all state for a single run in memory.
type memoryRun struct {
	mu          sync.RWMutex
	meta        RunMeta
	results     *types.PipelineResults
	events      []*types.Event
	nextSeq     int64
	maxEvents   int64
	subscribers map[chan *types.Event]struct{}
}

// MemoryStore is an in-memory Store. Suitable for development and
// testing; data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*memoryRun
	order  []string // creation order for listing
	config *Config
}

// NewMemoryStore creates a new in-memory Store.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		runs:   make(map[string]*memoryRun),
		config: cfg,
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, runID, pipeline string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.runs[runID] = &memoryRun{
		meta: RunMeta{
			ID:        runID,
			Pipeline:  pipeline,
			Status:    types.RunStatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		events:      make([]*types.Event, 0),
		nextSeq:     1,
		maxEvents:   s.config.EventMaxLen,
		subscribers: make(map[chan *types.Event]struct{}),
	}
	s.order = append(s.order, runID)
	return nil
}

func (s *MemoryStore) get(runID string) (*memoryRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (s *MemoryStore) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	run, err := s.get(runID)
	if err != nil {
		return err
	}

	run.mu.Lock()
	run.meta.Status = status
	run.meta.Error = errMsg
	run.meta.UpdatedAt = time.Now().UTC()
	terminal := status == types.RunStatusSucceeded || status == types.RunStatusFailed
	var subs []chan *types.Event
	if terminal {
		for ch := range run.subscribers {
			subs = append(subs, ch)
		}
		run.subscribers = make(map[chan *types.Event]struct{})
	}
	run.mu.Unlock()

	// Terminal status ends every subscriber's stream.
	for _, ch := range subs {
		close(ch)
	}
	return nil
}

func (s *MemoryStore) SaveResults(ctx context.Context, runID string, results *types.PipelineResults) error {
	run, err := s.get(runID)
	if err != nil {
		return err
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	run.results = results
	run.meta.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	run.mu.RLock()
	defer run.mu.RUnlock()
	out := &Run{RunMeta: run.meta, Results: run.results}
	return out, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context) ([]*RunMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RunMeta, 0, len(s.order))
	for _, id := range s.order {
		run := s.runs[id]
		run.mu.RLock()
		meta := run.meta
		run.mu.RUnlock()
		out = append(out, &meta)
	}
	// Newest first.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	var data json.RawMessage
	if input.Data != nil {
		raw, err := json.Marshal(input.Data)
		if err != nil {
			return nil, err
		}
		data = raw
	}

	run.mu.Lock()
	evt := &types.Event{
		ID:        strconv.FormatInt(run.nextSeq, 10),
		RunID:     runID,
		Type:      input.Type,
		NodeName:  input.NodeName,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	run.nextSeq++
	run.events = append(run.events, evt)
	if run.maxEvents > 0 && int64(len(run.events)) > run.maxEvents {
		run.events = run.events[int64(len(run.events))-run.maxEvents:]
	}

	// Copy subscribers to notify outside the lock.
	subs := make([]chan *types.Event, 0, len(run.subscribers))
	for ch := range run.subscribers {
		subs = append(subs, ch)
	}
	run.mu.Unlock()

	// Non-blocking notify; a slow subscriber misses the event and can
	// resume from GetEventsSince.
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}

	return evt, nil
}

func (s *MemoryStore) GetEventsSince(ctx context.Context, runID, lastEventID string) ([]*types.Event, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	run.mu.RLock()
	defer run.mu.RUnlock()

	if lastEventID == "" {
		out := make([]*types.Event, len(run.events))
		copy(out, run.events)
		return out, nil
	}

	var out []*types.Event
	found := false
	for _, evt := range run.events {
		if found {
			out = append(out, evt)
		} else if evt.ID == lastEventID {
			found = true
		}
	}
	if !found {
		// Unknown cursor (possibly trimmed); return everything.
		out = make([]*types.Event, len(run.events))
		copy(out, run.events)
	}
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan *types.Event, 64)

	run.mu.Lock()
	terminal := run.meta.Status == types.RunStatusSucceeded || run.meta.Status == types.RunStatusFailed
	if terminal {
		run.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	run.subscribers[ch] = struct{}{}
	run.mu.Unlock()

	// Cleanup only detaches; the channel is closed by the terminal
	// status transition so a concurrent AppendEvent never sends on a
	// closed channel.
	cleanup := func() {
		run.mu.Lock()
		delete(run.subscribers, ch)
		run.mu.Unlock()
	}
	return ch, cleanup, nil
}

func (s *MemoryStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"adapter": "memory",
		"runs":    len(s.runs),
	}, nil
}

// Close closes all subscriber channels.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		run.mu.Lock()
		for ch := range run.subscribers {
			close(ch)
		}
		run.subscribers = make(map[chan *types.Event]struct{})
		run.mu.Unlock()
	}
	return nil
}
