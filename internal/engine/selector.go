package engine

import (
	"fmt"
	"sync"

	"github.com/flexinfer/datapipe/pkg/types"
)

// Selector constructs engines on first use and hands the same instance to
// every pipeline declaring the same backend, so a process can host local
// and warehouse pipelines side by side without paying for a warehouse
// connection nobody asked for.
type Selector struct {
	mu        sync.Mutex
	warehouse *WarehouseConfig
	engines   map[types.EngineType]Engine
}

// NewSelector creates a selector. The warehouse configuration is only
// used when a pipeline requests the warehouse backend.
func NewSelector(warehouseCfg *WarehouseConfig) *Selector {
	return &Selector{
		warehouse: warehouseCfg,
		engines:   make(map[types.EngineType]Engine),
	}
}

// Get returns the engine for a backend type, constructing it on first
// request. An empty type means the local backend.
func (s *Selector) Get(t types.EngineType) (Engine, error) {
	if t == "" {
		t = types.EngineTypeLocal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if eng, ok := s.engines[t]; ok {
		return eng, nil
	}

	var eng Engine
	var err error
	switch t {
	case types.EngineTypeLocal:
		eng, err = NewLocal()
	case types.EngineTypeWarehouse:
		eng, err = NewWarehouse(s.warehouse)
	default:
		return nil, fmt.Errorf("unknown engine type %q", t)
	}
	if err != nil {
		return nil, err
	}
	s.engines[t] = eng
	return eng, nil
}

// Close closes every constructed engine.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for t, eng := range s.engines {
		if err := eng.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.engines, t)
	}
	return firstErr
}
