package thermostat

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/joshp123/gohome-flair/internal/model"
)

// StructureObserver receives the structure after every successful mode change.
type StructureObserver interface {
	UpdateStructure(s model.Structure)
}

// StructureGuard owns the process-wide structure cache. Concurrent first
// reads share one remote fetch; mode changes replace the cache and fan the
// new structure out to registered observers.
type StructureGuard struct {
	client StructureClient
	group  singleflight.Group

	mu        sync.RWMutex
	structure *model.Structure
	observers map[uint64]StructureObserver
	nextID    uint64
}

func NewStructureGuard(client StructureClient) *StructureGuard {
	return &StructureGuard{
		client:    client,
		observers: make(map[uint64]StructureObserver),
	}
}

// Cached returns the cached structure without fetching.
func (g *StructureGuard) Cached() (model.Structure, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.structure == nil {
		return model.Structure{}, false
	}
	return *g.structure, true
}

// GetStructure returns the cached structure, fetching it once if needed.
// Every caller waiting on the same fetch receives the same value or error.
func (g *StructureGuard) GetStructure(ctx context.Context) (model.Structure, error) {
	if s, ok := g.Cached(); ok {
		return s, nil
	}

	v, err, _ := g.group.Do("structure", func() (any, error) {
		if s, ok := g.Cached(); ok {
			return s, nil
		}
		// The fetch is shared, so one caller's cancellation must not fail the rest.
		s, err := g.client.GetPrimaryStructure(context.WithoutCancel(ctx))
		structureFetchTotal.WithLabelValues(result(err)).Inc()
		if err != nil {
			return model.Structure{}, &StructureUnavailableError{Err: err}
		}
		g.store(s)
		return s, nil
	})
	if err != nil {
		return model.Structure{}, err
	}
	return v.(model.Structure), nil
}

// SetMode always writes the mode remotely, even if the cache already
// matches, then updates the cache and notifies observers.
func (g *StructureGuard) SetMode(ctx context.Context, mode model.StructureMode) (model.Structure, error) {
	current, err := g.GetStructure(ctx)
	if err != nil {
		return model.Structure{}, err
	}

	updated, err := g.client.SetStructureMode(ctx, current, mode)
	structureModeSetTotal.WithLabelValues(string(mode), result(err)).Inc()
	if err != nil {
		return model.Structure{}, fmt.Errorf("set structure mode %s: %w", mode, err)
	}

	g.store(updated)
	for _, o := range g.snapshotObservers() {
		o.UpdateStructure(updated)
	}
	return updated, nil
}

// Register adds an observer and returns the func that removes it.
func (g *StructureGuard) Register(o StructureObserver) (unregister func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.observers[id] = o
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.observers, id)
			g.mu.Unlock()
		})
	}
}

// Observers reports how many observers are registered.
func (g *StructureGuard) Observers() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.observers)
}

func (g *StructureGuard) store(s model.Structure) {
	g.mu.Lock()
	g.structure = &s
	g.mu.Unlock()
}

func (g *StructureGuard) snapshotObservers() []StructureObserver {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]StructureObserver, 0, len(g.observers))
	for _, o := range g.observers {
		out = append(out, o)
	}
	return out
}
