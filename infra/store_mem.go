package infra

import (
	"context"
	"sort"
	"sync"

	"github.com/Tsinling0525/weir/model"
)

// MemStore keeps instance snapshots in memory. Values are cloned on the way
// in and out so callers never share state with the store.
type MemStore struct {
	mu     sync.RWMutex
	items  map[string]model.WorkflowInstance
	owners map[string]string // activity instance id -> instance id
}

func NewMemStore() *MemStore {
	return &MemStore{items: map[string]model.WorkflowInstance{}, owners: map[string]string{}}
}

func (s *MemStore) Save(ctx context.Context, inst model.WorkflowInstance) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	snap := inst.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[inst.ID] = snap
	for _, ai := range snap.ActivityInstances {
		s.owners[ai.ID] = inst.ID
	}
	return nil
}

func (s *MemStore) Load(ctx context.Context, id string) (model.WorkflowInstance, bool, error) {
	select {
	case <-ctx.Done():
		return model.WorkflowInstance{}, false, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.items[id]
	if !ok {
		return model.WorkflowInstance{}, false, nil
	}
	return inst.Clone(), true, nil
}

func (s *MemStore) FindByActivityInstance(ctx context.Context, aiID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[aiID]
	return id, ok, nil
}

// List returns every instance, oldest first.
func (s *MemStore) List(ctx context.Context) ([]model.WorkflowInstance, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	out := make([]model.WorkflowInstance, 0, len(s.items))
	for _, inst := range s.items {
		out = append(out, inst.Clone())
	}
	s.mu.RUnlock()
	sortInstances(out)
	return out, nil
}

func sortInstances(out []model.WorkflowInstance) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
}
