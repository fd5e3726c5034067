package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Tsinling0525/weir/model"
)

// DefinitionStore keeps deployed definitions in memory, optionally mirrored
// to YAML files so they survive a restart.
type DefinitionStore struct {
	mu  sync.RWMutex
	m   map[model.ID]model.WorkflowDefinition
	dir string
}

func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{m: map[model.ID]model.WorkflowDefinition{}}
}

// NewFileDefinitionStore loads every definition already in dir and writes
// new ones there.
func NewFileDefinitionStore(dir string) (*DefinitionStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("infra: create %s: %w", dir, err)
	}
	s := NewDefinitionStore()
	s.dir = dir
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var def model.WorkflowDefinition
		if err := yaml.Unmarshal(b, &def); err != nil {
			return nil, fmt.Errorf("infra: decode %s: %w", e.Name(), err)
		}
		s.m[def.ID] = def
	}
	return s, nil
}

// Put stores def with the next version of its source workflow.
func (s *DefinitionStore) Put(ctx context.Context, def model.WorkflowDefinition) (model.WorkflowDefinition, error) {
	select {
	case <-ctx.Done():
		return model.WorkflowDefinition{}, ctx.Err()
	default:
	}
	if def.ID == "" {
		return model.WorkflowDefinition{}, fmt.Errorf("infra: definition id is required")
	}
	if def.SourceWorkflowID == "" {
		def.SourceWorkflowID = def.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[def.ID]; exists {
		return model.WorkflowDefinition{}, fmt.Errorf("infra: definition %s already stored", def.ID)
	}
	def.Version = 1
	if latest, ok := s.latestLocked(def.SourceWorkflowID); ok {
		def.Version = latest.Version + 1
	}
	def = def.Clone()
	if s.dir != "" {
		if filepath.Base(string(def.ID)) != string(def.ID) {
			return model.WorkflowDefinition{}, fmt.Errorf("infra: invalid definition id %q", def.ID)
		}
		b, err := yaml.Marshal(def)
		if err != nil {
			return model.WorkflowDefinition{}, fmt.Errorf("infra: encode definition %s: %w", def.ID, err)
		}
		if err := os.WriteFile(filepath.Join(s.dir, string(def.ID)+".yaml"), b, 0o644); err != nil {
			return model.WorkflowDefinition{}, err
		}
	}
	s.m[def.ID] = def
	return def.Clone(), nil
}

func (s *DefinitionStore) Get(ctx context.Context, id model.ID) (model.WorkflowDefinition, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.m[id]
	if !ok {
		return model.WorkflowDefinition{}, false, nil
	}
	return def.Clone(), true, nil
}

// Latest returns the highest version deployed under sourceID.
func (s *DefinitionStore) Latest(ctx context.Context, sourceID model.ID) (model.WorkflowDefinition, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.latestLocked(sourceID)
	if !ok {
		return model.WorkflowDefinition{}, false, nil
	}
	return def.Clone(), true, nil
}

func (s *DefinitionStore) latestLocked(sourceID model.ID) (model.WorkflowDefinition, bool) {
	var (
		best  model.WorkflowDefinition
		found bool
	)
	for _, def := range s.m {
		if def.SourceWorkflowID != sourceID {
			continue
		}
		if !found || def.Version > best.Version {
			best, found = def, true
		}
	}
	return best, found
}

// List returns all definitions ordered by source id then version.
func (s *DefinitionStore) List(ctx context.Context) ([]model.WorkflowDefinition, error) {
	s.mu.RLock()
	out := make([]model.WorkflowDefinition, 0, len(s.m))
	for _, def := range s.m {
		out = append(out, def.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceWorkflowID != out[j].SourceWorkflowID {
			return out[i].SourceWorkflowID < out[j].SourceWorkflowID
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}
