package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Tsinling0525/weir/model"
)

// FileStore keeps one YAML snapshot per instance under dir.
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	owners map[string]string
}

// NewFileStore opens (creating if needed) dir and indexes the snapshots
// already in it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("infra: create %s: %w", dir, err)
	}
	s := &FileStore{dir: dir, owners: map[string]string{}}
	all, err := s.List(context.Background())
	if err != nil {
		return nil, err
	}
	for _, inst := range all {
		s.index(inst)
	}
	return s, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || filepath.Base(id) != id || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("infra: invalid instance id %q", id)
	}
	return filepath.Join(s.dir, id+".yaml"), nil
}

func (s *FileStore) index(inst model.WorkflowInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ai := range inst.ActivityInstances {
		s.owners[ai.ID] = inst.ID
	}
}

func (s *FileStore) Save(ctx context.Context, inst model.WorkflowInstance) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p, err := s.path(inst.ID)
	if err != nil {
		return err
	}
	b, err := yaml.Marshal(inst)
	if err != nil {
		return fmt.Errorf("infra: encode instance %s: %w", inst.ID, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		return err
	}
	s.index(inst)
	return nil
}

func (s *FileStore) Load(ctx context.Context, id string) (model.WorkflowInstance, bool, error) {
	select {
	case <-ctx.Done():
		return model.WorkflowInstance{}, false, ctx.Err()
	default:
	}
	p, err := s.path(id)
	if err != nil {
		return model.WorkflowInstance{}, false, nil
	}
	inst, err := readInstance(p)
	if err != nil {
		if os.IsNotExist(err) {
			return model.WorkflowInstance{}, false, nil
		}
		return model.WorkflowInstance{}, false, err
	}
	return inst, true, nil
}

func (s *FileStore) FindByActivityInstance(ctx context.Context, aiID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[aiID]
	return id, ok, nil
}

func (s *FileStore) List(ctx context.Context) ([]model.WorkflowInstance, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := []model.WorkflowInstance{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		inst, err := readInstance(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	sortInstances(out)
	return out, nil
}

func readInstance(path string) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	b, err := os.ReadFile(path)
	if err != nil {
		return inst, err
	}
	if err := yaml.Unmarshal(b, &inst); err != nil {
		return inst, fmt.Errorf("infra: decode %s: %w", path, err)
	}
	return inst, nil
}
