package storage

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/san-kum/dynbranch/internal/branch"
)

type branchKey struct{ system, object, name string }

type objectKey struct{ system, name string }

// MemStore keeps records in memory. Values are copied on the way in and
// out so callers never share state with the store.
type MemStore struct {
	mu       sync.RWMutex
	objects  map[objectKey]*branch.Object
	branches map[branchKey]*branch.Branch
	logger   *slog.Logger
}

func NewMemStore(logger *slog.Logger) *MemStore {
	return &MemStore{
		objects:  make(map[objectKey]*branch.Object),
		branches: make(map[branchKey]*branch.Branch),
		logger:   logger,
	}
}

func (m *MemStore) ListObjects(_ context.Context, system string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for k := range m.objects {
		if k.system == system {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) LoadObject(_ context.Context, system, name string) (*branch.Object, error) {
	m.mu.RLock()
	o, ok := m.objects[objectKey{system, name}]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound("object", name)
	}
	return cloneObject(o)
}

func (m *MemStore) SaveObject(ctx context.Context, system string, obj *branch.Object) error {
	return m.Commit(ctx, system, Changeset{Objects: []*branch.Object{obj}})
}

func (m *MemStore) ListBranches(_ context.Context, system, object string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for k := range m.branches {
		if k.system == system && k.object == object {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) LoadBranch(ctx context.Context, system, object, name string) (*branch.Branch, error) {
	m.mu.RLock()
	b, ok := m.branches[branchKey{system, object, name}]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound("branch", name)
	}
	out, err := cloneBranch(b)
	if err != nil {
		return nil, err
	}
	Upgrade(out, RepairLogger(ctx, m.logger, system))
	return out, nil
}

func (m *MemStore) SaveBranch(ctx context.Context, system, object string, b *branch.Branch) error {
	c := *b
	c.ParentObject = object
	return m.Commit(ctx, system, Changeset{Branches: []*branch.Branch{&c}})
}

func (m *MemStore) Commit(_ context.Context, system string, cs Changeset) error {
	if err := cs.Validate(); err != nil {
		return err
	}
	objects := make([]*branch.Object, len(cs.Objects))
	for i, o := range cs.Objects {
		c, err := cloneObject(o)
		if err != nil {
			return err
		}
		objects[i] = c
	}
	branches := make([]*branch.Branch, len(cs.Branches))
	for i, b := range cs.Branches {
		c, err := cloneBranch(b)
		if err != nil {
			return err
		}
		branches[i] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range objects {
		m.objects[objectKey{system, o.Name}] = o
	}
	for _, b := range branches {
		m.branches[branchKey{system, b.ParentObject, b.Name}] = b
	}
	return nil
}

func (m *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
