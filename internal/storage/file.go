package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/san-kum/dynbranch/internal/branch"
)

const (
	objectFile  = "object.json"
	branchesDir = "branches"
)

// FileStore keeps one JSON document per record:
//
//	<base>/<system>/<object>/object.json
//	<base>/<system>/<object>/branches/<branch>.json
type FileStore struct {
	baseDir string
	logger  *slog.Logger
}

func NewFileStore(baseDir string, logger *slog.Logger) *FileStore {
	return &FileStore{baseDir: baseDir, logger: logger}
}

func (s *FileStore) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *FileStore) objectPath(system, name string) string {
	return filepath.Join(s.baseDir, system, name, objectFile)
}

func (s *FileStore) branchPath(system, object, name string) string {
	return filepath.Join(s.baseDir, system, object, branchesDir, name+".json")
}

func (s *FileStore) ListObjects(_ context.Context, system string) ([]string, error) {
	if err := CheckName(system); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.baseDir, system))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(s.objectPath(system, entry.Name())); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) LoadObject(_ context.Context, system, name string) (*branch.Object, error) {
	if err := checkNames(system, name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.objectPath(system, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("object", name)
		}
		return nil, err
	}
	var obj branch.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("object %q: %w", name, err)
	}
	return &obj, nil
}

func (s *FileStore) SaveObject(ctx context.Context, system string, obj *branch.Object) error {
	return s.Commit(ctx, system, Changeset{Objects: []*branch.Object{obj}})
}

func (s *FileStore) ListBranches(_ context.Context, system, object string) ([]string, error) {
	if err := checkNames(system, object); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.baseDir, system, object, branchesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0)
	for _, entry := range entries {
		n := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(n, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(n, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) LoadBranch(ctx context.Context, system, object, name string) (*branch.Branch, error) {
	if err := checkNames(system, object, name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.branchPath(system, object, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("branch", name)
		}
		return nil, err
	}
	var b branch.Branch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("branch %q: %w", name, err)
	}
	if b.ParentObject == "" {
		b.ParentObject = object
	}
	Upgrade(&b, RepairLogger(ctx, s.logger, system))
	return &b, nil
}

func (s *FileStore) SaveBranch(ctx context.Context, system, object string, b *branch.Branch) error {
	c := *b
	c.ParentObject = object
	return s.Commit(ctx, system, Changeset{Branches: []*branch.Branch{&c}})
}

type staged struct {
	path, tmp, backup string
	placed            bool
}

// Commit stages every record in a temporary file, then moves them into
// place. If any move fails the records already placed are rolled back.
func (s *FileStore) Commit(_ context.Context, system string, cs Changeset) error {
	if err := CheckName(system); err != nil {
		return err
	}
	if err := cs.Validate(); err != nil {
		return err
	}

	var files []*staged
	cleanup := func() {
		for _, f := range files {
			os.Remove(f.tmp)
		}
	}

	stage := func(path string, v any) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		f := &staged{path: path, tmp: path + ".tmp-" + uuid.NewString()}
		if err := os.WriteFile(f.tmp, data, 0644); err != nil {
			return err
		}
		files = append(files, f)
		return nil
	}

	for _, o := range cs.Objects {
		if err := stage(s.objectPath(system, o.Name), o); err != nil {
			cleanup()
			return fmt.Errorf("stage object %q: %w", o.Name, err)
		}
	}
	for _, b := range cs.Branches {
		if err := stage(s.branchPath(system, b.ParentObject, b.Name), b); err != nil {
			cleanup()
			return fmt.Errorf("stage branch %q: %w", b.Name, err)
		}
	}

	for _, f := range files {
		if err := s.place(f); err != nil {
			s.rollback(files)
			cleanup()
			return fmt.Errorf("commit %s: %w", f.path, err)
		}
	}
	for _, f := range files {
		if f.backup != "" {
			os.Remove(f.backup)
		}
	}
	return nil
}

func (s *FileStore) place(f *staged) error {
	if _, err := os.Stat(f.path); err == nil {
		f.backup = f.path + ".bak-" + uuid.NewString()
		if err := os.Rename(f.path, f.backup); err != nil {
			f.backup = ""
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(f.tmp, f.path); err != nil {
		return err
	}
	f.placed = true
	return nil
}

func (s *FileStore) rollback(files []*staged) {
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if f.placed {
			os.Remove(f.path)
		}
		if f.backup != "" {
			if err := os.Rename(f.backup, f.path); err != nil && s.logger != nil {
				s.logger.Error("restore after failed commit",
					slog.String("path", f.path),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *FileStore) Close() error { return nil }

func checkNames(names ...string) error {
	for _, n := range names {
		if err := CheckName(n); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*FileStore)(nil)
