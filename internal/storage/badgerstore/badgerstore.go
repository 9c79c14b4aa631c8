// Package badgerstore is a BadgerDB backend for the branch store.
//
// Keys:
//
//	sys/<system>/obj/<object>
//	sys/<system>/br/<object>/<branch>
//
// Values are the JSON encoding of the record. A Commit is one transaction.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/storage"
)

type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements storage.Store on a badger database.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, logger: cfg.Logger}, nil
}

func objectKey(system, name string) []byte {
	return []byte("sys/" + system + "/obj/" + name)
}

func branchPrefix(system, object string) []byte {
	return []byte("sys/" + system + "/br/" + object + "/")
}

func branchKey(system, object, name string) []byte {
	return append(branchPrefix(system, object), name...)
}

func (s *Store) listKeys(ctx context.Context, prefix []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := bytes.TrimPrefix(it.Item().Key(), prefix)
			if bytes.IndexByte(rest, '/') >= 0 {
				continue
			}
			names = append(names, string(rest))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) get(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (s *Store) ListObjects(ctx context.Context, system string) ([]string, error) {
	if err := storage.CheckName(system); err != nil {
		return nil, err
	}
	return s.listKeys(ctx, []byte("sys/"+system+"/obj/"))
}

func (s *Store) LoadObject(ctx context.Context, system, name string) (*branch.Object, error) {
	var obj branch.Object
	if err := s.get(ctx, objectKey(system, name), &obj); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("object %q: %w", name, branch.ErrNotFound)
		}
		return nil, err
	}
	return &obj, nil
}

func (s *Store) SaveObject(ctx context.Context, system string, obj *branch.Object) error {
	return s.Commit(ctx, system, storage.Changeset{Objects: []*branch.Object{obj}})
}

func (s *Store) ListBranches(ctx context.Context, system, object string) ([]string, error) {
	if err := storage.CheckName(system); err != nil {
		return nil, err
	}
	if err := storage.CheckName(object); err != nil {
		return nil, err
	}
	return s.listKeys(ctx, branchPrefix(system, object))
}

func (s *Store) LoadBranch(ctx context.Context, system, object, name string) (*branch.Branch, error) {
	var b branch.Branch
	if err := s.get(ctx, branchKey(system, object, name), &b); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("branch %q: %w", name, branch.ErrNotFound)
		}
		return nil, err
	}
	if b.ParentObject == "" {
		b.ParentObject = object
	}
	storage.Upgrade(&b, storage.RepairLogger(ctx, s.logger, system))
	return &b, nil
}

func (s *Store) SaveBranch(ctx context.Context, system, object string, b *branch.Branch) error {
	c := *b
	c.ParentObject = object
	return s.Commit(ctx, system, storage.Changeset{Branches: []*branch.Branch{&c}})
}

func (s *Store) Commit(ctx context.Context, system string, cs storage.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckName(system); err != nil {
		return err
	}
	if err := cs.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, o := range cs.Objects {
			val, err := json.Marshal(o)
			if err != nil {
				return fmt.Errorf("encode object %q: %w", o.Name, err)
			}
			if err := txn.Set(objectKey(system, o.Name), val); err != nil {
				return err
			}
		}
		for _, b := range cs.Branches {
			val, err := json.Marshal(b)
			if err != nil {
				return fmt.Errorf("encode branch %q: %w", b.Name, err)
			}
			if err := txn.Set(branchKey(system, b.ParentObject, b.Name), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)
