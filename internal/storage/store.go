// Package storage persists objects and branches, name-keyed per system.
//
// All backends apply the same load-time upgrade to branch data: missing or
// mismatched logical indices are regenerated, out-of-range bifurcation
// positions are dropped, and a missing branch type defaults to Equilibrium.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/indexing"
	"github.com/san-kum/dynbranch/internal/telemetry"
)

// Store is the branch store contract. Writes are last-write-wins.
type Store interface {
	ListObjects(ctx context.Context, system string) ([]string, error)
	LoadObject(ctx context.Context, system, name string) (*branch.Object, error)
	SaveObject(ctx context.Context, system string, obj *branch.Object) error

	ListBranches(ctx context.Context, system, object string) ([]string, error)
	LoadBranch(ctx context.Context, system, object, name string) (*branch.Branch, error)
	SaveBranch(ctx context.Context, system, object string, b *branch.Branch) error

	// Commit writes every entry of cs or none of them.
	Commit(ctx context.Context, system string, cs Changeset) error
	Close() error
}

// Changeset is the set of records produced by one derivation.
type Changeset struct {
	Objects  []*branch.Object
	Branches []*branch.Branch
}

func (cs Changeset) Empty() bool {
	return len(cs.Objects) == 0 && len(cs.Branches) == 0
}

// Validate checks that every branch names its owning object.
func (cs Changeset) Validate() error {
	for _, o := range cs.Objects {
		if err := CheckName(o.Name); err != nil {
			return err
		}
	}
	for _, b := range cs.Branches {
		if b.ParentObject == "" {
			return fmt.Errorf("branch %q: no parent object", b.Name)
		}
		if err := CheckName(b.Name); err != nil {
			return err
		}
	}
	return nil
}

// Upgrade repairs legacy branch data in place and logs what it changed.
func Upgrade(b *branch.Branch, logger *slog.Logger) {
	r := indexing.Repair(&b.Data)
	if b.BranchType == "" {
		b.BranchType = b.Kind()
	}
	if !r.Changed() || logger == nil {
		return
	}
	logger.Warn("repaired stored branch",
		slog.String("object", b.ParentObject),
		slog.String("branch", b.Name),
		slog.Bool("regenerated_indices", r.RegeneratedIndices),
		slog.Any("dropped_bifurcations", r.DroppedBifurcations),
	)
}

// RepairLogger picks the logger for Upgrade. A logger carried by ctx already
// names the system; the store's own logger is tagged with it.
func RepairLogger(ctx context.Context, fallback *slog.Logger, system string) *slog.Logger {
	if logger := telemetry.FromContext(ctx, nil); logger != nil {
		return logger
	}
	if fallback == nil {
		return nil
	}
	return fallback.With(slog.String("system", system))
}

// CheckName rejects names that cannot be used as a single key or path segment.
func CheckName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", branch.ErrInvalidName, name)
	}
	return nil
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, branch.ErrNotFound)
}

func cloneObject(o *branch.Object) (*branch.Object, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	var out branch.Object
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func cloneBranch(b *branch.Branch) (*branch.Branch, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var out branch.Branch
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
