package version

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vlado/api/internal/store"
)

// ErrAllocationConflict means a free root fork-path number could not be
// reserved within the retry budget. The whole upload may be retried.
var ErrAllocationConflict = errors.New("fork path allocation conflict")

// Scope identifies the owning context a lineage root lives in. Root numbers
// are sequential per (owner, room); branch paths are scoped purely by parent.
type Scope struct {
	OwnerID string
	RoomID  *string
}

// Placement is the computed position of a new revision.
type Placement struct {
	Version  int
	ForkPath string
}

// Store is the narrow query surface the allocator needs.
type Store interface {
	ListDocumentChildren(ctx context.Context, parentID string) ([]store.Document, error)
	ListRootDocuments(ctx context.Context, ownerID string, roomID *string) ([]store.Document, error)
	RootForkPathExists(ctx context.Context, ownerID string, roomID *string, forkPath string) (bool, error)
}

// Allocator computes the (version, forkPath) pair for new revisions. It holds
// no state between calls; every decision is made against a fresh read of the
// store.
type Allocator struct {
	store        Store
	rootAttempts int
	rootBackoff  time.Duration
}

func NewAllocator(s Store) *Allocator {
	return &Allocator{
		store:        s,
		rootAttempts: 5,
		rootBackoff:  50 * time.Millisecond,
	}
}

// AllocateNextVersion computes where a new revision goes. A nil parent starts
// a brand-new lineage in scope; otherwise the revision extends or forks the
// parent's branch. Only root allocation can fail with ErrAllocationConflict;
// branch placement is total, and callers handle concurrent branch races by
// treating the revision insert as a compare-and-swap against the store's
// uniqueness constraint.
func (a *Allocator) AllocateNextVersion(ctx context.Context, parent *store.Document, scope Scope) (Placement, error) {
	if parent == nil {
		return a.allocateRoot(ctx, scope)
	}

	children, err := a.store.ListDocumentChildren(ctx, parent.ID)
	if err != nil {
		return Placement{}, fmt.Errorf("list children of %s: %w", parent.ID, err)
	}

	if len(children) == 0 {
		// Simple linear update staying on the parent's branch.
		return Placement{Version: parent.Version + 1, ForkPath: parent.ForkPath}, nil
	}

	sameBranch := false
	deeper := false
	deepPrefix := parent.ForkPath + "."
	for _, child := range children {
		if child.ForkPath == parent.ForkPath {
			sameBranch = true
		}
		if strings.HasPrefix(child.ForkPath, deepPrefix) {
			deeper = true
		}
	}

	if sameBranch && Depth(parent.ForkPath) >= 2 {
		// The parent's branch already continues, so this revision opens a new
		// branch alongside it: highest sibling number at the parent's depth,
		// plus one, under the parent's prefix.
		highest := LastSegment(parent.ForkPath)
		parentDepth := Depth(parent.ForkPath)
		for _, child := range children {
			if Depth(child.ForkPath) != parentDepth {
				continue
			}
			if n := LastSegment(child.ForkPath); n > highest {
				highest = n
			}
		}
		return Placement{
			Version:  parent.Version + 1,
			ForkPath: Join(Prefix(parent.ForkPath), highest+1),
		}, nil
	}

	if sameBranch || deeper {
		// Forking a root-path revision, or extending past branches that
		// already hang one level down: nest under the parent's path, one past
		// the highest existing branch number.
		highest := 0
		for _, child := range children {
			if !strings.HasPrefix(child.ForkPath, deepPrefix) {
				continue
			}
			if n := LastSegment(child.ForkPath); n > highest {
				highest = n
			}
		}
		return Placement{
			Version:  parent.Version + 1,
			ForkPath: Join(parent.ForkPath, highest+1),
		}, nil
	}

	// Children exist but match neither condition. Stay on the parent's branch
	// and let the uniqueness constraint arbitrate.
	return Placement{Version: parent.Version + 1, ForkPath: parent.ForkPath}, nil
}

// allocateRoot picks the next free root number in scope. Concurrent callers
// can compute the same candidate before either commits, so each attempt
// re-reads the roots, recomputes, and probes the store before accepting.
func (a *Allocator) allocateRoot(ctx context.Context, scope Scope) (Placement, error) {
	for attempt := 0; attempt < a.rootAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Placement{}, ctx.Err()
			case <-time.After(a.rootBackoff):
			}
		}

		roots, err := a.store.ListRootDocuments(ctx, scope.OwnerID, scope.RoomID)
		if err != nil {
			return Placement{}, fmt.Errorf("list roots: %w", err)
		}

		candidate := 1
		for _, root := range roots {
			if n := LastSegment(root.ForkPath); n >= candidate {
				candidate = n + 1
			}
		}

		forkPath := Join("", candidate)
		taken, err := a.store.RootForkPathExists(ctx, scope.OwnerID, scope.RoomID, forkPath)
		if err != nil {
			return Placement{}, fmt.Errorf("probe root %s: %w", forkPath, err)
		}
		if !taken {
			return Placement{Version: 1, ForkPath: forkPath}, nil
		}
	}
	return Placement{}, ErrAllocationConflict
}
