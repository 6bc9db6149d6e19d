package version

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vlado/api/internal/store"
)

type fakeStore struct {
	listChildrenFn func(context.Context, string) ([]store.Document, error)
	listRootsFn    func(context.Context, string, *string) ([]store.Document, error)
	rootExistsFn   func(context.Context, string, *string, string) (bool, error)
}

func (f *fakeStore) ListDocumentChildren(ctx context.Context, parentID string) ([]store.Document, error) {
	if f.listChildrenFn != nil {
		return f.listChildrenFn(ctx, parentID)
	}
	return nil, nil
}

func (f *fakeStore) ListRootDocuments(ctx context.Context, ownerID string, roomID *string) ([]store.Document, error) {
	if f.listRootsFn != nil {
		return f.listRootsFn(ctx, ownerID, roomID)
	}
	return nil, nil
}

func (f *fakeStore) RootForkPathExists(ctx context.Context, ownerID string, roomID *string, forkPath string) (bool, error) {
	if f.rootExistsFn != nil {
		return f.rootExistsFn(ctx, ownerID, roomID, forkPath)
	}
	return false, nil
}

func testAllocator(fake *fakeStore) *Allocator {
	a := NewAllocator(fake)
	a.rootBackoff = time.Millisecond
	return a
}

func revisions(paths ...string) []store.Document {
	items := make([]store.Document, len(paths))
	for i, path := range paths {
		items[i] = store.Document{ID: "doc_" + path, ForkPath: path}
	}
	return items
}

func TestAllocateRootEmptyScope(t *testing.T) {
	a := testAllocator(&fakeStore{})
	placement, err := a.AllocateNextVersion(context.Background(), nil, Scope{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 1, ForkPath: "1"}, placement)
}

func TestAllocateRootNextNumber(t *testing.T) {
	a := testAllocator(&fakeStore{
		listRootsFn: func(context.Context, string, *string) ([]store.Document, error) {
			return revisions("1", "2", "3"), nil
		},
	})
	placement, err := a.AllocateNextVersion(context.Background(), nil, Scope{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 1, ForkPath: "4"}, placement)
}

func TestAllocateRootSkipsGapsAboveMax(t *testing.T) {
	a := testAllocator(&fakeStore{
		listRootsFn: func(context.Context, string, *string) ([]store.Document, error) {
			return revisions("1", "5"), nil
		},
	})
	placement, err := a.AllocateNextVersion(context.Background(), nil, Scope{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "6", placement.ForkPath)
}

func TestAllocateRootRetriesThenSucceeds(t *testing.T) {
	probes := 0
	a := testAllocator(&fakeStore{
		rootExistsFn: func(_ context.Context, _ string, _ *string, forkPath string) (bool, error) {
			probes++
			// Another writer grabs the candidate on the first two attempts.
			return probes < 3, nil
		},
	})
	placement, err := a.AllocateNextVersion(context.Background(), nil, Scope{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 1, ForkPath: "1"}, placement)
	assert.Equal(t, 3, probes)
}

func TestAllocateRootConflictExhaustsRetries(t *testing.T) {
	probes := 0
	a := testAllocator(&fakeStore{
		rootExistsFn: func(context.Context, string, *string, string) (bool, error) {
			probes++
			return true, nil
		},
	})
	_, err := a.AllocateNextVersion(context.Background(), nil, Scope{OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrAllocationConflict)
	assert.Equal(t, 5, probes)
}

func TestAllocateLinearUpdate(t *testing.T) {
	a := testAllocator(&fakeStore{})
	parent := &store.Document{ID: "doc_a", Version: 2, ForkPath: "1"}
	placement, err := a.AllocateNextVersion(context.Background(), parent, Scope{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 3, ForkPath: "1"}, placement)
}

func TestAllocateNewBranchWhenSameBranchChildExists(t *testing.T) {
	cases := []struct {
		name     string
		parent   store.Document
		children []store.Document
		want     Placement
	}{
		{
			name:     "first fork off a root lineage nests under it",
			parent:   store.Document{ID: "p", Version: 2, ForkPath: "1"},
			children: revisions("1"),
			want:     Placement{Version: 3, ForkPath: "1.1"},
		},
		{
			name:     "fork numbering counts same-depth siblings and parent",
			parent:   store.Document{ID: "p", Version: 4, ForkPath: "1.2"},
			children: revisions("1.2", "1.3", "1.5"),
			want:     Placement{Version: 5, ForkPath: "1.6"},
		},
		{
			name:     "deeper children ignored when parent is a branch path",
			parent:   store.Document{ID: "p", Version: 3, ForkPath: "1.2"},
			children: revisions("1.2", "1.3", "1.2.4"),
			want:     Placement{Version: 4, ForkPath: "1.4"},
		},
		{
			name:     "root-path fork joins existing branch numbering",
			parent:   store.Document{ID: "p", Version: 1, ForkPath: "2"},
			children: revisions("2", "2.7"),
			want:     Placement{Version: 2, ForkPath: "2.8"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := testAllocator(&fakeStore{
				listChildrenFn: func(context.Context, string) ([]store.Document, error) {
					return tc.children, nil
				},
			})
			placement, err := a.AllocateNextVersion(context.Background(), &tc.parent, Scope{OwnerID: "u1"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, placement)
		})
	}
}

func TestAllocateDeeperBranchesOnly(t *testing.T) {
	a := testAllocator(&fakeStore{
		listChildrenFn: func(context.Context, string) ([]store.Document, error) {
			return revisions("1.1", "1.3"), nil
		},
	})
	parent := &store.Document{ID: "p", Version: 3, ForkPath: "1"}
	placement, err := a.AllocateNextVersion(context.Background(), parent, Scope{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 4, ForkPath: "1.4"}, placement)
}

func TestAllocateDegenerateChildrenKeepParentPath(t *testing.T) {
	// Children exist but none continue or deepen the parent's path; the
	// placement stays on the parent's branch and the store's uniqueness
	// constraint arbitrates.
	a := testAllocator(&fakeStore{
		listChildrenFn: func(context.Context, string) ([]store.Document, error) {
			return revisions("9.9"), nil
		},
	})
	parent := &store.Document{ID: "p", Version: 2, ForkPath: "1"}
	placement, err := a.AllocateNextVersion(context.Background(), parent, Scope{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 3, ForkPath: "1"}, placement)
}

// Two linear revisions, then a fork from v2, then a linear update on the fork
// child: the canonical lineage walk.
func TestAllocateLineageScenario(t *testing.T) {
	ctx := context.Background()
	scope := Scope{OwnerID: "u1"}

	root := store.Document{ID: "r", Version: 1, ForkPath: "1"}
	a := testAllocator(&fakeStore{})
	placement, err := a.AllocateNextVersion(ctx, nil, scope)
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 1, ForkPath: "1"}, placement)

	// v1 -> v2, then v2 -> v3, both linear.
	placement, err = a.AllocateNextVersion(ctx, &root, scope)
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 2, ForkPath: "1"}, placement)

	v2 := store.Document{ID: "v2", Version: 2, ForkPath: "1"}
	placement, err = a.AllocateNextVersion(ctx, &v2, scope)
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 3, ForkPath: "1"}, placement)

	// v2 already has the v3 linear child, so forking from v2 opens branch 1.1.
	forked := testAllocator(&fakeStore{
		listChildrenFn: func(context.Context, string) ([]store.Document, error) {
			return revisions("1"), nil
		},
	})
	placement, err = forked.AllocateNextVersion(ctx, &v2, scope)
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 3, ForkPath: "1.1"}, placement)

	// Linear update on the fork child stays on 1.1.
	forkChild := store.Document{ID: "f", Version: 3, ForkPath: "1.1"}
	placement, err = a.AllocateNextVersion(ctx, &forkChild, scope)
	require.NoError(t, err)
	assert.Equal(t, Placement{Version: 4, ForkPath: "1.1"}, placement)
}

func TestAllocateRootCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := testAllocator(&fakeStore{
		rootExistsFn: func(context.Context, string, *string, string) (bool, error) {
			return true, nil
		},
	})
	_, err := a.AllocateNextVersion(ctx, nil, Scope{OwnerID: "u1"})
	assert.ErrorIs(t, err, context.Canceled)
}
