package reindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingIndexer struct {
	calls []RootSet
}

func (r *recordingIndexer) Index(roots RootSet) error {
	r.calls = append(r.calls, roots)
	return nil
}

type failingIndexer struct{}

func (failingIndexer) Index(RootSet) error { return errIndexFailed }

var errIndexFailed = &indexError{"index failed"}

type indexError struct{ msg string }

func (e *indexError) Error() string { return e.msg }

func TestSingleScopeIndexesOnce(t *testing.T) {
	idx := &recordingIndexer{}
	m := New(idx)

	ctx, scope := m.Begin(context.Background())
	scope.AddRoots([]string{"/src"}, []string{"/out"})
	scope.End()
	_ = ctx

	require.Len(t, idx.calls, 1)
	require.Equal(t, []string{"/src"}, idx.calls[0].SourceRoots)
}

func TestNestedScopesCollapseToOne(t *testing.T) {
	idx := &recordingIndexer{}
	m := New(idx)

	ctx, outer := m.Begin(context.Background())
	func() {
		ctx2, inner := m.Begin(ctx)
		defer inner.End()
		inner.AddRoots([]string{"/a"}, nil)
		require.Same(t, outer, inner)
		_ = ctx2
	}()
	outer.AddRoots([]string{"/b"}, nil)
	outer.End()

	require.Len(t, idx.calls, 1)
	require.ElementsMatch(t, []string{"/a", "/b"}, idx.calls[0].SourceRoots)
}

func TestUnrelatedScopesIndexSeparately(t *testing.T) {
	idx := &recordingIndexer{}
	m := New(idx)

	ctx1, s1 := m.Begin(context.Background())
	ctx2, s2 := m.Begin(context.Background())
	s1.AddRoots([]string{"/one"}, nil)
	s2.AddRoots([]string{"/two"}, nil)
	s1.End()
	s2.End()
	_, _ = ctx1, ctx2

	require.Len(t, idx.calls, 2)
}

func TestEmptyRootsNeverFireIndexer(t *testing.T) {
	idx := &recordingIndexer{}
	m := New(idx)

	_, scope := m.Begin(context.Background())
	scope.End()

	require.Empty(t, idx.calls)
}

func TestNilManagerIndexerIsSafe(t *testing.T) {
	m := New(nil)
	_, scope := m.Begin(context.Background())
	scope.AddRoots([]string{"/x"}, nil)
	require.NotPanics(t, func() { _ = scope.End() })
}

func TestFailingIndexerPropagatesError(t *testing.T) {
	m := New(failingIndexer{})
	_, scope := m.Begin(context.Background())
	scope.AddRoots([]string{"/x"}, nil)
	require.Error(t, scope.End())
}
