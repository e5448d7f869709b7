// Package reindex implements a scoped batching context around one or
// more configuration-apply actions that guarantees the added
// source/class roots reach the Indexer collaborator exactly once per
// transaction. Nesting is modeled the way request-scoped values get
// threaded through a call chain elsewhere in this codebase -- a value
// stashed on the context and recovered further down the stack -- here
// the value is the open transaction itself, so a nested Begin on the
// same logical call chain joins the outer one instead of firing its own
// Index call.
package reindex

import (
	"context"
	"sync"
)

// RootSet is the accumulated set of class/source roots one transaction
// has touched. Duplicate roots across nested scopes are folded.
type RootSet struct {
	SourceRoots []string
	ClassRoots  []string
}

// Indexer is the collaborator that performs the actual (re)indexing of a
// root set. The core only ever calls it once per outermost transaction.
// An error fails the whole transaction -- callers treat an indexer
// transaction failure as fatal to the apply that opened it.
type Indexer interface {
	Index(roots RootSet) error
}

type scopeKeyType struct{}

var scopeKey = scopeKeyType{}

// Manager owns the Indexer collaborator and mints transactions.
type Manager struct {
	indexer Indexer
}

// New builds a Manager bound to the given Indexer. indexer may be nil,
// in which case transactions still track roots but never call out.
func New(indexer Indexer) *Manager {
	return &Manager{indexer: indexer}
}

// Scope is one open transaction. Begin returns the outermost Scope for
// the call chain rooted at ctx; End must be called exactly once per
// Begin, symmetrically, typically via defer.
type Scope struct {
	mu      sync.Mutex
	manager *Manager
	refs    int
	roots   RootSet
	closed  bool
}

// Begin opens a reindex transaction scoped to ctx. If ctx already carries
// an open Scope (i.e. this call is nested inside another transaction on
// the same call chain), that Scope is reused and its ref count bumped --
// nested scopes collapse into the outermost one. The returned context
// must be threaded to any nested Begin calls for the collapse to take
// effect.
func (m *Manager) Begin(ctx context.Context) (context.Context, *Scope) {
	if s, ok := ctx.Value(scopeKey).(*Scope); ok {
		s.mu.Lock()
		s.refs++
		s.mu.Unlock()
		return ctx, s
	}
	s := &Scope{manager: m, refs: 1}
	return context.WithValue(ctx, scopeKey, s), s
}

// AddRoots records roots touched by an apply performed inside this scope.
func (s *Scope) AddRoots(sourceRoots, classRoots []string) {
	if s == nil || len(sourceRoots) == 0 && len(classRoots) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots.SourceRoots = appendUnique(s.roots.SourceRoots, sourceRoots)
	s.roots.ClassRoots = appendUnique(s.roots.ClassRoots, classRoots)
}

// End closes one Begin/End pair. Only when the outermost pair closes does
// the accumulated root set reach the Indexer; a nested End is always a
// no-op that returns nil. The caller of the outermost End is the one
// whose apply is responsible for surfacing a non-nil error.
func (s *Scope) End() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.refs--
	outer := s.refs == 0
	var roots RootSet
	fire := false
	if outer && !s.closed {
		s.closed = true
		roots = s.roots
		fire = len(roots.SourceRoots) > 0 || len(roots.ClassRoots) > 0
	}
	s.mu.Unlock()

	if fire && s.manager != nil && s.manager.indexer != nil {
		return s.manager.indexer.Index(roots)
	}
	return nil
}

func appendUnique(existing, add []string) []string {
	if len(add) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	out := existing
	for _, v := range add {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
