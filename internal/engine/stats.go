package engine

import (
	"sync/atomic"

	"scle/internal/scriptconfig"
)

// Stats is an injectable counter sink satisfying updater.StatsHook,
// realized as instance state on the Engine rather than process-wide
// companion-object-style counters -- each Engine gets its own Stats, so
// two engines in one process (or one process across tests) never share
// counters.
type Stats struct {
	started   atomic.Int64
	completed atomic.Int64
	coalesced atomic.Int64
	applied   atomic.Int64
}

func (s *Stats) LoadStarted(scriptconfig.FileKey)   { s.started.Add(1) }
func (s *Stats) LoadCompleted(scriptconfig.FileKey) { s.completed.Add(1) }
func (s *Stats) LoadCoalesced(scriptconfig.FileKey) { s.coalesced.Add(1) }
func (s *Stats) LoadApplied(scriptconfig.FileKey)   { s.applied.Add(1) }

// Snapshot is a point-in-time read of every counter, used by tests
// asserting load/coalesce/apply behavior without reaching into executor
// internals directly.
type Snapshot struct {
	Started, Completed, Coalesced, Applied int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Started:   s.started.Load(),
		Completed: s.completed.Load(),
		Coalesced: s.coalesced.Load(),
		Applied:   s.applied.Load(),
	}
}
