// Package configcache implements the configuration cache and the
// pending slot a suggested-but-unaccepted load lands in. The two are
// split into separate exported types -- Cache and Pending -- but share
// one mutex, because marking a file stale and reading/writing its
// pending entry must be serialized under a single critical section for
// the two to stay atomically consistent. The applied-entry table is
// backed by hashicorp/golang-lru/v2, the same generic bounded cache the
// teacher uses for its project artifact cache
// (internal/gateway/repository/projectstore/store.go's
// lru.New[string, []ProjectArtifact](1024)): a process tracking an
// unbounded number of editor-resident scripts over its lifetime still
// needs a ceiling on how many applied entries it pins in memory, even
// though eviction under that ceiling is rarer than the staleness path
// this package mostly cares about.
package configcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"scle/internal/scriptconfig"
	"scle/internal/stamp"
)

// defaultCacheSize bounds the number of applied entries kept resident.
// Eviction beyond this is a memory ceiling, not a correctness signal --
// an evicted file simply re-enters the Unknown state and reloads on
// next access, same as a cold file.
const defaultCacheSize = 8192

type entry struct {
	cached scriptconfig.CachedEntry
	stale  bool
	hasVal bool
}

// store is the shared guarded state behind both Cache and Pending.
type store struct {
	mu      sync.Mutex
	entries *lru.Cache[scriptconfig.FileKey, *entry]
	pending map[scriptconfig.FileKey]scriptconfig.LoadedConfiguration
}

func newStore() *store {
	entries, err := lru.New[scriptconfig.FileKey, *entry](defaultCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultCacheSize never is.
		panic("configcache: " + err.Error())
	}
	return &store{
		entries: entries,
		pending: make(map[scriptconfig.FileKey]scriptconfig.LoadedConfiguration),
	}
}

func (s *store) lock()   { s.mu.Lock() }
func (s *store) unlock() { s.mu.Unlock() }

// Cache is the Configuration Cache (C2): the in-memory mapping from file
// identity to the currently applied (Inputs, Configuration) pair.
type Cache struct{ s *store }

// Pending is the Pending Slot (C3): per-file storage for a loaded
// configuration awaiting user acceptance.
type Pending struct{ s *store }

// New builds a Cache and Pending pair that share one mutex.
func New() (*Cache, *Pending) {
	s := newStore()
	return &Cache{s: s}, &Pending{s: s}
}

// Get returns the cached entry for fileKey, if any. The bool reflects
// presence, not freshness -- callers must check IsStale or re-derive
// freshness via stamp.IsUpToDate themselves; reads may return a stale
// snapshot.
func (c *Cache) Get(fileKey scriptconfig.FileKey) (scriptconfig.CachedEntry, bool) {
	c.s.lock()
	defer c.s.unlock()
	e, ok := c.s.entries.Get(fileKey)
	if !ok || !e.hasVal {
		return scriptconfig.CachedEntry{}, false
	}
	return e.cached, true
}

// IsStale reports whether the entry was explicitly marked stale since it
// was last stored. A file with no entry is not "stale" -- it is Unknown.
func (c *Cache) IsStale(fileKey scriptconfig.FileKey) bool {
	c.s.lock()
	defer c.s.unlock()
	e, ok := c.s.entries.Peek(fileKey)
	return ok && e.hasVal && e.stale
}

// Put stores a fresh entry, overwriting any previous one, and clears the
// stale bit (a fresh store always represents up-to-date inputs at the
// moment it is written).
func (c *Cache) Put(fileKey scriptconfig.FileKey, cached scriptconfig.CachedEntry) {
	c.s.lock()
	defer c.s.unlock()
	c.s.entries.Add(fileKey, &entry{cached: cached, hasVal: true})
}

// RefreshStamp updates only the stamp of an existing entry, leaving the
// Configuration untouched. Used by the updater when a reload yields a
// Configuration equal to the one already applied, or when a background
// task confirms the cache is already fresh -- either way, the point is
// to update the cached stamp so future freshness checks short-circuit.
func (c *Cache) RefreshStamp(fileKey scriptconfig.FileKey, s stamp.Stamp) {
	c.s.lock()
	defer c.s.unlock()
	e, ok := c.s.entries.Peek(fileKey)
	if !ok || !e.hasVal {
		return
	}
	e.cached.Stamp = s
	e.stale = false
}

// MarkStale signals that the next freshness check for fileKey must
// re-verify isUpToDate, and atomically evicts any Pending entry for the
// same key: a file is only ever suggested-but-not-applied between the
// moment a new configuration was suggested and the moment it's
// accepted, rejected, or a newer load supersedes it.
func (c *Cache) MarkStale(fileKey scriptconfig.FileKey) {
	c.s.lock()
	defer c.s.unlock()
	if e, ok := c.s.entries.Peek(fileKey); ok {
		e.stale = true
	}
	delete(c.s.pending, fileKey)
}

// All returns a point-in-time snapshot of every cached entry, used by the
// Reindex Transaction (C8) machinery and by tests.
func (c *Cache) All() map[scriptconfig.FileKey]scriptconfig.CachedEntry {
	c.s.lock()
	defer c.s.unlock()
	keys := c.s.entries.Keys()
	out := make(map[scriptconfig.FileKey]scriptconfig.CachedEntry, len(keys))
	for _, k := range keys {
		if e, ok := c.s.entries.Peek(k); ok && e.hasVal {
			out[k] = e.cached
		}
	}
	return out
}

// Get returns the pending load for fileKey, if any.
func (p *Pending) Get(fileKey scriptconfig.FileKey) (scriptconfig.LoadedConfiguration, bool) {
	p.s.lock()
	defer p.s.unlock()
	v, ok := p.s.pending[fileKey]
	return v, ok
}

// Put stores a newly suggested, not-yet-applied configuration.
func (p *Pending) Put(fileKey scriptconfig.FileKey, loaded scriptconfig.LoadedConfiguration) {
	p.s.lock()
	defer p.s.unlock()
	p.s.pending[fileKey] = loaded
}

// Remove clears the pending slot for fileKey, if present, and reports
// whether anything was removed.
func (p *Pending) Remove(fileKey scriptconfig.FileKey) bool {
	p.s.lock()
	defer p.s.unlock()
	_, ok := p.s.pending[fileKey]
	delete(p.s.pending, fileKey)
	return ok
}

// Has reports whether fileKey currently has a pending, unaccepted load.
func (p *Pending) Has(fileKey scriptconfig.FileKey) bool {
	p.s.lock()
	defer p.s.unlock()
	_, ok := p.s.pending[fileKey]
	return ok
}

// StoreApplied moves a Pending entry's configuration into the Cache and
// removes it from Pending, atomically: storing an applied configuration
// always clears any pending entry for the same file. It is the only way
// the two maps are mutated together, outside of MarkStale.
func StoreApplied(c *Cache, p *Pending, fileKey scriptconfig.FileKey, cached scriptconfig.CachedEntry) {
	if c == nil || p == nil || c.s != p.s {
		return
	}
	c.s.lock()
	defer c.s.unlock()
	c.s.entries.Add(fileKey, &entry{cached: cached, hasVal: true})
	delete(c.s.pending, fileKey)
}
