// Package updater owns staleness detection, scheduling, the
// suggest-vs-apply decision, and the notification panel lifecycle for a
// single file. Every other component it depends on is a leaf; this is
// where they get wired into the per-file Unknown/UpToDate/Queued/
// Loading/Pending state machine.
package updater

import (
	"context"
	"log"
	"sync"

	"scle/internal/collaborators"
	"scle/internal/configcache"
	"scle/internal/executor"
	"scle/internal/loader"
	"scle/internal/reindex"
	"scle/internal/scriptconfig"
	"scle/internal/stamp"
	"scle/internal/tracelog"
)

// StatsHook is an optional, injectable counter sink for load lifecycle
// events. Kept as a hook rather than process-wide counters so multiple
// engines in one process (or a test harness) never share state.
type StatsHook interface {
	LoadStarted(scriptconfig.FileKey)
	LoadCompleted(scriptconfig.FileKey)
	LoadCoalesced(scriptconfig.FileKey)
	LoadApplied(scriptconfig.FileKey)
}

// Deps are the collaborators the Updater orchestrates. All fields are
// required except Trace and Stats, which are nil-safe.
type Deps struct {
	Cache         *configcache.Cache
	Pending       *configcache.Pending
	Executor      *executor.Executor
	Chain         *loader.Chain
	Registry      collaborators.Registry
	Settings      collaborators.Settings
	LiveFiles     collaborators.LiveFiles
	ReportSink    collaborators.ReportSink
	Panel         collaborators.NotificationPanel
	Rehighlighter collaborators.Rehighlighter
	Reindex       *reindex.Manager
	Trace         *tracelog.Logger
	Stats         StatsHook
	TestMode      bool
}

// Updater holds no per-file state of its own beyond the save lock and
// the last-seen-diagnostics map; the actual per-file state is derived
// from the cache, the pending slot, and the registry on demand.
type Updater struct {
	cache    *configcache.Cache
	pending  *configcache.Pending
	exec     *executor.Executor
	chain    *loader.Chain
	registry collaborators.Registry
	settings collaborators.Settings
	live     collaborators.LiveFiles
	sink     collaborators.ReportSink
	panel    collaborators.NotificationPanel
	rehi     collaborators.Rehighlighter
	reindex  *reindex.Manager
	trace    *tracelog.Logger
	stats    StatsHook

	saveLock sync.Mutex
	testMode bool

	diagMu          sync.Mutex
	lastDiagnostics map[scriptconfig.FileKey][]scriptconfig.Diagnostic
}

// New wires an Updater from its collaborators.
func New(deps Deps) *Updater {
	u := &Updater{
		cache:           deps.Cache,
		pending:         deps.Pending,
		exec:            deps.Executor,
		chain:           deps.Chain,
		registry:        deps.Registry,
		settings:        deps.Settings,
		live:            deps.LiveFiles,
		sink:            deps.ReportSink,
		panel:           deps.Panel,
		rehi:            deps.Rehighlighter,
		reindex:         deps.Reindex,
		trace:           deps.Trace,
		stats:           deps.Stats,
		testMode:        deps.TestMode,
		lastDiagnostics: make(map[scriptconfig.FileKey][]scriptconfig.Diagnostic),
	}
	return u
}

// SetTestMode flips the unconditional-auto-apply switch. Exposed as a
// method, not a constructor-only field, so a drain()-based test harness
// can toggle it mid-test.
func (u *Updater) SetTestMode(v bool) {
	u.saveLock.Lock()
	defer u.saveLock.Unlock()
	u.testMode = v
}

// Drain delegates to the Background Executor's test-only drain.
func (u *Updater) Drain() {
	u.exec.Drain()
}

// GetConfiguration returns the cached configuration, ensuring a load is
// at least scheduled first if the entry is absent or stale. It never
// blocks except when a sync loader ends up handling the file on this
// call.
func (u *Updater) GetConfiguration(fileKey scriptconfig.FileKey) *scriptconfig.Configuration {
	entry, ok := u.cache.Get(fileKey)
	if !ok || u.needsReload(fileKey, entry) {
		// "Ensuring a load was at least scheduled" is unconditional here:
		// a caller asking for the value wants it refreshed even when the
		// auto-apply policy is off and this isn't the file's first load,
		// so this forces shouldLoad the same way a user edit does.
		u.reload(context.Background(), fileKey, true)
		entry, ok = u.cache.Get(fileKey)
	}
	if !ok {
		return nil
	}
	return entry.Configuration
}

func (u *Updater) needsReload(fileKey scriptconfig.FileKey, entry scriptconfig.CachedEntry) bool {
	if u.cache.IsStale(fileKey) {
		return true
	}
	return !stamp.IsUpToDate(entry.Stamp, u.liveFile(fileKey))
}

// Invalidate is a generic "something about this file's inputs changed"
// signal (e.g. a dependency, or a definition-readiness retry). It marks
// the cache stale and schedules a reload only if the shouldLoad policy
// is met -- it does not force a load purely to refresh a suggestion the
// user hasn't asked to see.
func (u *Updater) Invalidate(fileKey scriptconfig.FileKey) {
	u.cache.MarkStale(fileKey)
	u.reload(context.Background(), fileKey, false)
}

// EnsureUpToDateSuggested is called after a user edit. It marks stale
// and unconditionally schedules a reload (the loadEvenWillNotBeApplied
// hint), since an edited file should always get a fresh suggestion even
// when auto-apply is off and this isn't the file's first load.
func (u *Updater) EnsureUpToDateSuggested(fileKey scriptconfig.FileKey) {
	u.cache.MarkStale(fileKey)
	u.reload(context.Background(), fileKey, true)
}

// ApplyPending is the user-accept path. It atomically moves the pending
// entry into the cache inside a reindex transaction and requests a
// rehighlight. Returns false if nothing was pending.
func (u *Updater) ApplyPending(fileKey scriptconfig.FileKey) bool {
	u.saveLock.Lock()
	defer u.saveLock.Unlock()

	loaded, ok := u.pending.Get(fileKey)
	if !ok {
		return false
	}
	u.applyLoaded(context.Background(), fileKey, loaded)
	u.panel.Hide(fileKey)
	return true
}

// DismissPending clears a suggested-but-unaccepted configuration
// without applying it.
func (u *Updater) DismissPending(fileKey scriptconfig.FileKey) {
	u.pending.Remove(fileKey)
}

// HasPending reports whether fileKey has a loaded-but-unaccepted
// configuration waiting.
func (u *Updater) HasPending(fileKey scriptconfig.FileKey) bool {
	return u.pending.Has(fileKey)
}

// reload decides whether a load is warranted right now and, if so,
// dispatches it through the sync phase of the loader chain first,
// falling back to scheduling a background task.
func (u *Updater) reload(ctx context.Context, fileKey scriptconfig.FileKey, loadEvenWillNotBeApplied bool) {
	if u.registry == nil || !u.registry.IsReady() {
		return
	}
	def, ok := u.registry.FindDefinition(fileKey)
	if !ok {
		return
	}

	if entry, ok := u.cache.Get(fileKey); ok && !u.cache.IsStale(fileKey) && stamp.IsUpToDate(entry.Stamp, u.liveFile(fileKey)) {
		return
	}

	_, cachedExists := u.cache.Get(fileKey)
	isFirstLoad := !cachedExists
	shouldLoad := isFirstLoad || loadEvenWillNotBeApplied || (u.settings != nil && u.settings.AutoReloadEnabled())
	if !shouldLoad {
		return
	}

	lctx := u.loadingContext()
	if u.chain.RunSync(ctx, isFirstLoad, fileKey, def, lctx) {
		return
	}
	u.exec.EnsureScheduled(fileKey, u.backgroundTask(fileKey, def))
}

// backgroundTask is run inside the single worker goroutine. It
// re-checks freshness against the cache, then against any pending
// suggestion, before falling back to running the loader chain -- this
// is what makes an edit that oscillates back to its starting content
// resolve for free instead of re-running the resolver.
func (u *Updater) backgroundTask(fileKey scriptconfig.FileKey, def scriptconfig.ScriptDefinition) executor.Task {
	return func() {
		live := u.liveFile(fileKey)

		if cached, ok := u.cache.Get(fileKey); ok && stamp.IsUpToDate(cached.Stamp, live) {
			u.cache.RefreshStamp(fileKey, cached.Stamp)
			if u.stats != nil {
				u.stats.LoadCoalesced(fileKey)
			}
			u.traceEvent(fileKey, tracelog.SourceScheduler, tracelog.StageLoadCoalescedCacheFresh, nil)
			return
		}

		if prev, ok := u.pending.Get(fileKey); ok && stamp.IsUpToDate(prev.Stamp, live) {
			if u.stats != nil {
				u.stats.LoadCoalesced(fileKey)
			}
			u.traceEvent(fileKey, tracelog.SourceScheduler, tracelog.StageLoadCoalescedResuggest, nil)
			u.suggestOrSave(fileKey, prev, false)
			return
		}

		u.pending.Remove(fileKey)
		_, cachedExists := u.cache.Get(fileKey)
		isFirstLoad := !cachedExists

		if u.stats != nil {
			u.stats.LoadStarted(fileKey)
		}
		u.traceEvent(fileKey, tracelog.SourceScheduler, tracelog.StageLoadStarted, nil)

		lctx := u.loadingContext()
		u.chain.RunAsync(context.Background(), isFirstLoad, fileKey, def, lctx)

		if u.stats != nil {
			u.stats.LoadCompleted(fileKey)
		}
		u.traceEvent(fileKey, tracelog.SourceScheduler, tracelog.StageLoadCompleted, nil)
	}
}

func (u *Updater) liveFile(fileKey scriptconfig.FileKey) stamp.LiveFile {
	if u.live == nil {
		return nil
	}
	return u.live.Resolve(fileKey)
}

func (u *Updater) traceEvent(fileKey scriptconfig.FileKey, source tracelog.Source, stage tracelog.Stage, fields map[string]any) {
	if u.trace == nil {
		return
	}
	u.trace.Append(fileKey, source, stage, fields)
}

// OnLoaderPanic is wired as the executor's panic handler: a panicking
// task must not poison the worker goroutine. The file is treated as a
// transient failure, surfaced as a synthetic diagnostic.
func (u *Updater) OnLoaderPanic(fileKey scriptconfig.FileKey, recovered any) {
	log.Printf("scle: loader panic for %q: %v", fileKey, recovered)
	u.suggestOrSave(fileKey, scriptconfig.LoadedConfiguration{
		Diagnostics: []scriptconfig.Diagnostic{{
			Severity: scriptconfig.SeverityError,
			Message:  "loader panicked; treated as transient failure",
		}},
	}, false)
}
