// Package engine wires the leaf components into the public facade a
// host process embeds: construct an Engine once per process (or once
// per test), drive it with file change events and user accept/dismiss
// actions, and let it own the single background worker and save-lock
// serialization.
package engine

import (
	"scle/internal/collaborators"
	"scle/internal/configcache"
	"scle/internal/executor"
	"scle/internal/loader"
	"scle/internal/notifier"
	"scle/internal/reindex"
	"scle/internal/reportstore"
	"scle/internal/scriptconfig"
	"scle/internal/tracelog"
	"scle/internal/updater"
)

// Options configures a new Engine. Only Loaders is required. Registry,
// Settings, LiveFiles, Panel, Rehighlighter and Indexer get embeddable
// defaults when nil (an in-memory registry, auto-reload off, an
// in-memory live-file map, a no-op panel, a channel-backed
// rehighlighter, a logging indexer); ReportSink and Trace have no
// default, and leaving them nil turns off diagnostics persistence and
// trace logging.
type Options struct {
	Loaders       []loader.Loader
	Registry      collaborators.Registry
	Settings      collaborators.Settings
	LiveFiles     collaborators.LiveFiles
	ReportSink    *reportstore.Store
	Panel         collaborators.NotificationPanel
	Rehighlighter collaborators.Rehighlighter
	Indexer       reindex.Indexer
	Trace         *tracelog.Logger
	TestMode      bool
}

// Engine is the assembled Updater plus the collaborators it was built
// from, exposed so a host process can reach the pieces it needs to
// drive from the outside (e.g. StaticRegistry.Define, MapLiveFiles.Set)
// without the facade growing a pass-through method for every one of
// them.
type Engine struct {
	Updater  *updater.Updater
	Registry collaborators.Registry
	Settings collaborators.Settings
	Live     collaborators.LiveFiles
	Sink     *reportstore.Store
	Panel    collaborators.NotificationPanel
	Notifier *notifier.DocumentWatcher
	Stats    *Stats
	Trace    *tracelog.Logger

	exec *executor.Executor
}

// New assembles an Engine from Options, filling in default collaborator
// implementations for anything left nil.
func New(opts Options) *Engine {
	if opts.Registry == nil {
		opts.Registry = collaborators.NewStaticRegistry()
	}
	if opts.Settings == nil {
		opts.Settings = collaborators.NewStaticSettings(false)
	}
	if opts.LiveFiles == nil {
		opts.LiveFiles = collaborators.NewMapLiveFiles()
	}
	if opts.Panel == nil {
		opts.Panel = collaborators.NoopPanel{}
	}
	if opts.Rehighlighter == nil {
		opts.Rehighlighter = collaborators.NewChannelRehighlighter(0)
	}
	if opts.Indexer == nil {
		opts.Indexer = collaborators.LoggingIndexer{}
	}

	cache, pending := configcache.New()
	reindexMgr := reindex.New(opts.Indexer)
	chain := loader.NewChain(opts.Loaders...)
	stats := &Stats{}

	var u *updater.Updater
	exec := executor.New(func(key scriptconfig.FileKey, recovered any) {
		if u != nil {
			u.OnLoaderPanic(key, recovered)
		}
	})

	u = updater.New(updater.Deps{
		Cache:         cache,
		Pending:       pending,
		Executor:      exec,
		Chain:         chain,
		Registry:      opts.Registry,
		Settings:      opts.Settings,
		LiveFiles:     opts.LiveFiles,
		ReportSink:    opts.ReportSink,
		Panel:         opts.Panel,
		Rehighlighter: opts.Rehighlighter,
		Reindex:       reindexMgr,
		Trace:         opts.Trace,
		Stats:         stats,
		TestMode:      opts.TestMode,
	})

	return &Engine{
		Updater:  u,
		Registry: opts.Registry,
		Settings: opts.Settings,
		Live:     opts.LiveFiles,
		Sink:     opts.ReportSink,
		Panel:    opts.Panel,
		Notifier: notifier.NewDocumentWatcher(u),
		Stats:    stats,
		Trace:    opts.Trace,
		exec:     exec,
	}
}

// GetConfiguration returns the current cached configuration for a file,
// triggering a reload if it is stale or unknown.
func (e *Engine) GetConfiguration(fileKey scriptconfig.FileKey) *scriptconfig.Configuration {
	return e.Updater.GetConfiguration(fileKey)
}

// Invalidate marks a file's cached configuration stale.
func (e *Engine) Invalidate(fileKey scriptconfig.FileKey) {
	e.Updater.Invalidate(fileKey)
}

// EnsureUpToDateSuggested kicks off a reload if needed. A changed
// result lands in the pending slot for later accept unless the
// auto-apply policy (first load, auto-reload, test mode, or a saving
// loader) applies it directly.
func (e *Engine) EnsureUpToDateSuggested(fileKey scriptconfig.FileKey) {
	e.Updater.EnsureUpToDateSuggested(fileKey)
}

// ApplyPending promotes a file's pending configuration into the applied
// cache, reporting whether there was one to promote.
func (e *Engine) ApplyPending(fileKey scriptconfig.FileKey) bool {
	return e.Updater.ApplyPending(fileKey)
}

// DismissPending discards a suggested-but-unaccepted configuration.
func (e *Engine) DismissPending(fileKey scriptconfig.FileKey) {
	e.Updater.DismissPending(fileKey)
}

// HasPending reports whether a file has an unaccepted suggested
// configuration waiting.
func (e *Engine) HasPending(fileKey scriptconfig.FileKey) bool {
	return e.Updater.HasPending(fileKey)
}

// TestHooks gives tests direct control over background scheduling:
// Drain runs every queued background task to completion, and
// ForceAutoApply flips the unconditional-auto-apply switch.
type TestHooks struct{ e *Engine }

// TestMode returns the Test Mode Hook for this Engine.
func (e *Engine) TestMode() TestHooks { return TestHooks{e: e} }

func (h TestHooks) Drain()                       { h.e.Updater.Drain() }
func (h TestHooks) ForceAutoApply(v bool)        { h.e.Updater.SetTestMode(v) }
func (h TestHooks) Executor() *executor.Executor { return h.e.exec }

// Close stops the background worker without waiting for it: the worker
// finishes the in-flight task and any still-queued tasks, then exits.
func (e *Engine) Close() {
	e.exec.Close()
}
