package updater

import (
	"context"

	"scle/internal/configcache"
	"scle/internal/scriptconfig"
	"scle/internal/tracelog"
)

// loadingContext adapts Updater to loader.LoadingContext: Suggest and
// Save both funnel into suggestOrSave, differing only in whether
// notification is skipped -- a saving loader bypasses suggestion and
// applies immediately.
type loadingContext struct {
	u *Updater
}

func (u *Updater) loadingContext() loadingContext {
	return loadingContext{u: u}
}

func (c loadingContext) Suggest(fileKey scriptconfig.FileKey, loaded scriptconfig.LoadedConfiguration) {
	c.u.suggestOrSave(fileKey, loaded, false)
}

func (c loadingContext) Save(fileKey scriptconfig.FileKey, loaded scriptconfig.LoadedConfiguration) {
	c.u.suggestOrSave(fileKey, loaded, true)
}

// suggestOrSave decides whether a loaded configuration is applied
// immediately or held in the pending slot for the user to accept. It is
// serialized by the save lock so concurrent load completions for
// different files never interleave the notification bookkeeping, and it
// never nests inside the cache/pending mutex (it only calls Cache/Pending
// methods, which take and release their own lock per call).
func (u *Updater) suggestOrSave(fileKey scriptconfig.FileKey, loaded scriptconfig.LoadedConfiguration, skipNotification bool) {
	u.saveLock.Lock()
	defer u.saveLock.Unlock()

	u.recordDiagnostics(fileKey, loaded.Diagnostics)

	if loaded.Configuration == nil {
		// Report-only outcome or a transient failure: diagnostics
		// already recorded, cache untouched.
		return
	}

	old, hasOld := u.cache.Get(fileKey)
	var oldCfg *scriptconfig.Configuration
	if hasOld {
		oldCfg = old.Configuration
	}

	if oldCfg != nil && oldCfg.Equal(loaded.Configuration) {
		// Equal configs never notify; just refresh the stamp so future
		// freshness checks short-circuit.
		u.panel.Hide(fileKey)
		u.pending.Remove(fileKey)
		u.cache.RefreshStamp(fileKey, loaded.Stamp)
		return
	}

	autoApply := skipNotification || oldCfg == nil || (u.settings != nil && u.settings.AutoReloadEnabled()) || u.testMode
	if autoApply {
		u.panel.Hide(fileKey)
		u.applyLoaded(context.Background(), fileKey, loaded)
		return
	}

	u.pending.Put(fileKey, loaded)
	u.panel.Show(fileKey,
		func() { u.ApplyPending(fileKey) },
		func() { u.DismissPending(fileKey) },
	)
}

// recordDiagnostics persists and rehighlights only when the newly
// loaded reports differ from what was last recorded for this file.
// Callers hold the save lock.
func (u *Updater) recordDiagnostics(fileKey scriptconfig.FileKey, diags []scriptconfig.Diagnostic) {
	u.diagMu.Lock()
	old := u.lastDiagnostics[fileKey]
	changed := !scriptconfig.DiagnosticsEqual(old, diags)
	if changed {
		u.lastDiagnostics[fileKey] = diags
	}
	u.diagMu.Unlock()

	if !changed {
		return
	}
	u.traceEvent(fileKey, tracelog.SourceDiagnostic, tracelog.StageDiagnosticsRecorded, map[string]any{"count": len(diags)})
	if u.sink != nil {
		u.sink.Attach(fileKey, diags)
	}
	if u.rehi != nil {
		u.rehi.Rehighlight(fileKey)
	}
}

// applyLoaded performs one apply: index the touched roots inside a
// reindex transaction, and only on success store into the cache
// (removing any pending entry for the same key) and rehighlight. A
// transaction failure is fatal to this apply -- the configuration is
// not cached and the pending slot is cleared, with a diagnostic
// surfaced. Both the auto-apply path and ApplyPending's user-accept
// path call this.
func (u *Updater) applyLoaded(ctx context.Context, fileKey scriptconfig.FileKey, loaded scriptconfig.LoadedConfiguration) {
	_, scope := u.reindex.Begin(ctx)
	if loaded.Configuration != nil {
		scope.AddRoots(loaded.Configuration.SourceRoots, loaded.Configuration.ClassRoots)
	}

	if err := scope.End(); err != nil {
		u.pending.Remove(fileKey)
		if u.sink != nil {
			u.sink.Attach(fileKey, []scriptconfig.Diagnostic{{
				Severity: scriptconfig.SeverityError,
				Message:  "reindex transaction failed: " + err.Error(),
			}})
		}
		u.traceEvent(fileKey, tracelog.SourceApply, tracelog.StageApplyFailed, map[string]any{"error": err.Error()})
		return
	}

	configcache.StoreApplied(u.cache, u.pending, fileKey, scriptconfig.CachedEntry{
		Stamp:         loaded.Stamp,
		Configuration: loaded.Configuration,
	})

	if u.rehi != nil {
		u.rehi.Rehighlight(fileKey)
	}
	if u.stats != nil {
		u.stats.LoadApplied(fileKey)
	}
	u.traceEvent(fileKey, tracelog.SourceApply, tracelog.StageApplied, nil)
}
