package loader

import (
	"context"

	"scle/internal/reportstore"
	"scle/internal/scriptconfig"
	"scle/internal/stamp"
)

// PersistedAttributeLoader is a sync, trusted-source loader: it
// consults the report sink's persisted-attribute table for a
// configuration previously accepted for this exact content, and if the
// live file still matches, applies it via ctx.Save without running
// anything. Loaders that obtain configuration from an already-trusted
// source like this one use Save rather than Suggest.
type PersistedAttributeLoader struct {
	store    *reportstore.Store
	liveFile func(scriptconfig.FileKey) stamp.LiveFile
}

// NewPersistedAttributeLoader builds the loader. liveFile resolves the
// narrow live-document view stamp.IsUpToDate needs for fileKey.
func NewPersistedAttributeLoader(store *reportstore.Store, liveFile func(scriptconfig.FileKey) stamp.LiveFile) *PersistedAttributeLoader {
	return &PersistedAttributeLoader{store: store, liveFile: liveFile}
}

func (l *PersistedAttributeLoader) Name() string { return "persisted-attribute" }

// ShouldRunInBackground is always false: a map lookup never needs the
// worker thread.
func (l *PersistedAttributeLoader) ShouldRunInBackground(scriptconfig.ScriptDefinition) bool {
	return false
}

func (l *PersistedAttributeLoader) Load(_ context.Context, _ bool, file scriptconfig.FileKey, _ scriptconfig.ScriptDefinition, lctx LoadingContext) bool {
	if l.store == nil {
		return false
	}
	attr, ok := l.store.GetAttribute(file)
	if !ok {
		return false
	}
	var live stamp.LiveFile
	if l.liveFile != nil {
		live = l.liveFile(file)
	}
	if !stamp.IsUpToDate(attr.Stamp, live) {
		return false
	}
	lctx.Save(file, scriptconfig.LoadedConfiguration{Stamp: attr.Stamp, Configuration: attr.Configuration})
	return true
}
