// Package notifier receives document/editor events from external
// collaborators and pushes them into the updater as invalidations, plus
// a websocket-backed notification panel broadcaster so a
// suggested-but-not-applied configuration can be accepted or dismissed
// from a real client instead of only through in-process callbacks.
package notifier

import "scle/internal/scriptconfig"

// Invalidator is the narrow slice of updater.Updater the document
// watcher needs.
type Invalidator interface {
	Invalidate(fileKey scriptconfig.FileKey)
	EnsureUpToDateSuggested(fileKey scriptconfig.FileKey)
}

// DocumentWatcher resolves nothing itself (the FileKey is handed in
// already resolved by the document layer) and simply routes editor
// events into the updater.
type DocumentWatcher struct {
	updater Invalidator
}

// NewDocumentWatcher binds a DocumentWatcher to the updater it drives.
func NewDocumentWatcher(updater Invalidator) *DocumentWatcher {
	return &DocumentWatcher{updater: updater}
}

// Changed is pushed by the document layer whenever a tracked file's
// content (or a transitive dependency) changes.
func (w *DocumentWatcher) Changed(fileKey scriptconfig.FileKey) {
	if w == nil || w.updater == nil {
		return
	}
	w.updater.EnsureUpToDateSuggested(fileKey)
}

// FocusGained is pushed when the editor for fileKey gains focus and
// should ensure its suggestion is up to date.
func (w *DocumentWatcher) FocusGained(fileKey scriptconfig.FileKey) {
	if w == nil || w.updater == nil {
		return
	}
	w.updater.EnsureUpToDateSuggested(fileKey)
}

// DefinitionReady is pushed by the script definition registry when it
// transitions to ready, or when a specific file's definition becomes
// available -- the re-attempt trigger for the "definition not ready"
// transient failure.
func (w *DocumentWatcher) DefinitionReady(fileKey scriptconfig.FileKey) {
	if w == nil || w.updater == nil {
		return
	}
	w.updater.Invalidate(fileKey)
}
