// Package collaborators gives concrete, embeddable default
// implementations to the external interfaces the engine leaves
// abstract: the script definition registry, the live-file resolver
// behind freshness checks, scripting settings, the rehighlight post, and
// the notification panel. Production callers may swap any of these for
// their own editor-backed implementation; tests use the ones here
// directly.
package collaborators

import (
	"log"
	"sync"

	"scle/internal/reindex"
	"scle/internal/scriptconfig"
	"scle/internal/stamp"
)

// Registry is the script definition registry collaborator: the core is
// a no-op until IsReady, and FindDefinition resolves a FileKey to its
// opaque ScriptDefinition.
type Registry interface {
	IsReady() bool
	FindDefinition(fileKey scriptconfig.FileKey) (scriptconfig.ScriptDefinition, bool)
}

// Settings is the Scripting Settings collaborator.
type Settings interface {
	AutoReloadEnabled() bool
}

// Rehighlighter is the single-call Rehighlight collaborator.
type Rehighlighter interface {
	Rehighlight(fileKey scriptconfig.FileKey)
}

// ReportSink is the diagnostics write/read collaborator. reportstore.Store
// satisfies this directly.
type ReportSink interface {
	Attach(fileKey scriptconfig.FileKey, diagnostics []scriptconfig.Diagnostic)
}

// NotificationPanel is the suggestion UI collaborator: Show registers
// the accept/dismiss callbacks for a suggested configuration, Hide
// clears any panel, Has reports visibility. notifier.Hub satisfies this
// over a websocket broadcast; NoopPanel below satisfies it for
// embedding without a UI.
type NotificationPanel interface {
	Show(fileKey scriptconfig.FileKey, onAccept, onDismiss func())
	Hide(fileKey scriptconfig.FileKey)
	Has(fileKey scriptconfig.FileKey) bool
}

// LiveFiles resolves the narrow live-document view a Stamp needs to
// check freshness against.
type LiveFiles interface {
	Resolve(fileKey scriptconfig.FileKey) stamp.LiveFile
}

// StaticRegistry is a map-backed Registry with a toggleable readiness
// bit, letting tests exercise the "definition not ready" path
// deterministically.
type StaticRegistry struct {
	mu          sync.RWMutex
	ready       bool
	definitions map[scriptconfig.FileKey]scriptconfig.ScriptDefinition
}

// NewStaticRegistry builds a StaticRegistry, ready by default.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		ready:       true,
		definitions: make(map[scriptconfig.FileKey]scriptconfig.ScriptDefinition),
	}
}

// MarkReady flips readiness. Re-driving the Updater off the registry's
// own "readiness changed" notification is left to the caller.
func (r *StaticRegistry) MarkReady(ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = ready
}

func (r *StaticRegistry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Define registers or replaces the definition for fileKey.
func (r *StaticRegistry) Define(fileKey scriptconfig.FileKey, def scriptconfig.ScriptDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def.FileKey = fileKey
	r.definitions[fileKey] = def
}

// Forget removes the definition for fileKey (e.g. editor close).
func (r *StaticRegistry) Forget(fileKey scriptconfig.FileKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.definitions, fileKey)
}

func (r *StaticRegistry) FindDefinition(fileKey scriptconfig.FileKey) (scriptconfig.ScriptDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[fileKey]
	return def, ok
}

// StaticSettings is a Settings collaborator backed by a plain bool,
// set once at construction from internal/config and flippable for tests.
type StaticSettings struct {
	mu         sync.RWMutex
	autoReload bool
}

func NewStaticSettings(autoReload bool) *StaticSettings {
	return &StaticSettings{autoReload: autoReload}
}

func (s *StaticSettings) AutoReloadEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoReload
}

func (s *StaticSettings) SetAutoReload(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoReload = v
}

// ChannelRehighlighter posts fire-and-forget rehighlight requests to a
// buffered channel, the way a real editor would post a message to its
// UI thread that, when processed, calls rehighlight(file). The post
// tolerates a full channel by dropping the oldest pending request
// rather than blocking the save lock or the worker.
type ChannelRehighlighter struct {
	ch chan scriptconfig.FileKey
}

func NewChannelRehighlighter(buffer int) *ChannelRehighlighter {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelRehighlighter{ch: make(chan scriptconfig.FileKey, buffer)}
}

func (c *ChannelRehighlighter) Rehighlight(fileKey scriptconfig.FileKey) {
	select {
	case c.ch <- fileKey:
		return
	default:
	}
	select {
	case <-c.ch:
	default:
	}
	select {
	case c.ch <- fileKey:
	default:
	}
}

// Requests exposes the channel for a consumer (e.g. the websocket hub)
// to drain rehighlight requests and forward them to subscribed editors.
func (c *ChannelRehighlighter) Requests() <-chan scriptconfig.FileKey {
	return c.ch
}

// NoopPanel is a NotificationPanel that never shows anything -- useful
// when AutoReloadEnabled()/testMode always force auto-apply and no UI
// is embedded at all.
type NoopPanel struct{}

func (NoopPanel) Show(scriptconfig.FileKey, func(), func()) {}
func (NoopPanel) Hide(scriptconfig.FileKey)                 {}
func (NoopPanel) Has(scriptconfig.FileKey) bool             { return false }

// MapLiveFiles backs LiveFiles with an in-memory map of raw content,
// the shape tests and the default ProcessResolverLoader wiring use.
type MapLiveFiles struct {
	mu      sync.RWMutex
	content map[scriptconfig.FileKey][]byte
}

func NewMapLiveFiles() *MapLiveFiles {
	return &MapLiveFiles{content: make(map[scriptconfig.FileKey][]byte)}
}

func (m *MapLiveFiles) Set(fileKey scriptconfig.FileKey, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[fileKey] = append([]byte(nil), content...)
}

func (m *MapLiveFiles) Remove(fileKey scriptconfig.FileKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, fileKey)
}

func (m *MapLiveFiles) Read(fileKey scriptconfig.FileKey) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.content[fileKey]
	if !ok {
		return nil, errFileNotFound{fileKey}
	}
	return append([]byte(nil), c...), nil
}

func (m *MapLiveFiles) Resolve(fileKey scriptconfig.FileKey) stamp.LiveFile {
	return mapLiveFile{m: m, key: fileKey}
}

type mapLiveFile struct {
	m   *MapLiveFiles
	key scriptconfig.FileKey
}

func (f mapLiveFile) Digest() (string, error) {
	content, err := f.m.Read(f.key)
	if err != nil {
		return "", err
	}
	return stamp.Capture(content, "").ContentDigest, nil
}

type errFileNotFound struct {
	key scriptconfig.FileKey
}

func (e errFileNotFound) Error() string {
	return "collaborators: file not found: " + string(e.key)
}

// LoggingIndexer is the default Indexer: it logs the batched root set
// it was asked to index. Production callers embedding a real indexer
// (actual class-root storage is out of scope here) replace this with
// their own reindex.Indexer.
type LoggingIndexer struct{}

func (LoggingIndexer) Index(roots reindex.RootSet) error {
	log.Printf("scle: indexing %d source root(s), %d class root(s)", len(roots.SourceRoots), len(roots.ClassRoots))
	return nil
}
