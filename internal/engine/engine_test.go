package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"scle/internal/collaborators"
	"scle/internal/loader"
	"scle/internal/scriptconfig"
	"scle/internal/stamp"
)

const fileA scriptconfig.FileKey = "file:///A.script"

// echoLoader mirrors the one in internal/updater's tests: its
// Configuration is always the live file's raw content, so engine-level
// tests can drive the state machine purely off live-file edits without
// duplicating the full state-machine scenario coverage that already
// lives in internal/updater.
type echoLoader struct {
	live *collaborators.MapLiveFiles
}

func (l *echoLoader) Name() string { return "echo" }

func (l *echoLoader) ShouldRunInBackground(scriptconfig.ScriptDefinition) bool { return true }

func (l *echoLoader) Load(_ context.Context, _ bool, file scriptconfig.FileKey, _ scriptconfig.ScriptDefinition, lctx loader.LoadingContext) bool {
	content, err := l.live.Read(file)
	if err != nil {
		return false
	}
	lctx.Suggest(file, scriptconfig.LoadedConfiguration{
		Stamp:         stamp.Capture(content, ""),
		Configuration: &scriptconfig.Configuration{SourceRoots: []string{string(content)}},
	})
	return true
}

func newTestEngine(t *testing.T) (*Engine, *collaborators.MapLiveFiles) {
	t.Helper()
	live := collaborators.NewMapLiveFiles()
	registry := collaborators.NewStaticRegistry()
	registry.Define(fileA, scriptconfig.ScriptDefinition{})

	e := New(Options{
		Loaders:   []loader.Loader{&echoLoader{live: live}},
		Registry:  registry,
		LiveFiles: live,
	})
	return e, live
}

func TestEngineFirstLoadAutoApplies(t *testing.T) {
	e, live := newTestEngine(t)
	live.Set(fileA, []byte("initial"))

	e.GetConfiguration(fileA)
	e.TestMode().Drain()

	cfg := e.GetConfiguration(fileA)
	require.NotNil(t, cfg)
	require.Equal(t, []string{"initial"}, cfg.SourceRoots)
	require.False(t, e.HasPending(fileA))

	snap := e.Stats.Snapshot()
	require.EqualValues(t, 1, snap.Started)
	require.EqualValues(t, 1, snap.Applied)
}

func TestEngineEditThenApplyPending(t *testing.T) {
	e, live := newTestEngine(t)
	live.Set(fileA, []byte("initial"))
	e.GetConfiguration(fileA)
	e.TestMode().Drain()

	live.Set(fileA, []byte("A"))
	e.EnsureUpToDateSuggested(fileA)
	e.TestMode().Drain()

	require.True(t, e.HasPending(fileA))
	require.Equal(t, []string{"initial"}, e.GetConfiguration(fileA).SourceRoots)

	require.True(t, e.ApplyPending(fileA))
	require.Equal(t, []string{"A"}, e.GetConfiguration(fileA).SourceRoots)
}

func TestEngineForceAutoApplySkipsSuggestion(t *testing.T) {
	e, live := newTestEngine(t)
	e.TestMode().ForceAutoApply(true)

	live.Set(fileA, []byte("initial"))
	e.GetConfiguration(fileA)
	e.TestMode().Drain()

	live.Set(fileA, []byte("A"))
	e.EnsureUpToDateSuggested(fileA)
	e.TestMode().Drain()

	require.False(t, e.HasPending(fileA))
	require.Equal(t, []string{"A"}, e.GetConfiguration(fileA).SourceRoots)
}
