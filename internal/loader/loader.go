// Package loader implements an ordered list of pluggable strategies for
// resolving a script file's configuration, and the loading context
// capability that lets a loader route its result through suggestion or
// straight to apply. The chain dispatches by ordered iteration over a
// polymorphic capability set rather than giving loaders their own
// concrete types in the core.
package loader

import (
	"context"

	"scle/internal/scriptconfig"
)

// LoadingContext is the narrow capability a Loader's Load method is
// handed. Suggest routes the result through the suggest-or-save decision
// with notification eligible; Save bypasses notification and is reserved
// for loaders that already trust their source.
type LoadingContext interface {
	Suggest(file scriptconfig.FileKey, loaded scriptconfig.LoadedConfiguration)
	Save(file scriptconfig.FileKey, loaded scriptconfig.LoadedConfiguration)
}

// Loader is one strategy in the chain. ShouldRunInBackground partitions
// the chain into the sync and async phases for a given definition; Load
// performs the actual resolution and reports whether it handled the
// file -- true stops the chain.
type Loader interface {
	Name() string
	ShouldRunInBackground(def scriptconfig.ScriptDefinition) bool
	Load(ctx context.Context, isFirstLoad bool, file scriptconfig.FileKey, def scriptconfig.ScriptDefinition, lctx LoadingContext) bool
}

// Chain is the ordered loader list. Order is preserved when the chain is
// partitioned into sync (foreground) and async (background) phases per
// invalidation.
type Chain struct {
	loaders []Loader
}

// NewChain builds a Chain in the given priority order.
func NewChain(loaders ...Loader) *Chain {
	return &Chain{loaders: loaders}
}

// RunSync tries every sync (foreground) loader, first-applicable wins.
func (c *Chain) RunSync(ctx context.Context, isFirstLoad bool, file scriptconfig.FileKey, def scriptconfig.ScriptDefinition, lctx LoadingContext) bool {
	return c.run(ctx, isFirstLoad, file, def, lctx, false)
}

// RunAsync tries every async (background) loader, first-applicable wins.
// Intended to be called from inside the Background Executor's worker.
func (c *Chain) RunAsync(ctx context.Context, isFirstLoad bool, file scriptconfig.FileKey, def scriptconfig.ScriptDefinition, lctx LoadingContext) bool {
	return c.run(ctx, isFirstLoad, file, def, lctx, true)
}

func (c *Chain) run(ctx context.Context, isFirstLoad bool, file scriptconfig.FileKey, def scriptconfig.ScriptDefinition, lctx LoadingContext, background bool) bool {
	for _, l := range c.loaders {
		if l.ShouldRunInBackground(def) != background {
			continue
		}
		if l.Load(ctx, isFirstLoad, file, def, lctx) {
			return true
		}
	}
	return false
}
