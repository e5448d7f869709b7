package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"scle/internal/scriptconfig"
	"scle/internal/stamp"
)

// ResolverMetadataKey is the ScriptDefinition.Metadata key
// ProcessResolverLoader reads to find the external resolver binary for
// a file. Empty or absent means "no resolver configured for this file".
const ResolverMetadataKey = "resolverPath"

// resolverOutput is the JSON contract an external resolver process
// writes to stdout: a "run user code" loader realized as a subprocess
// invocation rather than, say, an in-process script engine.
type resolverOutput struct {
	ClassRoots      []string `json:"classRoots"`
	SourceRoots     []string `json:"sourceRoots"`
	CompilerOptions []string `json:"compilerOptions"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
}

// ProcessResolverLoader is the async "runs user code or an external
// process" loader; it always routes through ctx.Suggest since its
// output is untrusted until the user accepts it.
type ProcessResolverLoader struct {
	readFile func(scriptconfig.FileKey) ([]byte, error)
}

// NewProcessResolverLoader builds the loader. readFile fetches the live
// content of a tracked file; production callers back it with the
// document layer, tests with an in-memory fake.
func NewProcessResolverLoader(readFile func(scriptconfig.FileKey) ([]byte, error)) *ProcessResolverLoader {
	return &ProcessResolverLoader{readFile: readFile}
}

func (l *ProcessResolverLoader) Name() string { return "process-resolver" }

// ShouldRunInBackground is always true: spawning a process is never
// work the caller thread should wait on.
func (l *ProcessResolverLoader) ShouldRunInBackground(scriptconfig.ScriptDefinition) bool {
	return true
}

func (l *ProcessResolverLoader) Load(ctx context.Context, _ bool, file scriptconfig.FileKey, def scriptconfig.ScriptDefinition, lctx LoadingContext) bool {
	path := strings.TrimSpace(def.Metadata[ResolverMetadataKey])
	if path == "" {
		return false
	}
	if l.readFile == nil {
		return false
	}

	content, err := l.readFile(file)
	if err != nil {
		// Transient: file vanished between schedule and run.
		lctx.Suggest(file, scriptconfig.LoadedConfiguration{
			Diagnostics: []scriptconfig.Diagnostic{{Severity: scriptconfig.SeverityError, Message: "read file: " + err.Error()}},
		})
		return true
	}

	s := stamp.Capture(content, "")

	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = bytes.NewReader(content)
	out, err := cmd.Output()
	if err != nil {
		lctx.Suggest(file, scriptconfig.LoadedConfiguration{
			Stamp:       s,
			Diagnostics: []scriptconfig.Diagnostic{{Severity: scriptconfig.SeverityError, Message: "resolver process: " + err.Error()}},
		})
		return true
	}

	cfg, diags := parseResolverOutput(out)
	lctx.Suggest(file, scriptconfig.LoadedConfiguration{Stamp: s, Configuration: cfg, Diagnostics: diags})
	return true
}

func parseResolverOutput(raw []byte) (*scriptconfig.Configuration, []scriptconfig.Diagnostic) {
	var out resolverOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, []scriptconfig.Diagnostic{{Severity: scriptconfig.SeverityError, Message: "invalid resolver output: " + err.Error()}}
	}

	var diags []scriptconfig.Diagnostic
	for _, e := range out.Errors {
		diags = append(diags, scriptconfig.Diagnostic{Severity: scriptconfig.SeverityError, Message: e})
	}
	for _, w := range out.Warnings {
		diags = append(diags, scriptconfig.Diagnostic{Severity: scriptconfig.SeverityWarning, Message: w})
	}

	if len(out.ClassRoots) == 0 && len(out.SourceRoots) == 0 && len(out.CompilerOptions) == 0 {
		// Report-only outcome: the resolver ran but has nothing to apply.
		// A nil Configuration is a valid, non-error load outcome.
		return nil, diags
	}

	return &scriptconfig.Configuration{
		ClassRoots:      out.ClassRoots,
		SourceRoots:     out.SourceRoots,
		CompilerOptions: out.CompilerOptions,
	}, diags
}
