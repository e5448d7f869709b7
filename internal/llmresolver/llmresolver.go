// Package llmresolver implements the optional LLM-backed loader
// strategy: when no external resolver binary is configured for a
// script file, ask a configured LLM to infer dependencies and compiler
// options from the file's content instead. It is grounded on the
// teacher's internal/llm/gemini.go client wrapper (client construction
// and the GenerateJSON retry-with-backoff shape) but talks directly to
// google.golang.org/genai rather than going through the teacher's
// broker/middleware stack, since this loader only ever needs one call
// shape. Pacing between calls is its own, simpler than the teacher's
// concurrent rpsLimiter, because this loader is only ever driven by
// the single worker goroutine of internal/executor -- see
// ratelimit.go.
package llmresolver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"scle/internal/loader"
	"scle/internal/scriptconfig"
	"scle/internal/stamp"
)

// ErrInvalidJSON is returned when the model's response carries no
// candidate content to parse. A response that is present but does not
// match the JSON contract is reported by parseOutput as a diagnostic.
var ErrInvalidJSON = errors.New("llmresolver: invalid JSON from model")

const defaultPrompt = `You are a build-configuration resolver for an editor-resident script file. ` +
	`Given the file's content, respond with a JSON object: ` +
	`{"classRoots": [...], "sourceRoots": [...], "compilerOptions": [...], "errors": [...], "warnings": [...]}. ` +
	`Use only paths and flags you can justify from the content; when unsure, return empty arrays rather than guessing.`

// Client is a thin wrapper around the official genai client, trimmed to
// the single GenerateJSON call shape this loader needs.
type Client struct {
	cli   *genai.Client
	model string
	pace  *pacer
}

// NewClient builds a Client against the Gemini API backend. apiKey is
// exported to the process environment before client construction, the
// same GEMINI_API_KEY the genai SDK reads implicitly -- grounded on the
// teacher's own gemini.go, which never passes a key through
// ClientConfig either. rps <= 0 disables pacing.
func NewClient(ctx context.Context, apiKey, model string, rps float64) (*Client, error) {
	if apiKey != "" {
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli, model: model, pace: newPacer(rps)}, nil
}

// Close is a no-op: the pacer holds no background goroutine to stop. It
// is kept so callers that already defer Close don't need to change.
func (c *Client) Close() error {
	return nil
}

// generateJSON sends prompt+content and requests an application/json
// response, retrying transient failures with backoff the way the
// teacher's GenerateJSON does.
func (c *Client) generateJSON(ctx context.Context, prompt, content string) (json.RawMessage, error) {
	full := prompt + "\n\n[FILE CONTENT]\n" + content

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := c.pace.wait(ctx); err != nil {
			lastErr = err
			break
		}
		resp, err := c.cli.Models.GenerateContent(ctx, c.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
			&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
		)
		if err != nil {
			lastErr = err
		} else if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = ErrInvalidJSON
		} else {
			return json.RawMessage(resp.Candidates[0].Content.Parts[0].Text), nil
		}
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return nil, lastErr
}

type resolverOutput struct {
	ClassRoots      []string `json:"classRoots"`
	SourceRoots     []string `json:"sourceRoots"`
	CompilerOptions []string `json:"compilerOptions"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
}

// LLMResolverLoader is an async, untrusted-source loader; like
// ProcessResolverLoader it always routes through ctx.Suggest. It only
// participates when enabled, and cmd/scle-server adds it to the chain
// only when internal/config's SCLE_LLM_RESOLVER flag is set and a Gemini
// API key is configured -- an LLM call is nondeterministic and would
// make drain()-based tests flaky if it ran unconditionally.
type LLMResolverLoader struct {
	client   *Client
	enabled  bool
	readFile func(scriptconfig.FileKey) ([]byte, error)
}

// NewLLMResolverLoader builds the loader. It participates in the chain
// only when enabled is true and client is non-nil.
func NewLLMResolverLoader(client *Client, enabled bool, readFile func(scriptconfig.FileKey) ([]byte, error)) *LLMResolverLoader {
	return &LLMResolverLoader{client: client, enabled: enabled, readFile: readFile}
}

func (l *LLMResolverLoader) Name() string { return "llm-resolver" }

// ShouldRunInBackground is always true: an LLM call is never work the
// caller thread should wait on.
func (l *LLMResolverLoader) ShouldRunInBackground(scriptconfig.ScriptDefinition) bool {
	return true
}

func (l *LLMResolverLoader) Load(ctx context.Context, _ bool, file scriptconfig.FileKey, _ scriptconfig.ScriptDefinition, lctx loader.LoadingContext) bool {
	if !l.enabled || l.client == nil || l.readFile == nil {
		return false
	}

	content, err := l.readFile(file)
	if err != nil {
		lctx.Suggest(file, scriptconfig.LoadedConfiguration{
			Diagnostics: []scriptconfig.Diagnostic{{Severity: scriptconfig.SeverityError, Message: "read file: " + err.Error()}},
		})
		return true
	}

	s := stamp.Capture(content, "")

	raw, err := l.client.generateJSON(ctx, defaultPrompt, string(content))
	if err != nil {
		log.Printf("scle: llm resolver failed for %q: %v", file, err)
		lctx.Suggest(file, scriptconfig.LoadedConfiguration{
			Stamp:       s,
			Diagnostics: []scriptconfig.Diagnostic{{Severity: scriptconfig.SeverityError, Message: "llm resolver: " + err.Error()}},
		})
		return true
	}

	cfg, diags := parseOutput(raw)
	lctx.Suggest(file, scriptconfig.LoadedConfiguration{Stamp: s, Configuration: cfg, Diagnostics: diags})
	return true
}

func parseOutput(raw json.RawMessage) (*scriptconfig.Configuration, []scriptconfig.Diagnostic) {
	var out resolverOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, []scriptconfig.Diagnostic{{Severity: scriptconfig.SeverityError, Message: "invalid llm output: " + err.Error()}}
	}

	var diags []scriptconfig.Diagnostic
	for _, e := range out.Errors {
		diags = append(diags, scriptconfig.Diagnostic{Severity: scriptconfig.SeverityError, Message: e})
	}
	for _, w := range out.Warnings {
		diags = append(diags, scriptconfig.Diagnostic{Severity: scriptconfig.SeverityWarning, Message: w})
	}

	if len(out.ClassRoots) == 0 && len(out.SourceRoots) == 0 && len(out.CompilerOptions) == 0 {
		return nil, diags
	}

	return &scriptconfig.Configuration{
		ClassRoots:      trimAll(out.ClassRoots),
		SourceRoots:     trimAll(out.SourceRoots),
		CompilerOptions: trimAll(out.CompilerOptions),
	}, diags
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v := strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
