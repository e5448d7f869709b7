// Package scriptconfig defines the data model shared by every component
// of the loading engine: the opaque file identity, the loaded/applied
// configuration shapes, and diagnostics.
package scriptconfig

import (
	"reflect"

	"scle/internal/stamp"
)

// FileKey is the opaque, edit-stable identity of a tracked script file.
type FileKey string

// Severity classifies a Diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Diagnostic is one report produced by a loader.
type Diagnostic struct {
	Severity Severity
	Message  string
}

// Configuration is the payload consumed by downstream analysis. Parsing
// or interpreting the symbolic content of scripts is out of scope here;
// this shape exists only so the Reindex Transaction has concrete
// class/source roots to batch, and so Equal is well-defined and cheap.
type Configuration struct {
	ClassRoots      []string
	SourceRoots     []string
	CompilerOptions []string
	Payload         any
}

// Equal reports cheap structural equality, used by the updater to decide
// whether a freshly loaded configuration differs from the applied one.
func (c *Configuration) Equal(other *Configuration) bool {
	if c == nil || other == nil {
		return c == other
	}
	return stringsEqual(c.ClassRoots, other.ClassRoots) &&
		stringsEqual(c.SourceRoots, other.SourceRoots) &&
		stringsEqual(c.CompilerOptions, other.CompilerOptions) &&
		reflect.DeepEqual(c.Payload, other.Payload)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LoadedConfiguration is the outcome of one loader invocation: Stamp
// records the inputs the load saw (it is zero when the loader never read
// the file, e.g. a vanished file or a loader panic), Configuration may be
// nil (a valid, report-only outcome meaning the loader ran but has
// nothing to apply), and Diagnostics may be empty.
type LoadedConfiguration struct {
	Stamp         stamp.Stamp
	Configuration *Configuration
	Diagnostics   []Diagnostic
}

// CachedEntry is what lives in the Configuration Cache: present only
// after a successful apply.
type CachedEntry struct {
	Stamp         stamp.Stamp
	Configuration *Configuration
}

// ScriptDefinition is the opaque per-file definition handed to loaders
// by the script definition registry. The core only ever asks whether
// one exists for a file; its fields beyond FileKey are passed through
// untouched to loaders, which may use Metadata to decide how to resolve
// dependencies (e.g. a configured external resolver path).
type ScriptDefinition struct {
	FileKey  FileKey
	Metadata map[string]string
}

// DiagnosticsEqual reports whether two diagnostics slices carry the same
// reports, used by the updater to decide whether to re-persist/re-surface
// them.
func DiagnosticsEqual(a, b []Diagnostic) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
