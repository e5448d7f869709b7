// Package stamp implements the content-derived identity used to decide
// whether a cached script configuration is stale.
package stamp

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// LiveFile is the narrow view of the live editor/document state a Stamp
// needs to check freshness against. Production callers back this with the
// editor's document buffer; tests back it with an in-memory fake.
type LiveFile interface {
	// Digest returns the current content digest of the file, or an error
	// if the file cannot be read (e.g. it vanished between schedule and
	// run).
	Digest() (string, error)
}

// Stamp is an opaque value representing the inputs a configuration was
// loaded from: the file's content digest plus an optional dependency
// fingerprint a loader may attach (e.g. a hash of resolved external
// dependencies). Equals tells apart two stamps with equal ContentDigest
// but differing DepsFingerprint; IsUpToDate compares only ContentDigest
// against the live file, so a change in DepsFingerprint alone does not
// make a stamp stale.
type Stamp struct {
	ContentDigest   string
	DepsFingerprint string
}

// Capture computes a Stamp from live file content. depsFingerprint is
// whatever a loader wants to attach (empty string if the loader has no
// external dependency notion).
func Capture(content []byte, depsFingerprint string) Stamp {
	return Stamp{
		ContentDigest:   digestBytes(content),
		DepsFingerprint: depsFingerprint,
	}
}

// CaptureFile hashes a file on disk, yielding the same ContentDigest
// Capture would for its bytes.
func CaptureFile(path string, depsFingerprint string) (Stamp, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stamp{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Stamp{}, err
	}
	return Stamp{
		ContentDigest:   hex.EncodeToString(h.Sum(nil)),
		DepsFingerprint: depsFingerprint,
	}, nil
}

func digestBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Equals reports whether two stamps represent the same inputs seen again.
func Equals(a, b Stamp) bool {
	return a.ContentDigest == b.ContentDigest && a.DepsFingerprint == b.DepsFingerprint
}

// IsUpToDate re-reads the live file and reports whether stamp still
// matches it. A vanished or unreadable file is treated as NOT up to
// date: callers should treat this as transient and retain any existing
// cache entry rather than evict it.
func IsUpToDate(s Stamp, live LiveFile) bool {
	if live == nil {
		return false
	}
	digest, err := live.Digest()
	if err != nil {
		return false
	}
	return digest == s.ContentDigest
}
