package reportstore

import (
	"database/sql"
	"encoding/json"

	"scle/internal/scriptconfig"
	"scle/internal/stamp"
)

func (s *Store) ensureSchema() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS scle_reports (
  file_key TEXT PRIMARY KEY,
  diagnostics JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS scle_attributes (
  file_key TEXT PRIMARY KEY,
  content_digest TEXT NOT NULL,
  deps_fingerprint TEXT NOT NULL DEFAULT '',
  configuration JSONB
);
`)
	})
	return s.schemaErr
}

func (s *Store) attachDB(fileKey scriptconfig.FileKey, diagnostics []scriptconfig.Diagnostic) {
	if err := s.ensureSchema(); err != nil {
		return
	}
	raw, err := json.Marshal(diagnostics)
	if err != nil {
		return
	}
	_, _ = s.db.Exec(`
INSERT INTO scle_reports (file_key, diagnostics)
VALUES ($1, $2)
ON CONFLICT (file_key) DO UPDATE SET diagnostics = EXCLUDED.diagnostics`,
		string(fileKey), raw)
}

func (s *Store) reportsDB(fileKey scriptconfig.FileKey) []scriptconfig.Diagnostic {
	if err := s.ensureSchema(); err != nil {
		return nil
	}
	row := s.db.QueryRow(`SELECT diagnostics FROM scle_reports WHERE file_key = $1`, string(fileKey))
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil
	}
	var out []scriptconfig.Diagnostic
	_ = json.Unmarshal(raw, &out)
	return out
}

func (s *Store) putAttributeDB(fileKey scriptconfig.FileKey, attr Attribute) {
	if err := s.ensureSchema(); err != nil {
		return
	}
	var cfgRaw []byte
	if attr.Configuration != nil {
		cfgRaw, _ = json.Marshal(attr.Configuration)
	}
	_, _ = s.db.Exec(`
INSERT INTO scle_attributes (file_key, content_digest, deps_fingerprint, configuration)
VALUES ($1, $2, $3, $4)
ON CONFLICT (file_key) DO UPDATE SET
  content_digest = EXCLUDED.content_digest,
  deps_fingerprint = EXCLUDED.deps_fingerprint,
  configuration = EXCLUDED.configuration`,
		string(fileKey), attr.Stamp.ContentDigest, attr.Stamp.DepsFingerprint, cfgRaw)
}

func (s *Store) getAttributeDB(fileKey scriptconfig.FileKey) (Attribute, bool) {
	if err := s.ensureSchema(); err != nil {
		return Attribute{}, false
	}
	row := s.db.QueryRow(`SELECT content_digest, deps_fingerprint, configuration
FROM scle_attributes WHERE file_key = $1`, string(fileKey))

	var digest, deps string
	var cfgRaw sql.NullString
	if err := row.Scan(&digest, &deps, &cfgRaw); err != nil {
		return Attribute{}, false
	}

	attr := Attribute{Stamp: stamp.Stamp{ContentDigest: digest, DepsFingerprint: deps}}
	if cfgRaw.Valid && cfgRaw.String != "" {
		var cfg scriptconfig.Configuration
		if err := json.Unmarshal([]byte(cfgRaw.String), &cfg); err == nil {
			attr.Configuration = &cfg
		}
	}
	return attr, true
}
