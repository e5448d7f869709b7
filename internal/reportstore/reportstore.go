// Package reportstore implements the report sink collaborator (the core
// writes diagnostics, other subsystems read them) plus the
// persisted-attribute table consulted by loader.PersistedAttributeLoader.
// It mirrors the dual in-memory/Postgres backend shape from
// internal/gateway/repository/projectstore/store.go: an in-process map
// guarded by a mutex by default, or a real database/sql + pgx/v5
// connection when a DSN is configured.
//
// This is plumbing for "which configuration was previously accepted",
// not configuration persistence across restarts -- a cold process still
// has to run the loader chain for every file at least once. The engine
// itself never writes the attribute table; entries exist only where a
// caller has stored them with PutAttribute.
package reportstore

import (
	"database/sql"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"scle/internal/scriptconfig"
	"scle/internal/stamp"
)

// Attribute is a previously-accepted configuration, keyed by the stamp
// it was accepted against. PersistedAttributeLoader only trusts it when
// the live file's current stamp still matches.
type Attribute struct {
	Stamp         stamp.Stamp
	Configuration *scriptconfig.Configuration
}

// Store is the Report Sink plus the persisted-attribute table. The zero
// value is not usable; construct with New or NewPostgres.
type Store struct {
	db *sql.DB

	mu         sync.RWMutex
	reports    map[scriptconfig.FileKey][]scriptconfig.Diagnostic
	attributes map[scriptconfig.FileKey]Attribute

	schemaOnce sync.Once
	schemaErr  error
}

// New builds an in-memory Store.
func New() *Store {
	return &Store{
		reports:    make(map[scriptconfig.FileKey][]scriptconfig.Diagnostic),
		attributes: make(map[scriptconfig.FileKey]Attribute),
	}
}

// NewPostgres builds a Store backed by Postgres via pgx/v5's
// database/sql driver.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewFromDSN returns an in-memory Store when dsn is empty, or a Postgres
// backed one otherwise.
func NewFromDSN(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return New(), nil
	}
	return NewPostgres(dsn)
}

// Attach persists diagnostics for fileKey, overwriting any previous
// report. This is the Report Sink write side the core calls.
func (s *Store) Attach(fileKey scriptconfig.FileKey, diagnostics []scriptconfig.Diagnostic) {
	if s == nil {
		return
	}
	if s.db != nil {
		s.attachDB(fileKey, diagnostics)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[fileKey] = append([]scriptconfig.Diagnostic(nil), diagnostics...)
}

// Reports returns the last attached diagnostics for fileKey, for other
// subsystems reading the sink.
func (s *Store) Reports(fileKey scriptconfig.FileKey) []scriptconfig.Diagnostic {
	if s == nil {
		return nil
	}
	if s.db != nil {
		return s.reportsDB(fileKey)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scriptconfig.Diagnostic(nil), s.reports[fileKey]...)
}

// PutAttribute records a newly-accepted configuration so a future
// PersistedAttributeLoader lookup can trust it without rerunning the
// loader chain, as long as the live file's stamp still matches.
func (s *Store) PutAttribute(fileKey scriptconfig.FileKey, attr Attribute) {
	if s == nil {
		return
	}
	if s.db != nil {
		s.putAttributeDB(fileKey, attr)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributes[fileKey] = attr
}

// GetAttribute returns the persisted attribute for fileKey, if any.
func (s *Store) GetAttribute(fileKey scriptconfig.FileKey) (Attribute, bool) {
	if s == nil {
		return Attribute{}, false
	}
	if s.db != nil {
		return s.getAttributeDB(fileKey)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attributes[fileKey]
	return a, ok
}

// Close releases the database connection, if any.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
