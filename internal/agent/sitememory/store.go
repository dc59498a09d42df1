package sitememory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternlabs/tern/internal/agent/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS site_memory (
	url_pattern  TEXT NOT NULL,
	description  TEXT NOT NULL,
	candidates   TEXT NOT NULL,
	use_count    INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	confidence   REAL NOT NULL DEFAULT 0,
	last_used    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (url_pattern, description)
);
`

// confidenceFloor is the threshold below which a SiteMemory entry is
// deleted outright rather than merely not consulted (spec.md's data
// model: "deleted when confidence < 0.1").
const confidenceFloor = 0.1

const (
	successDelta = 0.05
	failureDelta = 0.10
)

// Store is the persisted, in-memory-cached SiteMemory index. It uses a
// reader/writer lock over an in-memory map backed by a SQLite table,
// mirroring the teacher's database/sql + sync.RWMutex pattern
// (internal/agent/recovery/recovery.go, internal/agent/memory/dbcontext.go).
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	entries map[string]*types.SiteMemory
}

// NewStore opens (creating if absent) the site_memory table on db and
// loads every row into the in-memory index.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sitememory: create schema: %w", err)
	}
	s := &Store{db: db, entries: make(map[string]*types.SiteMemory)}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func key(urlPattern, description string) string {
	return urlPattern + "\x00" + description
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url_pattern, description, candidates, use_count, success_count,
		       failure_count, confidence, last_used FROM site_memory`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var mem types.SiteMemory
		var candidatesJSON string
		var lastUsed int64
		if err := rows.Scan(&mem.URLPattern, &mem.Description, &candidatesJSON,
			&mem.UseCount, &mem.SuccessCount, &mem.FailureCount, &mem.Confidence, &lastUsed); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(candidatesJSON), &mem.Candidates); err != nil {
			return fmt.Errorf("sitememory: decode candidates for %s: %w", mem.URLPattern, err)
		}
		mem.LastUsed = time.Unix(lastUsed, 0)
		s.entries[key(mem.URLPattern, mem.Description)] = &mem
	}
	return rows.Err()
}

// FindMemory returns the SiteMemory stored for (url, description), if
// any, after canonicalizing url. It returns whatever is stored regardless
// of confidence — callers consult Usable to decide whether to rely on it
// (spec.md §4.6: below 0.5 the memory is "not consulted" but remains
// retained for possible re-learning, a distinct policy from deletion).
func (s *Store) FindMemory(rawURL, description string) (*types.SiteMemory, bool) {
	pattern := Canonicalize(rawURL)
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.entries[key(pattern, description)]
	if !ok {
		return nil, false
	}
	cp := *mem
	cp.Candidates = append([]types.SelectorCandidate(nil), mem.Candidates...)
	return &cp, true
}

// Usable reports whether mem's confidence clears the minimum bar for
// selector reuse (spec.md's core invariant: "selectors with confidence <
// 0.5 are not consulted").
func Usable(mem *types.SiteMemory, minConfidence float64) bool {
	return mem != nil && mem.Confidence >= minConfidence
}

// SynthesizeAndSave stores a freshly synthesized SiteMemory for (url,
// description), replacing any prior entry for the same canonical key.
func (s *Store) SynthesizeAndSave(ctx context.Context, rawURL, description string, candidates []types.SelectorCandidate, confidence float64) (*types.SiteMemory, error) {
	mem := &types.SiteMemory{
		URLPattern:  Canonicalize(rawURL),
		Description: description,
		Candidates:  candidates,
		Confidence:  confidence,
		LastUsed:    time.Now(),
	}
	if err := s.persist(ctx, mem); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.entries[key(mem.URLPattern, mem.Description)] = mem
	s.mu.Unlock()

	cp := *mem
	return &cp, nil
}

// RecordUse adjusts mem's confidence per the core invariant: success adds
// 0.05 (saturating at 1), failure subtracts 0.10 (floored at 0), then
// persists the update. A memory whose confidence drops below
// confidenceFloor is deleted outright rather than retained at zero.
func (s *Store) RecordUse(ctx context.Context, urlPattern, description string, success bool) error {
	k := key(urlPattern, description)

	s.mu.Lock()
	mem, ok := s.entries[k]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("sitememory: no entry for %s / %s", urlPattern, description)
	}
	mem.UseCount++
	mem.LastUsed = time.Now()
	if success {
		mem.SuccessCount++
		mem.Confidence += successDelta
		if mem.Confidence > 1 {
			mem.Confidence = 1
		}
	} else {
		mem.FailureCount++
		mem.Confidence -= failureDelta
		if mem.Confidence < 0 {
			mem.Confidence = 0
		}
	}
	deleted := mem.Confidence < confidenceFloor
	if deleted {
		delete(s.entries, k)
	}
	snapshot := *mem
	s.mu.Unlock()

	if deleted {
		_, err := s.db.ExecContext(ctx, `DELETE FROM site_memory WHERE url_pattern = ? AND description = ?`, urlPattern, description)
		return err
	}
	return s.persist(ctx, &snapshot)
}

func (s *Store) persist(ctx context.Context, mem *types.SiteMemory) error {
	candidatesJSON, err := json.Marshal(mem.Candidates)
	if err != nil {
		return fmt.Errorf("sitememory: encode candidates: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO site_memory (url_pattern, description, candidates, use_count, success_count, failure_count, confidence, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_pattern, description) DO UPDATE SET
			candidates = excluded.candidates,
			use_count = excluded.use_count,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			confidence = excluded.confidence,
			last_used = excluded.last_used
	`, mem.URLPattern, mem.Description, string(candidatesJSON), mem.UseCount, mem.SuccessCount, mem.FailureCount, mem.Confidence, mem.LastUsed.Unix())
	return err
}
