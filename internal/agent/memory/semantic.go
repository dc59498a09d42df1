package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ternlabs/tern/internal/agent/types"
)

const semanticSchema = `
CREATE TABLE IF NOT EXISTS semantic_patterns (
	id             TEXT PRIMARY KEY,
	canonical_key  TEXT NOT NULL UNIQUE,
	summary        TEXT NOT NULL,
	source_episodes TEXT NOT NULL DEFAULT '[]',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
`

// Semantic holds distilled cross-episode patterns produced by
// consolidation ("on sites with consent banners, dismiss before
// interacting"). Keyed by CanonicalKey so a repeated consolidation pass
// updates the existing entry instead of duplicating it (spec.md §4.5.1's
// idempotency requirement).
type Semantic struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSemantic opens (creating if absent) the semantic_patterns table on db.
func NewSemantic(ctx context.Context, db *sql.DB) (*Semantic, error) {
	if _, err := db.ExecContext(ctx, semanticSchema); err != nil {
		return nil, fmt.Errorf("memory: create semantic_patterns schema: %w", err)
	}
	return &Semantic{db: db}, nil
}

// Upsert creates or updates the pattern for canonicalKey, merging
// sourceEpisodeIDs into the existing set rather than replacing it.
func (s *Semantic) Upsert(ctx context.Context, canonicalKey, summary string, sourceEpisodeIDs []string) (types.SemanticPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingID, existingSources string
	err := s.db.QueryRowContext(ctx, `SELECT id, source_episodes FROM semantic_patterns WHERE canonical_key = ?`, canonicalKey).
		Scan(&existingID, &existingSources)

	now := time.Now()
	pattern := types.SemanticPattern{CanonicalKey: canonicalKey, Summary: summary, UpdatedAt: now}

	switch err {
	case sql.ErrNoRows:
		pattern.ID = uuid.NewString()
		pattern.CreatedAt = now
		pattern.SourceEpisodeIDs = dedupeStrings(sourceEpisodeIDs)
	case nil:
		pattern.ID = existingID
		var prior []string
		_ = json.Unmarshal([]byte(existingSources), &prior)
		pattern.SourceEpisodeIDs = dedupeStrings(append(prior, sourceEpisodeIDs...))
	default:
		return types.SemanticPattern{}, err
	}

	sourcesJSON, jerr := json.Marshal(pattern.SourceEpisodeIDs)
	if jerr != nil {
		return pattern, fmt.Errorf("memory: encode semantic sources: %w", jerr)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO semantic_patterns (id, canonical_key, summary, source_episodes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(canonical_key) DO UPDATE SET
			summary = excluded.summary,
			source_episodes = excluded.source_episodes,
			updated_at = excluded.updated_at
	`, pattern.ID, pattern.CanonicalKey, pattern.Summary, string(sourcesJSON), now.Unix(), now.Unix())
	if err != nil {
		return pattern, fmt.Errorf("memory: upsert semantic pattern: %w", err)
	}
	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = now
	}
	return pattern, nil
}

// Search returns patterns whose summary mentions query.
func (s *Semantic) Search(ctx context.Context, query string, topK int) ([]types.SemanticPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, canonical_key, summary, source_episodes, created_at, updated_at FROM semantic_patterns
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	needle := strings.ToLower(query)
	var out []types.SemanticPattern
	for rows.Next() {
		var p types.SemanticPattern
		var sourcesJSON string
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.ID, &p.CanonicalKey, &p.Summary, &sourcesJSON, &createdAt, &updatedAt); err != nil {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Summary), needle) {
			continue
		}
		_ = json.Unmarshal([]byte(sourcesJSON), &p.SourceEpisodeIDs)
		p.CreatedAt = time.Unix(createdAt, 0)
		p.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, p)
		if len(out) >= topK {
			break
		}
	}
	return out, rows.Err()
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Clear deletes every stored pattern.
func (s *Semantic) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM semantic_patterns`)
	return err
}
