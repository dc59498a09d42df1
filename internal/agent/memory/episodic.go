package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ternlabs/tern/internal/agent/types"
)

const episodicSchema = `
CREATE TABLE IF NOT EXISTS episodes (
	id           TEXT PRIMARY KEY,
	goal_text    TEXT NOT NULL,
	steps_summary TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	success      INTEGER NOT NULL,
	failure_kind TEXT NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	tags         TEXT NOT NULL DEFAULT '[]',
	importance   REAL NOT NULL DEFAULT 0,
	embedding    TEXT NOT NULL DEFAULT '[]',
	steps        TEXT NOT NULL DEFAULT '[]',
	created_at   INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	accessed_at  INTEGER NOT NULL DEFAULT 0
);
`

// Episodic is the persisted store of past goals, searchable by free text
// and re-ranked by embedding similarity plus access-decay (spec.md §4.5).
// A sync.RWMutex gives readers (Search) concurrent access while Save
// holds the lock exclusively, matching the writer-priority contract all
// four memory tiers share.
type Episodic struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewEpisodic opens (creating if absent) the episodes table on db.
func NewEpisodic(ctx context.Context, db *sql.DB) (*Episodic, error) {
	if _, err := db.ExecContext(ctx, episodicSchema); err != nil {
		return nil, fmt.Errorf("memory: create episodes schema: %w", err)
	}
	return &Episodic{db: db}, nil
}

// Save upserts ep, assigning an ID if one was not already set.
func (e *Episodic) Save(ctx context.Context, ep types.Episode) (types.Episode, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	tagsJSON, err := json.Marshal(ep.Tags)
	if err != nil {
		return ep, fmt.Errorf("memory: encode episode tags: %w", err)
	}
	embJSON, err := json.Marshal(ep.Embedding)
	if err != nil {
		return ep, fmt.Errorf("memory: encode episode embedding: %w", err)
	}
	stepsJSON, err := json.Marshal(ep.Steps)
	if err != nil {
		return ep, fmt.Errorf("memory: encode episode steps: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.db.ExecContext(ctx, `
		INSERT INTO episodes (id, goal_text, steps_summary, outcome, success, failure_kind, duration_ms, tags, importance, embedding, steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal_text = excluded.goal_text,
			steps_summary = excluded.steps_summary,
			outcome = excluded.outcome,
			success = excluded.success,
			failure_kind = excluded.failure_kind,
			duration_ms = excluded.duration_ms,
			tags = excluded.tags,
			importance = excluded.importance,
			embedding = excluded.embedding,
			steps = excluded.steps
	`, ep.ID, ep.GoalText, ep.StepsSummary, string(ep.Outcome), boolToInt(ep.Success), string(ep.FailureKind),
		ep.Duration.Milliseconds(), string(tagsJSON), ep.Importance, string(embJSON), string(stepsJSON), ep.CreatedAt.Unix())
	if err != nil {
		return ep, fmt.Errorf("memory: save episode: %w", err)
	}
	return ep, nil
}

// Recent returns the limit most recently created episodes, newest first —
// the feed the consolidation pass clusters.
func (e *Episodic) Recent(ctx context.Context, limit int) ([]types.Episode, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, goal_text, steps_summary, outcome, success, failure_kind, duration_ms, tags, importance, embedding, steps, created_at
		FROM episodes ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// Get returns the episode with the given id, used by the replay command
// to recover a past run's action sequence.
func (e *Episodic) Get(ctx context.Context, id string) (types.Episode, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, goal_text, steps_summary, outcome, success, failure_kind, duration_ms, tags, importance, embedding, steps, created_at
		FROM episodes WHERE id = ?
	`, id)
	if err != nil {
		return types.Episode{}, err
	}
	defer rows.Close()
	eps, err := scanEpisodes(rows)
	if err != nil {
		return types.Episode{}, err
	}
	if len(eps) == 0 {
		return types.Episode{}, fmt.Errorf("memory: episode %s not found", id)
	}
	return eps[0], nil
}

// Clear deletes every stored episode.
func (e *Episodic) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.db.ExecContext(ctx, `DELETE FROM episodes`)
	return err
}

// Search returns the topK episodes best matching query: a free-text
// substring match over goal text and tags, re-ranked by
// confidence-free decay score and — when queryEmbedding is non-empty —
// blended with cosine similarity against each episode's stored embedding.
func (e *Episodic) Search(ctx context.Context, query string, queryEmbedding []float64, topK int) ([]types.Episode, error) {
	e.mu.RLock()
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, goal_text, steps_summary, outcome, success, failure_kind, duration_ms, tags, importance, embedding, steps, created_at, access_count, accessed_at
		FROM episodes
	`)
	if err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	type scored struct {
		ep    types.Episode
		score float64
	}
	var candidates []scored
	needle := strings.ToLower(query)
	for rows.Next() {
		var ep types.Episode
		var outcome, tagsJSON, embJSON, stepsJSON, failureKind string
		var success int
		var durationMS, createdAt, accessCount, accessedAtUnix int64
		if err := rows.Scan(&ep.ID, &ep.GoalText, &ep.StepsSummary, &outcome, &success, &failureKind,
			&durationMS, &tagsJSON, &ep.Importance, &embJSON, &stepsJSON, &createdAt, &accessCount, &accessedAtUnix); err != nil {
			continue
		}
		ep.Outcome = types.EpisodeOutcome(outcome)
		ep.Success = success != 0
		ep.FailureKind = types.ErrorKind(failureKind)
		ep.Duration = time.Duration(durationMS) * time.Millisecond
		ep.CreatedAt = time.Unix(createdAt, 0)
		_ = json.Unmarshal([]byte(tagsJSON), &ep.Tags)
		_ = json.Unmarshal([]byte(embJSON), &ep.Embedding)
		_ = json.Unmarshal([]byte(stepsJSON), &ep.Steps)

		textScore := 0.0
		if needle != "" && (strings.Contains(strings.ToLower(ep.GoalText), needle) || tagsContain(ep.Tags, needle)) {
			textScore = 1.0
		}
		embScore := cosineSimilarity(queryEmbedding, ep.Embedding)
		var accessedAt *time.Time
		if accessedAtUnix > 0 {
			t := time.Unix(accessedAtUnix, 0)
			accessedAt = &t
		}
		decay := decayScore(int(accessCount), accessedAt)
		score := 0.5*textScore + 0.4*embScore + 0.1*ep.Importance + 0.001*decay
		if textScore == 0 && embScore == 0 && needle != "" {
			continue
		}
		candidates = append(candidates, scored{ep: ep, score: score})
	}
	rows.Close()
	e.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]types.Episode, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.ep)
		_ = e.recordAccess(ctx, c.ep.ID)
	}
	return out, nil
}

func (e *Episodic) recordAccess(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.db.ExecContext(ctx, `
		UPDATE episodes SET access_count = access_count + 1, accessed_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	return err
}

func scanEpisodes(rows *sql.Rows) ([]types.Episode, error) {
	var out []types.Episode
	for rows.Next() {
		var ep types.Episode
		var outcome, tagsJSON, embJSON, stepsJSON, failureKind string
		var success int
		var durationMS, createdAt int64
		if err := rows.Scan(&ep.ID, &ep.GoalText, &ep.StepsSummary, &outcome, &success, &failureKind,
			&durationMS, &tagsJSON, &ep.Importance, &embJSON, &stepsJSON, &createdAt); err != nil {
			return nil, err
		}
		ep.Outcome = types.EpisodeOutcome(outcome)
		ep.Success = success != 0
		ep.FailureKind = types.ErrorKind(failureKind)
		ep.Duration = time.Duration(durationMS) * time.Millisecond
		ep.CreatedAt = time.Unix(createdAt, 0)
		_ = json.Unmarshal([]byte(tagsJSON), &ep.Tags)
		_ = json.Unmarshal([]byte(embJSON), &ep.Embedding)
		_ = json.Unmarshal([]byte(stepsJSON), &ep.Steps)
		out = append(out, ep)
	}
	return out, rows.Err()
}

func tagsContain(tags []string, needle string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
