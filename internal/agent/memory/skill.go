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

const skillSchema = `
CREATE TABLE IF NOT EXISTS skills (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	description  TEXT NOT NULL,
	steps        TEXT NOT NULL DEFAULT '[]',
	preconds     TEXT NOT NULL DEFAULT '[]',
	postconds    TEXT NOT NULL DEFAULT '[]',
	exec_count   INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	total_duration_ms INTEGER NOT NULL DEFAULT 0
);
`

// Skill is the store of named, reusable action sequences. A skill is
// preferred over planning from scratch only once its success rate clears
// AgentConfig.SkillMinSuccessRate (spec.md §4.5's 0.7 default).
type Skill struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSkill opens (creating if absent) the skills table on db.
func NewSkill(ctx context.Context, db *sql.DB) (*Skill, error) {
	if _, err := db.ExecContext(ctx, skillSchema); err != nil {
		return nil, fmt.Errorf("memory: create skills schema: %w", err)
	}
	return &Skill{db: db}, nil
}

// Upsert creates or replaces the named skill's definition, leaving its
// execution statistics untouched if it already exists.
func (sk *Skill) Upsert(ctx context.Context, name, description string, steps []types.ToolCall, preconds, postconds []string) (types.Skill, error) {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return types.Skill{}, fmt.Errorf("memory: encode skill steps: %w", err)
	}
	preJSON, _ := json.Marshal(preconds)
	postJSON, _ := json.Marshal(postconds)

	sk.mu.Lock()
	defer sk.mu.Unlock()

	var id string
	err = sk.db.QueryRowContext(ctx, `SELECT id FROM skills WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		id = uuid.NewString()
	} else if err != nil {
		return types.Skill{}, err
	}

	_, err = sk.db.ExecContext(ctx, `
		INSERT INTO skills (id, name, description, steps, preconds, postconds)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			steps = excluded.steps,
			preconds = excluded.preconds,
			postconds = excluded.postconds
	`, id, name, description, string(stepsJSON), string(preJSON), string(postJSON))
	if err != nil {
		return types.Skill{}, fmt.Errorf("memory: upsert skill: %w", err)
	}
	return sk.getLocked(ctx, name)
}

// RecordExecution updates a skill's running stats after one use.
func (sk *Skill) RecordExecution(ctx context.Context, name string, success bool, duration time.Duration) error {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	delta := 0
	if success {
		delta = 1
	}
	_, err := sk.db.ExecContext(ctx, `
		UPDATE skills SET exec_count = exec_count + 1, success_count = success_count + ?, total_duration_ms = total_duration_ms + ?
		WHERE name = ?
	`, delta, duration.Milliseconds(), name)
	return err
}

// MatchForGoal returns the skill whose name or description best matches
// goalText and whose success rate clears minSuccessRate, preferring the
// skill with the most executions among ties. ok is false when nothing
// qualifies and the Orchestrator should plan from scratch.
func (sk *Skill) MatchForGoal(ctx context.Context, goalText string, minSuccessRate float64) (types.Skill, bool, error) {
	all, err := sk.list(ctx)
	if err != nil {
		return types.Skill{}, false, err
	}
	needle := strings.ToLower(goalText)
	var best types.Skill
	found := false
	for _, s := range all {
		if s.SuccessRate < minSuccessRate {
			continue
		}
		nameWords := strings.ToLower(strings.ReplaceAll(s.Name, "-", " "))
		if !strings.Contains(needle, strings.ToLower(s.Description)) && !strings.Contains(needle, nameWords) {
			continue
		}
		if !found || s.ExecCount > best.ExecCount {
			best = s
			found = true
		}
	}
	return best, found, nil
}

// Search returns skills matching query by name or description.
func (sk *Skill) Search(ctx context.Context, query string, topK int) ([]types.Skill, error) {
	all, err := sk.list(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var out []types.Skill
	for _, s := range all {
		if needle == "" || strings.Contains(strings.ToLower(s.Name), needle) || strings.Contains(strings.ToLower(s.Description), needle) {
			out = append(out, s)
		}
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

func (sk *Skill) list(ctx context.Context) ([]types.Skill, error) {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	rows, err := sk.db.QueryContext(ctx, `
		SELECT id, name, description, steps, preconds, postconds, exec_count, success_count, total_duration_ms FROM skills
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Skill
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}


// Get returns the skill with the given name or id, used by the replay
// command to recover a stored action sequence.
func (sk *Skill) Get(ctx context.Context, nameOrID string) (types.Skill, error) {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	row := sk.db.QueryRowContext(ctx, `
		SELECT id, name, description, steps, preconds, postconds, exec_count, success_count, total_duration_ms
		FROM skills WHERE name = ? OR id = ?
	`, nameOrID, nameOrID)
	return scanSkillRow(row)
}

// Clear deletes every stored skill.
func (sk *Skill) Clear(ctx context.Context) error {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	_, err := sk.db.ExecContext(ctx, `DELETE FROM skills`)
	return err
}

func (sk *Skill) getLocked(ctx context.Context, name string) (types.Skill, error) {
	row := sk.db.QueryRowContext(ctx, `
		SELECT id, name, description, steps, preconds, postconds, exec_count, success_count, total_duration_ms
		FROM skills WHERE name = ?
	`, name)
	return scanSkillRow(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSkill(rows *sql.Rows) (types.Skill, error) { return scanSkillRow(rows) }

func scanSkillRow(r rowScanner) (types.Skill, error) {
	var s types.Skill
	var stepsJSON, preJSON, postJSON string
	var execCount, successCount, totalMS int64
	if err := r.Scan(&s.ID, &s.Name, &s.Description, &stepsJSON, &preJSON, &postJSON, &execCount, &successCount, &totalMS); err != nil {
		return s, err
	}
	_ = json.Unmarshal([]byte(stepsJSON), &s.Steps)
	_ = json.Unmarshal([]byte(preJSON), &s.Preconds)
	_ = json.Unmarshal([]byte(postJSON), &s.Postconds)
	s.ExecCount = int(execCount)
	if execCount > 0 {
		s.SuccessRate = float64(successCount) / float64(execCount)
		s.AvgDuration = time.Duration(totalMS/execCount) * time.Millisecond
	}
	return s, nil
}
