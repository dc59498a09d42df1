// Package memory implements the four-tier memory the Orchestrator reads
// before each model call and writes after each goal: working (the current
// run's Steps), episodic (past goals), semantic (distilled cross-episode
// patterns), and skill (named reusable action sequences).
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternlabs/tern/internal/agent/types"
)

// Working is the ordered sequence of Steps for the run currently in
// flight. Capacity-bounded per spec.md §4.5 (40-50 steps); persisted to
// disk via atomic rename so a crash mid-run leaves a readable snapshot
// rather than a torn file.
type Working struct {
	mu       sync.RWMutex
	steps    []types.Step
	capacity int
	path     string // working.json location; empty disables persistence
}

// NewWorking builds a Working memory bounded to capacity steps,
// persisting to filepath.Join(dir, "working.json") when dir is non-empty.
func NewWorking(capacity int, dir string) *Working {
	w := &Working{capacity: capacity}
	if dir != "" {
		w.path = filepath.Join(dir, "working.json")
	}
	return w
}

// AddStep appends step, dropping the oldest step once capacity is
// exceeded, then persists the new state.
func (w *Working) AddStep(step types.Step) error {
	w.mu.Lock()
	w.steps = append(w.steps, step)
	if len(w.steps) > w.capacity {
		w.steps = w.steps[len(w.steps)-w.capacity:]
	}
	snapshot := append([]types.Step(nil), w.steps...)
	w.mu.Unlock()
	return w.persist(snapshot)
}

// Steps returns a copy of the current working memory.
func (w *Working) Steps() []types.Step {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]types.Step(nil), w.steps...)
}

// GetContext renders the working memory for prompt assembly: the last
// detailedTail steps in full, everything older summarized to one line
// each (spec.md §4.1's compaction policy). Older steps use the same
// one-line form as orchestrator/compaction.go's renderSteps; a detailed
// step here is that one line plus its thought, not renderSteps'
// multi-line block.
func (w *Working) GetContext(detailedTail int) string {
	steps := w.Steps()
	if detailedTail <= 0 || detailedTail >= len(steps) {
		detailedTail = len(steps)
	}
	cut := len(steps) - detailedTail
	var out string
	for i, s := range steps {
		if i < cut {
			out += s.OneLine() + "\n"
			continue
		}
		out += fmt.Sprintf("%s (thought: %s)\n", s.OneLine(), s.Thought)
	}
	return out
}

// Compact drops everything but the most recent keep steps, used once a
// goal's working memory has grown past the Orchestrator's soft-trim
// threshold.
func (w *Working) Compact(keep int) {
	w.mu.Lock()
	if keep < len(w.steps) {
		w.steps = append([]types.Step(nil), w.steps[len(w.steps)-keep:]...)
	}
	snapshot := append([]types.Step(nil), w.steps...)
	w.mu.Unlock()
	_ = w.persist(snapshot)
}

// Reset clears working memory for a new goal and removes any persisted
// snapshot from the prior run.
func (w *Working) Reset() {
	w.mu.Lock()
	w.steps = nil
	w.mu.Unlock()
	if w.path != "" {
		_ = os.Remove(w.path)
	}
}

type workingFile struct {
	Steps     []types.Step `json:"steps"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// persist writes steps to working.json via write-temp-then-rename so a
// reader (LoadWorkingSnapshot) never observes a partially written file.
func (w *Working) persist(steps []types.Step) error {
	if w.path == "" {
		return nil
	}
	data, err := json.Marshal(workingFile{Steps: steps, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("memory: encode working snapshot: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("memory: write working snapshot: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("memory: rename working snapshot: %w", err)
	}
	return nil
}

// LoadWorkingSnapshot reads a previously persisted working.json from dir;
// a missing file returns (nil, nil).
func LoadWorkingSnapshot(dir string) ([]types.Step, error) {
	path := filepath.Join(dir, "working.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read working snapshot: %w", err)
	}
	var wf workingFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("memory: decode working snapshot: %w", err)
	}
	return wf.Steps, nil
}
