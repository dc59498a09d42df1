package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ternlabs/tern/internal/agent/types"
)

// Embedder is the narrow capability Manager needs from a model client:
// turning text into a vector for semantic-memory similarity search. A nil
// Embedder, or one that errors (the Anthropic adapter has no embeddings
// endpoint — see model/anthropicmodel), degrades Search to free-text
// matching only.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Manager implements the orchestrator.MemoryProvider contract over the
// four tiers: Working (the in-flight run), Episodic, Semantic, and Skill.
// Consolidation runs on its own schedule, never on the goal-critical path.
type Manager struct {
	working  *Working
	episodic *Episodic
	semantic *Semantic
	skill    *Skill
	embedder Embedder

	topK                int
	skillMinSuccessRate float64
	consolidationWindow int
	episodeCountTrigger int

	cron *cron.Cron

	mu               sync.Mutex
	episodesSinceRun int
}

// Config bundles Manager's tuning knobs, mirroring AgentConfig's memory
// fields so cmd/agent can wire one straight from the other.
type Config struct {
	WorkingCapacity       int
	TopK                  int
	SkillMinSuccessRate   float64
	ConsolidationEpisodes int
	ConsolidationInterval time.Duration
	WorkingDir            string
}

// NewManager opens every persisted tier on db and starts the background
// consolidation schedule. Call Close to stop it.
func NewManager(ctx context.Context, db *sql.DB, embedder Embedder, cfg Config) (*Manager, error) {
	episodic, err := NewEpisodic(ctx, db)
	if err != nil {
		return nil, err
	}
	semantic, err := NewSemantic(ctx, db)
	if err != nil {
		return nil, err
	}
	skill, err := NewSkill(ctx, db)
	if err != nil {
		return nil, err
	}

	window := cfg.ConsolidationEpisodes * 5
	if window < 50 {
		window = 50
	}

	m := &Manager{
		working:             NewWorking(cfg.WorkingCapacity, cfg.WorkingDir),
		episodic:            episodic,
		semantic:            semantic,
		skill:               skill,
		embedder:            embedder,
		topK:                cfg.TopK,
		skillMinSuccessRate: cfg.SkillMinSuccessRate,
		consolidationWindow: window,
		episodeCountTrigger: cfg.ConsolidationEpisodes,
	}

	if cfg.ConsolidationInterval > 0 {
		m.cron = cron.New()
		spec := fmt.Sprintf("@every %s", cfg.ConsolidationInterval)
		if _, err := m.cron.AddFunc(spec, func() {
			_ = m.Consolidate(context.Background())
		}); err != nil {
			return nil, fmt.Errorf("memory: schedule consolidation: %w", err)
		}
		m.cron.Start()
	}

	return m, nil
}

// Close stops the consolidation schedule. Safe to call on a Manager built
// with no interval configured.
func (m *Manager) Close() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// Working exposes the working-memory tier directly (cmd/agent resets it
// before each goal). The Orchestrator's per-step bookkeeping goes through
// the MemoryProvider methods AddStep and CompactWorking instead, and
// EnrichedContext folds the tier's rendering into its returned text.
func (m *Manager) Working() *Working { return m.working }

// EnrichedContext returns the current working-memory tail plus the top-K
// episodic, semantic, and skill hits for query, formatted for direct
// inclusion in a model prompt (orchestrator/prompt.go's BuildPrompt).
func (m *Manager) EnrichedContext(ctx context.Context, query string) (string, error) {
	result, err := m.SearchAll(ctx, query)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if working := m.working.GetContext(0); working != "" {
		b.WriteString("## Current run so far\n")
		b.WriteString(working)
		b.WriteString("\n")
	}
	if len(result.Episodic) > 0 {
		b.WriteString("## Relevant past attempts\n")
		for _, ep := range result.Episodic {
			b.WriteString(fmt.Sprintf("- %q ended %s\n", ep.GoalText, ep.Outcome))
		}
		b.WriteString("\n")
	}
	if len(result.Semantic) > 0 {
		b.WriteString("## Learned patterns\n")
		for _, p := range result.Semantic {
			b.WriteString("- " + p.Summary + "\n")
		}
		b.WriteString("\n")
	}
	if len(result.Skill) > 0 {
		b.WriteString("## Candidate reusable skills\n")
		for _, s := range result.Skill {
			b.WriteString(fmt.Sprintf("- %s (success rate %.0f%%): %s\n", s.Name, s.SuccessRate*100, s.Description))
		}
	}
	return b.String(), nil
}

// SaveEpisode persists ep to episodic memory and triggers a consolidation
// pass once ConsolidationEpisodes new episodes have accumulated (the
// interval-based trigger runs independently via cron).
func (m *Manager) SaveEpisode(ctx context.Context, ep types.Episode) error {
	if m.embedder != nil && len(ep.Embedding) == 0 {
		if emb, err := m.embedder.Embed(ctx, ep.GoalText); err == nil {
			ep.Embedding = emb
		}
	}
	if _, err := m.episodic.Save(ctx, ep); err != nil {
		return err
	}

	m.mu.Lock()
	m.episodesSinceRun++
	due := m.episodeCountTrigger > 0 && m.episodesSinceRun >= m.episodeCountTrigger
	if due {
		m.episodesSinceRun = 0
	}
	m.mu.Unlock()

	if due {
		return m.Consolidate(ctx)
	}
	return nil
}

// SearchResult bundles SearchAll's parallel per-tier hits.
type SearchResult struct {
	Episodic []types.Episode
	Semantic []types.SemanticPattern
	Skill    []types.Skill
}

// SearchAll retrieves from episodic, semantic, and skill memory
// concurrently (spec.md §4.5's "parallel retrieval across tiers").
func (m *Manager) SearchAll(ctx context.Context, query string) (SearchResult, error) {
	var queryEmbedding []float64
	if m.embedder != nil {
		if emb, err := m.embedder.Embed(ctx, query); err == nil {
			queryEmbedding = emb
		}
	}

	var (
		wg                               sync.WaitGroup
		episodes                         []types.Episode
		patterns                         []types.SemanticPattern
		skills                           []types.Skill
		episodeErr, patternErr, skillErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		episodes, episodeErr = m.episodic.Search(ctx, query, queryEmbedding, m.topK)
	}()
	go func() {
		defer wg.Done()
		patterns, patternErr = m.semantic.Search(ctx, query, m.topK)
	}()
	go func() {
		defer wg.Done()
		skills, skillErr = m.skill.Search(ctx, query, m.topK)
	}()
	wg.Wait()

	if episodeErr != nil {
		return SearchResult{}, fmt.Errorf("memory: search episodic: %w", episodeErr)
	}
	if patternErr != nil {
		return SearchResult{}, fmt.Errorf("memory: search semantic: %w", patternErr)
	}
	if skillErr != nil {
		return SearchResult{}, fmt.Errorf("memory: search skill: %w", skillErr)
	}
	return SearchResult{Episodic: episodes, Semantic: patterns, Skill: skills}, nil
}

// MatchSkill returns a reusable skill for goalText whose success rate
// clears the configured minimum, for the Orchestrator to prefer over
// planning from scratch before its first model call.
func (m *Manager) MatchSkill(ctx context.Context, goalText string) (types.Skill, bool, error) {
	return m.skill.MatchForGoal(ctx, goalText, m.skillMinSuccessRate)
}

// AddStep feeds one completed ReAct step into the working tier. The
// Orchestrator calls this after every iteration, before its next model
// call, so a crash mid-run leaves the steps so far in working.json.
func (m *Manager) AddStep(step types.Step) error {
	return m.working.AddStep(step)
}

// CompactWorking drops everything but the most recent keep steps from
// the working tier, invoked by the Orchestrator once its soft-trim
// threshold trips.
func (m *Manager) CompactWorking(keep int) {
	m.working.Compact(keep)
}

// Episode returns one stored episode by id.
func (m *Manager) Episode(ctx context.Context, id string) (types.Episode, error) {
	return m.episodic.Get(ctx, id)
}

// SkillByName returns one stored skill by name or id.
func (m *Manager) SkillByName(ctx context.Context, nameOrID string) (types.Skill, error) {
	return m.skill.Get(ctx, nameOrID)
}

// RecordSkillExecution folds one replay outcome into a skill's running
// success-rate stats.
func (m *Manager) RecordSkillExecution(ctx context.Context, name string, success bool, duration time.Duration) error {
	return m.skill.RecordExecution(ctx, name, success, duration)
}

// RecentEpisodes returns the limit most recent episodes, newest first.
func (m *Manager) RecentEpisodes(ctx context.Context, limit int) ([]types.Episode, error) {
	return m.episodic.Recent(ctx, limit)
}

// Clear wipes every persisted tier and the in-flight working memory.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.episodic.Clear(ctx); err != nil {
		return err
	}
	if err := m.semantic.Clear(ctx); err != nil {
		return err
	}
	if err := m.skill.Clear(ctx); err != nil {
		return err
	}
	m.working.Reset()
	return nil
}
