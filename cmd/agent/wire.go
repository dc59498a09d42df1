package cli

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/ternlabs/tern/internal/agent/captcha"
	"github.com/ternlabs/tern/internal/agent/config"
	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/driver/cdpdriver"
	"github.com/ternlabs/tern/internal/agent/driver/playwrightdriver"
	"github.com/ternlabs/tern/internal/agent/memory"
	"github.com/ternlabs/tern/internal/agent/model"
	"github.com/ternlabs/tern/internal/agent/model/anthropicmodel"
	"github.com/ternlabs/tern/internal/agent/model/geminimodel"
	"github.com/ternlabs/tern/internal/agent/model/ollamamodel"
	"github.com/ternlabs/tern/internal/agent/model/openaimodel"
	"github.com/ternlabs/tern/internal/agent/obslog"
	"github.com/ternlabs/tern/internal/agent/orchestrator"
	"github.com/ternlabs/tern/internal/agent/sitememory"
	"github.com/ternlabs/tern/internal/agent/storage"
	"github.com/ternlabs/tern/internal/agent/valence"
)

// kernel bundles everything a command needs to drive one agent, plus the
// handles it must release on the way out.
type kernel struct {
	cfg        *config.AgentConfig
	db         *sql.DB
	manager    *memory.Manager
	siteMemory *sitememory.Store
	factory    driver.Factory
	orch       *orchestrator.Orchestrator
}

func (k *kernel) close() {
	if k.factory != nil {
		_ = k.factory.Close()
	}
	if k.manager != nil {
		k.manager.Close()
	}
	if k.db != nil {
		_ = k.db.Close()
	}
}

// openStores opens the persisted memory stores without touching a
// browser or a model endpoint — enough for inspect/replay bookkeeping.
func openStores(ctx context.Context, cfg *config.AgentConfig) (*kernel, error) {
	if err := cfg.EnsureMemoryDir(); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	db, err := storage.Open(ctx, filepath.Join(cfg.MemoryDir, "agent.db"))
	if err != nil {
		return nil, err
	}

	manager, err := memory.NewManager(ctx, db, nil, memory.Config{
		WorkingCapacity:       cfg.WorkingMemoryCapacity,
		TopK:                  cfg.EpisodicTopK,
		SkillMinSuccessRate:   cfg.SkillMinSuccessRate,
		ConsolidationEpisodes: cfg.ConsolidationEpisodeCount,
		ConsolidationInterval: 0, // inspect/replay never consolidate in the background
		WorkingDir:            cfg.MemoryDir,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	siteMem, err := sitememory.NewStore(ctx, db)
	if err != nil {
		manager.Close()
		db.Close()
		return nil, err
	}

	return &kernel{cfg: cfg, db: db, manager: manager, siteMemory: siteMem}, nil
}

// buildKernel wires the full agent: stores, model client, browser
// factory, and the Orchestrator, per the configured backends.
func buildKernel(ctx context.Context, cfg *config.AgentConfig, withValence bool) (*kernel, error) {
	if err := cfg.EnsureMemoryDir(); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	db, err := storage.Open(ctx, filepath.Join(cfg.MemoryDir, "agent.db"))
	if err != nil {
		return nil, err
	}

	modelC, err := buildModelClient(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	manager, err := memory.NewManager(ctx, db, modelC, memory.Config{
		WorkingCapacity:       cfg.WorkingMemoryCapacity,
		TopK:                  cfg.EpisodicTopK,
		SkillMinSuccessRate:   cfg.SkillMinSuccessRate,
		ConsolidationEpisodes: cfg.ConsolidationEpisodeCount,
		ConsolidationInterval: cfg.ConsolidationInterval,
		WorkingDir:            cfg.MemoryDir,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	siteMem, err := sitememory.NewStore(ctx, db)
	if err != nil {
		manager.Close()
		db.Close()
		return nil, err
	}

	factory, err := buildFactory(ctx, cfg)
	if err != nil {
		manager.Close()
		db.Close()
		return nil, err
	}
	page, err := factory.NewPage(ctx)
	if err != nil {
		_ = factory.Close()
		manager.Close()
		db.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	var bus *valence.Bus
	if withValence {
		bus = valence.New()
	}

	orch := orchestrator.New(orchestrator.Config{
		AgentConfig: cfg,
		Driver:      page,
		Model:       modelC,
		SiteMemory:  siteMem,
		Captcha:     captcha.New(cfg.CaptchaThresholds, modelC),
		Valence:     bus,
		Memory:      manager,
		Log:         obslog.New("agent").Logf,
		AttachSession: func(ctx context.Context, port int) (driver.PageDriver, error) {
			if _, err := driver.Attach(ctx, port); err != nil {
				return nil, err
			}
			f := &cdpdriver.Factory{DebugBrowserPort: port}
			return f.NewPage(ctx)
		},
	})

	return &kernel{
		cfg:        cfg,
		db:         db,
		manager:    manager,
		siteMemory: siteMem,
		factory:    factory,
		orch:       orch,
	}, nil
}

func buildModelClient(ctx context.Context, cfg *config.AgentConfig) (model.ModelClient, error) {
	switch cfg.ModelProvider {
	case "anthropic":
		return anthropicmodel.New(cfg.ModelAPIKey, cfg.TextModel, cfg.VisionModel), nil
	case "openai":
		return openaimodel.New(cfg.ModelAPIKey, cfg.TextModel, cfg.VisionModel, cfg.ModelEndpoint), nil
	case "gemini":
		return geminimodel.New(ctx, cfg.ModelAPIKey, cfg.TextModel, cfg.VisionModel)
	case "ollama":
		return ollamamodel.New(cfg.ModelEndpoint, cfg.TextModel, cfg.VisionModel), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q (want anthropic, openai, gemini, or ollama)", cfg.ModelProvider)
	}
}

func buildFactory(ctx context.Context, cfg *config.AgentConfig) (driver.Factory, error) {
	switch cfg.DriverBackend {
	case "playwright":
		f := &playwrightdriver.Factory{Headless: cfg.Headless}
		if cfg.DebugBrowserPort != 0 {
			if _, err := driver.Attach(ctx, cfg.DebugBrowserPort); err != nil {
				return nil, err
			}
			f.CDPEndpoint = fmt.Sprintf("http://127.0.0.1:%d", cfg.DebugBrowserPort)
		}
		return f, nil
	case "cdp":
		if cfg.DebugBrowserPort != 0 {
			if _, err := driver.Attach(ctx, cfg.DebugBrowserPort); err != nil {
				return nil, err
			}
		}
		return &cdpdriver.Factory{DebugBrowserPort: cfg.DebugBrowserPort, Headless: cfg.Headless}, nil
	default:
		return nil, fmt.Errorf("unknown driver backend %q (want playwright or cdp)", cfg.DriverBackend)
	}
}
