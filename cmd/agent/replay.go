package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternlabs/tern/internal/agent/reliability"
	"github.com/ternlabs/tern/internal/agent/types"
)

// ReplayCmd re-executes a stored skill's or episode's action sequence
// without a model in the loop: every call still goes through the
// Reliability fabric, so retries, the circuit breaker, and obstruction
// handling all apply.
func ReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <skill-name|episode-id>",
		Short: "Re-execute a stored skill or episode's action sequence",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(replay(args[0]))
		},
	}
	return cmd
}

func replay(id string) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailed
	}
	defer stores.close()

	calls, skillName, err := resolveSequence(ctx, stores, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailed
	}
	if len(calls) == 0 {
		fmt.Fprintf(os.Stderr, "Error: %q has no recorded action sequence\n", id)
		return ExitFailed
	}

	factory, err := buildFactory(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailed
	}
	defer factory.Close()
	page, err := factory.NewPage(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open page: %v\n", err)
		return ExitFailed
	}

	fabric := reliability.New(cfg)
	start := time.Now()
	ok := true
	for i, call := range calls {
		if !replayable(call.Name) {
			fmt.Printf("Step %d: %s — skipped (not a browser action)\n", i+1, call.Name)
			continue
		}
		call.Origin = types.OriginRecovery
		result := fabric.Execute(ctx, page, call)
		status := "ok"
		if !result.Success {
			status = fmt.Sprintf("failed(%s): %s", result.ErrorKind, result.Reason)
			ok = false
		}
		fmt.Printf("Step %d: %s — %s\n", i+1, call.Name, status)
		if !result.Success {
			break
		}
	}

	if skillName != "" {
		if err := stores.manager.RecordSkillExecution(ctx, skillName, ok, time.Since(start)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: record skill stats: %v\n", err)
		}
	}

	if !ok {
		return ExitFailed
	}
	return ExitOK
}

// replayable reports whether a recorded call is a driver-level action the
// fabric can execute. Model-facing tools (final_answer) and
// orchestrator-level ones (snapshot, solve_captcha, attach_session) are
// announced and skipped.
func replayable(name types.ToolName) bool {
	switch name {
	case types.ToolFinalAnswer, types.ToolSnapshot, types.ToolSolveCaptcha, types.ToolAttachSession:
		return false
	}
	return true
}

// resolveSequence treats id as a skill name/id first, then as an episode
// id. skillName is non-empty only for the skill path, where the replay
// outcome folds back into the skill's success-rate stats.
func resolveSequence(ctx context.Context, stores *kernel, id string) ([]types.ToolCall, string, error) {
	if skill, err := stores.manager.SkillByName(ctx, id); err == nil {
		return skill.Steps, skill.Name, nil
	}
	ep, err := stores.manager.Episode(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("no skill or episode matches %q: %w", id, err)
	}
	return ep.Steps, "", nil
}
