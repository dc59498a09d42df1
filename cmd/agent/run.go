package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ternlabs/tern/internal/agent/types"
)

// RunCmd executes one natural-language goal.
func RunCmd() *cobra.Command {
	var withValence bool

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Execute one goal against a live browser",
		Long: `Run drives the browser through an observe-think-act loop until the goal
completes, the iteration budget runs out, or the goal deadline passes.

Examples:
  tern run "extract all links"
  tern run "log into the dashboard and download the latest invoice"
  AGENT_DEBUG_BROWSER_PORT=9222 tern run "check my open orders"`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runGoal(strings.Join(args, " "), withValence))
		},
	}
	cmd.Flags().BoolVar(&withValence, "valence", false, "enable the optional mood bus that tracks ReAct events")
	return cmd
}

func runGoal(goalText string, withValence bool) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k, err := buildKernel(ctx, cfg, withValence)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailed
	}
	defer k.close()

	goal := types.Goal{
		ID:        uuid.NewString(),
		Text:      goalText,
		CreatedAt: time.Now(),
	}
	k.manager.Working().Reset()

	answer, episode, err := k.orch.Run(ctx, goal)
	if answer != "" {
		fmt.Println(answer)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Goal ended without success: %v\n", err)
	}

	switch episode.Outcome {
	case types.OutcomeSuccess:
		return ExitOK
	case types.OutcomeTimeout:
		return ExitExhausted
	case types.OutcomeCancelled:
		return ExitCancelled
	default:
		return ExitFailed
	}
}
