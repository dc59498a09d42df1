// Package cli builds the agent's command tree: run one goal, replay a
// stored skill or episode, and inspect the persisted memory stores.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ternlabs/tern/internal/agent/config"
)

// Exit codes for the run command, mirroring the episode outcome taxonomy.
const (
	ExitOK        = 0
	ExitFailed    = 1
	ExitExhausted = 2
	ExitCancelled = 3
)

var (
	flagEnvFile    string
	flagConfigFile string
)

// SetupRootCmd assembles the root command and its three verbs.
func SetupRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tern",
		Short:         "Autonomous browser agent",
		Long:          "tern drives a real browser through an observe-think-act loop to complete natural-language goals.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagEnvFile, "env", "", "path to a .env file (default: ./.env if present)")
	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to a YAML config file, applied under environment variables")

	root.AddCommand(RunCmd())
	root.AddCommand(ReplayCmd())
	root.AddCommand(InspectCmd())
	return root
}

// loadConfig resolves configuration with precedence defaults < config
// file < environment.
func loadConfig() (*config.AgentConfig, error) {
	return config.LoadWithFile(flagEnvFile, flagConfigFile)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitFailed)
}
