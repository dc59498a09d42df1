package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// InspectCmd groups the memory-store inspection verbs.
func InspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect persisted agent state",
	}
	cmd.AddCommand(memoryCmd())
	return cmd
}

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Operate on the episodic, semantic, skill, and site-memory stores",
	}

	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent episodes",
		Run: func(cmd *cobra.Command, args []string) {
			withStores(func(ctx context.Context, k *kernel) int {
				episodes, err := k.manager.RecentEpisodes(ctx, listLimit)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					return ExitFailed
				}
				if len(episodes) == 0 {
					fmt.Println("No episodes recorded.")
					return ExitOK
				}
				for _, ep := range episodes {
					fmt.Printf("%s  %-9s  %6s  %s\n", ep.ID, ep.Outcome, ep.Duration.Round(100*time.Millisecond), ep.GoalText)
				}
				return ExitOK
			})
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 20, "maximum episodes to list")

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored episode, pattern, and skill",
		Run: func(cmd *cobra.Command, args []string) {
			withStores(func(ctx context.Context, k *kernel) int {
				if err := k.manager.Clear(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					return ExitFailed
				}
				fmt.Println("Memory cleared.")
				return ExitOK
			})
		},
	}

	var exportHTML bool
	var exportOut string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export memory as markdown (or HTML)",
		Run: func(cmd *cobra.Command, args []string) {
			withStores(func(ctx context.Context, k *kernel) int {
				var doc string
				var err error
				if exportHTML {
					doc, err = k.manager.ExportHTML(ctx, 100)
				} else {
					doc, err = k.manager.ExportMarkdown(ctx, 100)
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					return ExitFailed
				}
				if exportOut != "" {
					if err := os.WriteFile(exportOut, []byte(doc), 0600); err != nil {
						fmt.Fprintf(os.Stderr, "Error: %v\n", err)
						return ExitFailed
					}
					fmt.Printf("Exported to %s\n", exportOut)
					return ExitOK
				}
				fmt.Print(doc)
				return ExitOK
			})
		},
	}
	export.Flags().BoolVar(&exportHTML, "html", false, "render HTML instead of markdown")
	export.Flags().StringVarP(&exportOut, "out", "o", "", "write to a file instead of stdout")

	cmd.AddCommand(list, clear, export)
	return cmd
}

// withStores opens the persisted stores, runs fn, closes them, and exits
// with fn's code.
func withStores(fn func(ctx context.Context, k *kernel) int) {
	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	ctx := context.Background()
	k, err := openStores(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	code := fn(ctx, k)
	k.close()
	os.Exit(code)
}
