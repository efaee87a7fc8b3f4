package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pkgconfig "mailassist/pkg/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// rootOptions 所有子命令共享的配置选择
type rootOptions struct {
	env       string
	configDir string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "assistant",
		Short: "Email assistant agent for 'respond' emails",
		Long: `Analyzes emails in the 'respond' category: computes embeddings, retrieves
related history, extracts payment amounts and case references, and stores
a structured analysis with suggested responses.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.env, "env", pkgconfig.GetConfigEnv(), "config environment (config/<env>.yaml)")
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "config directory")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newProcessCmd(opts))
	cmd.AddCommand(newMonitorCmd(opts))
	cmd.AddCommand(newReviewCmd(opts))
	cmd.AddCommand(newInteractiveCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newPaymentsCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newOutboxCmd(opts))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "assistant %s (commit: %s)\n", Version, Commit)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
