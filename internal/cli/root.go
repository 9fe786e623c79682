// Package cli holds the flowbase command tree: the HTTP server and the
// offline tools for evaluating expressions, validating definitions and
// rendering entity contexts.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/pitabwire/flowbase/internal/observability"
)

// SetVersion records build information injected into main via ldflags.
func SetVersion(version, commit string) {
	observability.Version = version
	observability.Commit = commit
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowbase",
		Short: "Workflow expression, template and entity-context engine",
		Long: `flowbase executes workflow definitions whose nodes branch on boolean
expressions, resolve {{ path }} templates against run state, and read
entity records flattened into label-keyed contexts.

Run 'flowbase serve' to start the HTTP API.`,
		Version:       observability.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(),
		newEvalCmd(),
		newValidateCmd(),
		newContextCmd(),
	)
	return cmd
}
