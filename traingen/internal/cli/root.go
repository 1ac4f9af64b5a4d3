// Package cli implements the traingen command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "traingen",
	Short: "CartPulse training sample generator",
	Long: `traingen produces point-in-time-correct labeled training samples
from the CartPulse event history.

For every trigger event in the requested date range it computes a
feature vector from events strictly before the trigger, labels it by
looking for a qualifying event inside the label window after it, and
bulk-writes the samples into the training index. Each run is recorded
in Postgres.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
}
