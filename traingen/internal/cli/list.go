package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartpulse/cartpulse-stack/common/config"
	"github.com/cartpulse/cartpulse-stack/traingen/internal/runs"
)

func newListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent generator runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			repo, err := runs.NewRepository(cmd.Context(), cfg.Postgres.ConnString())
			if err != nil {
				return fmt.Errorf("connect run repository: %w", err)
			}
			defer repo.Close()

			list, err := repo.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tTENANT\tRANGE\tSTATUS\tSAMPLES\tSTARTED")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%s..%s\t%s\t%d\t%s\n",
					r.ID, r.TenantID,
					r.RangeStart.Format("2006-01-02"),
					r.RangeEnd.Format("2006-01-02"),
					r.Status, r.SampleCount,
					r.StartedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}
