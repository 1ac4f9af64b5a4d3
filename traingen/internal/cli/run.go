package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartpulse/cartpulse-stack/common/config"
	"github.com/cartpulse/cartpulse-stack/common/eventstore"
	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/traingen/internal/generator"
	"github.com/cartpulse/cartpulse-stack/traingen/internal/runs"
)

const dateLayout = "2006-01-02"

func newRunCmd() *cobra.Command {
	var (
		tenant   string
		startStr string
		endStr   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate samples for a date range",
		Long: `Generate training samples for trigger events in [start, end],
both dates inclusive. With --tenant the run covers one tenant; without
it, every tenant active in the range.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(dateLayout, startStr)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := time.Parse(dateLayout, endStr)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			if end.Before(start) {
				return fmt.Errorf("--end must not be before --start")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// End date inclusive: the scan bound is exclusive.
			return runGenerate(ctx, tenant, start, end.AddDate(0, 0, 1))
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant to generate for (default: all active tenants)")
	cmd.Flags().StringVar(&startStr, "start", "", "range start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&endStr, "end", "", "range end date, YYYY-MM-DD, inclusive (required)")
	cobra.CheckErr(cmd.MarkFlagRequired("start"))
	cobra.CheckErr(cmd.MarkFlagRequired("end"))
	return cmd
}

func runGenerate(ctx context.Context, tenant string, start, end time.Time) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With("service", "traingen")
	logging.SetDefault(logger)

	events, err := eventstore.New(cfg.OpenSearch)
	if err != nil {
		return fmt.Errorf("connect event store: %w", err)
	}

	repo, err := runs.NewRepository(ctx, cfg.Postgres.ConnString())
	if err != nil {
		return fmt.Errorf("connect run repository: %w", err)
	}
	defer repo.Close()

	tenants := []string{tenant}
	if tenant == "" {
		tenants, err = events.ActiveTenants(ctx, start, 1000)
		if err != nil {
			return fmt.Errorf("discover tenants: %w", err)
		}
		if len(tenants) == 0 {
			logger.Info("no active tenants in range, nothing to do")
			return nil
		}
	}

	gen := generator.New(events, events, cfg.Traingen, logger)

	var failures int
	for _, t := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := generateTenant(ctx, repo, gen, logger, t, start, end); err != nil {
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d tenant runs failed", failures, len(tenants))
	}
	return nil
}

// generateTenant wraps one tenant's generation in a bookkeeping record.
func generateTenant(ctx context.Context, repo *runs.Repository, gen *generator.Generator, logger *logging.Logger, tenant string, start, end time.Time) error {
	run, err := repo.Create(ctx, tenant, start, end)
	if err != nil {
		logger.Error("create run record failed", "tenant", tenant, "error", err.Error())
		return err
	}

	result, err := gen.GenerateRange(ctx, tenant, start, end)
	if err != nil {
		logger.Error("generation failed", "tenant", tenant, "run_id", run.ID, "error", err.Error())
		if failErr := repo.Fail(ctx, run.ID, err.Error()); failErr != nil {
			logger.Error("mark run failed", "run_id", run.ID, "error", failErr.Error())
		}
		return err
	}

	if err := repo.Complete(ctx, run.ID, result.Samples); err != nil {
		logger.Error("mark run completed", "run_id", run.ID, "error", err.Error())
		return err
	}

	fmt.Printf("run %s tenant=%s triggers=%d samples=%d positives=%d duplicates=%d\n",
		run.ID, tenant, result.Triggers, result.Samples, result.Positives, result.Duplicates)
	return nil
}
