package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saas-radar/internal/model"
	"github.com/sells-group/saas-radar/internal/pipeline"
	"github.com/sells-group/saas-radar/internal/store"
)

var (
	runDryRun   bool
	runForce    bool
	runDeadline time.Duration
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full pipeline pass",
	Long:  "Fetches every enabled source, normalizes and enriches the items and upserts them. --dry-run skips persistence; --force ignores the minimum interval between runs.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		return withStore(ctx, func(st store.Store) error {
			runner, err := pipeline.Build(cfg, st)
			if err != nil {
				return eris.Wrap(err, "build pipeline")
			}

			opts := pipeline.RunOptions(cfg.Run, runDryRun, runForce)
			if runDeadline > 0 {
				opts.Deadline = runDeadline
			}

			summary, err := runner.Run(ctx, opts)
			if errors.Is(err, pipeline.ErrTooSoon) {
				zap.L().Info("run skipped", zap.Error(err))
				fmt.Fprintln(os.Stderr, "Skipped:", err)
				return nil
			}
			if summary != nil {
				if runJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					if encErr := enc.Encode(summary); encErr != nil {
						return encErr
					}
				} else {
					formatSummary(os.Stdout, summary)
				}
			}
			return eris.Wrap(err, "pipeline run")
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "ingest and enrich without writing to the store")
	runCmd.Flags().BoolVar(&runForce, "force", false, "ignore the minimum interval since the last run")
	runCmd.Flags().DurationVar(&runDeadline, "deadline", 0, "override run.deadline_secs (e.g. 5m)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run summary as JSON")
	rootCmd.AddCommand(runCmd)
}

// formatSummary writes a per-stage run report to out.
func formatSummary(out io.Writer, s *model.RunSummary) {
	mode := "run"
	if s.DryRun {
		mode = "dry run"
	}
	_, _ = fmt.Fprintf(out, "%s %s (%s)\n\n", mode, s.RunID, s.Duration.Round(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSTATUS\tRECORDS\tATTEMPTS\tERROR")
	for _, o := range s.Sources {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", o.SourceID, o.Status, o.Records, o.Attempts, truncate(o.Error, 60))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Fetched:\t%d\n", s.Fetched)
	_, _ = fmt.Fprintf(w, "Normalized:\t%d (invalid %d, duplicates %d, updates %d)\n", s.Normalized, s.Invalid, s.Duplicates, s.Updates)
	_, _ = fmt.Fprintf(w, "Enriched:\t%d AI, %d fallback ($%.4f)\n", s.EnrichedAI, s.EnrichedFallback, s.CostUSD)
	if s.DryRun {
		_, _ = fmt.Fprintf(w, "Persisted:\tskipped\n")
	} else {
		_, _ = fmt.Fprintf(w, "Persisted:\t%d (updates %d, failed %d, final batch size %d)\n", s.Persisted, s.PersistedUpdates, s.PersistFailed, s.FinalBatchSize)
	}
	if s.DeadlineExceeded {
		_, _ = fmt.Fprintf(w, "Deadline:\texceeded\n")
	}
	_ = w.Flush()

	for _, e := range s.EnrichErrors {
		_, _ = fmt.Fprintf(out, "enrich error: %s\n", e)
	}
	for _, e := range s.PersistErrors {
		_, _ = fmt.Fprintf(out, "persist error: %s\n", e)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
