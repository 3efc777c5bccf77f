package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/brand-radar/internal/pipeline"
)

var resumeAsk bool

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Finish interrupted jobs from persisted responses",
	Long: `Without a job id, sweeps every processing job and replays the analysis
stage for those whose results are missing or incomplete. With a job id,
finishes that job; --ask first asks any questions that have no persisted
response.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			if err := env.Pipeline.Resume(ctx, args[0], resumeAsk); err != nil {
				return err
			}
			job, err := env.Store.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\n", job.ID, job.Status)
			return nil
		}

		report, err := env.Pipeline.Recover(ctx)
		if err != nil {
			return err
		}
		formatRecoveryReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func formatRecoveryReport(w io.Writer, r *pipeline.RecoveryReport) {
	fmt.Fprintf(w, "Candidates: %d\n", r.Candidates)
	fmt.Fprintf(w, "Recovered:  %d\n", len(r.Recovered))
	fmt.Fprintf(w, "Failed:     %d\n", len(r.Failed))
	fmt.Fprintf(w, "Skipped:    %d\n", len(r.Skipped))
	for _, id := range r.Recovered {
		fmt.Fprintf(w, "  recovered %s\n", id)
	}
	for _, id := range r.Failed {
		fmt.Fprintf(w, "  failed    %s\n", id)
	}
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeAsk, "ask", false, "ask unanswered questions before analysing (single job only)")
	rootCmd.AddCommand(resumeCmd)
}
