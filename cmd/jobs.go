package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/brand-radar/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect analysis jobs",
}

var (
	jobsListStatus string
	jobsListTarget string
	jobsListLimit  int
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jobs, err := st.ListJobs(ctx, model.JobFilter{
			Status: model.JobStatus(jobsListStatus),
			Target: jobsListTarget,
			Limit:  jobsListLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
			return nil
		}
		formatJobsList(cmd.OutOrStdout(), jobs)
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job with its scope and results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get job %s", args[0])
		}
		markets, err := st.ListMarkets(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "list markets")
		}
		results, err := st.ListAnalysisResults(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "list results")
		}
		opps, err := st.ListOpportunities(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "list opportunities")
		}
		formatJobDetail(cmd.OutOrStdout(), job, markets, results, opps)
		return nil
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job and everything persisted for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteJob(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "delete job %s", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func formatJobsList(w io.Writer, jobs []model.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tCATEGORY\tSTATUS\tPROGRESS\tCREATED\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\t%s\n",
			shortID(j.ID),
			j.Target,
			j.Category,
			j.Status,
			j.Progress,
			j.CreatedAt.Format("2006-01-02 15:04"),
			truncate(j.Error, 60),
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatJobDetail(w io.Writer, job *model.Job, markets []model.Market, results []model.AnalysisResult, opps []model.Opportunity) {
	fmt.Fprintf(w, "ID:        %s\n", job.ID)
	fmt.Fprintf(w, "Target:    %s\n", job.Target)
	fmt.Fprintf(w, "Category:  %s\n", job.Category)
	fmt.Fprintf(w, "Status:    %s (%d%%, %d/%d questions)\n", job.Status, job.Progress, job.Processed, job.TotalQuestions)
	if len(job.Competitors) > 0 {
		fmt.Fprintf(w, "Competitors: %s\n", strings.Join(job.Competitors, ", "))
	}
	if job.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", job.Error)
	}
	fmt.Fprintf(w, "Created:   %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Updated:   %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(markets) > 0 {
		codes := make([]string, 0, len(markets))
		for _, m := range markets {
			c := m.Code
			if m.IsPrimary {
				c += "*"
			}
			codes = append(codes, c)
		}
		fmt.Fprintf(w, "Markets:   %s\n", strings.Join(codes, ", "))
	}

	if len(results) > 0 {
		fmt.Fprintln(w, "\nResults:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  KIND\tMARKET\tCATEGORY")
		for _, r := range results {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Kind, dash(r.Market), dash(r.Category))
		}
		tw.Flush() //nolint:errcheck
	}

	if len(opps) > 0 {
		fmt.Fprintln(w, "\nOpportunities:")
		formatOpportunities(w, opps)
	}
}

func formatOpportunities(w io.Writer, opps []model.Opportunity) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tTIER\tTYPE\tMARKET\tIMPACT\tEFFORT\tSTATUS\tTITLE")
	for _, o := range opps {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\t%s\n",
			o.ID, o.Tier, o.Type, dash(o.Market), o.Impact, o.Effort, o.Status, truncate(o.Title, 60))
	}
	tw.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsListStatus, "status", "", "filter by status (processing, completed, failed)")
	jobsListCmd.Flags().StringVar(&jobsListTarget, "target", "", "filter by target brand")
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 20, "max jobs to list")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsDeleteCmd)
	rootCmd.AddCommand(jobsCmd)
}
