package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/brand-radar/internal/model"
)

var (
	analyzeJobFile string
	analyzeTarget  string
	analyzeCat     string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a brand visibility analysis job",
	Long:  "Submits a job from a YAML definition (or --target/--category for a legacy single-market job) and runs it to completion.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		spec, err := loadJobSpec()
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Pipeline.Submit(ctx, spec)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %s submitted for %s\n", job.ID, job.Target)

		if err := env.Pipeline.Run(ctx, job.ID); err != nil {
			if ctx.Err() != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "interrupted; resume with: brand-radar resume %s\n", job.ID)
			}
			return err
		}

		done, err := env.Store.GetJob(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "load job")
		}
		opps, err := env.Store.ListOpportunities(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "list opportunities")
		}

		zap.L().Info("analysis finished",
			zap.String("job_id", done.ID),
			zap.String("status", string(done.Status)),
			zap.Int("opportunities", len(opps)),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "job %s %s: %d opportunities\n", done.ID, done.Status, len(opps))
		if done.Error != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", done.Error)
		}
		return nil
	},
}

func loadJobSpec() (model.JobSpec, error) {
	if analyzeJobFile == "" {
		if analyzeTarget == "" {
			return model.JobSpec{}, eris.New("either --job or --target is required")
		}
		return model.JobSpec{Target: analyzeTarget, Category: analyzeCat}, nil
	}

	f, err := os.Open(analyzeJobFile)
	if err != nil {
		return model.JobSpec{}, eris.Wrapf(err, "open job file %s", analyzeJobFile)
	}
	defer f.Close() //nolint:errcheck

	spec, err := parseJobSpec(f)
	if err != nil {
		return model.JobSpec{}, err
	}
	if analyzeTarget != "" {
		spec.Target = analyzeTarget
	}
	if analyzeCat != "" {
		spec.Category = analyzeCat
	}
	return spec, nil
}

// parseJobSpec decodes a YAML job definition. Unknown keys are rejected so
// that typos do not silently drop markets or families.
func parseJobSpec(r io.Reader) (model.JobSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var spec model.JobSpec
	if err := dec.Decode(&spec); err != nil {
		return model.JobSpec{}, eris.Wrap(err, "parse job file")
	}
	if err := spec.Validate(); err != nil {
		return model.JobSpec{}, err
	}
	return spec, nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeJobFile, "job", "", "path to a YAML job definition")
	analyzeCmd.Flags().StringVar(&analyzeTarget, "target", "", "target brand (overrides the job file)")
	analyzeCmd.Flags().StringVar(&analyzeCat, "category", "", "target category (overrides the job file)")
	rootCmd.AddCommand(analyzeCmd)
}
