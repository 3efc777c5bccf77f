package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/store"
)

var opportunityCmd = &cobra.Command{
	Use:   "opportunity",
	Short: "Track progress on scored opportunities",
}

var (
	oppStatus string
	oppNote   string
)

var opportunityUpdateCmd = &cobra.Command{
	Use:   "update <job-id> <opportunity-id>",
	Short: "Set the status of an opportunity or append an outcome note",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		upd, err := buildOpportunityUpdate(oppStatus, oppNote, time.Now().UTC())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpdateOpportunity(ctx, args[0], args[1], upd); err != nil {
			return eris.Wrapf(err, "update opportunity %s", args[1])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[1])
		return nil
	},
}

func buildOpportunityUpdate(status, note string, at time.Time) (store.OpportunityUpdate, error) {
	upd := store.OpportunityUpdate{Note: note, At: at}
	if status != "" {
		s := model.OpportunityStatus(status)
		if !s.IsValid() {
			return upd, eris.Errorf("unknown status %q (open, in_progress, implemented, dismissed)", status)
		}
		upd.Status = &s
	}
	if upd.Status == nil && upd.Note == "" {
		return upd, eris.New("nothing to update: pass --status or --note")
	}
	return upd, nil
}

func init() {
	opportunityUpdateCmd.Flags().StringVar(&oppStatus, "status", "", "new status (open, in_progress, implemented, dismissed)")
	opportunityUpdateCmd.Flags().StringVar(&oppNote, "note", "", "outcome note to append")

	opportunityCmd.AddCommand(opportunityUpdateCmd)
	rootCmd.AddCommand(opportunityCmd)
}
