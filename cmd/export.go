package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/brand-radar/internal/model"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export a job's opportunities as JSON, CSV or XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportFormat == "xlsx" && exportOut == "" {
			return eris.New("xlsx export requires --out")
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetJob(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "get job %s", args[0])
		}
		opps, err := st.ListOpportunities(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list opportunities")
		}

		w := cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", exportOut)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		if err := writeOpportunities(w, exportFormat, opps); err != nil {
			return err
		}
		if exportOut != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d opportunities to %s\n", len(opps), exportOut)
		}
		return nil
	},
}

var exportColumns = []string{
	"id", "tier", "type", "market", "target", "impact", "effort",
	"title", "description", "status", "implemented_at", "evidence", "sources", "notes",
}

func writeOpportunities(w io.Writer, format string, opps []model.Opportunity) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if opps == nil {
			opps = []model.Opportunity{}
		}
		return eris.Wrap(enc.Encode(opps), "export: encode json")
	case "csv":
		return writeOpportunitiesCSV(w, opps)
	case "xlsx":
		return writeOpportunitiesXLSX(w, opps)
	default:
		return eris.Errorf("export: unknown format %q (json, csv, xlsx)", format)
	}
}

func opportunityRecord(o model.Opportunity) []string {
	implemented := ""
	if o.ImplementedAt != nil {
		implemented = o.ImplementedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return []string{
		o.ID,
		string(o.Tier),
		string(o.Type),
		o.Market,
		o.Target,
		strconv.FormatFloat(o.Impact, 'f', 4, 64),
		strconv.FormatFloat(o.Effort, 'f', 2, 64),
		o.Title,
		o.Description,
		string(o.Status),
		implemented,
		strings.Join(o.Evidence, "; "),
		strings.Join(o.Sources, "; "),
		strings.Join(o.Notes, "; "),
	}
}

func writeOpportunitiesCSV(w io.Writer, opps []model.Opportunity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, o := range opps {
		if err := cw.Write(opportunityRecord(o)); err != nil {
			return eris.Wrapf(err, "export: write csv row %s", o.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func writeOpportunitiesXLSX(w io.Writer, opps []model.Opportunity) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Opportunities")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range exportColumns {
		header.AddCell().SetString(c)
	}
	for _, o := range opps {
		row := sheet.AddRow()
		for i, v := range opportunityRecord(o) {
			cell := row.AddCell()
			switch exportColumns[i] {
			case "impact":
				cell.SetFloat(o.Impact)
			case "effort":
				cell.SetFloat(o.Effort)
			default:
				cell.SetString(v)
			}
		}
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json, csv or xlsx")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout; required for xlsx)")
	rootCmd.AddCommand(exportCmd)
}
