package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/isdelr/winepair-be/internal/models"
)

const timeFormat = "2006-01-02 15:04:05"

func addOutputFlag(cmd *cobra.Command, output *string) {
	cmd.Flags().StringVarP(output, "output", "o", "table", "Output format: table|json")
}

func checkOutput(output string) error {
	switch output {
	case "table", "", "json":
		return nil
	default:
		return fmt.Errorf("unsupported --output: %s", output)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderRecords(w io.Writer, records []models.BackupRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tFILE\tDOCUMENTS\tSIZE\tCREATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Collection, r.FileName, r.DocumentCount, r.Size, r.CreatedAt.Format(timeFormat))
	}
	return tw.Flush()
}

func renderRunReport(w io.Writer, report models.RunReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tSTATUS\tFILE\tDOCUMENTS\tERROR")
	for _, res := range report.Results {
		file, docs := "-", "-"
		if res.Record != nil {
			file = res.Record.FileName
			docs = fmt.Sprint(res.Record.DocumentCount)
		}
		errText := "-"
		if res.Error != "" {
			errText = res.ErrorKind + ": " + res.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", res.Collection, res.Status, file, docs, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(report.Pruned) > 0 {
		fmt.Fprintf(w, "Pruned %d old backup(s).\n", len(report.Pruned))
	}
	return nil
}
