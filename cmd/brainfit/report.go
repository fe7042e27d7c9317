package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/brainfit/brainfit/internal/manager"
	"github.com/brainfit/brainfit/internal/record"
)

var reportCSV string

var reportCmd = &cobra.Command{
	Use:   "report <record-dir>...",
	Short: "Print the evaluation of exported repeats",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd.OutOrStdout(), args, reportCSV)
	},
}

//nolint:gochecknoinit
func init() {
	reportCmd.Flags().StringVar(&reportCSV, "csv", "", "also write the pooled outputs to this file")
}

// runReport pools the eval files of dirs and prints the classification report.
func runReport(out io.Writer, dirs []string, csvPath string) error {
	ers := make([]*record.EvalRecord, 0, len(dirs))
	for _, dir := range dirs {
		er := record.LoadEvalRecord(dir)
		if er == nil {
			return errors.Errorf("%s has no evaluation; is the repeat finished?", dir)
		}
		ers = append(ers, er)
	}
	er := record.AggregateEvalRecords(ers...)

	writeReport(out, er)

	if csvPath == "" {
		return nil
	}
	f, err := os.Create(csvPath) // #nosec G304
	if err != nil {
		return errors.Wrapf(err, "creating %s", csvPath)
	}
	if err := manager.WriteOutputCSV(f, er); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %s", csvPath)
	}
	return errors.Wrapf(f.Close(), "closing %s", csvPath)
}

func writeReport(out io.Writer, er *record.EvalRecord) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	report := er.ClassificationReport()
	fmt.Fprintln(tw, "class\tprecision\trecall\tf1-score\tsupport\t")
	for c, cr := range report.Classes {
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.4f\t%d\t\n", c, cr.Precision, cr.Recall, cr.F1, cr.Support)
	}
	m := report.Macro
	fmt.Fprintf(tw, "macro avg\t%.4f\t%.4f\t%.4f\t%d\t\n", m.Precision, m.Recall, m.F1, m.Support)
	_ = tw.Flush()
	fmt.Fprintf(out, "\nsamples: %d\naccuracy: %.2f%%\nauc: %.4f\nkappa: %.4f\n",
		er.Len(), er.Acc(), er.AUC(), er.Kappa())
}
