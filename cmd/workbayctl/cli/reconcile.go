package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/workbay/workbay/internal/reconcile"
)

// ReconcileOptions are the flags of the reconcile command.
type ReconcileOptions struct {
	Baseline string
	Format   string
	Output   string
}

func newReconcileCommand(deps Deps) *cobra.Command {
	opts := &ReconcileOptions{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare live job linkages with a baseline file",
		Long: `Compare live job to customer linkages with a trusted baseline.

Exits 0 when nothing drifted, 1 when mismatches were found and 2 on error.
The comparison only reads; nothing is repaired.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, deps, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Baseline, "baseline", "", "baseline JSON file")
	cmd.Flags().StringVar(&opts.Format, "format", "csv", "output format (csv|json|xlsx)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the report to a file instead of stdout")
	_ = cmd.MarkFlagRequired("baseline")
	return cmd
}

func runReconcile(cmd *cobra.Command, deps Deps, opts *ReconcileOptions) error {
	switch opts.Format {
	case "csv", "json":
	case "xlsx":
		if opts.Output == "" {
			return commandError("xlsx output needs --output", nil)
		}
	default:
		return commandError(fmt.Sprintf("unknown format %q", opts.Format), nil)
	}

	file, err := os.Open(opts.Baseline)
	if err != nil {
		return commandError("open baseline", err)
	}
	defer file.Close()
	baseline, err := reconcile.ParseBaseline(file)
	if err != nil {
		return commandError("read baseline", err)
	}

	ctx := cmd.Context()
	store, err := deps.OpenStore(ctx)
	if err != nil {
		return commandError("connect store", err)
	}
	defer store.Close()

	engine := reconcile.NewEngine(store, deps.logger(cmd.ErrOrStderr()))
	report, err := engine.Analyze(ctx, baseline)
	if err != nil {
		return commandError("reconcile", err)
	}

	out := cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return commandError("create output", err)
		}
		defer f.Close()
		out = f
	}
	if err := writeReport(out, opts.Format, report); err != nil {
		return commandError("write report", err)
	}

	s := report.Summary
	fmt.Fprintf(cmd.ErrOrStderr(), "baseline=%d live=%d missing=%d mismatched=%d extra=%d\n",
		s.Baseline, s.Live, s.Missing, s.Mismatched, s.Extra)
	if !report.Clean() {
		return &ExitError{Code: ExitDrift, Message: fmt.Sprintf("%d linkage(s) drifted from the baseline", len(report.Mismatches))}
	}
	return nil
}

func writeReport(w io.Writer, format string, report reconcile.Report) error {
	switch format {
	case "json":
		return reconcile.WriteJSON(w, report)
	case "xlsx":
		return reconcile.WriteXLSX(w, report.Mismatches)
	default:
		return reconcile.WriteCSV(w, report.Mismatches)
	}
}
