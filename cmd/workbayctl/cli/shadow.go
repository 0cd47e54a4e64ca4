package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/workbay/workbay/internal/shadow"
)

func newShadowCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shadow",
		Short: "Shadow audit monitor controls",
	}
	cmd.AddCommand(newShadowScanCommand(deps))
	cmd.AddCommand(newShadowListCommand(deps))
	return cmd
}

func newShadowScanCommand(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Queue a shadow audit scan on the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := deps.OpenQueue(cmd.Context())
			if err != nil {
				return commandError("connect queue", err)
			}
			defer queue.Close()

			id, err := queue.EnqueueShadowScan(cmd.Context(), requester())
			if err != nil {
				return commandError("enqueue shadow scan", err)
			}
			if id == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "a shadow scan is already queued")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued shadow scan %s\n", id)
			return nil
		},
	}
}

// ShadowListOptions are the flags of shadow list.
type ShadowListOptions struct {
	Kind     string
	Severity string
	State    string
	Job      string
	Limit    int
	JSON     bool
}

func newShadowListCommand(deps Deps) *cobra.Command {
	opts := &ShadowListOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shadow audit anomalies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := opts.filters()
			if err != nil {
				return commandError("invalid filters", err)
			}
			store, err := deps.OpenStore(cmd.Context())
			if err != nil {
				return commandError("connect store", err)
			}
			defer store.Close()

			anomalies, err := store.ListAnomalies(cmd.Context(), filters)
			if err != nil {
				return commandError("list anomalies", err)
			}
			if opts.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(anomalies)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSEVERITY\tKIND\tJOB\tDETECTED\tDETAIL")
			for _, a := range anomalies {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					a.ID, a.Severity, a.Kind, a.JobNumber, a.DetectedAt.UTC().Format("2006-01-02 15:04"), a.Detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "anomaly kind")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "critical, warning or info")
	cmd.Flags().StringVar(&opts.State, "state", "open", "open, resolved or all")
	cmd.Flags().StringVar(&opts.Job, "job", "", "job number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON")
	return cmd
}

func (o *ShadowListOptions) filters() (shadow.Filters, error) {
	f := shadow.Filters{
		Kind:      shadow.Kind(o.Kind),
		Severity:  shadow.Severity(o.Severity),
		JobNumber: strings.TrimSpace(o.Job),
		Limit:     o.Limit,
	}
	if o.Kind != "" && !f.Kind.Valid() {
		return f, fmt.Errorf("unknown kind %q", o.Kind)
	}
	if o.Severity != "" && !f.Severity.Valid() {
		return f, fmt.Errorf("unknown severity %q", o.Severity)
	}
	state, err := shadow.ParseState(o.State)
	if err != nil {
		return f, err
	}
	f.State = state
	return f, nil
}

func requester() string {
	if user := os.Getenv("USER"); user != "" {
		return "workbayctl:" + user
	}
	return "workbayctl"
}
