// Package cli implements the workbayctl operator commands.
package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/shadow"
	"github.com/workbay/workbay/jobs"
)

// Store is the read-only data access the operator commands need.
type Store interface {
	ListLinkages(ctx context.Context) ([]jobcard.Linkage, error)
	ListAnomalies(ctx context.Context, filters shadow.Filters) ([]shadow.Anomaly, error)
	Close()
}

// Queue submits and inspects background tasks.
type Queue interface {
	jobs.QueueInspector
	EnqueueShadowScan(ctx context.Context, requestedBy string) (string, error)
	Close() error
}

// Deps opens connections lazily so that --help and flag errors never dial out.
type Deps struct {
	Logger    *slog.Logger
	OpenStore func(ctx context.Context) (Store, error)
	OpenQueue func(ctx context.Context) (Queue, error)
}

func (d Deps) logger(w io.Writer) *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// NewRootCommand builds the workbayctl command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "workbayctl",
		Short:         "Workbay operator tools",
		Long:          "Operator tools for the Workbay job store: baseline reconciliation and shadow audit control.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newReconcileCommand(deps))
	cmd.AddCommand(newShadowCommand(deps))
	cmd.AddCommand(newQueueCommand(deps))
	return cmd
}
