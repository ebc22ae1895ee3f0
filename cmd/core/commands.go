package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/models"
	"github.com/stevedores/dashboard-sync/internal/sync/status"
)

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and records needing attention",
		Example: `  harborctl status --store /var/lib/harbor/harbor-sync.db
  harborctl status -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openStore(cmd.Context(), opts.StorePath)
			if err != nil {
				return err
			}
			defer closeFn()

			snap := status.NewReporter(store, nil, nil).Snapshot()
			return render(cmd.OutOrStdout(), opts.Output, snap, func(w io.Writer) error {
				return writeStatusText(w, snap)
			})
		},
	}
}

func newPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List records not yet synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openStore(cmd.Context(), opts.StorePath)
			if err != nil {
				return err
			}
			defer closeFn()

			out := []status.RecordSummary{}
			for _, rec := range store.List() {
				if rec.Status.Unsynced() || rec.Status == models.StatusError {
					out = append(out, status.Summarize(rec))
				}
			}
			return render(cmd.OutOrStdout(), opts.Output, out, func(w io.Writer) error {
				return writeRecordsText(w, out)
			})
		},
	}
}

func newRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <record-id>",
		Short: "Move an error record back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openStore(cmd.Context(), opts.StorePath)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := store.Requeue(cmd.Context(), args[0])
			if err != nil {
				return recordError("retry", err)
			}
			summary := status.Summarize(rec)
			return render(cmd.OutOrStdout(), opts.Output, summary, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "record %s requeued\n", rec.ID)
				return err
			})
		},
	}
}

func newDiscardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <record-id>",
		Short: "Drop a record so it is never delivered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openStore(cmd.Context(), opts.StorePath)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.Discard(cmd.Context(), args[0]); err != nil {
				return recordError("discard", err)
			}
			result := map[string]string{"discarded": args[0]}
			return render(cmd.OutOrStdout(), opts.Output, result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "record %s discarded\n", args[0])
				return err
			})
		},
	}
}

func newPurgeCommand(opts *RootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove synced records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openStore(cmd.Context(), opts.StorePath)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := store.PurgeSynced(cmd.Context(), olderThan)
			if err != nil {
				return wrapExit(ExitFailure, "purge failed", err)
			}
			result := map[string]int{"purged": n}
			return render(cmd.OutOrStdout(), opts.Output, result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "purged %d synced records\n", n)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only purge records synced at least this long ago")
	return cmd
}

// recordError maps store errors to exit codes. A missing record or an
// illegal state change is the operator's mistake, not a failure.
func recordError(action string, err error) error {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrNotFound, apperrors.ErrInvalid:
		return wrapExit(ExitCommandError, action+" rejected", err)
	}
	return wrapExit(ExitFailure, action+" failed", err)
}

// =====================================================
// Text output
// =====================================================

func writeStatusText(w io.Writer, s status.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", s.Total)
	fmt.Fprintf(tw, "pending\t%d\n", s.Pending)
	fmt.Fprintf(tw, "syncing\t%d\n", s.Syncing)
	fmt.Fprintf(tw, "synced\t%d\n", s.Synced)
	fmt.Fprintf(tw, "conflict\t%d\n", s.Conflict)
	fmt.Fprintf(tw, "error\t%d\n", s.Error)
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(s.Problems) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "needs attention:")
	return writeRecordsText(w, s.Problems)
}

func writeRecordsText(w io.Writer, recs []status.RecordSummary) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no records")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENTITY\tTARGET\tSTATUS\tRETRIES\tUPDATED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RecordID, r.EntityType, r.TargetID, r.Status, r.RetryCount, r.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
