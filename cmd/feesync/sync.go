package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Resolve fees for one organizer's pending payments",
		Long: `Resolve provider fees for the pending payments of an organizer.

Fresh cache entries are reused; everything else is fetched from the provider
or, when that fails, estimated from the published fee schedule. Use --dry-run
to see what would be written without changing anything.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().StringP("organizer", "o", "", "Organizer (account) to sync")
	cmd.Flags().StringP("event", "e", "", "Only payments of this event")
	cmd.Flags().IntP("days", "d", 0, "Only payments from the last N days")
	cmd.Flags().IntP("limit", "n", 0, "Maximum payments to process (0 = no limit)")
	cmd.Flags().Bool("dry-run", false, "Compute fees without writing anything")
	cmd.Flags().Bool("force", false, "Re-resolve payments that already have a fee")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("organizer")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	organizer, _ := cmd.Flags().GetString("organizer")
	event, _ := cmd.Flags().GetString("event")
	days, _ := cmd.Flags().GetInt("days")
	limit, _ := cmd.Flags().GetInt("limit")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")
	asJSON, _ := cmd.Flags().GetBool("json")

	if days < 0 || limit < 0 {
		return fmt.Errorf("--days and --limit must not be negative")
	}

	scope := model.SyncScope{Organizer: organizer, Event: event, Limit: limit}
	if days > 0 {
		from := time.Now().UTC().AddDate(0, 0, -days)
		scope.From = &from
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.syncSvc.RunSync(cmd.Context(), scope, model.SyncOptions{DryRun: dryRun, Force: force})
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printSyncResult(cmd.OutOrStdout(), result)
	return nil
}

func printSyncResult(w io.Writer, r *model.SyncResult) {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "Run %s%s: %s in %s\n", r.RunID, mode, r.State, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  processed %d, cached %d, fetched %d, estimated %d, skipped %d\n",
		r.Processed, r.CachedHits, r.Fetched, r.Estimated, r.Skipped)

	for currency, total := range r.TotalFees() {
		fmt.Fprintf(w, "  total fees %s %s\n", total.StringFixed(model.MinorUnits(currency)), currency)
	}

	if len(r.Items) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PAYMENT\tPROVIDER\tTRANSACTION\tGROSS\tFEE\tNET\tSOURCE\tOUTCOME")
		for _, item := range r.Items {
			fee, net := "-", "-"
			if item.Outcome != model.OutcomeSkipped {
				units := model.MinorUnits(item.Currency)
				fee = item.Fee.StringFixed(units)
				net = item.Net.StringFixed(units)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%s\t%s\t%s\n",
				item.PaymentID, item.Provider, valueOrDash(item.TransactionID),
				item.Gross.StringFixed(model.MinorUnits(item.Currency)), item.Currency,
				fee, net, valueOrDash(string(item.Source)), item.Outcome)
		}
		_ = tw.Flush()
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "\nDiagnostics (%d):\n", len(r.Errors))
		for _, d := range r.Errors {
			fmt.Fprintf(w, "  [%s] %s %s: %s\n", d.Kind, d.Provider, d.Identifier, d.Message)
		}
	}
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
