package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/patientsync/internal/core"
)

func printReconcileSummary(w io.Writer, r *core.ReconcileResult, csvPath, batchPath string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Reconcile summary")
	fmt.Fprintf(tw, "  processed\t%d\n", r.Processed)
	fmt.Fprintf(tw, "  matched\t%d\t(%d corrected)\n", r.Matched, r.Corrected)
	fmt.Fprintf(tw, "  new\t%d\t(%d pending)\n", r.New, len(r.Pending))
	fmt.Fprintf(tw, "  skipped rows\t%d\n", r.Skipped)
	fmt.Fprintf(tw, "  build failures\t%d\n", r.BuildFailures)
	fmt.Fprintf(tw, "  annotated csv\t%s\n", csvPath)
	fmt.Fprintf(tw, "  pending batch\t%s\n", batchPath)
	fmt.Fprintf(tw, "  duration\t%s\n", r.Duration.Round(time.Millisecond))
	tw.Flush()

	for _, re := range r.SkippedRows {
		fmt.Fprintf(w, "  skipped %s\n", re.Error())
	}
}

func printInsertSummary(w io.Writer, r *core.InsertResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Insert summary")
	fmt.Fprintf(tw, "  total\t%d\n", r.Total)
	fmt.Fprintf(tw, "  inserted\t%d\n", r.Inserted)
	fmt.Fprintf(tw, "  duplicates\t%d\n", r.Duplicates)
	fmt.Fprintf(tw, "  failed\t%d\n", len(r.Failed))
	fmt.Fprintf(tw, "  duration\t%s\n", r.Duration.Round(time.Millisecond))
	tw.Flush()

	for _, f := range r.Failed {
		fmt.Fprintf(w, "  failed %s <%s> [%s] %s\n", f.ID, f.Email, f.Code, f.Reason)
	}
}
