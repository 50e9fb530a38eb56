package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/timecalc"
)

var queueFormat string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List actions waiting for delivery",
	Args:  cobra.NoArgs,
	RunE:  runQueue,
}

func init() {
	queueCmd.Flags().StringVar(&queueFormat, "format", "md", "Output format: md, json, yaml, csv")
}

func runQueue(cmd *cobra.Command, args []string) error {
	e, closeFn := openSection(cmd.Context())
	defer closeFn()

	if err := writeQueue(os.Stdout, e.Pending(), queueFormat, time.Now()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return nil
}

func writeQueue(w io.Writer, entries []model.ActionRequest, format string, now time.Time) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("error encoding JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
	case "yaml":
		data, err := yaml.Marshal(entries)
		if err != nil {
			return fmt.Errorf("error encoding YAML: %w", err)
		}
		fmt.Fprint(w, string(data))
	case "csv":
		fmt.Fprintln(w, "id,key,action,employee,job,clock_time,quantity,retries,enqueued_at,next_attempt_at")
		for _, r := range entries {
			qty := ""
			if r.Payload.Quantity != nil {
				qty = strconv.Itoa(*r.Payload.Quantity)
			}
			fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%s,%d,%s,%s\n",
				csvEscape(r.ID),
				csvEscape(r.Key),
				csvEscape(string(r.Payload.Kind)),
				csvEscape(r.Payload.EmployeeID),
				csvEscape(r.Payload.JobID),
				csvEscape(r.Payload.ClockTime),
				qty,
				r.RetryCount,
				r.EnqueuedAt.Format(time.RFC3339),
				r.NextEligibleAt.Format(time.RFC3339),
			)
		}
	case "md":
		if len(entries) == 0 {
			fmt.Fprintln(w, "Queue is empty.")
			return nil
		}
		fmt.Fprintln(w, "--------------------------------")
		for _, r := range entries {
			job := ""
			if r.Payload.JobID != "" {
				job = " job " + r.Payload.JobID
			}
			fmt.Fprintf(w, "%-9s%-20s%s\n", r.Payload.Kind, r.Payload.EmployeeID, job)
			fmt.Fprintf(w, "         queued %s ago, %d retries, next attempt %s\n",
				formatElapsed(int64(now.Sub(r.EnqueuedAt).Seconds())),
				r.RetryCount,
				timecalc.Until(r.NextEligibleAt, now))
		}
		fmt.Fprintln(w, "--------------------------------")
		fmt.Fprintf(w, "%d pending\n", len(entries))
	default:
		return fmt.Errorf("unknown format %q (want md, json, yaml or csv)", format)
	}
	return nil
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatElapsed(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
