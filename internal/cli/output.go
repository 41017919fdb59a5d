package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"basegraph.app/courier/internal/domain"
)

// Exit codes for queuectl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the queue is unhealthy or a repair left errors
	ExitCommandError = 2 // bad flags, unreadable queue or ledger
)

// ExitError carries the exit code a command wants.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRecords(w io.Writer, recs []domain.QueueRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no records")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tKIND\tAUTHOR\tATTEMPTS\tQUEUED\tLAST ERROR")
	for _, rec := range recs {
		lastErr := "-"
		if rec.LastError != nil {
			lastErr = rec.LastError.Kind + ": " + truncate(rec.LastError.Message, 60)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.ID, rec.State, rec.Kind, rec.AuthorHandle, rec.Attempts,
			rec.FirstQueuedAt.Format(time.RFC3339), lastErr)
	}
	return tw.Flush()
}

func writeCounts(w io.Writer, counts domain.QueueCounts) error {
	states := make([]string, 0, len(counts))
	for st := range counts {
		states = append(states, string(st))
	}
	sort.Strings(states)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, st := range states {
		fmt.Fprintf(tw, "%s\t%d\n", st, counts[domain.State(st)])
	}
	return tw.Flush()
}

func writeHealth(w io.Writer, snap domain.HealthSnapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "status\t%s\n", snap.Status)
	fmt.Fprintf(tw, "pending\t%d\n", snap.PendingDepth)
	fmt.Fprintf(tw, "quarantine\t%d\n", snap.QuarantineCount)
	fmt.Fprintf(tw, "error rate\t%.2f (%d samples)\n", snap.ErrorRate, snap.Window)
	if snap.LastHealthError != "" {
		fmt.Fprintf(tw, "last health error\t%s\n", snap.LastHealthError)
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
