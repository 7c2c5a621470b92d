package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/jobwatch/internal/history"
)

// historyCmd lists recorded outcomes.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded job outcomes",
	Long: `Show terminal outcomes recorded by 'jobwatch run' (history_db in the config).

Entries are listed most recently finished first. Restarted attempts show the
correlation ID of the attempt they replaced.

Example:
  jobwatch history --db jobwatch.db
  jobwatch history --db jobwatch.db --subject magnesium --state error --limit 10
  jobwatch history --db jobwatch.db --json`,
	RunE:         runHistory,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().String("db", "", "path to history database (required)")
	historyCmd.Flags().String("subject", "", "only show this subject")
	historyCmd.Flags().String("state", "", "only show this state (completed, error, timeout)")
	historyCmd.Flags().Int("limit", 20, "maximum number of entries")
	historyCmd.Flags().Bool("json", false, "print entries as JSON")
	_ = historyCmd.MarkFlagRequired("db")
}

func runHistory(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	subject, _ := cmd.Flags().GetString("subject")
	state, _ := cmd.Flags().GetString("state")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	h, err := history.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = h.Close() }()

	entries, err := h.List(cmd.Context(), history.Query{Subject: subject, State: state, Limit: limit})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []history.Entry{}
		}
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No recorded jobs.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tSUBJECT\tSTATE\tKIND\tPOLLS\tCORRELATION ID\tPREVIOUS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.FinishedAt.Local().Format(time.DateTime),
			e.Subject, e.State, e.ErrorKind, e.PollAttempts,
			e.CorrelationID, e.PreviousCorrelationID)
	}
	return tw.Flush()
}
