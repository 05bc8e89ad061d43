package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/recurrence"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/store"
)

var upcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "List upcoming events",
	Long: `List the stored events that start now or later, in start order.

With --days the recurring events are expanded into every occurrence inside
the window instead.`,
	RunE: runUpcoming,
}

var (
	upcomingDays  int
	upcomingLimit int
	upcomingJSON  bool
)

func init() {
	rootCmd.AddCommand(upcomingCmd)
	upcomingCmd.Flags().IntVarP(&upcomingDays, "days", "d", 0, "expand occurrences for this many days")
	upcomingCmd.Flags().IntVarP(&upcomingLimit, "limit", "n", 0, "show at most this many events")
	upcomingCmd.Flags().BoolVar(&upcomingJSON, "json", false, "print JSON")
}

func runUpcoming(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.store.List(ctx, store.Filter{})
	if err != nil {
		return err
	}

	now := time.Now()
	if upcomingDays > 0 {
		res, err := a.sched.Expand(events, recurrence.ExpandConfig{
			RangeStart: now,
			RangeEnd:   now.AddDate(0, 0, upcomingDays),
		})
		if err != nil {
			return err
		}
		events = res.Occurrences
	} else {
		events = a.sched.Upcoming(events, now)
	}
	if upcomingLimit > 0 && len(events) > upcomingLimit {
		events = events[:upcomingLimit]
	}

	if upcomingJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	printEvents(cmd.OutOrStdout(), events, a.sched.Location())
	return nil
}

func printEvents(w io.Writer, events []model.ScheduledEvent, loc *time.Location) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No upcoming events.")
		return
	}
	for _, e := range events {
		start := e.Start.In(loc)
		line := fmt.Sprintf("%s  %s-%s  %s",
			start.Format("Mon Jan 02"),
			start.Format("15:04"),
			e.End.In(loc).Format("15:04"),
			e.Title,
		)
		if e.Recurrence.Recurring() {
			line += fmt.Sprintf(" (%s)", e.Recurrence)
		}
		if e.Location != "" {
			line += " @ " + e.Location
		}
		fmt.Fprintln(w, line)
	}
}
