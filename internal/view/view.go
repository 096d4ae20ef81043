// Package view renders occurrences for the terminal: the agenda list,
// week and month grids, and the recurring-series preview shown before a
// destructive edit.
package view

import (
	"fmt"
	"io"
	"strings"
	"time"

	"calcli/internal/event"
	"calcli/internal/expand"
)

// Options controls rendering.
type Options struct {
	// Color enables ANSI escape sequences.
	Color bool

	// ASCII replaces box-drawing characters with plain ASCII.
	ASCII bool

	// Now anchors the today marker. Zero means time.Now().
	Now time.Time
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// ANSI sequences used when Options.Color is set.
const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiCyan   = "\x1b[36m"
	ansiYellow = "\x1b[33m"
	ansiFaint  = "\x1b[2m"
)

func (o Options) paint(s, code string) string {
	if !o.Color || s == "" {
		return s
	}
	return code + s + ansiReset
}

// Agenda writes the occurrences grouped by day, ascending. Today's
// header is highlighted; an overridden occurrence is marked with "*".
func Agenda(w io.Writer, occs []event.Occurrence, opts Options) {
	if len(occs) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}

	today := dayOf(opts.now())
	var currentDay time.Time
	for _, occ := range occs {
		day := dayOf(occ.Start)
		if !day.Equal(currentDay) {
			currentDay = day
			header := day.Format("Mon 02 Jan 2006")
			if day.Equal(today) {
				header += " (today)"
				fmt.Fprintln(w, opts.paint(header, ansiBold+ansiYellow))
			} else {
				fmt.Fprintln(w, opts.paint(header, ansiBold+ansiCyan))
			}
		}
		fmt.Fprintln(w, "  "+formatOccurrence(occ, opts))
	}
}

func formatOccurrence(occ event.Occurrence, opts Options) string {
	var when string
	switch {
	case occ.AllDay:
		when = "all day    "
	case dayOf(occ.Start).Equal(dayOf(occ.End)) || occ.End.Equal(dayOf(occ.Start).AddDate(0, 0, 1)):
		when = occ.Start.Format("15:04") + "-" + occ.End.Format("15:04")
	default:
		// Spans days; show the full end.
		when = occ.Start.Format("15:04") + " → " + occ.End.Format("Jan 02 15:04")
	}

	line := when + "  " + occ.Source.Summary
	if occ.Overridden {
		line += " " + opts.paint("*", ansiYellow)
	}
	if loc := occ.Source.Location; loc != "" {
		line += "  " + opts.paint("("+loc+")", ansiFaint)
	}
	return line
}

// Describe writes one master event in full, for `delete` and `edit`
// confirmations.
func Describe(w io.Writer, ev *event.Event) {
	fmt.Fprintf(w, "uid:      %s\n", ev.UID)
	fmt.Fprintf(w, "summary:  %s\n", ev.Summary)
	if ev.Location != "" {
		fmt.Fprintf(w, "location: %s\n", ev.Location)
	}
	if ev.Description != "" {
		fmt.Fprintf(w, "descr:    %s\n", ev.Description)
	}
	if ev.AllDay {
		fmt.Fprintf(w, "when:     %s (all day)\n", ev.Start.Format("2006-01-02"))
	} else {
		fmt.Fprintf(w, "when:     %s - %s\n",
			ev.Start.Format("2006-01-02 15:04"), ev.End.Format("2006-01-02 15:04"))
	}
	if spec := ev.Recurrence; spec != nil {
		if spec.Rule != nil {
			fmt.Fprintf(w, "rrule:    %s\n", spec.Rule)
		}
		if spec.ExclusionRule != nil {
			fmt.Fprintf(w, "exrule:   %s\n", spec.ExclusionRule)
		}
		if len(spec.ExtraDates) > 0 {
			fmt.Fprintf(w, "rdate:    %s\n", joinDates(spec.ExtraDates, ev.AllDay))
		}
		if len(spec.ExclusionDates) > 0 {
			fmt.Fprintf(w, "exdate:   %s\n", joinDates(spec.ExclusionDates, ev.AllDay))
		}
	}
}

// Preview writes the last pastCount and next futureCount occurrences of
// one series around now, so the user sees what a series-wide operation
// touches.
func Preview(w io.Writer, master *event.Event, overrides []*event.Event, opts Options, pastCount, futureCount int) error {
	now := opts.now()

	past, err := expand.Expand(master, overrides, expand.Window{
		Start: now.AddDate(-50, 0, 0),
		End:   now,
	})
	if err != nil {
		return err
	}
	future, err := expand.Expand(master, overrides, expand.Window{
		Start: now,
		End:   now.AddDate(50, 0, 0),
	})
	if err != nil {
		return err
	}
	if len(past) > pastCount {
		past = past[len(past)-pastCount:]
	}
	if len(future) > futureCount {
		future = future[:futureCount]
	}

	if len(past) > 0 {
		fmt.Fprintln(w, opts.paint("Past occurrences:", ansiBold))
		for _, occ := range past {
			fmt.Fprintln(w, "  "+occ.Start.Format("2006-01-02 15:04")+"  "+occ.Source.Summary)
		}
	}
	if len(future) > 0 {
		fmt.Fprintln(w, opts.paint("Upcoming occurrences:", ansiBold))
		for _, occ := range future {
			fmt.Fprintln(w, "  "+occ.Start.Format("2006-01-02 15:04")+"  "+occ.Source.Summary)
		}
	}
	if len(past) == 0 && len(future) == 0 {
		fmt.Fprintln(w, "No occurrences.")
	}
	return nil
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func joinDates(dates []time.Time, allDay bool) string {
	layout := "2006-01-02 15:04"
	if allDay {
		layout = "2006-01-02"
	}
	parts := make([]string, len(dates))
	for i, t := range dates {
		parts[i] = t.Format(layout)
	}
	return strings.Join(parts, ", ")
}
