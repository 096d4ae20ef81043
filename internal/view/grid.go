package view

import (
	"fmt"
	"io"
	"strings"
	"time"

	"calcli/internal/event"
)

// Grid geometry: 7 columns of fixed width, up to eventRows event lines
// per cell.
const (
	cellWidth = 16
	eventRows = 3
)

type borders struct {
	h, v                   string
	tl, tm, tr             string
	ml, mm, mr             string
	bl, bm, br             string
}

var boxBorders = borders{
	h: "─", v: "│",
	tl: "┌", tm: "┬", tr: "┐",
	ml: "├", mm: "┼", mr: "┤",
	bl: "└", bm: "┴", br: "┘",
}

var asciiBorders = borders{
	h: "-", v: "|",
	tl: "+", tm: "+", tr: "+",
	ml: "+", mm: "+", mr: "+",
	bl: "+", bm: "+", br: "+",
}

func (o Options) borders() borders {
	if o.ASCII {
		return asciiBorders
	}
	return boxBorders
}

// Week renders the week containing ref as one grid row, Monday first.
func Week(w io.Writer, occs []event.Occurrence, ref time.Time, opts Options) {
	start := startOfWeek(ref)
	fmt.Fprintln(w, opts.paint(fmt.Sprintf("Week %d, %s", isoWeek(ref), ref.Format("January 2006")), ansiBold))
	renderWeekRows(w, occs, []time.Time{start}, opts)
}

// Month renders every week of ref's month.
func Month(w io.Writer, occs []event.Occurrence, ref time.Time, opts Options) {
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	last := first.AddDate(0, 1, -1)

	var weeks []time.Time
	for ws := startOfWeek(first); !ws.After(last); ws = ws.AddDate(0, 0, 7) {
		weeks = append(weeks, ws)
	}

	fmt.Fprintln(w, opts.paint(ref.Format("January 2006"), ansiBold))
	renderWeekRows(w, occs, weeks, opts)
}

func renderWeekRows(w io.Writer, occs []event.Occurrence, weekStarts []time.Time, opts Options) {
	b := opts.borders()
	byDay := occurrencesByDay(occs)
	today := dayOf(opts.now())

	// Weekday header.
	var names []string
	for i := 0; i < 7; i++ {
		day := weekStarts[0].AddDate(0, 0, i)
		names = append(names, pad(day.Format("Monday"), cellWidth))
	}
	fmt.Fprintln(w, " "+opts.paint(strings.Join(names, " "), ansiCyan))

	fmt.Fprintln(w, rule(b, b.tl, b.tm, b.tr))
	for wi, ws := range weekStarts {
		renderCellRow(w, byDay, ws, today, opts, b)
		if wi < len(weekStarts)-1 {
			fmt.Fprintln(w, rule(b, b.ml, b.mm, b.mr))
		}
	}
	fmt.Fprintln(w, rule(b, b.bl, b.bm, b.br))
}

func renderCellRow(w io.Writer, byDay map[time.Time][]event.Occurrence, weekStart, today time.Time, opts Options, b borders) {
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = weekStart.AddDate(0, 0, i)
	}

	// First line of each cell: the day number, with month on the 1st.
	var heads []string
	for _, day := range days {
		head := fmt.Sprintf("%2d", day.Day())
		if day.Day() == 1 {
			head += " " + day.Format("Jan")
		}
		if day.Equal(today) {
			head += " *"
		}
		padded := pad(head, cellWidth)
		if day.Equal(today) {
			padded = opts.paint(padded, ansiBold+ansiYellow)
		}
		heads = append(heads, padded)
	}
	fmt.Fprintln(w, b.v+strings.Join(heads, b.v)+b.v)

	for row := 0; row < eventRows; row++ {
		var cells []string
		for _, day := range days {
			cells = append(cells, pad(eventLine(byDay[day], row), cellWidth))
		}
		fmt.Fprintln(w, b.v+strings.Join(cells, b.v)+b.v)
	}
}

// eventLine renders the row-th entry of a day cell. When more events
// exist than rows, the last row becomes an overflow count.
func eventLine(occs []event.Occurrence, row int) string {
	if row >= len(occs) {
		return ""
	}
	if row == eventRows-1 && len(occs) > eventRows {
		return fmt.Sprintf("+%d more", len(occs)-eventRows+1)
	}
	occ := occs[row]
	if occ.AllDay {
		return truncate(occ.Source.Summary, cellWidth)
	}
	return truncate(occ.Start.Format("15:04")+" "+occ.Source.Summary, cellWidth)
}

func occurrencesByDay(occs []event.Occurrence) map[time.Time][]event.Occurrence {
	byDay := make(map[time.Time][]event.Occurrence)
	for _, occ := range occs {
		// A multi-day span appears on each day it covers.
		for day := dayOf(occ.Start); day.Before(occ.End); day = day.AddDate(0, 0, 1) {
			byDay[day] = append(byDay[day], occ)
		}
	}
	return byDay
}

func startOfWeek(t time.Time) time.Time {
	day := dayOf(t)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

func isoWeek(t time.Time) int {
	_, week := t.ISOWeek()
	return week
}

func rule(b borders, left, mid, right string) string {
	seg := strings.Repeat(b.h, cellWidth)
	parts := make([]string, 7)
	for i := range parts {
		parts[i] = seg
	}
	return left + strings.Join(parts, mid) + right
}

func pad(s string, width int) string {
	r := []rune(s)
	if len(r) > width {
		return string(r[:width])
	}
	return s + strings.Repeat(" ", width-len(r))
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
