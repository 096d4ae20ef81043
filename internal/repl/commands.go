package repl

import (
	"flag"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"calcli/internal/edit"
	"calcli/internal/event"
	"calcli/internal/expand"
	"calcli/internal/ics"
	"calcli/internal/mirror"
	"calcli/internal/view"
)

func (r *REPL) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(r.Out)
	return fs
}

func (r *REPL) cmdAgenda(args []string) error {
	fs := r.newFlagSet("agenda")
	from := fs.String("from", "", "window start")
	to := fs.String("to", "", "window end")
	if err := fs.Parse(args); err != nil {
		return nil
	}

	w, err := r.window(*from, *to)
	if err != nil {
		return err
	}
	occs, err := r.occurrencesIn(w)
	if err != nil {
		return err
	}
	view.Agenda(r.Out, occs, r.Opts)
	return nil
}

func (r *REPL) cmdWeek(args []string) error {
	return r.cmdGrid("calw", args, func(ref time.Time) (expand.Window, func([]event.Occurrence)) {
		start := startOfWeekLocal(ref)
		w := expand.Window{Start: start, End: start.AddDate(0, 0, 7).Add(-time.Second)}
		return w, func(occs []event.Occurrence) { view.Week(r.Out, occs, ref, r.Opts) }
	})
}

func (r *REPL) cmdMonth(args []string) error {
	return r.cmdGrid("calm", args, func(ref time.Time) (expand.Window, func([]event.Occurrence)) {
		first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
		// The grid shows whole weeks, so expand over them too.
		start := startOfWeekLocal(first)
		end := startOfWeekLocal(first.AddDate(0, 1, 0)).AddDate(0, 0, 7)
		w := expand.Window{Start: start, End: end.Add(-time.Second)}
		return w, func(occs []event.Occurrence) { view.Month(r.Out, occs, ref, r.Opts) }
	})
}

func (r *REPL) cmdGrid(name string, args []string, plan func(time.Time) (expand.Window, func([]event.Occurrence))) error {
	fs := r.newFlagSet(name)
	date := fs.String("date", "", "reference date")
	if err := fs.Parse(args); err != nil {
		return nil
	}

	ref := r.Opts.Now
	if ref.IsZero() {
		ref = time.Now()
	}
	if *date != "" {
		t, err := parseWhen(*date)
		if err != nil {
			return err
		}
		ref = t
	}

	w, render := plan(ref)
	occs, err := r.occurrencesIn(w)
	if err != nil {
		return err
	}
	render(occs)
	return nil
}

func (r *REPL) cmdSearch(args []string) error {
	fs := r.newFlagSet("search")
	byUID := fs.Bool("u", false, "match identifiers instead of a property")
	prop := fs.String("prop", "summary", "property to match: summary, description, location")
	recurringOnly := fs.Bool("recurring", false, "recurring series only")
	singleOnly := fs.Bool("single", false, "non-recurring events only")
	from := fs.String("from", "", "window start")
	to := fs.String("to", "", "window end")
	if err := fs.Parse(args); err != nil {
		return nil
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: search [flags] REGEX")
	}
	if *recurringOnly && *singleOnly {
		return fmt.Errorf("-recurring and -single are mutually exclusive")
	}

	re, err := regexp.Compile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("bad pattern: %w", err)
	}

	w, err := r.window(*from, *to)
	if err != nil {
		return err
	}
	occs, err := r.occurrencesIn(w)
	if err != nil {
		return err
	}

	var matched []event.Occurrence
	for _, occ := range occs {
		master, ok := r.Session.Get(occ.UID)
		if !ok {
			continue
		}
		if *recurringOnly && !master.IsRecurring() {
			continue
		}
		if *singleOnly && master.IsRecurring() {
			continue
		}

		var value string
		switch {
		case *byUID:
			value = occ.UID
		case *prop == "summary":
			value = occ.Source.Summary
		case *prop == "description":
			value = occ.Source.Description
		case *prop == "location":
			value = occ.Source.Location
		default:
			return fmt.Errorf("unknown property %q", *prop)
		}
		if re.MatchString(value) {
			matched = append(matched, occ)
		}
	}

	view.Agenda(r.Out, matched, r.Opts)
	return nil
}

func (r *REPL) cmdAdd(args []string) error {
	fs := r.newFlagSet("add")
	summary := fs.String("summary", "", "event summary")
	desc := fs.String("desc", "", "event description")
	location := fs.String("location", "", "event location")
	startStr := fs.String("start", "", "start time")
	endStr := fs.String("end", "", "end time")
	durMinutes := fs.Int("duration", 0, "duration in minutes")
	allDay := fs.Bool("allday", false, "all-day event")
	rruleStr := fs.String("rrule", "", "recurrence rule, e.g. FREQ=WEEKLY;COUNT=10")
	uid := fs.String("uid", "", "identifier (minted when empty)")
	raw := fs.Bool("raw", false, "enter a literal VEVENT block instead of fields")
	if err := fs.Parse(args); err != nil {
		return nil
	}

	if *raw {
		ev, err := r.readRawEvent()
		if err != nil || ev == nil {
			return err
		}
		if _, exists := r.Session.Get(ev.UID); exists {
			return fmt.Errorf("an event with identifier %q already exists", ev.UID)
		}
		if err := r.Session.Upsert(ev); err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "Added %s.\n", ev.UID)
		return r.maybeSync()
	}

	if *startStr == "" {
		return fmt.Errorf("usage: add -summary S -start D [-end D | -duration M] [-allday] [-rrule R]")
	}
	start, err := parseWhen(*startStr)
	if err != nil {
		return err
	}

	var end *time.Time
	if *endStr != "" {
		t, err := parseWhen(*endStr)
		if err != nil {
			return err
		}
		end = &t
	}
	var duration *time.Duration
	if *durMinutes > 0 {
		d := time.Duration(*durMinutes) * time.Minute
		duration = &d
	}

	var spec *event.Spec
	if *rruleStr != "" {
		rule, err := event.ParseRule(*rruleStr)
		if err != nil {
			return err
		}
		spec = &event.Spec{Rule: rule}
	}

	ev, err := edit.Create(*uid, *summary, *desc, *location, start, end, duration, *allDay, spec)
	if err != nil {
		return err
	}
	if _, exists := r.Session.Get(ev.UID); exists {
		return fmt.Errorf("an event with identifier %q already exists", ev.UID)
	}
	if err := r.Session.Upsert(ev); err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "Added %s.\n", ev.UID)
	return r.maybeSync()
}

func (r *REPL) cmdEdit(args []string) error {
	fs := r.newFlagSet("edit")
	summary := fs.String("summary", "", "new summary")
	desc := fs.String("desc", "", "new description")
	location := fs.String("location", "", "new location")
	startStr := fs.String("start", "", "new start time")
	endStr := fs.String("end", "", "new end time")
	durMinutes := fs.Int("duration", 0, "new duration in minutes")
	allDay := fs.Bool("allday", false, "all-day")
	occStr := fs.String("occurrence", "", "edit only the occurrence at this timestamp")
	rruleStr := fs.String("rrule", "", "replace the recurrence rule (empty string clears)")
	exruleStr := fs.String("exrule", "", "replace the exclusion rule")
	rdateStr := fs.String("rdate", "", "replace the extra dates (comma separated)")
	exdateStr := fs.String("exdate", "", "replace the exclusion dates (comma separated)")
	raw := fs.Bool("raw", false, "replace the event with a literal VEVENT block")
	if err := fs.Parse(args); err != nil {
		return nil
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: edit UID [flags]")
	}
	uid := fs.Arg(0)

	master, ok := r.Session.Get(uid)
	if !ok {
		return fmt.Errorf("no event with identifier %q", uid)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *raw {
		ev, err := r.readRawEvent()
		if err != nil || ev == nil {
			return err
		}
		if ev.UID != uid {
			// The identifier is immutable; a changed UID in raw text is a
			// mistake, not a rename.
			return fmt.Errorf("raw text carries identifier %q, expected %q", ev.UID, uid)
		}
		if err := r.Session.Upsert(ev); err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "Updated %s.\n", uid)
		return r.maybeSync()
	}

	ruleEdit := set["rrule"] || set["exrule"] || set["rdate"] || set["exdate"]
	if ruleEdit && *occStr != "" {
		return fmt.Errorf("%w: recurrence fields are series-wide, they cannot be combined with -occurrence",
			edit.ErrInvalidScope)
	}

	if ruleEdit {
		return r.applyRuleEdit(master, set, *rruleStr, *exruleStr, *rdateStr, *exdateStr)
	}

	changes := edit.Changes{}
	if set["summary"] {
		changes.Summary = summary
	}
	if set["desc"] {
		changes.Description = desc
	}
	if set["location"] {
		changes.Location = location
	}
	if set["allday"] {
		changes.AllDay = allDay
	}
	if set["start"] {
		t, err := parseWhen(*startStr)
		if err != nil {
			return err
		}
		changes.Start = &t
	}
	if set["end"] {
		t, err := parseWhen(*endStr)
		if err != nil {
			return err
		}
		changes.End = &t
	}
	if set["duration"] {
		d := time.Duration(*durMinutes) * time.Minute
		changes.Duration = &d
	}
	if changes.IsZero() {
		return fmt.Errorf("nothing to change; give at least one field flag")
	}

	if *occStr != "" {
		at, err := parseWhen(*occStr)
		if err != nil {
			return err
		}
		res, err := edit.UpdateOccurrence(master, r.Session.Overrides(uid), at, edit.ActionOverride, changes)
		if err != nil {
			return err
		}
		if err := r.Session.Upsert(res.Override); err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "Updated occurrence %s of %s.\n", at.Format("2006-01-02 15:04"), uid)
		return r.maybeSync()
	}

	res, err := edit.UpdateSeries(master, changes)
	if err != nil {
		return err
	}
	if err := r.Session.Upsert(res.Master); err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "Updated %s.\n", uid)
	return r.maybeSync()
}

func (r *REPL) applyRuleEdit(master *event.Event, set map[string]bool, rruleStr, exruleStr, rdateStr, exdateStr string) error {
	current := master
	apply := func(field edit.RecurrenceField, ruleText string, dates []time.Time) error {
		res, err := edit.SetRecurrence(current, field, ruleText, dates)
		if err != nil {
			return err
		}
		current = res.Master
		return nil
	}

	if set["rrule"] {
		if err := apply(edit.FieldRule, rruleStr, nil); err != nil {
			return err
		}
	}
	if set["exrule"] {
		if err := apply(edit.FieldExclusionRule, exruleStr, nil); err != nil {
			return err
		}
	}
	if set["rdate"] {
		dates, err := parseWhenList(rdateStr)
		if err != nil {
			return err
		}
		if err := apply(edit.FieldExtraDates, "", dates); err != nil {
			return err
		}
	}
	if set["exdate"] {
		dates, err := parseWhenList(exdateStr)
		if err != nil {
			return err
		}
		if err := apply(edit.FieldExclusionDates, "", dates); err != nil {
			return err
		}
	}

	if err := r.Session.Upsert(current); err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "Updated recurrence of %s.\n", master.UID)
	return r.maybeSync()
}

func (r *REPL) cmdDelete(args []string) error {
	fs := r.newFlagSet("delete")
	occStr := fs.String("occurrence", "", "delete only the occurrence at this timestamp")
	yes := fs.Bool("yes", false, "skip confirmation")
	if err := fs.Parse(args); err != nil {
		return nil
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: delete UID [-occurrence D] [-yes]")
	}
	uid := fs.Arg(0)

	master, ok := r.Session.Get(uid)
	if !ok {
		return fmt.Errorf("no event with identifier %q", uid)
	}

	if *occStr != "" {
		at, err := parseWhen(*occStr)
		if err != nil {
			return err
		}
		res, err := edit.UpdateOccurrence(master, r.Session.Overrides(uid), at, edit.ActionExclude, edit.Changes{})
		if err != nil {
			return err
		}
		if err := r.Session.Upsert(res.Master); err != nil {
			return err
		}
		if res.DropOverrideAt != nil {
			if err := r.Session.RemoveOverride(uid, *res.DropOverrideAt); err != nil {
				return err
			}
		}
		fmt.Fprintf(r.Out, "Deleted occurrence %s of %s.\n", at.Format("2006-01-02 15:04"), uid)
		return r.maybeSync()
	}

	view.Describe(r.Out, master)
	if master.IsRecurring() {
		if err := view.Preview(r.Out, master, r.Session.Overrides(uid), r.Opts, 5, 10); err != nil {
			return err
		}
	}
	if !*yes && !r.confirm(fmt.Sprintf("Delete %q and all its occurrences?", master.Summary)) {
		fmt.Fprintln(r.Out, "Not deleted.")
		return nil
	}

	if err := r.Session.Remove(uid); err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "Deleted %s.\n", uid)
	return r.maybeSync()
}

func (r *REPL) cmdSync(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("sync takes no arguments")
	}
	if !r.Session.Dirty() {
		fmt.Fprintln(r.Out, "Nothing to sync.")
		return nil
	}
	if err := r.Session.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(r.Out, "Synced.")
	return nil
}

func (r *REPL) cmdReload(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("reload takes no arguments")
	}
	if err := r.Session.Reload(); err != nil {
		return err
	}
	fmt.Fprintln(r.Out, "Reloaded.")
	r.warnDuplicates()
	return nil
}

func (r *REPL) cmdMirror(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: mirror SOURCE DEST")
	}
	if r.Factory == nil {
		return fmt.Errorf("no calendar factory configured")
	}
	srcName, dstName := args[0], args[1]
	if srcName == dstName {
		return fmt.Errorf("source and destination are the same calendar")
	}
	if r.Session.Dirty() {
		return fmt.Errorf("unsaved changes; 'sync' before mirroring")
	}

	src, err := r.Factory(srcName)
	if err != nil {
		return err
	}
	dst, err := r.Factory(dstName)
	if err != nil {
		return err
	}

	stats, err := mirror.Run(src, dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "Mirrored %s -> %s: %d inserted, %d updated, %d deleted.\n",
		srcName, dstName, stats.Inserted, stats.Updated, stats.Deleted)

	if dstName == r.Session.Name() {
		return r.Session.Reload()
	}
	return nil
}

// readRawEvent reads a literal VEVENT block from the shell (terminated
// by a lone "."), parses it, and shows a diff against its re-encoded
// form. The parse-serialize round trip keeps every unrecognized
// property; what the diff shows is formatting this tool would apply.
func (r *REPL) readRawEvent() (*event.Event, error) {
	fmt.Fprintln(r.Out, "Enter the VEVENT block, finish with a line containing only '.':")

	var lines []string
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if strings.TrimSpace(line) == "." {
			break
		}
		lines = append(lines, line)
	}
	rawText := strings.Join(lines, "\r\n") + "\r\n"
	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("no input")
	}

	ev, err := ics.DecodeEventText(rawText)
	if err != nil {
		return nil, err
	}

	encoded, err := ics.EncodeEventText(ev)
	if err != nil {
		return nil, err
	}

	normalized := normalizeRawBlock(rawText)
	if normalized != strings.TrimSpace(encoded) {
		fmt.Fprintln(r.Out, "The stored form differs from your input:")
		writeDiff(r.Out, normalized, strings.TrimSpace(encoded))
		if !r.confirm("Store it anyway?") {
			fmt.Fprintln(r.Out, "Discarded.")
			return nil, nil
		}
	}
	return ev, nil
}

// normalizeRawBlock trims the input to its VEVENT lines so the diff
// compares like with like.
func normalizeRawBlock(text string) string {
	var out []string
	keep := !strings.Contains(text, "BEGIN:VCALENDAR")
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, "BEGIN:VEVENT") {
			keep = true
		}
		if keep && trimmed != "" {
			out = append(out, trimmed)
		}
		if strings.HasPrefix(trimmed, "END:VEVENT") {
			keep = false
		}
	}
	return strings.Join(out, "\r\n")
}

// writeDiff prints a minimal line diff: the shared prefix and suffix
// are elided, the differing middles are shown with -/+ markers.
func writeDiff(w io.Writer, oldText, newText string) {
	oldLines := strings.Split(oldText, "\r\n")
	newLines := strings.Split(newText, "\r\n")

	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}

	for _, line := range oldLines[prefix : len(oldLines)-suffix] {
		fmt.Fprintf(w, "- %s\n", line)
	}
	for _, line := range newLines[prefix : len(newLines)-suffix] {
		fmt.Fprintf(w, "+ %s\n", line)
	}
}

func startOfWeekLocal(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}
