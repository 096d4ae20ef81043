package gcal

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"calcli/internal/event"
)

// toEvent converts a Google Calendar event into the stored model.
func toEvent(item *calendar.Event) (*event.Event, error) {
	uid := item.ICalUID
	if uid == "" {
		uid = item.Id
	}
	if uid == "" {
		return nil, fmt.Errorf("event has no identifier")
	}

	ev := &event.Event{
		UID:         uid,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}

	start, allDay, err := fromEventDateTime(item.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad start: %w", uid, err)
	}
	ev.Start = start
	ev.AllDay = allDay

	if item.End != nil {
		end, _, err := fromEventDateTime(item.End)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad end: %w", uid, err)
		}
		ev.End = end
		ev.HasEnd = true
	} else if allDay {
		ev.End = start.AddDate(0, 0, 1)
	} else {
		ev.End = start
	}

	if item.RecurringEventId != "" && item.OriginalStartTime != nil {
		orig, _, err := fromEventDateTime(item.OriginalStartTime)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad original start: %w", uid, err)
		}
		ev.RecurrenceID = &orig
		return ev, nil
	}

	if len(item.Recurrence) > 0 {
		spec, err := parseRecurrenceLines(item.Recurrence)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", uid, err)
		}
		ev.Recurrence = spec
	}
	return ev, nil
}

// fromEvent converts a stored event into its Google Calendar shape.
func fromEvent(ev *event.Event) *calendar.Event {
	item := &calendar.Event{
		ICalUID:     ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       toEventDateTime(ev.Start, ev.AllDay),
		End:         toEventDateTime(ev.End, ev.AllDay),
	}

	if ev.RecurrenceID != nil {
		item.OriginalStartTime = toEventDateTime(*ev.RecurrenceID, ev.AllDay)
	}
	if spec := ev.Recurrence; spec != nil {
		item.Recurrence = recurrenceLines(spec, ev.AllDay)
	}
	return item
}

func fromEventDateTime(edt *calendar.EventDateTime) (time.Time, bool, error) {
	if edt == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if edt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", edt.Date, time.Local)
		return t, true, err
	}
	t, err := time.Parse(time.RFC3339, edt.DateTime)
	return t, false, err
}

func toEventDateTime(t time.Time, allDay bool) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: t.Format("2006-01-02")}
	}
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339)}
}

// parseRecurrenceLines reads the API's recurrence strings: RRULE,
// EXRULE, RDATE and EXDATE lines in iCalendar property form.
func parseRecurrenceLines(lines []string) (*event.Spec, error) {
	spec := &event.Spec{}
	for _, line := range lines {
		name, params, value := splitPropertyLine(line)
		switch name {
		case "RRULE":
			rule, err := event.ParseRule(value)
			if err != nil {
				return nil, err
			}
			spec.Rule = rule
		case "EXRULE":
			rule, err := event.ParseRule(value)
			if err != nil {
				return nil, err
			}
			spec.ExclusionRule = rule
		case "RDATE":
			dates, err := parseDateValues(params, value)
			if err != nil {
				return nil, fmt.Errorf("bad RDATE %q: %w", line, err)
			}
			spec.ExtraDates = append(spec.ExtraDates, dates...)
		case "EXDATE":
			dates, err := parseDateValues(params, value)
			if err != nil {
				return nil, fmt.Errorf("bad EXDATE %q: %w", line, err)
			}
			spec.ExclusionDates = append(spec.ExclusionDates, dates...)
		default:
			return nil, fmt.Errorf("unrecognized recurrence line %q", line)
		}
	}
	if spec.IsZero() {
		return nil, nil
	}
	return spec, nil
}

func recurrenceLines(spec *event.Spec, allDay bool) []string {
	var lines []string
	if spec.Rule != nil {
		lines = append(lines, "RRULE:"+spec.Rule.String())
	}
	if spec.ExclusionRule != nil {
		lines = append(lines, "EXRULE:"+spec.ExclusionRule.String())
	}
	if len(spec.ExtraDates) > 0 {
		lines = append(lines, dateLine("RDATE", spec.ExtraDates, allDay))
	}
	if len(spec.ExclusionDates) > 0 {
		lines = append(lines, dateLine("EXDATE", spec.ExclusionDates, allDay))
	}
	return lines
}

func dateLine(name string, dates []time.Time, allDay bool) string {
	parts := make([]string, len(dates))
	if allDay {
		for i, t := range dates {
			parts[i] = t.Format("20060102")
		}
		return name + ";VALUE=DATE:" + strings.Join(parts, ",")
	}
	for i, t := range dates {
		parts[i] = t.UTC().Format("20060102T150405Z")
	}
	return name + ":" + strings.Join(parts, ",")
}

// splitPropertyLine divides "NAME;PARAM=V:value" into its pieces.
func splitPropertyLine(line string) (name string, params map[string]string, value string) {
	head, value, _ := strings.Cut(line, ":")
	fields := strings.Split(head, ";")
	name = strings.ToUpper(fields[0])
	params = make(map[string]string)
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if ok {
			params[strings.ToUpper(k)] = v
		}
	}
	return name, params, value
}

func parseDateValues(params map[string]string, value string) ([]time.Time, error) {
	loc := time.Local
	if tzid := params["TZID"]; tzid != "" {
		l, err := time.LoadLocation(tzid)
		if err != nil {
			return nil, fmt.Errorf("unknown TZID %q", tzid)
		}
		loc = l
	}
	dateOnly := params["VALUE"] == "DATE"

	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var t time.Time
		var err error
		switch {
		case dateOnly:
			t, err = time.ParseInLocation("20060102", part, loc)
		case strings.HasSuffix(part, "Z"):
			t, err = time.Parse("20060102T150405Z", part)
		default:
			t, err = time.ParseInLocation("20060102T150405", part, loc)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
