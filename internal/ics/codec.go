// Package ics converts between the stored event model and iCalendar text
// using go-ical. Properties the model does not interpret are carried
// through a parse/serialize round trip unchanged.
package ics

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"calcli/internal/event"
	"calcli/internal/log"
)

// productID identifies calendars written by this tool.
const productID = "-//calcli//EN"

// modeled lists the VEVENT properties lifted into event.Event fields.
// Every other property lands in the Extra bag verbatim.
var modeled = map[string]bool{
	ical.PropUID:           true,
	ical.PropSummary:       true,
	ical.PropDescription:   true,
	ical.PropLocation:      true,
	ical.PropDateTimeStart: true,
	ical.PropDateTimeEnd:   true,
	"DURATION":             true,
	"RRULE":                true,
	"EXRULE":               true,
	"EXDATE":               true,
	"RDATE":                true,
	"RECURRENCE-ID":        true,
}

// Decode reads iCalendar data and returns the events it contains.
func Decode(r io.Reader) ([]*event.Event, error) {
	events, _, err := DecodeAll(r)
	return events, err
}

// DecodeAll reads iCalendar data and returns the events plus any
// calendar-level components that are not events (time zone definitions
// and the like), so file stores can write them back out.
func DecodeAll(r io.Reader) ([]*event.Event, []*ical.Component, error) {
	dec := ical.NewDecoder(r)

	var events []*event.Event
	var extras []*ical.Component
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse calendar data: %w", err)
		}

		for _, child := range cal.Children {
			if child.Name != ical.CompEvent {
				extras = append(extras, child)
				continue
			}
			ev, err := decodeEvent(child)
			if err != nil {
				return nil, nil, err
			}
			events = append(events, ev)
		}
	}

	return events, extras, nil
}

func decodeEvent(comp *ical.Component) (*event.Event, error) {
	ev := &event.Event{}

	uid := comp.Props.Get(ical.PropUID)
	if uid == nil || uid.Value == "" {
		return nil, fmt.Errorf("event has no UID")
	}
	ev.UID = uid.Value

	ev.Summary = textValue(comp, ical.PropSummary)
	ev.Description = textValue(comp, ical.PropDescription)
	ev.Location = textValue(comp, ical.PropLocation)

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, fmt.Errorf("event %s has no DTSTART", ev.UID)
	}
	start, err := dtstart.DateTime(time.Local)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad DTSTART: %w", ev.UID, err)
	}
	ev.Start = start
	ev.AllDay = dtstart.Params.Get("VALUE") == "DATE"

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		end, err := comp.Props.Get(ical.PropDateTimeEnd).DateTime(time.Local)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad DTEND: %w", ev.UID, err)
		}
		ev.End = end
		ev.HasEnd = true
	case comp.Props.Get("DURATION") != nil:
		d, err := parseDuration(comp.Props.Get("DURATION").Value)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad DURATION: %w", ev.UID, err)
		}
		ev.End = ev.Start.Add(d)
		ev.HasDuration = true
	case ev.AllDay:
		ev.End = ev.Start.AddDate(0, 0, 1)
	default:
		ev.End = ev.Start
	}

	if rid := comp.Props.Get("RECURRENCE-ID"); rid != nil {
		t, err := rid.DateTime(time.Local)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad RECURRENCE-ID: %w", ev.UID, err)
		}
		ev.RecurrenceID = &t
	}

	spec, err := decodeRecurrence(comp, ev.UID)
	if err != nil {
		return nil, err
	}
	ev.Recurrence = spec

	// Everything not modeled above is preserved as-is.
	for name, props := range comp.Props {
		if modeled[name] {
			continue
		}
		if ev.Extra == nil {
			ev.Extra = make(ical.Props)
		}
		ev.Extra[name] = props
	}
	ev.Components = comp.Children

	return ev, nil
}

func decodeRecurrence(comp *ical.Component, uid string) (*event.Spec, error) {
	spec := &event.Spec{}

	if p := comp.Props.Get("RRULE"); p != nil {
		rule, err := event.ParseRule(p.Value)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", uid, err)
		}
		spec.Rule = rule
	}
	if p := comp.Props.Get("EXRULE"); p != nil {
		rule, err := event.ParseRule(p.Value)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", uid, err)
		}
		spec.ExclusionRule = rule
	}

	for _, p := range comp.Props["RDATE"] {
		dates, err := dateList(p)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad RDATE: %w", uid, err)
		}
		spec.ExtraDates = append(spec.ExtraDates, dates...)
	}
	for _, p := range comp.Props["EXDATE"] {
		dates, err := dateList(p)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad EXDATE: %w", uid, err)
		}
		spec.ExclusionDates = append(spec.ExclusionDates, dates...)
	}

	if spec.IsZero() {
		return nil, nil
	}
	return spec, nil
}

// dateList parses a possibly comma-joined date property value, keeping
// the property's own VALUE/TZID parameters for each entry.
func dateList(p ical.Prop) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		single := p
		single.Value = strings.TrimSpace(part)
		if single.Value == "" {
			continue
		}
		t, err := single.DateTime(time.Local)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func textValue(comp *ical.Component, name string) string {
	p := comp.Props.Get(name)
	if p == nil {
		return ""
	}
	if text, err := p.Text(); err == nil {
		return text
	}
	return p.Value
}

// Encode writes the events as one VCALENDAR stream. extras, when
// non-nil, are re-emitted ahead of the events.
func Encode(w io.Writer, events []*event.Event, extras []*ical.Component) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	cal.Children = append(cal.Children, extras...)
	for _, ev := range events {
		cal.Children = append(cal.Children, encodeEvent(ev))
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func encodeEvent(ev *event.Event) *ical.Component {
	comp := ical.NewComponent(ical.CompEvent)

	for name, props := range ev.Extra {
		comp.Props[name] = props
	}

	comp.Props.SetText(ical.PropUID, ev.UID)
	if ev.Summary != "" {
		comp.Props.SetText(ical.PropSummary, ev.Summary)
	}
	if ev.Description != "" {
		comp.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		comp.Props.SetText(ical.PropLocation, ev.Location)
	}

	comp.Props.Set(timeProp(ical.PropDateTimeStart, ev.Start, ev.AllDay))
	switch {
	case ev.HasDuration:
		d := ical.NewProp("DURATION")
		d.Value = formatDuration(ev.End.Sub(ev.Start))
		comp.Props.Set(d)
	case ev.HasEnd:
		comp.Props.Set(timeProp(ical.PropDateTimeEnd, ev.End, ev.AllDay))
	}

	if ev.RecurrenceID != nil {
		comp.Props.Set(timeProp("RECURRENCE-ID", *ev.RecurrenceID, ev.AllDay))
	}

	if spec := ev.Recurrence; spec != nil {
		if spec.Rule != nil {
			p := ical.NewProp("RRULE")
			p.Value = spec.Rule.String()
			comp.Props.Set(p)
		}
		if spec.ExclusionRule != nil {
			p := ical.NewProp("EXRULE")
			p.Value = spec.ExclusionRule.String()
			comp.Props.Set(p)
		}
		if len(spec.ExtraDates) > 0 {
			comp.Props.Set(datesProp("RDATE", spec.ExtraDates, ev.AllDay))
		}
		if len(spec.ExclusionDates) > 0 {
			comp.Props.Set(datesProp("EXDATE", spec.ExclusionDates, ev.AllDay))
		}
	}

	// DTSTAMP is required by the format; keep the stored one when present.
	if comp.Props.Get(ical.PropDateTimeStamp) == nil {
		comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC().Truncate(time.Second))
	}

	comp.Children = ev.Components
	return comp
}

// timeProp formats a date or date-time property. All-day values encode
// as dates; UTC values keep the Z form; values in the process-local zone
// encode as floating times; anything else carries its zone name.
func timeProp(name string, t time.Time, allDay bool) *ical.Prop {
	p := ical.NewProp(name)
	switch {
	case allDay:
		p.SetDate(t)
	case t.Location() == time.Local:
		p.Value = t.Format("20060102T150405")
	default:
		p.SetDateTime(t)
	}
	return p
}

// datesProp joins several timestamps into one RDATE/EXDATE property.
// Mixed zones are normalized to UTC so a single parameter list can
// describe the whole value.
func datesProp(name string, dates []time.Time, allDay bool) *ical.Prop {
	p := ical.NewProp(name)
	parts := make([]string, len(dates))
	switch {
	case allDay:
		p.Params.Set("VALUE", "DATE")
		for i, t := range dates {
			parts[i] = t.Format("20060102")
		}
	case allLocal(dates):
		for i, t := range dates {
			parts[i] = t.Format("20060102T150405")
		}
	default:
		for i, t := range dates {
			parts[i] = t.UTC().Format("20060102T150405Z")
		}
	}
	p.Value = strings.Join(parts, ",")
	return p
}

func allLocal(dates []time.Time) bool {
	for _, t := range dates {
		if t.Location() != time.Local {
			return false
		}
	}
	return true
}

// DecodeEventText parses a single raw VEVENT block (bare or wrapped in a
// VCALENDAR). Used by the raw escape hatch.
func DecodeEventText(text string) (*event.Event, error) {
	norm := normalizeCRLF(text)
	if !strings.Contains(norm, "BEGIN:VCALENDAR") {
		norm = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + productID + "\r\n" + norm + "END:VCALENDAR\r\n"
	}

	events, _, err := DecodeAll(strings.NewReader(norm))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no VEVENT found in input")
	}
	if len(events) > 1 {
		log.Warn("raw input holds several events, using the first", "count", len(events))
	}
	return events[0], nil
}

// EncodeEventText renders just the VEVENT block of one event, for raw
// display and diffing.
func EncodeEventText(ev *event.Event) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, []*event.Event{ev}, nil); err != nil {
		return "", err
	}

	var out []string
	keep := false
	for _, line := range strings.Split(buf.String(), "\r\n") {
		if strings.HasPrefix(line, "BEGIN:VEVENT") {
			keep = true
		}
		if keep {
			out = append(out, line)
		}
		if strings.HasPrefix(line, "END:VEVENT") {
			keep = false
		}
	}
	return strings.Join(out, "\r\n") + "\r\n", nil
}

func normalizeCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}
