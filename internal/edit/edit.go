// Package edit translates user-level add/edit/delete intents, scoped to
// a whole series or to one occurrence, into the minimal field changes on
// the master event — or into a detached override record. It is pure:
// inputs are cloned before modification, so a failed translation leaves
// the caller's model untouched.
package edit

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"calcli/internal/event"
)

// ErrInvalidScope rejects an operation whose scope does not fit the
// event: occurrence scope on a non-recurring event, or a recurrence
// field change on one.
var ErrInvalidScope = errors.New("invalid scope")

// OccurrenceNotFoundError reports an occurrence address that matches no
// member of the materialized set at resolution time.
type OccurrenceNotFoundError struct {
	Ref event.Ref
}

func (e *OccurrenceNotFoundError) Error() string {
	return fmt.Sprintf("no occurrence %s", e.Ref)
}

// Changes names the fields a structured edit replaces. Nil fields keep
// their old values; the identifier is never editable.
type Changes struct {
	Summary     *string
	Description *string
	Location    *string
	Start       *time.Time
	End         *time.Time
	Duration    *time.Duration
	AllDay      *bool
}

// IsZero reports whether the edit names no field at all.
func (c Changes) IsZero() bool {
	return c.Summary == nil && c.Description == nil && c.Location == nil &&
		c.Start == nil && c.End == nil && c.Duration == nil && c.AllDay == nil
}

// OccurrenceAction is the explicit kind of a single-occurrence edit:
// override the occurrence's content or time, or remove it. The caller
// states the kind; it is never inferred from which fields are set.
type OccurrenceAction int

const (
	// ActionOverride detaches the occurrence into an override record
	// carrying the changed content.
	ActionOverride OccurrenceAction = iota + 1

	// ActionExclude removes the occurrence by adding its
	// recurrence-identity timestamp to the exclusion dates.
	ActionExclude
)

// Result carries the records a translated mutation produces. Master is
// the updated master event when the mutation touched it; Override is a
// created or updated detached override; DropOverrideAt names an
// override the store should discard.
type Result struct {
	Master         *event.Event
	Override       *event.Event
	DropOverrideAt *time.Time
}

// NewUID mints an identifier for a created event, uuid@hostname.
func NewUID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "calcli"
	}
	return uuid.NewString() + "@" + host
}

// Create builds a new master event from the given fields. A missing
// identifier is minted; a missing end defaults to start plus the given
// duration, or thirty minutes.
func Create(uid, summary, description, location string, start time.Time, end *time.Time, duration *time.Duration, allDay bool, spec *event.Spec) (*event.Event, error) {
	if start.IsZero() {
		return nil, fmt.Errorf("a new event needs a start time")
	}
	if uid == "" {
		uid = NewUID()
	}

	ev := &event.Event{
		UID:         uid,
		Summary:     summary,
		Description: description,
		Location:    location,
		Start:       start,
		AllDay:      allDay,
	}
	switch {
	case end != nil:
		if end.Before(start) {
			return nil, fmt.Errorf("end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
		}
		ev.End = *end
		ev.HasEnd = true
	case duration != nil:
		if *duration < 0 {
			return nil, fmt.Errorf("negative duration")
		}
		ev.End = start.Add(*duration)
		ev.HasDuration = true
	case allDay:
		ev.End = start.AddDate(0, 0, 1)
	default:
		ev.End = start.Add(event.DefaultDuration)
		ev.HasDuration = true
	}

	if !spec.IsZero() {
		ev.Recurrence = spec.Clone()
	}
	return ev, nil
}

// UpdateSeries applies a structured edit at whole-series scope: only
// the named fields are replaced, everything else — the recurrence spec
// and any existing overrides included — stays as it was.
func UpdateSeries(master *event.Event, ch Changes) (Result, error) {
	if master.IsOverride() {
		// A detached override is addressed through its occurrence, not
		// as a series.
		return Result{}, fmt.Errorf("%w: %s is a detached override", ErrInvalidScope, master.UID)
	}
	out := master.Clone()
	applyChanges(out, ch)
	return Result{Master: out}, nil
}

// UpdateOccurrence applies a single-occurrence edit. ActionOverride
// creates (or updates) the detached override at the addressed
// recurrence-identity timestamp; ActionExclude adds the timestamp to
// the exclusion dates, dropping any override recorded there. The
// master's recurrence spec is never modified by an override, so every
// other occurrence keeps its meaning.
func UpdateOccurrence(master *event.Event, overrides []*event.Event, at time.Time, action OccurrenceAction, ch Changes) (Result, error) {
	if !master.IsRecurring() {
		return Result{}, fmt.Errorf("%w: event %s is not recurring", ErrInvalidScope, master.UID)
	}

	existing, generated := resolveIdentity(master, overrides, at)
	if existing == nil && !generated {
		ref := at
		return Result{}, &OccurrenceNotFoundError{Ref: event.Ref{UID: master.UID, At: &ref}}
	}

	switch action {
	case ActionOverride:
		ovr := buildOverride(master, existing, at)
		applyChanges(ovr, ch)
		return Result{Override: ovr}, nil

	case ActionExclude:
		out := master.Clone()
		res := Result{Master: out}
		if existing != nil {
			rid := *existing.RecurrenceID
			res.DropOverrideAt = &rid
		}
		if excludedAt(master, at) {
			// Already excluded: deleting twice is a no-op, not an error.
			return res, nil
		}
		if out.Recurrence == nil {
			out.Recurrence = &event.Spec{}
		}
		out.Recurrence.ExclusionDates = append(out.Recurrence.ExclusionDates, at)
		return res, nil

	default:
		return Result{}, fmt.Errorf("unknown occurrence action %d", action)
	}
}

// RecurrenceField names the recurrence sub-field a rule-level edit
// replaces.
type RecurrenceField int

const (
	FieldRule RecurrenceField = iota + 1
	FieldExclusionRule
	FieldExtraDates
	FieldExclusionDates
)

// SetRecurrence replaces one recurrence sub-field of a recurring
// series. Always whole-series scope. An empty rule text clears the
// field.
func SetRecurrence(master *event.Event, field RecurrenceField, ruleText string, dates []time.Time) (Result, error) {
	if master.IsOverride() {
		return Result{}, fmt.Errorf("%w: %s is a detached override", ErrInvalidScope, master.UID)
	}
	if !master.IsRecurring() {
		return Result{}, fmt.Errorf("%w: event %s is not recurring", ErrInvalidScope, master.UID)
	}

	out := master.Clone()
	if out.Recurrence == nil {
		out.Recurrence = &event.Spec{}
	}

	switch field {
	case FieldRule, FieldExclusionRule:
		var rule *event.Rule
		if ruleText != "" {
			var err error
			rule, err = event.ParseRule(ruleText)
			if err != nil {
				return Result{}, err
			}
		}
		if field == FieldRule {
			out.Recurrence.Rule = rule
		} else {
			out.Recurrence.ExclusionRule = rule
		}
	case FieldExtraDates:
		out.Recurrence.ExtraDates = append([]time.Time(nil), dates...)
	case FieldExclusionDates:
		out.Recurrence.ExclusionDates = append([]time.Time(nil), dates...)
	default:
		return Result{}, fmt.Errorf("unknown recurrence field %d", field)
	}

	if out.Recurrence.IsZero() {
		out.Recurrence = nil
	}
	return Result{Master: out}, nil
}

// resolveIdentity checks whether at addresses a member of the series'
// materialized set: an existing override at that identity, the series
// start, an extra date, or a rule-generated instance not excluded.
func resolveIdentity(master *event.Event, overrides []*event.Event, at time.Time) (existing *event.Event, generated bool) {
	for _, o := range overrides {
		if o.UID == master.UID && o.RecurrenceID != nil && master.SameInstant(*o.RecurrenceID, at) {
			existing = o
			break
		}
	}

	if excludedAt(master, at) {
		return existing, false
	}
	if master.SameInstant(master.Start, at) {
		return existing, true
	}
	spec := master.Recurrence
	if spec != nil {
		for _, d := range spec.ExtraDates {
			if master.SameInstant(d, at) {
				return existing, true
			}
		}
		if spec.Rule != nil {
			rr, err := spec.Rule.Compile(master.Start)
			if err == nil {
				for _, t := range rr.Between(at.Add(-24*time.Hour), at.Add(24*time.Hour), true) {
					if master.SameInstant(t, at) {
						return existing, true
					}
				}
			}
		}
	}
	return existing, false
}

func excludedAt(master *event.Event, at time.Time) bool {
	if master.Recurrence == nil {
		return false
	}
	for _, x := range master.Recurrence.ExclusionDates {
		if master.SameInstant(x, at) {
			return true
		}
	}
	return false
}

// buildOverride starts a detached override from the existing one, or
// derives a fresh one from the master: same content, the occurrence's
// own span, no recurrence spec of its own.
func buildOverride(master *event.Event, existing *event.Event, at time.Time) *event.Event {
	if existing != nil {
		return existing.Clone()
	}
	ovr := master.Clone()
	ovr.Recurrence = nil
	rid := at
	ovr.RecurrenceID = &rid
	ovr.Start = at
	ovr.End = at.Add(master.Duration())
	return ovr
}

func applyChanges(ev *event.Event, ch Changes) {
	if ch.Summary != nil {
		ev.Summary = *ch.Summary
	}
	if ch.Description != nil {
		ev.Description = *ch.Description
	}
	if ch.Location != nil {
		ev.Location = *ch.Location
	}
	if ch.AllDay != nil {
		ev.AllDay = *ch.AllDay
	}

	span := ev.Duration()
	if ch.Start != nil {
		ev.Start = *ch.Start
		if ch.End == nil && ch.Duration == nil {
			// Retiming the start keeps the span.
			ev.End = ev.Start.Add(span)
		}
	}
	if ch.End != nil {
		ev.End = *ch.End
		ev.HasEnd = true
		ev.HasDuration = false
	}
	if ch.Duration != nil {
		ev.End = ev.Start.Add(*ch.Duration)
		ev.HasDuration = true
		ev.HasEnd = false
	}
}
