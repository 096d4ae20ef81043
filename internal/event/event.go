// Package event defines the stored calendar model: master events, their
// recurrence fields, detached per-occurrence overrides, and the transient
// occurrences derived from them.
package event

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"
)

// DefaultDuration is applied to new timed events created without an
// explicit end or duration.
const DefaultDuration = 30 * time.Minute

// Event is the unit of storage. It describes either a plain event, an
// entire recurring series, or a detached override replacing a single
// occurrence of a series (RecurrenceID non-nil).
type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	// HasEnd and HasDuration record whether the source expressed the span
	// as DTEND or as DURATION, so re-encoding keeps the same form. When
	// neither is set the end is derived and not written back.
	HasEnd      bool
	HasDuration bool

	// RecurrenceID marks this record as a detached override for the
	// occurrence of its series generated at that timestamp.
	RecurrenceID *time.Time

	// Recurrence is nil for plain events and for overrides.
	Recurrence *Spec

	// Extra holds every property not modeled above, preserved verbatim
	// for re-encoding.
	Extra ical.Props

	// Components carries unmodeled sub-components (alarms and the like)
	// through a parse/serialize round trip untouched.
	Components []*ical.Component
}

// Spec holds the recurrence fields of a master event. The materialized
// occurrence set is (rule ∪ extraDates) minus (exclusionRule ∪
// exclusionDates), with the series start always a member.
type Spec struct {
	Rule           *Rule
	ExtraDates     []time.Time
	ExclusionRule  *Rule
	ExclusionDates []time.Time
}

// IsOverride reports whether the record replaces one occurrence of a
// series rather than describing a series of its own.
func (e *Event) IsOverride() bool {
	return e.RecurrenceID != nil
}

// IsRecurring reports whether the event can generate more than its own
// start: it has a rule or explicit extra dates.
func (e *Event) IsRecurring() bool {
	if e.Recurrence == nil {
		return false
	}
	return e.Recurrence.Rule != nil || len(e.Recurrence.ExtraDates) > 0
}

// Duration returns the span of one occurrence.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Clone returns a deep copy. Edits operate on clones so that a failed
// operation leaves the session's model untouched.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	if e.RecurrenceID != nil {
		rid := *e.RecurrenceID
		out.RecurrenceID = &rid
	}
	out.Recurrence = e.Recurrence.Clone()
	out.Extra = cloneProps(e.Extra)
	if e.Components != nil {
		out.Components = make([]*ical.Component, len(e.Components))
		copy(out.Components, e.Components)
	}
	return &out
}

// Clone returns a deep copy of the recurrence fields.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	out := &Spec{
		Rule:          s.Rule.Clone(),
		ExclusionRule: s.ExclusionRule.Clone(),
	}
	if s.ExtraDates != nil {
		out.ExtraDates = append([]time.Time(nil), s.ExtraDates...)
	}
	if s.ExclusionDates != nil {
		out.ExclusionDates = append([]time.Time(nil), s.ExclusionDates...)
	}
	return out
}

// IsZero reports whether every recurrence field is empty.
func (s *Spec) IsZero() bool {
	if s == nil {
		return true
	}
	return s.Rule == nil && s.ExclusionRule == nil &&
		len(s.ExtraDates) == 0 && len(s.ExclusionDates) == 0
}

func cloneProps(src ical.Props) ical.Props {
	if src == nil {
		return nil
	}
	dst := make(ical.Props, len(src))
	for name, props := range src {
		cp := make([]ical.Prop, len(props))
		for i, p := range props {
			cp[i] = p
			if p.Params != nil {
				params := make(ical.Params, len(p.Params))
				for k, v := range p.Params {
					params[k] = append([]string(nil), v...)
				}
				cp[i].Params = params
			}
		}
		dst[name] = cp
	}
	return dst
}

// SameInstant compares two timestamps at the granularity the event uses:
// calendar-date equality for all-day events, exact instant otherwise.
func (e *Event) SameInstant(a, b time.Time) bool {
	if e.AllDay {
		a, b = a.In(e.Start.Location()), b.In(e.Start.Location())
		ay, am, ad := a.Date()
		by, bm, bd := b.Date()
		return ay == by && am == bm && ad == bd
	}
	return a.Equal(b)
}

// Ref addresses either a whole series (At nil) or a single occurrence by
// its recurrence identity timestamp.
type Ref struct {
	UID string
	At  *time.Time
}

func (r Ref) String() string {
	if r.At == nil {
		return r.UID
	}
	return fmt.Sprintf("%s@%s", r.UID, r.At.Format(time.RFC3339))
}

// Occurrence is one concrete instance derived from a master event. It is
// produced per query window and never stored.
type Occurrence struct {
	UID string

	// At is the recurrence identity: the originally generated start, kept
	// even when an override retimes the occurrence.
	At time.Time

	// Start and End are the effective displayed span.
	Start time.Time
	End   time.Time

	AllDay     bool
	Overridden bool

	// Source is the record whose content the occurrence displays: the
	// override when one exists, the master otherwise.
	Source *Event
}

// Ref returns the address of this occurrence for edit and delete requests.
func (o Occurrence) Ref() Ref {
	at := o.At
	return Ref{UID: o.UID, At: &at}
}
