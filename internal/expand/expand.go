// Package expand materializes the occurrences of a master event inside a
// caller-supplied window. The generated set is (rule ∪ extra dates) minus
// (exclusion rule ∪ exclusion dates), with the series start always a
// member and detached overrides substituted for the instances they
// replace.
package expand

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"calcli/internal/event"
	"calcli/internal/log"
)

// maxPerEvent caps how many instances a single rule may contribute to
// one window, as a guard against degenerate rules over wide windows.
const maxPerEvent = 5000

// Window is the closed time span a query asks about.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow computes the window used when a caller gives no explicit
// bounds: pastYears back and futureYears forward from now, both edges
// truncated to midnight.
func DefaultWindow(now time.Time, pastYears, futureYears int) Window {
	if pastYears < 0 {
		pastYears = 0
	}
	if futureYears < 0 {
		futureYears = 0
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return Window{
		Start: midnight.AddDate(0, 0, -(int(365.25*float64(pastYears)) + 1)),
		End:   midnight.AddDate(0, 0, int(365.25*float64(futureYears))+1),
	}
}

// spanOverlaps reports whether [aStart, aEnd] intersects [bStart, bEnd].
// An occurrence whose span merely touches a window edge still counts.
func spanOverlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}

// Expand returns the occurrences of master (with its detached overrides)
// whose spans intersect the window, ascending by effective start. A
// window that generates nothing is an empty result, not an error.
func Expand(master *event.Event, overrides []*event.Event, w Window) ([]event.Occurrence, error) {
	if w.End.Before(w.Start) {
		return nil, errors.New("window end is before its start")
	}
	if master.IsOverride() {
		return nil, fmt.Errorf("event %s is a detached override, not a series", master.UID)
	}

	if master.Recurrence == nil {
		occ := plainOccurrence(master)
		if spanOverlaps(occ.Start, occ.End, w.Start, w.End) {
			return []event.Occurrence{occ}, nil
		}
		return nil, nil
	}

	identities, err := identitiesIn(master, w)
	if err != nil {
		return nil, err
	}

	excluded, err := exclusionTest(master, w)
	if err != nil {
		return nil, err
	}

	var out []event.Occurrence
	seen := make(map[int64]bool, len(identities))
	for _, at := range identities {
		if excluded(at) {
			continue
		}
		occ := occurrenceAt(master, overrides, at)
		seen[identityKey(master, at)] = true
		if spanOverlaps(occ.Start, occ.End, w.Start, w.End) {
			out = append(out, occ)
		}
	}

	// An override can move its occurrence into the window from an
	// identity the probe never generated; pick those up by their
	// effective span.
	for _, ovr := range overrides {
		if ovr.RecurrenceID == nil || ovr.UID != master.UID {
			continue
		}
		at := normalizeIdentity(master, *ovr.RecurrenceID)
		if seen[identityKey(master, at)] {
			continue
		}
		if !spanOverlaps(ovr.Start, ovr.End, w.Start, w.End) {
			continue
		}
		seen[identityKey(master, at)] = true
		out = append(out, overrideOccurrence(master, ovr, at))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}

// Iterate exposes the window's occurrences as a one-shot sequence in the
// shape of the rule engine's own iterators.
func Iterate(master *event.Event, overrides []*event.Event, w Window) (func() (event.Occurrence, bool), error) {
	occs, err := Expand(master, overrides, w)
	if err != nil {
		return nil, err
	}
	i := 0
	return func() (event.Occurrence, bool) {
		if i >= len(occs) {
			return event.Occurrence{}, false
		}
		occ := occs[i]
		i++
		return occ, true
	}, nil
}

// identitiesIn collects the candidate identity timestamps intersecting
// the window: the series start, the rule's instances, and the explicit
// extra dates. The probe begins one event-span before the window so that
// occurrences already running at the window edge are not missed.
func identitiesIn(master *event.Event, w Window) ([]time.Time, error) {
	loc := master.Start.Location()
	probeStart := w.Start.In(loc).Add(-master.Duration())
	probeEnd := w.End.In(loc)

	identities := []time.Time{master.Start}

	if rule := master.Recurrence.Rule; rule != nil {
		rr, err := rule.Compile(master.Start)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", master.UID, err)
		}
		times := rr.Between(probeStart, probeEnd, true)
		if len(times) > maxPerEvent {
			log.Warn("rule expansion truncated", "uid", master.UID, "cap", maxPerEvent)
			times = times[:maxPerEvent]
		}
		identities = append(identities, times...)
	}

	identities = append(identities, master.Recurrence.ExtraDates...)

	sort.Slice(identities, func(i, j int) bool { return identities[i].Before(identities[j]) })
	return dedupIdentities(master, identities), nil
}

// exclusionTest builds the subtraction side of the materialization:
// explicit exclusion dates plus any instance of the exclusion rule.
func exclusionTest(master *event.Event, w Window) (func(time.Time) bool, error) {
	spec := master.Recurrence

	var ruleTimes []time.Time
	if spec.ExclusionRule != nil {
		exr, err := spec.ExclusionRule.Compile(master.Start)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", master.UID, err)
		}
		loc := master.Start.Location()
		ruleTimes = exr.Between(w.Start.In(loc).Add(-master.Duration()), w.End.In(loc), true)
	}

	return func(t time.Time) bool {
		for _, x := range spec.ExclusionDates {
			if master.SameInstant(t, x) {
				return true
			}
		}
		for _, x := range ruleTimes {
			if master.SameInstant(t, x) {
				return true
			}
		}
		return false
	}, nil
}

func dedupIdentities(master *event.Event, sorted []time.Time) []time.Time {
	out := sorted[:0]
	seen := make(map[int64]bool, len(sorted))
	for _, t := range sorted {
		k := identityKey(master, t)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

// identityKey reduces a timestamp to the granularity occurrences are
// identified at: the calendar date for all-day events, the instant
// otherwise.
func identityKey(master *event.Event, t time.Time) int64 {
	if master.AllDay {
		t = t.In(master.Start.Location())
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
	}
	return t.UnixNano()
}

// normalizeIdentity aligns a caller-supplied timestamp with the
// granularity of the series.
func normalizeIdentity(master *event.Event, t time.Time) time.Time {
	if master.AllDay {
		in := t.In(master.Start.Location())
		return time.Date(in.Year(), in.Month(), in.Day(), 0, 0, 0, 0, in.Location())
	}
	return t
}

func plainOccurrence(master *event.Event) event.Occurrence {
	return event.Occurrence{
		UID:    master.UID,
		At:     master.Start,
		Start:  master.Start,
		End:    master.End,
		AllDay: master.AllDay,
		Source: master,
	}
}

// occurrenceAt builds the occurrence for one identity, substituting a
// detached override when one matches.
func occurrenceAt(master *event.Event, overrides []*event.Event, at time.Time) event.Occurrence {
	if ovr := findOverride(master, overrides, at); ovr != nil {
		return overrideOccurrence(master, ovr, at)
	}
	return event.Occurrence{
		UID:    master.UID,
		At:     at,
		Start:  at,
		End:    at.Add(master.Duration()),
		AllDay: master.AllDay,
		Source: master,
	}
}

func overrideOccurrence(master *event.Event, ovr *event.Event, at time.Time) event.Occurrence {
	return event.Occurrence{
		UID:        master.UID,
		At:         at,
		Start:      ovr.Start,
		End:        ovr.End,
		AllDay:     ovr.AllDay,
		Overridden: true,
		Source:     ovr,
	}
}

func findOverride(master *event.Event, overrides []*event.Event, at time.Time) *event.Event {
	for _, ovr := range overrides {
		if ovr.RecurrenceID == nil || ovr.UID != master.UID {
			continue
		}
		if master.SameInstant(*ovr.RecurrenceID, at) {
			return ovr
		}
	}
	return nil
}
