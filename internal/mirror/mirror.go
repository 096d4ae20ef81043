// Package mirror copies one calendar into another, one way: events
// missing from the destination are inserted, differing ones updated,
// and destination events whose identifier no longer exists in the
// source are deleted. Records are keyed by identifier, so the two
// calendars converge without duplicating series.
package mirror

import (
	"fmt"
	"time"

	"calcli/internal/event"
	"calcli/internal/log"
	"calcli/internal/store"
)

// Stats summarizes one mirror run.
type Stats struct {
	Inserted int
	Updated  int
	Deleted  int
}

// Run mirrors src into dst. The destination session must be writable;
// a read-only destination (duplicate identifiers, multi-file union)
// refuses the whole run before touching anything.
func Run(src, dst store.Backend) (Stats, error) {
	var stats Stats

	srcSession, err := store.Open(src)
	if err != nil {
		return stats, err
	}
	dstSession, err := store.Open(dst)
	if err != nil {
		return stats, err
	}
	if dstSession.ReadOnly() {
		return stats, fmt.Errorf("%w: cannot mirror into %q", store.ErrReadOnly, dst.Name())
	}

	sourceUIDs := make(map[string]bool)
	for _, srcEvent := range srcSession.Events() {
		sourceUIDs[srcEvent.UID] = true

		dstEvent, exists := dstSession.Get(srcEvent.UID)
		switch {
		case !exists:
			records := append([]*event.Event{srcEvent}, srcSession.Overrides(srcEvent.UID)...)
			if err := dstSession.Upsert(records...); err != nil {
				return stats, err
			}
			stats.Inserted++
		case !seriesEqual(srcSession, dstSession, srcEvent, dstEvent):
			// Replace the whole series so stale overrides go with it.
			if err := dstSession.Remove(srcEvent.UID); err != nil {
				return stats, err
			}
			records := append([]*event.Event{srcEvent}, srcSession.Overrides(srcEvent.UID)...)
			if err := dstSession.Upsert(records...); err != nil {
				return stats, err
			}
			stats.Updated++
		}
	}

	for _, dstEvent := range dstSession.Events() {
		if !sourceUIDs[dstEvent.UID] {
			if err := dstSession.Remove(dstEvent.UID); err != nil {
				return stats, err
			}
			stats.Deleted++
		}
	}

	if err := dstSession.Flush(); err != nil {
		return stats, err
	}

	log.Info("mirror complete", "source", src.Name(), "destination", dst.Name(),
		"inserted", stats.Inserted, "updated", stats.Updated, "deleted", stats.Deleted)
	return stats, nil
}

// seriesEqual compares the key properties of two series, overrides
// included.
func seriesEqual(srcSession, dstSession *store.Session, a, b *event.Event) bool {
	if !eventsEqual(a, b) {
		return false
	}

	srcOverrides := srcSession.Overrides(a.UID)
	dstOverrides := dstSession.Overrides(b.UID)
	if len(srcOverrides) != len(dstOverrides) {
		return false
	}
	for _, so := range srcOverrides {
		match := false
		for _, do := range dstOverrides {
			if so.SameInstant(*so.RecurrenceID, *do.RecurrenceID) && eventsEqual(so, do) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// eventsEqual checks the properties the mirror maintains. Auxiliary
// properties are carried on insert but do not trigger updates on their
// own.
func eventsEqual(a, b *event.Event) bool {
	if a.Summary != b.Summary || a.Description != b.Description || a.Location != b.Location {
		return false
	}
	if a.AllDay != b.AllDay {
		return false
	}
	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		return false
	}
	return specEqual(a.Recurrence, b.Recurrence, a)
}

func specEqual(a, b *event.Spec, ev *event.Event) bool {
	if a.IsZero() != b.IsZero() {
		return false
	}
	if a.IsZero() {
		return true
	}
	if a.Rule.String() != b.Rule.String() || a.ExclusionRule.String() != b.ExclusionRule.String() {
		return false
	}
	if !datesEqual(a.ExtraDates, b.ExtraDates, ev) || !datesEqual(a.ExclusionDates, b.ExclusionDates, ev) {
		return false
	}
	return true
}

func datesEqual(a, b []time.Time, ev *event.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for _, ta := range a {
		found := false
		for _, tb := range b {
			if ev.SameInstant(ta, tb) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
