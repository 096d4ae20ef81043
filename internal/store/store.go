// Package store defines the boundary between the in-memory calendar and
// its storage backends, and the Session that guards a loaded calendar:
// identifier integrity on read, dirty tracking, and read-only downgrade
// when a backend supplied duplicate identifiers.
package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"calcli/internal/event"
	"calcli/internal/log"
)

// Backend is the storage boundary. A backend owns its records; the core
// operates on the values List hands over and returns changed values to
// Persist. It never branches on what kind of backend it talks to.
type Backend interface {
	// Name identifies the backend in messages and logs.
	Name() string

	// List returns every stored record: master events and detached
	// overrides alike. Failures wrap ErrUnavailable.
	List() ([]*event.Event, error)

	// Persist applies changes. upserts carries, for every touched
	// identifier, the complete current record set of that identifier
	// (the master plus all of its overrides); deleted names identifiers
	// whose records are gone entirely. Failures wrap ErrWrite.
	Persist(upserts []*event.Event, deleted []string) error
}

// ReadOnlyReporter is implemented by backends that are inherently
// unwritable (a multi-file union, for instance). The Session refuses
// edits against such a backend from the start.
type ReadOnlyReporter interface {
	ReadOnly() bool
}

var (
	// ErrUnavailable marks a backend that could not be read. Never
	// retried here; retry policy belongs to the backend.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrWrite marks a failed persist. The session stays dirty.
	ErrWrite = errors.New("backend write failed")

	// ErrReadOnly rejects mutations on a read-only session.
	ErrReadOnly = errors.New("store is read-only")
)

// Session is one loaded calendar: the master events and overrides a
// backend returned, validated and deduplicated, plus the set of changes
// not yet persisted. All access is single-threaded; the caller
// serializes commands against it.
type Session struct {
	backend Backend

	masters   map[string]*event.Event
	overrides map[string][]*event.Event

	readOnly   bool
	duplicates []string

	touched map[string]bool
	removed map[string]bool
}

// Open reads the backend and runs the identifier integrity guard over
// the result. Duplicate identifiers are resolved last-seen-wins (in
// backend order, independently for masters and for overrides sharing a
// recurrence-identity timestamp) and downgrade the session to read-only
// for its whole lifetime.
func Open(backend Backend) (*Session, error) {
	s := &Session{backend: backend}
	if err := s.load(); err != nil {
		return nil, err
	}
	if r, ok := backend.(ReadOnlyReporter); ok && r.ReadOnly() {
		s.readOnly = true
	}
	return s, nil
}

func (s *Session) load() error {
	records, err := s.backend.List()
	if err != nil {
		return fmt.Errorf("failed to read calendar %q: %w", s.backend.Name(), err)
	}

	masters := make(map[string]*event.Event)
	overrides := make(map[string][]*event.Event)
	var duplicates []string

	for _, rec := range records {
		if rec.IsOverride() {
			overrides[rec.UID] = replaceOverride(overrides[rec.UID], rec)
			continue
		}
		if _, dup := masters[rec.UID]; dup {
			duplicates = append(duplicates, rec.UID)
		}
		// Last seen wins.
		masters[rec.UID] = rec
	}

	sort.Strings(duplicates)
	s.masters = masters
	s.overrides = overrides
	s.duplicates = dedupStrings(duplicates)
	s.touched = make(map[string]bool)
	s.removed = make(map[string]bool)

	if len(s.duplicates) > 0 {
		s.readOnly = true
		log.Warn("duplicate identifiers in backend, store is read-only",
			"backend", s.backend.Name(), "uids", s.duplicates)
	}
	return nil
}

// replaceOverride keeps at most one override per recurrence-identity
// timestamp, last seen winning.
func replaceOverride(existing []*event.Event, rec *event.Event) []*event.Event {
	for i, o := range existing {
		if rec.SameInstant(*o.RecurrenceID, *rec.RecurrenceID) {
			existing[i] = rec
			return existing
		}
	}
	return append(existing, rec)
}

func dedupStrings(sorted []string) []string {
	out := sorted[:0]
	for i, v := range sorted {
		if i > 0 && sorted[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Name returns the backend's name.
func (s *Session) Name() string { return s.backend.Name() }

// ReadOnly reports whether mutations are refused.
func (s *Session) ReadOnly() bool { return s.readOnly }

// Duplicates lists the identifiers the integrity guard collapsed, if
// any. Non-empty implies ReadOnly.
func (s *Session) Duplicates() []string { return s.duplicates }

// Dirty reports whether unpersisted changes exist.
func (s *Session) Dirty() bool { return len(s.touched) > 0 || len(s.removed) > 0 }

// Get returns the master event with the given identifier.
func (s *Session) Get(uid string) (*event.Event, bool) {
	ev, ok := s.masters[uid]
	return ev, ok
}

// Overrides returns the detached overrides recorded for a series.
func (s *Session) Overrides(uid string) []*event.Event {
	return s.overrides[uid]
}

// Events returns every master event, ordered by start timestamp with
// identifier as tie-break so listings are stable.
func (s *Session) Events() []*event.Event {
	out := make([]*event.Event, 0, len(s.masters))
	for _, ev := range s.masters {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UID < out[j].UID
	})
	return out
}

// Upsert stores a master event or a detached override, replacing any
// record it supersedes, and marks the identifier dirty.
func (s *Session) Upsert(records ...*event.Event) error {
	if s.readOnly {
		return s.readOnlyErr()
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.IsOverride() {
			s.overrides[rec.UID] = replaceOverride(s.overrides[rec.UID], rec)
		} else {
			s.masters[rec.UID] = rec
		}
		s.touched[rec.UID] = true
		delete(s.removed, rec.UID)
	}
	return nil
}

// Remove deletes a whole series: the master event and every override
// that shares its identifier.
func (s *Session) Remove(uid string) error {
	if s.readOnly {
		return s.readOnlyErr()
	}
	if _, ok := s.masters[uid]; !ok {
		return fmt.Errorf("no event with identifier %q", uid)
	}
	delete(s.masters, uid)
	delete(s.overrides, uid)
	delete(s.touched, uid)
	s.removed[uid] = true
	return nil
}

// RemoveOverride drops the override at one recurrence-identity
// timestamp, if present. The master stays.
func (s *Session) RemoveOverride(uid string, at time.Time) error {
	if s.readOnly {
		return s.readOnlyErr()
	}
	existing := s.overrides[uid]
	for i, o := range existing {
		if o.SameInstant(*o.RecurrenceID, at) {
			s.overrides[uid] = append(existing[:i], existing[i+1:]...)
			s.touched[uid] = true
			return nil
		}
	}
	return nil
}

// Flush persists every pending change. On success the session is clean;
// on failure it stays dirty so the flush can be reissued.
func (s *Session) Flush() error {
	if s.readOnly {
		return s.readOnlyErr()
	}
	if !s.Dirty() {
		return nil
	}

	var upserts []*event.Event
	for uid := range s.touched {
		if master, ok := s.masters[uid]; ok {
			upserts = append(upserts, master)
		}
		upserts = append(upserts, s.overrides[uid]...)
	}
	sort.Slice(upserts, func(i, j int) bool { return upserts[i].UID < upserts[j].UID })

	var deleted []string
	for uid := range s.removed {
		deleted = append(deleted, uid)
	}
	sort.Strings(deleted)

	if err := s.backend.Persist(upserts, deleted); err != nil {
		return fmt.Errorf("failed to persist to %q: %w", s.backend.Name(), err)
	}

	s.touched = make(map[string]bool)
	s.removed = make(map[string]bool)
	log.Info("persisted changes", "backend", s.backend.Name(),
		"upserts", len(upserts), "deleted", len(deleted))
	return nil
}

// Reload discards the in-memory state and reads the backend again.
// Refused while dirty so pending edits are never silently lost.
func (s *Session) Reload() error {
	if s.Dirty() {
		return fmt.Errorf("refusing to reload %q: unpersisted changes pending", s.backend.Name())
	}
	wasReadOnly := s.readOnly
	s.readOnly = false
	if err := s.load(); err != nil {
		s.readOnly = wasReadOnly
		return err
	}
	if r, ok := s.backend.(ReadOnlyReporter); ok && r.ReadOnly() {
		s.readOnly = true
	}
	return nil
}

func (s *Session) readOnlyErr() error {
	if len(s.duplicates) > 0 {
		return fmt.Errorf("%w: backend %q returned duplicate identifiers %v",
			ErrReadOnly, s.backend.Name(), s.duplicates)
	}
	return fmt.Errorf("%w: backend %q", ErrReadOnly, s.backend.Name())
}
