// Package gcal implements a Google Calendar backend over the calendar/v3
// API. Master events map to Google events carrying recurrence strings;
// detached overrides map to modified instances of their series.
package gcal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calcli/internal/event"
	"calcli/internal/log"
	"calcli/internal/store"
)

// Store wraps the Google Calendar API for one calendar.
type Store struct {
	service    *calendar.Service
	name       string
	calendarID string

	// Google assigns its own event ids; the calendar is addressed by
	// iCalUID here, so List records the mapping for later writes.
	masterIDs   map[string]string
	instanceIDs map[string]string
}

// New creates a Google Calendar store using an authenticated HTTP
// client. calendarID is the Google calendar to operate on ("primary"
// for the account's default calendar).
func New(ctx context.Context, httpClient *http.Client, name, calendarID string) (*Store, error) {
	service, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Store{
		service:     service,
		name:        name,
		calendarID:  calendarID,
		masterIDs:   make(map[string]string),
		instanceIDs: make(map[string]string),
	}, nil
}

func (s *Store) Name() string { return s.name }

// List fetches every event without expanding recurrences, so masters
// come back with their recurrence strings and modified instances come
// back as separate records referencing their series.
func (s *Store) List() ([]*event.Event, error) {
	s.masterIDs = make(map[string]string)
	s.instanceIDs = make(map[string]string)

	var records []*event.Event
	pageToken := ""
	for {
		call := s.service.Events.List(s.calendarID).
			SingleEvents(false).
			ShowDeleted(false).
			MaxResults(2500)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list events: %v", store.ErrUnavailable, err)
		}

		for _, item := range page.Items {
			ev, err := toEvent(item)
			if err != nil {
				log.Warn("skipping unconvertible event", "calendar", s.name, "id", item.Id, "err", err)
				continue
			}
			if ev.IsOverride() {
				s.instanceIDs[instanceKey(ev.UID, *ev.RecurrenceID)] = item.Id
			} else {
				s.masterIDs[ev.UID] = item.Id
			}
			records = append(records, ev)
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return records, nil
}

// Persist writes masters first so a new series exists before its
// modified instances are patched, then deletes removed series.
// Notifications are disabled on every write.
func (s *Store) Persist(upserts []*event.Event, deleted []string) error {
	var masters, overrides []*event.Event
	for _, ev := range upserts {
		if ev.IsOverride() {
			overrides = append(overrides, ev)
		} else {
			masters = append(masters, ev)
		}
	}

	for _, ev := range masters {
		if err := s.upsertMaster(ev); err != nil {
			return err
		}
	}
	for _, ev := range overrides {
		if err := s.upsertOverride(ev); err != nil {
			return err
		}
	}
	for _, uid := range deleted {
		if err := s.deleteSeries(uid); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertMaster(ev *event.Event) error {
	gev := fromEvent(ev)

	if id, known := s.masterIDs[ev.UID]; known {
		if _, err := s.service.Events.Update(s.calendarID, id, gev).SendUpdates("none").Do(); err != nil {
			return fmt.Errorf("%w: failed to update event %s: %v", store.ErrWrite, ev.UID, err)
		}
		return nil
	}

	// Import keeps the caller-supplied iCalUID, unlike Insert.
	created, err := s.service.Events.Import(s.calendarID, gev).Do()
	if err != nil {
		return fmt.Errorf("%w: failed to import event %s: %v", store.ErrWrite, ev.UID, err)
	}
	s.masterIDs[ev.UID] = created.Id
	return nil
}

// upsertOverride updates the series instance at the override's
// recurrence-identity timestamp.
func (s *Store) upsertOverride(ev *event.Event) error {
	gev := fromEvent(ev)

	if id, known := s.instanceIDs[instanceKey(ev.UID, *ev.RecurrenceID)]; known {
		if _, err := s.service.Events.Update(s.calendarID, id, gev).SendUpdates("none").Do(); err != nil {
			return fmt.Errorf("%w: failed to update instance of %s: %v", store.ErrWrite, ev.UID, err)
		}
		return nil
	}

	masterID, known := s.masterIDs[ev.UID]
	if !known {
		return fmt.Errorf("%w: no series %s for override", store.ErrWrite, ev.UID)
	}

	instances, err := s.service.Events.Instances(s.calendarID, masterID).
		OriginalStart(ev.RecurrenceID.Format(time.RFC3339)).
		Do()
	if err != nil {
		return fmt.Errorf("%w: failed to locate instance of %s: %v", store.ErrWrite, ev.UID, err)
	}
	if len(instances.Items) == 0 {
		return fmt.Errorf("%w: series %s has no instance at %s", store.ErrWrite,
			ev.UID, ev.RecurrenceID.Format(time.RFC3339))
	}

	instanceID := instances.Items[0].Id
	if _, err := s.service.Events.Update(s.calendarID, instanceID, gev).SendUpdates("none").Do(); err != nil {
		return fmt.Errorf("%w: failed to update instance of %s: %v", store.ErrWrite, ev.UID, err)
	}
	s.instanceIDs[instanceKey(ev.UID, *ev.RecurrenceID)] = instanceID
	return nil
}

func (s *Store) deleteSeries(uid string) error {
	id, known := s.masterIDs[uid]
	if !known {
		return nil
	}
	if err := s.service.Events.Delete(s.calendarID, id).SendUpdates("none").Do(); err != nil {
		return fmt.Errorf("%w: failed to delete event %s: %v", store.ErrWrite, uid, err)
	}
	delete(s.masterIDs, uid)
	return nil
}

func instanceKey(uid string, at time.Time) string {
	return uid + "\x00" + at.UTC().Format(time.RFC3339)
}
