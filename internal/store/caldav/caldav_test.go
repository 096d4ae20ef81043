package caldav

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"calcli/internal/event"
	"calcli/internal/store"
)

const multistatusBody = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:response>
    <D:href>/cal/one%40test.ics</D:href>
    <D:propstat>
      <D:prop>
        <D:getetag>"abc"</D:getetag>
        <C:calendar-data>BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//server//EN
BEGIN:VEVENT
UID:one@test
DTSTAMP:20240101T000000Z
SUMMARY:From server
DTSTART:20240401T090000Z
DTEND:20240401T100000Z
END:VEVENT
END:VCALENDAR
</C:calendar-data>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

func TestList(t *testing.T) {
	var gotMethod, gotDepth, gotAuth string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotDepth = r.Header.Get("Depth")
		user, pass, _ := r.BasicAuth()
		gotAuth = user + ":" + pass
		gotBody, _ = io.ReadAll(r.Body)

		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(multistatusBody))
	}))
	defer server.Close()

	s, err := New("remote", server.URL+"/cal/", "alice", "secret")
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}

	records, err := s.List()
	if err != nil {
		t.Fatalf("List returned an error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].UID != "one@test" || records[0].Summary != "From server" {
		t.Errorf("record = %q / %q", records[0].UID, records[0].Summary)
	}

	if gotMethod != "REPORT" {
		t.Errorf("method = %q, want REPORT", gotMethod)
	}
	if gotDepth != "1" {
		t.Errorf("Depth = %q, want 1", gotDepth)
	}
	if gotAuth != "alice:secret" {
		t.Errorf("basic auth = %q", gotAuth)
	}
	if !strings.Contains(string(gotBody), "calendar-query") {
		t.Errorf("request body is not a calendar-query:\n%s", gotBody)
	}
}

func TestList_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s, _ := New("remote", server.URL+"/cal/", "alice", "secret")
	if _, err := s.List(); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestList_SkipsUnparsableResource(t *testing.T) {
	body := strings.Replace(multistatusBody, "BEGIN:VEVENT", "BEGIN:BROKEN", 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(body))
	}))
	defer server.Close()

	s, _ := New("remote", server.URL+"/cal/", "alice", "secret")
	records, err := s.List()
	if err != nil {
		t.Fatalf("List returned an error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected the broken resource to be skipped, got %d records", len(records))
	}
}

func TestPersist_PutsOneResourcePerIdentifier(t *testing.T) {
	type put struct {
		path string
		body string
	}
	var puts []put

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PUT" {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
			t.Errorf("PUT content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		puts = append(puts, put{path: r.URL.Path, body: string(body)})
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	s, _ := New("remote", server.URL+"/cal/", "alice", "secret")

	start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	rid := start.AddDate(0, 0, 1)
	master := &event.Event{UID: "a@test", Summary: "series", Start: start, End: start.Add(time.Hour), HasEnd: true}
	override := &event.Event{UID: "a@test", Summary: "moved", Start: rid, End: rid.Add(time.Hour), HasEnd: true, RecurrenceID: &rid}
	other := &event.Event{UID: "b@test", Summary: "other", Start: start, End: start.Add(time.Hour), HasEnd: true}

	if err := s.Persist([]*event.Event{master, override, other}, nil); err != nil {
		t.Fatalf("Persist returned an error: %v", err)
	}
	if len(puts) != 2 {
		t.Fatalf("expected 2 PUTs, got %d", len(puts))
	}

	if puts[0].path != "/cal/a@test.ics" && puts[0].path != "/cal/a%40test.ics" {
		t.Errorf("first PUT path = %q", puts[0].path)
	}
	// The series resource holds the master and the override together.
	if strings.Count(puts[0].body, "BEGIN:VEVENT") != 2 {
		t.Errorf("series resource holds %d VEVENTs, want 2:\n%s",
			strings.Count(puts[0].body, "BEGIN:VEVENT"), puts[0].body)
	}
	if !strings.Contains(puts[0].body, "RECURRENCE-ID") {
		t.Errorf("override missing from the series resource:\n%s", puts[0].body)
	}
	if strings.Count(puts[1].body, "BEGIN:VEVENT") != 1 {
		t.Errorf("second resource holds %d VEVENTs, want 1", strings.Count(puts[1].body, "BEGIN:VEVENT"))
	}
}

func TestPersist_Delete(t *testing.T) {
	var deletes []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" {
			t.Errorf("unexpected method %s", r.Method)
		}
		deletes = append(deletes, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s, _ := New("remote", server.URL+"/cal/", "alice", "secret")
	if err := s.Persist(nil, []string{"gone@test"}); err != nil {
		t.Fatalf("Persist returned an error: %v", err)
	}
	if len(deletes) != 1 {
		t.Fatalf("expected 1 DELETE, got %d", len(deletes))
	}
}

func TestPersist_DeleteMissingIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s, _ := New("remote", server.URL+"/cal/", "alice", "secret")
	if err := s.Persist(nil, []string{"gone@test"}); err != nil {
		t.Errorf("deleting an absent resource returned an error: %v", err)
	}
}

func TestPersist_WriteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	s, _ := New("remote", server.URL+"/cal/", "alice", "secret")
	start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	ev := &event.Event{UID: "a@test", Start: start, End: start.Add(time.Hour), HasEnd: true}

	if err := s.Persist([]*event.Event{ev}, nil); !errors.Is(err, store.ErrWrite) {
		t.Errorf("expected ErrWrite, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("bad", "not a url", "u", "p"); err == nil {
		t.Error("New accepted a URL without scheme or host")
	}

	s, err := New("ok", "https://dav.example.com/cal", "u", "p")
	if err != nil {
		t.Fatalf("New returned an error: %v", err)
	}
	if !strings.HasSuffix(s.collectionURL, "/") {
		t.Errorf("collection URL not normalized: %q", s.collectionURL)
	}
}
