// Package caldav implements a CalDAV collection backend. Each series is
// one calendar resource named after its identifier, holding the master
// event and all of its detached overrides; edits rewrite the resource
// with PUT, series deletion removes it with DELETE.
package caldav

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"calcli/internal/event"
	"calcli/internal/ics"
	"calcli/internal/log"
	"calcli/internal/store"
)

// Store is a client for one CalDAV calendar collection using basic
// auth. The collection URL must point at the calendar itself, e.g.
// "https://caldav.example.com/user/calendars/personal/".
type Store struct {
	httpClient    *http.Client
	name          string
	collectionURL string
	username      string
	password      string
}

// New builds a CalDAV store for a collection URL.
func New(name, collectionURL, username, password string) (*Store, error) {
	u, err := url.Parse(collectionURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("caldav calendar %q: bad collection URL %q", name, collectionURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &Store{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		name:          name,
		collectionURL: u.String(),
		username:      username,
		password:      password,
	}, nil
}

func (s *Store) Name() string { return s.name }

// makeRequest makes an authenticated HTTP request against the
// collection or one of its resources.
func (s *Store) makeRequest(method, ref string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, ref, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.username, s.password)
	if body != nil && method == "REPORT" {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}
	if method == "PUT" {
		req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	}
	req.Header.Set("Depth", "1")
	return s.httpClient.Do(req)
}

// List queries the whole collection with a calendar-query REPORT and
// parses every returned VEVENT.
func (s *Store) List() ([]*event.Event, error) {
	queryBody := `<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT"/>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

	resp, err := s.makeRequest("REPORT", s.collectionURL, strings.NewReader(queryBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("%w: query returned HTTP %d", store.ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	blocks, err := parseMultistatus(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var records []*event.Event
	for _, block := range blocks {
		evs, _, err := ics.DecodeAll(strings.NewReader(block))
		if err != nil {
			log.Warn("skipping unparsable calendar resource", "calendar", s.name, "err", err)
			continue
		}
		records = append(records, evs...)
	}
	return records, nil
}

// Persist rewrites one resource per upserted identifier and deletes the
// resources of removed identifiers.
func (s *Store) Persist(upserts []*event.Event, deleted []string) error {
	byUID := make(map[string][]*event.Event)
	var order []string
	for _, ev := range upserts {
		if _, seen := byUID[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		byUID[ev.UID] = append(byUID[ev.UID], ev)
	}

	for _, uid := range order {
		if err := s.putResource(uid, byUID[uid]); err != nil {
			return err
		}
	}
	for _, uid := range deleted {
		if err := s.deleteResource(uid); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) putResource(uid string, records []*event.Event) error {
	var buf bytes.Buffer
	if err := ics.Encode(&buf, records, nil); err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}

	resp, err := s.makeRequest("PUT", s.resourceURL(uid), &buf)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: PUT %s returned HTTP %d", store.ErrWrite, uid, resp.StatusCode)
	}
	return nil
}

func (s *Store) deleteResource(uid string) error {
	resp, err := s.makeRequest("DELETE", s.resourceURL(uid), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		// Already gone; deletion is idempotent.
		return nil
	default:
		return fmt.Errorf("%w: DELETE %s returned HTTP %d", store.ErrWrite, uid, resp.StatusCode)
	}
}

func (s *Store) resourceURL(uid string) string {
	return s.collectionURL + url.PathEscape(uid) + ".ics"
}

// parseMultistatus extracts the calendar-data blocks from a REPORT
// multistatus response.
func parseMultistatus(body []byte) ([]string, error) {
	type calendarData struct {
		XMLName xml.Name `xml:"calendar-data"`
		Data    string   `xml:",chardata"`
	}
	type prop struct {
		CalendarData calendarData `xml:"calendar-data"`
	}
	type response struct {
		XMLName xml.Name `xml:"response"`
		Href    string   `xml:"href"`
		Prop    prop     `xml:"propstat>prop"`
	}
	type multistatus struct {
		XMLName   xml.Name   `xml:"multistatus"`
		Responses []response `xml:"response"`
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus XML: %w", err)
	}

	var blocks []string
	for _, resp := range ms.Responses {
		if resp.Prop.CalendarData.Data != "" {
			blocks = append(blocks, resp.Prop.CalendarData.Data)
		}
	}
	return blocks, nil
}
