package edit

import (
	"errors"
	"strings"
	"testing"
	"time"

	"calcli/internal/event"
)

func strPtr(s string) *string            { return &s }
func timePtr(t time.Time) *time.Time     { return &t }
func durPtr(d time.Duration) *time.Duration { return &d }

func dailyMaster(t *testing.T) *event.Event {
	t.Helper()
	rule, err := event.ParseRule("FREQ=DAILY;COUNT=5")
	if err != nil {
		t.Fatalf("ParseRule returned an error: %v", err)
	}
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return &event.Event{
		UID:        "series@test",
		Summary:    "standup",
		Start:      start,
		End:        start.Add(30 * time.Minute),
		HasEnd:     true,
		Recurrence: &event.Spec{Rule: rule},
	}
}

func TestNewUID(t *testing.T) {
	a, b := NewUID(), NewUID()
	if a == b {
		t.Error("two minted identifiers are equal")
	}
	if !strings.Contains(a, "@") {
		t.Errorf("identifier %q lacks a host part", a)
	}
}

func TestCreate_Defaults(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ev, err := Create("", "lunch", "", "", start, nil, nil, false, nil)
	if err != nil {
		t.Fatalf("Create returned an error: %v", err)
	}
	if ev.UID == "" {
		t.Error("identifier was not minted")
	}
	if got := ev.End.Sub(ev.Start); got != event.DefaultDuration {
		t.Errorf("default span = %v, want %v", got, event.DefaultDuration)
	}
	if !ev.HasDuration {
		t.Error("default span should be duration-shaped")
	}
}

func TestCreate_Rejections(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if _, err := Create("", "x", "", "", time.Time{}, nil, nil, false, nil); err == nil {
		t.Error("Create accepted a zero start")
	}
	before := start.Add(-time.Hour)
	if _, err := Create("", "x", "", "", start, &before, nil, false, nil); err == nil {
		t.Error("Create accepted an end before the start")
	}
	if _, err := Create("", "x", "", "", start, nil, durPtr(-time.Minute), false, nil); err == nil {
		t.Error("Create accepted a negative duration")
	}
}

func TestCreate_AllDay(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)
	ev, err := Create("d@test", "holiday", "", "", start, nil, nil, true, nil)
	if err != nil {
		t.Fatalf("Create returned an error: %v", err)
	}
	if !ev.AllDay {
		t.Error("AllDay flag lost")
	}
	if !ev.End.Equal(start.AddDate(0, 0, 1)) {
		t.Errorf("all-day end = %v, want next midnight", ev.End)
	}
}

func TestUpdateSeries_MergesNamedFieldsOnly(t *testing.T) {
	master := dailyMaster(t)
	master.Location = "Room 4"

	res, err := UpdateSeries(master, Changes{Summary: strPtr("daily sync")})
	if err != nil {
		t.Fatalf("UpdateSeries returned an error: %v", err)
	}

	out := res.Master
	if out.Summary != "daily sync" {
		t.Errorf("summary = %q", out.Summary)
	}
	if out.Location != "Room 4" {
		t.Errorf("unnamed field changed: location = %q", out.Location)
	}
	if out.Recurrence == nil || out.Recurrence.Rule.String() != "FREQ=DAILY;COUNT=5" {
		t.Error("recurrence spec changed by a content edit")
	}
	if master.Summary != "standup" {
		t.Error("input master was mutated")
	}
}

func TestUpdateSeries_RetimeKeepsSpan(t *testing.T) {
	master := dailyMaster(t)
	newStart := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)

	res, err := UpdateSeries(master, Changes{Start: timePtr(newStart)})
	if err != nil {
		t.Fatalf("UpdateSeries returned an error: %v", err)
	}
	if got := res.Master.End.Sub(res.Master.Start); got != 30*time.Minute {
		t.Errorf("span after retiming = %v, want 30m", got)
	}
}

func TestUpdateSeries_RejectsOverride(t *testing.T) {
	rid := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	ovr := &event.Event{UID: "series@test", Start: rid, End: rid, RecurrenceID: &rid}

	_, err := UpdateSeries(ovr, Changes{Summary: strPtr("x")})
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestUpdateOccurrence_Override(t *testing.T) {
	master := dailyMaster(t)
	at := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)

	res, err := UpdateOccurrence(master, nil, at, ActionOverride, Changes{
		Summary: strPtr("standup (long)"),
		Start:   timePtr(time.Date(2024, 1, 3, 11, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("UpdateOccurrence returned an error: %v", err)
	}

	ovr := res.Override
	if ovr == nil {
		t.Fatal("no override produced")
	}
	if ovr.UID != master.UID {
		t.Errorf("override UID = %q, want the series UID", ovr.UID)
	}
	if ovr.RecurrenceID == nil || !ovr.RecurrenceID.Equal(at) {
		t.Errorf("override recurrence id = %v, want %v", ovr.RecurrenceID, at)
	}
	if ovr.Recurrence != nil {
		t.Error("override carries a recurrence spec")
	}
	if ovr.Summary != "standup (long)" {
		t.Errorf("override summary = %q", ovr.Summary)
	}
	if res.Master != nil {
		t.Error("an override edit must not touch the master")
	}
	// Rule stays intact on the untouched master.
	if master.Recurrence.Rule.String() != "FREQ=DAILY;COUNT=5" {
		t.Error("master rule changed")
	}
}

func TestUpdateOccurrence_UpdatesExistingOverride(t *testing.T) {
	master := dailyMaster(t)
	rid := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	existing := &event.Event{
		UID:          master.UID,
		Summary:      "moved once",
		Start:        time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 1, 3, 15, 30, 0, 0, time.UTC),
		RecurrenceID: &rid,
	}

	res, err := UpdateOccurrence(master, []*event.Event{existing}, rid, ActionOverride, Changes{
		Location: strPtr("Room 9"),
	})
	if err != nil {
		t.Fatalf("UpdateOccurrence returned an error: %v", err)
	}
	if !res.Override.Start.Equal(existing.Start) {
		t.Errorf("existing override span lost: start = %v", res.Override.Start)
	}
	if res.Override.Location != "Room 9" {
		t.Errorf("location = %q", res.Override.Location)
	}
	if res.Override.Summary != "moved once" {
		t.Errorf("unnamed field changed: summary = %q", res.Override.Summary)
	}
}

func TestUpdateOccurrence_Exclude(t *testing.T) {
	master := dailyMaster(t)
	at := time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC)

	res, err := UpdateOccurrence(master, nil, at, ActionExclude, Changes{})
	if err != nil {
		t.Fatalf("UpdateOccurrence returned an error: %v", err)
	}
	spec := res.Master.Recurrence
	if len(spec.ExclusionDates) != 1 || !spec.ExclusionDates[0].Equal(at) {
		t.Fatalf("exclusion dates = %v, want [%v]", spec.ExclusionDates, at)
	}
	if spec.Rule.String() != "FREQ=DAILY;COUNT=5" {
		t.Error("rule changed by an occurrence delete")
	}

	// Deleting the same occurrence again is a no-op, not an error.
	again, err := UpdateOccurrence(res.Master, nil, at, ActionExclude, Changes{})
	if err != nil {
		t.Fatalf("second delete returned an error: %v", err)
	}
	if got := len(again.Master.Recurrence.ExclusionDates); got != 1 {
		t.Errorf("second delete duplicated the exclusion date: %d entries", got)
	}
}

func TestUpdateOccurrence_ExcludeDropsOverride(t *testing.T) {
	master := dailyMaster(t)
	rid := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	ovr := &event.Event{
		UID:          master.UID,
		Start:        time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 1, 2, 12, 30, 0, 0, time.UTC),
		RecurrenceID: &rid,
	}

	res, err := UpdateOccurrence(master, []*event.Event{ovr}, rid, ActionExclude, Changes{})
	if err != nil {
		t.Fatalf("UpdateOccurrence returned an error: %v", err)
	}
	if res.DropOverrideAt == nil || !res.DropOverrideAt.Equal(rid) {
		t.Errorf("DropOverrideAt = %v, want %v", res.DropOverrideAt, rid)
	}
}

func TestUpdateOccurrence_NonRecurring(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	plain := &event.Event{UID: "p@test", Start: start, End: start.Add(time.Hour)}

	_, err := UpdateOccurrence(plain, nil, start, ActionOverride, Changes{})
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestUpdateOccurrence_NotAMember(t *testing.T) {
	master := dailyMaster(t)
	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	_, err := UpdateOccurrence(master, nil, at, ActionOverride, Changes{})
	var notFound *OccurrenceNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *OccurrenceNotFoundError, got %v", err)
	}
	if notFound.Ref.UID != master.UID || notFound.Ref.At == nil || !notFound.Ref.At.Equal(at) {
		t.Errorf("error ref = %v", notFound.Ref)
	}
}

func TestUpdateOccurrence_ExtraDateMember(t *testing.T) {
	master := dailyMaster(t)
	extra := time.Date(2024, 2, 14, 9, 0, 0, 0, time.UTC)
	master.Recurrence.ExtraDates = []time.Time{extra}

	res, err := UpdateOccurrence(master, nil, extra, ActionOverride, Changes{Summary: strPtr("special")})
	if err != nil {
		t.Fatalf("UpdateOccurrence on an extra date returned an error: %v", err)
	}
	if res.Override == nil || !res.Override.RecurrenceID.Equal(extra) {
		t.Error("extra-date occurrence not addressable")
	}
}

func TestSetRecurrence(t *testing.T) {
	master := dailyMaster(t)

	res, err := SetRecurrence(master, FieldRule, "FREQ=WEEKLY;COUNT=3", nil)
	if err != nil {
		t.Fatalf("SetRecurrence returned an error: %v", err)
	}
	if res.Master.Recurrence.Rule.String() != "FREQ=WEEKLY;COUNT=3" {
		t.Errorf("rule = %q", res.Master.Recurrence.Rule.String())
	}

	res, err = SetRecurrence(master, FieldExclusionDates, "", []time.Time{master.Start})
	if err != nil {
		t.Fatalf("SetRecurrence returned an error: %v", err)
	}
	if len(res.Master.Recurrence.ExclusionDates) != 1 {
		t.Errorf("exclusion dates = %v", res.Master.Recurrence.ExclusionDates)
	}

	// A malformed rule is rejected before anything changes.
	if _, err := SetRecurrence(master, FieldRule, "COUNT=3", nil); err == nil {
		t.Error("SetRecurrence accepted a rule without FREQ")
	}
}

func TestSetRecurrence_ClearingLastFieldDropsSpec(t *testing.T) {
	master := dailyMaster(t)
	res, err := SetRecurrence(master, FieldRule, "", nil)
	if err != nil {
		t.Fatalf("SetRecurrence returned an error: %v", err)
	}
	if res.Master.Recurrence != nil {
		t.Errorf("empty spec kept: %+v", res.Master.Recurrence)
	}
}

func TestSetRecurrence_Scope(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	plain := &event.Event{UID: "p@test", Start: start, End: start.Add(time.Hour)}
	if _, err := SetRecurrence(plain, FieldRule, "FREQ=DAILY", nil); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("non-recurring event: expected ErrInvalidScope, got %v", err)
	}

	rid := start
	ovr := &event.Event{UID: "p@test", Start: start, End: start, RecurrenceID: &rid}
	if _, err := SetRecurrence(ovr, FieldRule, "FREQ=DAILY", nil); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("override: expected ErrInvalidScope, got %v", err)
	}
}
