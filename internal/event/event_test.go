package event

import (
	"testing"
	"time"
)

func TestCloneIsDeep(t *testing.T) {
	rid := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rule, err := ParseRule("FREQ=DAILY;COUNT=5")
	if err != nil {
		t.Fatalf("ParseRule returned an error: %v", err)
	}

	original := &Event{
		UID:          "a@example.com",
		Summary:      "standup",
		Start:        time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		RecurrenceID: &rid,
		Recurrence: &Spec{
			Rule:           rule,
			ExclusionDates: []time.Time{rid.AddDate(0, 0, 1)},
		},
	}

	clone := original.Clone()
	clone.Summary = "changed"
	clone.Recurrence.ExclusionDates = append(clone.Recurrence.ExclusionDates, rid.AddDate(0, 0, 2))
	*clone.RecurrenceID = rid.AddDate(0, 0, 3)

	if original.Summary != "standup" {
		t.Errorf("clone edit leaked into original summary: %q", original.Summary)
	}
	if len(original.Recurrence.ExclusionDates) != 1 {
		t.Errorf("clone edit leaked into original exclusion dates: %v", original.Recurrence.ExclusionDates)
	}
	if !original.RecurrenceID.Equal(rid) {
		t.Errorf("clone edit leaked into original recurrence id: %v", original.RecurrenceID)
	}
}

func TestIsRecurring(t *testing.T) {
	plain := &Event{UID: "p"}
	if plain.IsRecurring() {
		t.Error("event without recurrence fields reported recurring")
	}

	rule, _ := ParseRule("FREQ=DAILY")
	withRule := &Event{UID: "r", Recurrence: &Spec{Rule: rule}}
	if !withRule.IsRecurring() {
		t.Error("event with a rule reported non-recurring")
	}

	extra := &Event{UID: "x", Recurrence: &Spec{ExtraDates: []time.Time{time.Now()}}}
	if !extra.IsRecurring() {
		t.Error("event with extra dates reported non-recurring")
	}

	onlyExclusions := &Event{UID: "e", Recurrence: &Spec{ExclusionDates: []time.Time{time.Now()}}}
	if onlyExclusions.IsRecurring() {
		t.Error("event with only exclusion dates reported recurring")
	}
}

func TestSameInstant(t *testing.T) {
	timed := &Event{
		Start: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	a := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	b := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !timed.SameInstant(a, a) {
		t.Error("identical instants compared unequal")
	}
	if timed.SameInstant(a, b) {
		t.Error("distinct instants compared equal for a timed event")
	}

	allDay := &Event{
		Start:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local),
		AllDay: true,
	}
	morning := time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local)
	evening := time.Date(2024, 5, 1, 22, 0, 0, 0, time.Local)
	if !allDay.SameInstant(morning, evening) {
		t.Error("same calendar day compared unequal for an all-day event")
	}
	nextDay := time.Date(2024, 5, 2, 8, 0, 0, 0, time.Local)
	if allDay.SameInstant(morning, nextDay) {
		t.Error("different calendar days compared equal for an all-day event")
	}
}

func TestRefString(t *testing.T) {
	series := Ref{UID: "abc"}
	if series.String() != "abc" {
		t.Errorf("series ref = %q, want %q", series.String(), "abc")
	}

	at := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	occ := Ref{UID: "abc", At: &at}
	want := "abc@2024-01-03T09:00:00Z"
	if occ.String() != want {
		t.Errorf("occurrence ref = %q, want %q", occ.String(), want)
	}
}
