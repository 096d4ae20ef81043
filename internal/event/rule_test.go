package event

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseRule_Valid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"daily", "FREQ=DAILY"},
		{"weekly with count", "FREQ=WEEKLY;COUNT=10"},
		{"monthly with interval", "FREQ=MONTHLY;INTERVAL=2"},
		{"until", "FREQ=DAILY;UNTIL=20251231T000000Z"},
		{"byday", "FREQ=WEEKLY;BYDAY=MO,WE,FR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := ParseRule(tt.text)
			if err != nil {
				t.Fatalf("ParseRule(%q) returned an error: %v", tt.text, err)
			}
			if rule.String() != tt.text {
				t.Errorf("String() = %q, want %q", rule.String(), tt.text)
			}
		})
	}
}

func TestParseRule_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantToken string
	}{
		{"empty", "", ""},
		{"missing freq", "COUNT=5", "FREQ"},
		{"zero interval", "FREQ=DAILY;INTERVAL=0", "INTERVAL=0"},
		{"negative interval", "FREQ=DAILY;INTERVAL=-2", "INTERVAL=-2"},
		{"non-numeric interval", "FREQ=DAILY;INTERVAL=x", "INTERVAL=x"},
		{"count and until", "FREQ=DAILY;COUNT=3;UNTIL=20250101T000000Z", "COUNT"},
		{"bare token", "FREQ=DAILY;NONSENSE", "NONSENSE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRule(tt.text)
			if err == nil {
				t.Fatalf("ParseRule(%q) succeeded, want *MalformedRuleError", tt.text)
			}
			var malformed *MalformedRuleError
			if !errors.As(err, &malformed) {
				t.Fatalf("ParseRule(%q) returned %T, want *MalformedRuleError", tt.text, err)
			}
			if malformed.Token != tt.wantToken {
				t.Errorf("offending token = %q, want %q", malformed.Token, tt.wantToken)
			}
		})
	}
}

func TestParseRule_PreservesUnrecognizedTokens(t *testing.T) {
	text := "FREQ=WEEKLY;COUNT=4;X-EXPERIMENTAL=yes"
	rule, err := ParseRule(text)
	if err != nil {
		t.Fatalf("ParseRule(%q) returned an error: %v", text, err)
	}

	// Serialization keeps the unknown token verbatim.
	if rule.String() != text {
		t.Errorf("String() = %q, want %q", rule.String(), text)
	}

	// The unknown token takes no part in expansion.
	if strings.Contains(rule.compiledText(), "X-EXPERIMENTAL") {
		t.Errorf("compiledText() = %q, should not include unrecognized tokens", rule.compiledText())
	}
}

func TestRuleCompile(t *testing.T) {
	rule, err := ParseRule("FREQ=DAILY;COUNT=3")
	if err != nil {
		t.Fatalf("ParseRule returned an error: %v", err)
	}

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rr, err := rule.Compile(start)
	if err != nil {
		t.Fatalf("Compile returned an error: %v", err)
	}

	all := rr.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(all))
	}
	if !all[0].Equal(start) {
		t.Errorf("first instance = %v, want %v", all[0], start)
	}
	if !all[2].Equal(start.AddDate(0, 0, 2)) {
		t.Errorf("last instance = %v, want %v", all[2], start.AddDate(0, 0, 2))
	}
}
