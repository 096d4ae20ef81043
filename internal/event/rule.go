package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MalformedRuleError reports a recurrence rule that failed to parse,
// naming the offending token.
type MalformedRuleError struct {
	Token  string
	Reason string
}

func (e *MalformedRuleError) Error() string {
	return fmt.Sprintf("malformed recurrence rule: %s (token %q)", e.Reason, e.Token)
}

// recognized lists the rule parts this model interprets. Anything else is
// carried through serialization verbatim but takes no part in expansion.
var recognized = map[string]bool{
	"FREQ": true, "INTERVAL": true, "COUNT": true, "UNTIL": true,
	"WKST": true, "BYSETPOS": true, "BYMONTH": true, "BYMONTHDAY": true,
	"BYYEARDAY": true, "BYWEEKNO": true, "BYDAY": true, "BYHOUR": true,
	"BYMINUTE": true, "BYSECOND": true,
}

// Rule is a parsed recurrence rule. It keeps the source token list so
// serialization reproduces the original text, and is immutable once
// parsed; rule edits replace the whole value.
type Rule struct {
	tokens []string
}

// ParseRule parses a FREQ=...;COUNT=... style rule. It fails with a
// *MalformedRuleError when the frequency is missing, the interval is not
// positive, or COUNT and UNTIL are both given; deeper grammar errors are
// wrapped the same way.
func ParseRule(text string) (*Rule, error) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ";"))
	if text == "" {
		return nil, &MalformedRuleError{Token: "", Reason: "empty rule"}
	}

	tokens := strings.Split(text, ";")
	seen := map[string]string{}
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return nil, &MalformedRuleError{Token: tok, Reason: "expected KEY=VALUE"}
		}
		seen[strings.ToUpper(key)] = value
	}

	if _, ok := seen["FREQ"]; !ok {
		return nil, &MalformedRuleError{Token: "FREQ", Reason: "frequency is required"}
	}
	if iv, ok := seen["INTERVAL"]; ok {
		n, err := strconv.Atoi(iv)
		if err != nil || n <= 0 {
			return nil, &MalformedRuleError{Token: "INTERVAL=" + iv, Reason: "interval must be a positive integer"}
		}
	}
	if _, hasCount := seen["COUNT"]; hasCount {
		if _, hasUntil := seen["UNTIL"]; hasUntil {
			return nil, &MalformedRuleError{Token: "COUNT", Reason: "COUNT and UNTIL are mutually exclusive"}
		}
	}

	r := &Rule{tokens: tokens}

	// Compile once to surface value errors (bad BYDAY names, unparsable
	// UNTIL and so on) at parse time rather than at expansion time.
	if _, err := rrule.StrToRRule(r.compiledText()); err != nil {
		return nil, &MalformedRuleError{Token: r.compiledText(), Reason: err.Error()}
	}

	return r, nil
}

// String returns the rule exactly as parsed, unrecognized tokens included.
func (r *Rule) String() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.tokens, ";")
}

// Clone is cheap: rules are immutable.
func (r *Rule) Clone() *Rule {
	return r
}

// compiledText joins only the recognized tokens, uppercased keys, for the
// rule engine.
func (r *Rule) compiledText() string {
	var parts []string
	for _, tok := range r.tokens {
		key, _, _ := strings.Cut(tok, "=")
		upper := strings.ToUpper(key)
		if recognized[upper] {
			parts = append(parts, upper+tok[len(key):])
		}
	}
	return strings.Join(parts, ";")
}

// Compile anchors the rule at the given series start and returns the
// generator used for expansion.
func (r *Rule) Compile(dtstart time.Time) (*rrule.RRule, error) {
	rr, err := rrule.StrToRRule(r.compiledText())
	if err != nil {
		return nil, &MalformedRuleError{Token: r.compiledText(), Reason: err.Error()}
	}
	rr.DTStart(dtstart)
	return rr, nil
}
