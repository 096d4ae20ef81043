package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseDuration reads the calendar duration grammar: [+/-]P[nW][nD][T[nH][nM][nS]].
func parseDuration(s string) (time.Duration, error) {
	orig := s
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	s = s[1:]

	var d time.Duration
	inTime := false
	num := ""
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			num += string(c)
			continue
		case c == 'T':
			inTime = true
			continue
		}

		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", orig)
		}
		num = ""

		switch c {
		case 'W':
			d += time.Duration(n) * 7 * 24 * time.Hour
		case 'D':
			d += time.Duration(n) * 24 * time.Hour
		case 'H':
			if !inTime {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			d += time.Duration(n) * time.Hour
		case 'M':
			if !inTime {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			d += time.Duration(n) * time.Minute
		case 'S':
			if !inTime {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			d += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", orig)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}

	if neg {
		d = -d
	}
	return d, nil
}

// formatDuration renders a duration in the calendar grammar, whole days
// as P<n>D and the rest as a time section.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	out := ""
	if d < 0 {
		out = "-"
		d = -d
	}
	out += "P"

	if days := d / (24 * time.Hour); days > 0 && d%(24*time.Hour) == 0 {
		return out + strconv.FormatInt(int64(days), 10) + "D"
	}

	out += "T"
	if h := d / time.Hour; h > 0 {
		out += strconv.FormatInt(int64(h), 10) + "H"
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		out += strconv.FormatInt(int64(m), 10) + "M"
		d -= m * time.Minute
	}
	if s := d / time.Second; s > 0 {
		out += strconv.FormatInt(int64(s), 10) + "S"
	}
	if strings.HasSuffix(out, "T") {
		out += "0S"
	}
	return out
}
