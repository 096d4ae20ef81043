// Package repl implements the interactive shell: one command per line,
// each command with its own flag set, all operating on the open store
// session.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"calcli/internal/config"
	"calcli/internal/event"
	"calcli/internal/expand"
	"calcli/internal/store"
	"calcli/internal/view"
)

// REPL drives the command loop over one open session. Commands and
// background autosync ticks are serialized through mu; the core below
// it is single-threaded by construction.
type REPL struct {
	Session *store.Session
	Config  *config.Config

	// Factory opens a named configured calendar, for mirror.
	Factory func(name string) (store.Backend, error)

	// AutoSync persists after each successful mutation.
	AutoSync bool

	Opts view.Options

	In  io.Reader
	Out io.Writer

	mu      sync.Mutex
	scanner *bufio.Scanner
}

// Run reads and executes commands until quit or EOF.
func (r *REPL) Run() error {
	r.scanner = bufio.NewScanner(r.In)
	r.scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Fprintf(r.Out, "calcli — calendar %q", r.Session.Name())
	if r.Session.ReadOnly() {
		fmt.Fprint(r.Out, " (read-only)")
	}
	fmt.Fprintln(r.Out, ". Type 'help' for commands.")
	r.warnDuplicates()

	for {
		fmt.Fprint(r.Out, "calcli> ")
		if !r.scanner.Scan() {
			fmt.Fprintln(r.Out)
			return r.scanner.Err()
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		if isQuit(line) {
			if r.Session.Dirty() {
				fmt.Fprintln(r.Out, "Unsaved changes; 'sync' to persist them or 'quit!' to discard.")
				if line != "quit!" && line != "q!" {
					continue
				}
			}
			return nil
		}

		if err := r.Execute(line); err != nil {
			fmt.Fprintf(r.Out, "error: %v\n", err)
		}
	}
}

func isQuit(line string) bool {
	switch line {
	case "q", "x", "quit", "exit", "q!", "quit!":
		return true
	}
	return false
}

// Execute runs a single command line.
func (r *REPL) Execute(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	args, err := tokenize(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "g", "agenda":
		return r.cmdAgenda(rest)
	case "w", "calw":
		return r.cmdWeek(rest)
	case "m", "calm":
		return r.cmdMonth(rest)
	case "s", "search":
		return r.cmdSearch(rest)
	case "a", "add":
		return r.cmdAdd(rest)
	case "e", "edit":
		return r.cmdEdit(rest)
	case "d", "delete":
		return r.cmdDelete(rest)
	case "y", "sync":
		return r.cmdSync(rest)
	case "reload":
		return r.cmdReload(rest)
	case "mirror":
		return r.cmdMirror(rest)
	case "h", "help", "?":
		r.printHelp()
		return nil
	default:
		fmt.Fprintf(r.Out, "unknown command %q; type 'help' for commands\n", cmd)
		return nil
	}
}

// Tick flushes dirty state and refreshes from the backend. Run from the
// autosync schedule; skipped while a command is mid-flight would
// deadlock, so it takes the same lock and waits its turn.
func (r *REPL) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Session.ReadOnly() {
		return
	}
	if r.Session.Dirty() {
		if err := r.Session.Flush(); err != nil {
			fmt.Fprintf(r.Out, "\nautosync: %v\ncalcli> ", err)
			return
		}
	}
	if err := r.Session.Reload(); err != nil {
		fmt.Fprintf(r.Out, "\nautosync: %v\ncalcli> ", err)
	}
}

func (r *REPL) printHelp() {
	fmt.Fprint(r.Out, `Commands:
  agenda (g)  [-from D] [-to D]         list occurrences in a window
  calw   (w)  [-date D]                 week grid
  calm   (m)  [-date D]                 month grid
  search (s)  [-u] [-prop P] [-recurring|-single] [-from D] [-to D] REGEX
  add    (a)  -summary S -start D [-end D|-duration M] [-allday]
              [-desc S] [-location S] [-rrule R] [-raw]
  edit   (e)  UID [-occurrence D] [field flags] | [-rrule R] [-exrule R]
              [-rdate D,..] [-exdate D,..] | [-raw]
  delete (d)  UID [-occurrence D] [-yes]
  sync   (y)                            persist pending changes
  reload                                re-read the backend (when clean)
  mirror SRC DST                        one-way copy between calendars
  help   (h)                            this text
  quit   (q)                            leave (quit! discards changes)
Dates: 2006-01-02 or 2006-01-02T15:04 (local time).
`)
}

func (r *REPL) warnDuplicates() {
	if dups := r.Session.Duplicates(); len(dups) > 0 {
		fmt.Fprintf(r.Out, "warning: duplicate identifiers were found and deduplicated (last seen kept): %s\n",
			strings.Join(dups, ", "))
		fmt.Fprintln(r.Out, "warning: the store is read-only for this session")
	}
}

// confirm asks a yes/no question on the shell's own input.
func (r *REPL) confirm(prompt string) bool {
	fmt.Fprintf(r.Out, "%s [y/N] ", prompt)
	if !r.scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(r.scanner.Text()))
	return answer == "y" || answer == "yes"
}

// maybeSync persists after a successful mutation when autosync is on.
func (r *REPL) maybeSync() error {
	if !r.AutoSync {
		fmt.Fprintln(r.Out, "(not persisted; run 'sync')")
		return nil
	}
	return r.Session.Flush()
}

// defaultWindow is the caller-supplied window handed to the expander
// when a command has no explicit bounds. Opts.Now is only set in tests;
// the wall clock is the reference otherwise.
func (r *REPL) defaultWindow() expand.Window {
	now := r.Opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	return expand.DefaultWindow(now, r.Config.PastYears, r.Config.FutureYears)
}

func (r *REPL) window(fromStr, toStr string) (expand.Window, error) {
	w := r.defaultWindow()
	if fromStr != "" {
		t, err := parseWhen(fromStr)
		if err != nil {
			return w, err
		}
		w.Start = t
	}
	if toStr != "" {
		t, err := parseWhen(toStr)
		if err != nil {
			return w, err
		}
		// A bare date as the window end means the whole day.
		if len(toStr) == len("2006-01-02") {
			t = t.AddDate(0, 0, 1).Add(-time.Second)
		}
		w.End = t
	}
	if w.End.Before(w.Start) {
		return w, fmt.Errorf("window end %s is before start %s", toStr, fromStr)
	}
	return w, nil
}

// occurrencesIn expands every master event of the session over the
// window and merges the results in ascending start order.
func (r *REPL) occurrencesIn(w expand.Window) ([]event.Occurrence, error) {
	var out []event.Occurrence
	for _, master := range r.Session.Events() {
		next, err := expand.Iterate(master, r.Session.Overrides(master.UID), w)
		if err != nil {
			return nil, err
		}
		for occ, ok := next(); ok; occ, ok = next() {
			out = append(out, occ)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UID < out[j].UID
	})
	return out, nil
}

// parseWhen reads the shell's date grammar: a date, or a date with a
// minute-resolution time, both local.
func parseWhen(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date (want 2006-01-02 or 2006-01-02T15:04)", s)
}

func parseWhenList(s string) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := parseWhen(part)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// tokenize splits a command line on spaces, honoring single and double
// quotes.
func tokenize(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inToken := false
	var quote rune

	for _, c := range line {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inToken = true
		case c == ' ' || c == '\t':
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(c)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args, nil
}
