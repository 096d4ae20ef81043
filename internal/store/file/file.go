// Package file implements the iCalendar-file backend: one writable .ics
// path, or several paths merged into a read-only union.
package file

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/emersion/go-ical"

	"calcli/internal/event"
	"calcli/internal/ics"
	"calcli/internal/store"
)

// Store reads and writes calendar files on the local filesystem. It
// keeps the full record set from the last List so Persist can rewrite
// the whole file; non-event components (time zone definitions) are
// carried through unchanged.
type Store struct {
	name   string
	paths  []string
	backup bool

	records []*event.Event
	extras  []*ical.Component
	loaded  bool
}

// New builds a file store. With a single path the store is writable;
// with several it is a read-only union. backup keeps a .bak copy of the
// previous file contents before each overwrite.
func New(name string, paths []string, backup bool) (*Store, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("file calendar %q has no path", name)
	}
	abs := make([]string, len(paths))
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("bad path %q: %w", p, err)
		}
		abs[i] = a
	}
	return &Store{name: name, paths: abs, backup: backup}, nil
}

func (s *Store) Name() string { return s.name }

// ReadOnly reports whether the store refuses writes: a union of several
// files has no single place to write an edit back to.
func (s *Store) ReadOnly() bool { return len(s.paths) > 1 }

// List parses every configured file. A missing single file is an empty
// calendar, not an error, so a fresh path works on first run.
func (s *Store) List() ([]*event.Event, error) {
	var records []*event.Event
	var extras []*ical.Component

	for _, path := range s.paths {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) && len(s.paths) == 1 {
				continue
			}
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		evs, comps, err := ics.DecodeAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", store.ErrUnavailable, path, err)
		}
		records = append(records, evs...)
		extras = append(extras, comps...)
	}

	s.records = records
	s.extras = extras
	s.loaded = true
	return records, nil
}

// Persist folds the changes into the cached record set and rewrites the
// file atomically: encode to a temp file in the same directory, then
// rename over the original.
func (s *Store) Persist(upserts []*event.Event, deleted []string) error {
	if s.ReadOnly() {
		return fmt.Errorf("%w: calendar %q is a read-only union of %d files",
			store.ErrWrite, s.name, len(s.paths))
	}
	if !s.loaded {
		if _, err := s.List(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrWrite, err)
		}
	}

	next := applyChanges(s.records, upserts, deleted)

	var buf bytes.Buffer
	if err := ics.Encode(&buf, next, s.extras); err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}

	path := s.paths[0]
	if s.backup {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("%w: backup: %v", store.ErrWrite, err)
		}
	}
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}

	s.records = next
	return nil
}

// applyChanges replaces every record of a touched identifier with the
// upserted set and drops deleted identifiers, preserving the original
// order for untouched records.
func applyChanges(current, upserts []*event.Event, deleted []string) []*event.Event {
	drop := make(map[string]bool, len(deleted)+len(upserts))
	for _, uid := range deleted {
		drop[uid] = true
	}
	for _, ev := range upserts {
		drop[ev.UID] = true
	}

	var next []*event.Event
	for _, ev := range current {
		if !drop[ev.UID] {
			next = append(next, ev)
		}
	}

	added := append([]*event.Event(nil), upserts...)
	sort.SliceStable(added, func(i, j int) bool {
		if added[i].UID != added[j].UID {
			return added[i].UID < added[j].UID
		}
		// Master before its overrides.
		return !added[i].IsOverride() && added[j].IsOverride()
	})
	return append(next, added...)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".calcli-*.ics")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
