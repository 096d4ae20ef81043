// Package vault implements a passphrase-encrypted single-file backend.
// The payload is ordinary iCalendar text sealed with a secretbox key
// derived from the passphrase by argon2id, so the vault file is useless
// without the passphrase but everything inside it stays plain ICS.
package vault

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"calcli/internal/event"
	"calcli/internal/ics"
	"calcli/internal/store"
)

// File layout: magic, version byte, 16-byte argon2 salt, 24-byte
// secretbox nonce, sealed ICS payload.
const (
	magic   = "CALVLT"
	version = 1

	saltSize  = 16
	nonceSize = 24

	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	keySize      = 32
)

// ErrBadPassphrase reports a vault that could not be opened with the
// given passphrase (or a corrupted vault file; the seal cannot tell
// them apart).
var ErrBadPassphrase = fmt.Errorf("wrong passphrase or corrupted vault")

// Store is the encrypted backend. Like the file store it caches the
// record set from List so Persist can rewrite the whole vault.
type Store struct {
	name       string
	path       string
	passphrase []byte

	records []*event.Event
	loaded  bool
}

// New builds a vault store over one file.
func New(name, path string, passphrase []byte) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("vault calendar %q has no path", name)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("vault calendar %q needs a passphrase", name)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("bad path %q: %w", path, err)
	}
	return &Store{name: name, path: abs, passphrase: passphrase}, nil
}

func (s *Store) Name() string { return s.name }

// List opens and decrypts the vault. A missing file is an empty vault.
func (s *Store) List() ([]*event.Event, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = nil
			s.loaded = true
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	plain, err := s.unseal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrUnavailable, s.path, err)
	}

	records, err := ics.Decode(bytes.NewReader(plain))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	s.records = records
	s.loaded = true
	return records, nil
}

// Persist folds the changes into the cached set, encodes, seals with a
// fresh salt and nonce, and rewrites the vault atomically.
func (s *Store) Persist(upserts []*event.Event, deleted []string) error {
	if !s.loaded {
		if _, err := s.List(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrWrite, err)
		}
	}

	drop := make(map[string]bool, len(deleted)+len(upserts))
	for _, uid := range deleted {
		drop[uid] = true
	}
	for _, ev := range upserts {
		drop[ev.UID] = true
	}
	var next []*event.Event
	for _, ev := range s.records {
		if !drop[ev.UID] {
			next = append(next, ev)
		}
	}
	next = append(next, upserts...)

	var buf bytes.Buffer
	if err := ics.Encode(&buf, next, nil); err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}

	sealed, err := s.seal(buf.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".calcli-vault-*")
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: %v", store.ErrWrite, err)
	}

	s.records = next
	return nil
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	key := s.deriveKey(salt[:])
	out := make([]byte, 0, len(magic)+1+saltSize+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, magic...)
	out = append(out, version)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, key), nil
}

func (s *Store) unseal(data []byte) ([]byte, error) {
	header := len(magic) + 1 + saltSize + nonceSize
	if len(data) < header+secretbox.Overhead {
		return nil, fmt.Errorf("not a vault file")
	}
	if string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("not a vault file")
	}
	if data[len(magic)] != version {
		return nil, fmt.Errorf("unsupported vault version %d", data[len(magic)])
	}

	var salt []byte = data[len(magic)+1 : len(magic)+1+saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], data[len(magic)+1+saltSize:header])

	key := s.deriveKey(salt)
	plain, ok := secretbox.Open(nil, data[header:], &nonce, key)
	if !ok {
		return nil, ErrBadPassphrase
	}
	return plain, nil
}

func (s *Store) deriveKey(salt []byte) *[keySize]byte {
	raw := argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, keySize)
	var key [keySize]byte
	copy(key[:], raw)
	return &key
}
