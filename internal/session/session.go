// Package session holds the per-run state of one anonymization run:
// pseudonym counters, the consistency map and the salt used to seed
// synthetic values. A Session must be closed when the run ends so the
// mapping cannot be recovered afterwards.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vurakit/lexveil/pkg/pii"
)

const saltSize = 32

// ErrClosed is returned by any operation on a closed session.
var ErrClosed = errors.New("session closed")

type key struct {
	cat   pii.Category
	value string
}

// Session is the run-scoped mutable state. It is safe for concurrent use,
// though a run normally drives it from a single goroutine.
type Session struct {
	id string

	mu       sync.Mutex
	salt     []byte
	counters map[pii.Category]int
	mapping  map[key]string
	closed   bool
}

// New creates a session with a fresh random salt and zeroed counters.
func New() (*Session, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return &Session{
		id:       uuid.NewString(),
		salt:     salt,
		counters: make(map[pii.Category]int),
		mapping:  make(map[key]string),
	}, nil
}

// ID identifies the run in logs. It reveals nothing about the mapping.
func (s *Session) ID() string {
	return s.id
}

// Pseudonym returns the CATEGORY_NNN label for value. With keep set, a
// value seen before in this session gets its earlier label back; without
// it every call draws the next number.
func (s *Session) Pseudonym(cat pii.Category, value string, keep bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	k := key{cat, value}
	if keep {
		if p, ok := s.mapping[k]; ok {
			return p, nil
		}
	}

	prefix, ok := pii.PseudonymPrefix[cat]
	if !ok {
		return "", fmt.Errorf("no pseudonym prefix for %s", cat)
	}
	s.counters[cat]++
	p := fmt.Sprintf("%s_%03d", prefix, s.counters[cat])
	if keep {
		s.mapping[k] = p
	}
	return p, nil
}

// Lookup returns the replacement remembered for value, if any.
func (s *Session) Lookup(cat pii.Category, value string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false
	}
	r, ok := s.mapping[key{cat, value}]
	return r, ok
}

// Remember records the replacement chosen for value.
func (s *Session) Remember(cat pii.Category, value, replacement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.mapping[key{cat, value}] = replacement
	return nil
}

// Seed derives a stable seed for value from the session salt. The same
// value yields the same seed within a session and an unrelated one in
// any other session.
func (s *Session) Seed(value string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	mac := hmac.New(sha256.New, s.salt)
	mac.Write([]byte(value))
	return binary.BigEndian.Uint64(mac.Sum(nil)[:8]), nil
}

// Counter returns how many pseudonyms have been issued for cat.
func (s *Session) Counter(cat pii.Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[cat]
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close wipes the salt, the consistency map and the counters. It is
// idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for i := range s.salt {
		s.salt[i] = 0
	}
	s.salt = nil
	clear(s.mapping)
	clear(s.counters)
	s.closed = true
}
