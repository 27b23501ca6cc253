// Package memory implements an in-memory artifact store for tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/monitorify/monitorify/internal/blob"
)

type object struct {
	data    []byte
	modTime time.Time
}

// Store keeps artifacts in a map behind a mutex.
type Store struct {
	mu      sync.Mutex
	objects map[string]object
	now     func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		objects: make(map[string]object),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock used to stamp writes.
func (s *Store) SetNow(now func() time.Time) { s.now = now }

// Put stores data under the given base filename.
func (s *Store) Put(_ context.Context, name string, data []byte) (string, error) {
	if !blob.ValidName(name) {
		return "", blob.ErrBadName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[name] = object{data: buf, modTime: s.now()}
	return blob.FileURL(name), nil
}

// Delete removes one artifact; missing artifacts are not an error.
func (s *Store) Delete(_ context.Context, name string) error {
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	if !blob.ValidName(name) {
		return blob.ErrBadName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	return nil
}

// SweepOlderThan removes prefixed artifacts written before cutoff.
func (s *Store) SweepOlderThan(_ context.Context, cutoff time.Time, prefixes []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for name, obj := range s.objects {
		if !obj.modTime.Before(cutoff) {
			continue
		}
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				delete(s.objects, name)
				removed++
				break
			}
		}
	}
	return removed, nil
}

// Exists reports whether an artifact is stored.
func (s *Store) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[name]
	return ok
}

// Len returns the number of stored artifacts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
