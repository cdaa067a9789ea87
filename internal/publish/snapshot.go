package publish

import (
	"sync"
	"time"
)

// Snapshot holds the latest published rows for concurrent readers.
type Snapshot struct {
	mu      sync.RWMutex
	rows    []Row
	updated time.Time
}

// Set replaces the rows.
func (s *Snapshot) Set(rows []Row, at time.Time) {
	cp := make([]Row, len(rows))
	copy(cp, rows)

	s.mu.Lock()
	s.rows = cp
	s.updated = at
	s.mu.Unlock()
}

// Rows returns a copy of the published rows.
func (s *Snapshot) Rows() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]Row, len(s.rows))
	copy(cp, s.rows)
	return cp
}

// Latest returns the most recent row. The second return value is false
// before the first successful refresh.
func (s *Snapshot) Latest() (Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.rows) == 0 {
		return Row{}, false
	}
	return s.rows[0], true
}

// UpdatedAt returns the time of the last Set.
func (s *Snapshot) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
