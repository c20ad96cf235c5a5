package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-publisher/internal/weather"
)

var (
	// ErrNotFound is returned when no pass has been recorded yet.
	ErrNotFound = errors.New("no runs recorded")
)

// MemoryStore is a concurrency-safe, bounded history of pass summaries.
type MemoryStore struct {
	mu sync.RWMutex

	// oldest first
	runs []weather.Summary

	// retention configuration
	maxHistory int           // max number of summaries kept
	maxAge     time.Duration // optional max age, by FinishedAt
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// Save appends a summary and enforces retention.
func (s *MemoryStore) Save(summary weather.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, summary)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.runs) > s.maxHistory {
		over := len(s.runs) - s.maxHistory
		s.runs = s.runs[over:]
	}

	// Enforce retention by age. The newest summary is always kept.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.runs)-1; i++ {
			if !s.runs[i].FinishedAt.Before(cutoff) {
				break
			}
		}
		s.runs = s.runs[i:]
	}
}

// Latest returns the most recent summary.
func (s *MemoryStore) Latest() (weather.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return weather.Summary{}, ErrNotFound
	}
	return s.runs[len(s.runs)-1], nil
}

// List returns up to limit summaries, newest first. limit <= 0 returns all.
func (s *MemoryStore) List(limit int) []weather.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.runs)
	if limit > 0 && limit < n {
		n = limit
	}

	result := make([]weather.Summary, 0, n)
	for i := len(s.runs) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.runs[i])
	}
	return result
}
