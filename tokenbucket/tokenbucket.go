// Package tokenbucket gates optional, rate limited operations per tag.
package tokenbucket

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config is the shape shared by every bucket in a Store
type Config struct {
	// Capacity is the number of takes that can happen back to back on a full bucket
	Capacity int
	// RefillPeriod is how long it takes for a single token to be added back
	RefillPeriod time.Duration
}

type clock func() time.Time

// Store hands out one bucket per tag. Buckets live for the lifetime of the Store, which is what
// makes limiting meaningful across scheduler invocations within a process.
type Store struct {
	mu      sync.Mutex
	config  Config
	buckets map[string]*rate.Limiter
	now     clock
}

func New(config Config) *Store {
	return newWithClock(config, time.Now)
}

func newWithClock(config Config, now clock) *Store {
	if config.Capacity <= 0 {
		panic("token bucket capacity must be positive")
	}
	if config.RefillPeriod <= 0 {
		panic("token bucket refill period must be positive")
	}
	return &Store{
		config:  config,
		buckets: make(map[string]*rate.Limiter),
		now:     now,
	}
}

func (s *Store) bucket(tag string) *rate.Limiter {
	if b, ok := s.buckets[tag]; ok {
		return b
	}
	b := rate.NewLimiter(rate.Every(s.config.RefillPeriod), s.config.Capacity)
	s.buckets[tag] = b
	return b
}

// TryTake removes one token from the tag's bucket. When it returns false the bucket is left
// exactly as it was.
func (s *Store) TryTake(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bucket(tag).AllowN(s.now(), 1)
}
