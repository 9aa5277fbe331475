package ratelimit

import (
	"sync"
	"time"
)

// Bucket throttles inbound frames on one connection. It starts full, holds at
// most capacity tokens and regains perSecond tokens every second.
type Bucket struct {
	mu        sync.Mutex
	perSecond float64
	capacity  float64
	tokens    float64
	last      time.Time
	clock     func() time.Time
}

func NewBucket(perSecond float64, capacity int) *Bucket {
	return newBucket(perSecond, capacity, time.Now)
}

func newBucket(perSecond float64, capacity int, clock func() time.Time) *Bucket {
	return &Bucket{
		perSecond: perSecond,
		capacity:  float64(capacity),
		tokens:    float64(capacity),
		last:      clock(),
		clock:     clock,
	}
}

// Take spends one token. False means the frame should be dropped.
func (b *Bucket) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// refill must be called with mu held
func (b *Bucket) refill() {
	now := b.clock()
	b.tokens = min(b.capacity, b.tokens+now.Sub(b.last).Seconds()*b.perSecond)
	b.last = now
}
