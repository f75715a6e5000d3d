package web

// stream_limiter.go bounds the number of concurrent live streams.
//
// Each /live request holds a LiveResult, a change-channel reference and a
// response writer for as long as the client stays connected. The limiter
// caps them with a semaphore; a request that finds no free slot is rejected
// at once with ErrTooManyStreams rather than queued, since a stream never
// finishes on its own.
//
// WaitForDrain lets shutdown wait for open streams to end after they have
// been told to stop.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyStreams is returned when every stream slot is taken.
var ErrTooManyStreams = errors.New("too many concurrent live streams, please try again later")

// DefaultMaxStreams is the default limit for concurrent live streams.
const DefaultMaxStreams = 100

// StreamLimiter controls concurrent live streams using a semaphore pattern.
type StreamLimiter struct {
	semaphore chan struct{}

	mu     sync.RWMutex
	active int
}

// NewStreamLimiter creates a limiter that allows at most maxStreams streams.
func NewStreamLimiter(maxStreams int) *StreamLimiter {
	if maxStreams <= 0 {
		maxStreams = DefaultMaxStreams
	}
	return &StreamLimiter{semaphore: make(chan struct{}, maxStreams)}
}

// Acquire takes a slot without blocking. The caller MUST call Release when
// the stream ends (use defer).
func (l *StreamLimiter) Acquire() error {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	default:
		return ErrTooManyStreams
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful Acquire.
func (l *StreamLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of open streams.
func (l *StreamLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxStreams returns the maximum allowed concurrent streams.
func (l *StreamLimiter) MaxStreams() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *StreamLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all streams have ended or ctx is cancelled.
func (l *StreamLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StreamLimiterStatus is a snapshot of the limiter's state.
type StreamLimiterStatus struct {
	Active     int `json:"active"`
	Available  int `json:"available"`
	MaxStreams int `json:"max_streams"`
}

// Status returns the current limiter state for monitoring.
func (l *StreamLimiter) Status() StreamLimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return StreamLimiterStatus{
		Active:     active,
		Available:  cap(l.semaphore) - len(l.semaphore),
		MaxStreams: cap(l.semaphore),
	}
}
