package core

import (
	"errors"
	"fmt"
)

// Sentinel targets for errors.Is. Every error produced by the data layer
// matches exactly one of them.
var (
	ErrInvalidFilter = errors.New("invalid filter")
	ErrFetch         = errors.New("fetch failed")
	ErrSubscription  = errors.New("subscription failed")
)

// ErrClosed is returned by operations on a closed LiveResult or DataLayer.
var ErrClosed = errors.New("live result closed")

// InvalidFilterError reports a malformed descriptor. It is returned
// synchronously from Build and Open and is never retried.
type InvalidFilterError struct {
	Entity Entity
	Field  string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid filter: %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("invalid filter: %s.%s: %s", e.Entity, e.Field, e.Reason)
}

func (e *InvalidFilterError) Is(target error) bool { return target == ErrInvalidFilter }

// FetchError wraps a failed backend query. It is stored in the cache entry's
// Failed state and surfaced through LiveResult.Err.
type FetchError struct {
	Entity Entity
	Key    CacheKey
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed: %s: %v", e.Entity, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// SubscriptionError reports a change channel that failed to open or was
// dropped by the backend. Live updates stop; fetched rows stay visible.
type SubscriptionError struct {
	Entity Entity
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription failed: %s: %v", e.Entity, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

func (e *SubscriptionError) Is(target error) bool { return target == ErrSubscription }
