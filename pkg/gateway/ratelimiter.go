package gateway

import (
	"sync"
	"time"
)

const (
	defaultRequestsPerMinute = 60
	defaultMaxConcurrent     = 4
)

// ClientRateLimiter bounds a client's requests per sliding minute and the
// number of requests it may have in flight. A turns.create request stays in
// flight until its turn ends.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	requests          []time.Time
	inFlight          int
	now               func() time.Time
}

// NewClientRateLimiter creates a rate limiter. Non-positive limits fall back
// to the defaults.
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// Acquire admits one request or returns an *RPCError explaining the refusal.
// Every successful Acquire must be paired with Release.
func (r *ClientRateLimiter) Acquire() *RPCError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return &RPCError{Code: TooManyConcurrent, Message: "too many concurrent requests"}
	}

	now := r.now()
	r.prune(now)
	if len(r.requests) >= r.requestsPerMinute {
		return &RPCError{Code: RateLimitExceeded, Message: "rate limit exceeded"}
	}

	r.requests = append(r.requests, now)
	r.inFlight++
	return nil
}

// Release marks an admitted request as finished
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight > 0 {
		r.inFlight--
	}
}

// Stats returns the requests in the current window and those in flight
func (r *ClientRateLimiter) Stats() (requests, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.requests), r.inFlight
}

// prune drops requests older than a minute. Timestamps are appended in
// order, so the expired ones form a prefix.
func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.requests) && !r.requests[i].After(cutoff) {
		i++
	}
	r.requests = r.requests[i:]
}
