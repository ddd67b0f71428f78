package billing

import "errors"

var (
	// ErrAuthFailed — the identity provider rejected the token exchange.
	ErrAuthFailed = errors.New("billing auth failed")

	// ErrRateLimited — the provider answered 429; retryable with backoff.
	ErrRateLimited = errors.New("billing rate limited")

	// ErrFetchFailed — non-retryable provider error; fatal for the chunk.
	ErrFetchFailed = errors.New("billing fetch failed")
)
