package remote

import "github.com/pkg/errors"

// Failure taxonomy for the remote boundary. Everything the fetcher or the
// event stream can fail with maps onto one of these; callers branch with
// errors.Is and never see transport-level detail.
var (
	// ErrNotConnected means there is no active session to the backend.
	// Fatal to any remote-dependent call, harmless to pure cache reads.
	ErrNotConnected = errors.New("remote: not connected")

	// ErrTimeout means a call exceeded its budget. Surfaced to synchronous
	// callers; background refills log it and abandon the attempt.
	ErrTimeout = errors.New("remote: timeout")

	// ErrNotFound means the referenced conversation or message is unknown
	// to the backend.
	ErrNotFound = errors.New("remote: not found")

	// ErrRateLimited means the backend asked us to back off.
	ErrRateLimited = errors.New("remote: rate limited")
)
