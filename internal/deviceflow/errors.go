package deviceflow

import "errors"

// Common errors returned by the flow
var (
	// ErrNotAuthenticated indicates logout was requested without a token
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoActiveFlow indicates an operation needs a pending device flow
	ErrNoActiveFlow = errors.New("no device flow in progress")

	// ErrClosed indicates the flow has been shut down
	ErrClosed = errors.New("device flow closed")
)
