package coaching

import "errors"

var (
	// ErrUpstreamMalformed means the generator reply could not be split into
	// a message and a state object. Nothing is persisted.
	ErrUpstreamMalformed = errors.New("malformed generator reply")
	// ErrInvalidInput means the caller's request was rejected before any mutation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrGenerate means the generator call itself failed.
	ErrGenerate = errors.New("generator call failed")
)
