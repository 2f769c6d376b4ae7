// Package resolve implements tiered query resolution: simple replies,
// semantic cache hits, learned responses, and full generation, in that
// order.
package resolve

import "errors"

// Resolution errors. Handlers map these onto HTTP statuses; everything
// else is an internal error.
var (
	// ErrInvalidInput marks a request that fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized marks a request for a zone the caller cannot see.
	ErrUnauthorized = errors.New("unauthorized scope")

	// ErrUpstreamUnavailable marks a model provider or index outage.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrEmptyAnswer marks a generation that produced no usable text.
	ErrEmptyAnswer = errors.New("empty answer from generation")
)
