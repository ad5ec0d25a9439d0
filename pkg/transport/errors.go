package transport

import (
	"errors"

	"github.com/consync/consync/pkg/stream"
)

var (
	// ErrAuthRejected means the remote service explicitly rejected the
	// credential bundle. It is never retried through the fallback path:
	// the same expired credential cannot succeed via a different mechanism.
	ErrAuthRejected = errors.New("authentication rejected by remote service")

	// ErrTransportUnavailable means every execution path failed for a
	// non-auth reason.
	ErrTransportUnavailable = errors.New("all transport paths failed")

	// ErrAllEndpointsExhausted means the list operation tried every known
	// endpoint shape and none yielded a recognized response.
	ErrAllEndpointsExhausted = errors.New("all conversation endpoints failed")

	// ErrNotFoundRemotely means the requested id does not exist on the
	// remote service.
	ErrNotFoundRemotely = errors.New("conversation not found remotely")

	// ErrMalformedResponse means a response body could not be parsed into
	// any recognized shape.
	ErrMalformedResponse = errors.New("malformed response body")
)

// IsAuthRejected reports whether err is an authentication failure, from
// either an HTTP status or a streamed error event.
func IsAuthRejected(err error) bool {
	return errors.Is(err, ErrAuthRejected) || errors.Is(err, stream.ErrAuthRejected)
}
