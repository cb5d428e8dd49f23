package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

var (
	// ErrNetworkUnreachable means the request never reached the backend.
	ErrNetworkUnreachable = errors.New("network unreachable")

	// ErrTimeout means the backend did not answer within the request timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrMalformedResponse means the response body was not decodable JSON.
	ErrMalformedResponse = errors.New("malformed response")
)

// ServerError is a non-2xx response from the backend.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: status %d", e.Status)
	}
	return fmt.Sprintf("server error: status %d: %s", e.Status, e.Message)
}

// classifyTransportError maps a transport failure onto the gateway taxonomy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
}
