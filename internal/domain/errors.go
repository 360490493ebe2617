package domain

import (
	"context"
	"errors"
	"fmt"
)

// NetworkError covers connection, DNS, read and timeout failures while
// talking to the upstream feed.
type NetworkError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("fetch %s: timed out: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NewNetworkError wraps err and flags it as a timeout when the fetch
// context expired.
func NewNetworkError(url string, err error) *NetworkError {
	return &NetworkError{
		URL:     url,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// UpstreamStatusError is returned when the feed answers with a non-2xx status.
type UpstreamStatusError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("fetch %s: upstream responded HTTP %d", e.URL, e.StatusCode)
}

// DecodeError means the payload could not be parsed as a GTFS-Realtime feed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode feed: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// ConfigurationError is fatal and prevents startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// ErrorKind classifies an error for logs.
func ErrorKind(err error) string {
	var (
		netErr    *NetworkError
		statusErr *UpstreamStatusError
		decodeErr *DecodeError
		cfgErr    *ConfigurationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &netErr):
		if netErr.Timeout {
			return "timeout"
		}
		return "network"
	case errors.As(err, &statusErr):
		return "upstream_status"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &cfgErr):
		return "config"
	default:
		return "unknown"
	}
}
