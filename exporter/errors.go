package exporter

import (
	"context"
	"errors"
	"net"

	"github.com/seliseblocks/lmt/sink"
)

// ErrorType categorizes a transmit error for metrics.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level errors (DNS, connection refused).
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents timeouts and deadline expiry.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeServerError represents server-side failures (5xx).
	ErrorTypeServerError ErrorType = "server_error"
	// ErrorTypeClientError represents client-side rejections (4xx).
	ErrorTypeClientError ErrorType = "client_error"
	// ErrorTypeAuth represents authentication/authorization errors (401, 403).
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeRateLimit represents throttling (429).
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeUnknown represents unclassified errors.
	ErrorTypeUnknown ErrorType = "unknown"
)

// classify maps a transmit error to its type. Every transmit error is
// treated as transient for retry purposes; the classification only feeds
// the error-type metric label.
func classify(err error) ErrorType {
	var statusErr *sink.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			return ErrorTypeAuth
		case statusErr.StatusCode == 429:
			return ErrorTypeRateLimit
		case statusErr.StatusCode >= 500:
			return ErrorTypeServerError
		case statusErr.StatusCode >= 400:
			return ErrorTypeClientError
		}
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}
