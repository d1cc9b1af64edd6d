package common

import (
	"errors"
	"io"
	"net"
	"syscall"

	"google.golang.org/api/googleapi"
)

// ClassifyNetworkError marks connectivity failures and retryable Google API
// responses as transient. Other errors are returned unchanged.
func ClassifyNetworkError(err error) error {
	if err == nil {
		return nil
	}
	if isTransientNetworkError(err) {
		return Transient(err)
	}
	return err
}

func isTransientNetworkError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return IsTransientStatus(apiErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

// IsTransientStatus reports whether an HTTP status code is worth retrying.
func IsTransientStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
