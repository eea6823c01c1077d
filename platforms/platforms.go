// Package platforms holds the shared OAuth2 endpoint plumbing and content
// shaping helpers used by the per-platform adapters.
package platforms

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-social/core"
)

const maxResponseBodyBytes = 1 << 20 // 1 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewError builds the classified error every adapter returns at its API
// boundary. Callers upstream only look at Retryable and the status code.
func NewError(platform, op, message string, statusCode int, retryable bool, err error) *core.PlatformError {
	return &core.PlatformError{
		Platform:   platform,
		Op:         op,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Err:        err,
	}
}

// RetryableStatus reports whether an HTTP status signals a transient
// condition. Throttling and server-side failures are worth re-attempting;
// every 4xx other than 429 is a terminal answer about the request itself.
func RetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}

// StatusError classifies an HTTP response status into a PlatformError.
func StatusError(platform, op string, statusCode int, body []byte) *core.PlatformError {
	message := strings.TrimSpace(string(body))
	if len(message) > 256 {
		message = message[:256]
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return NewError(
		platform, op,
		fmt.Sprintf("unexpected status %d: %s", statusCode, message),
		statusCode,
		RetryableStatus(statusCode),
		nil,
	)
}

// TransportError wraps a failure that never produced an HTTP response.
// Network-level failures are always retryable.
func TransportError(platform, op string, err error) *core.PlatformError {
	return NewError(platform, op, "request failed", 0, true, err)
}

// ReadBody drains a response body with a hard size cap.
func ReadBody(response *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("platforms: read response body: %w", err)
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return nil, fmt.Errorf("platforms: response body exceeds %d bytes", maxResponseBodyBytes)
	}
	return body, nil
}

// DecodeJSON reads and unmarshals a response body into target.
func DecodeJSON(response *http.Response, target any) error {
	body, err := ReadBody(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("platforms: decode response: %w", err)
	}
	return nil
}
