package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/opsconsole/pkg/protocol"
)

// HTTPError is returned for every non-2xx response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := e.Detail()
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// Detail extracts the server's message from a {"detail": ...} body,
// falling back to the raw body.
func (e *HTTPError) Detail() string {
	var body struct {
		Detail interface{} `json:"detail"`
		Error  string      `json:"error"`
	}
	if json.Unmarshal([]byte(e.Body), &body) == nil {
		switch d := body.Detail.(type) {
		case string:
			return d
		case nil:
			if body.Error != "" {
				return body.Error
			}
		default:
			if raw, err := json.Marshal(d); err == nil {
				return string(raw)
			}
		}
	}
	return strings.TrimSpace(e.Body)
}

// Code maps the status onto a protocol error code.
func (e *HTTPError) Code() string {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return protocol.ErrCodeNotFound
	case e.StatusCode == http.StatusConflict:
		return protocol.ErrCodeAlreadyResolved
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return protocol.ErrCodeUnauthorized
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return protocol.ErrCodeInvalidRequest
	case e.StatusCode >= 500:
		return protocol.ErrCodeUnavailable
	default:
		return protocol.ErrCodeInternal
	}
}

// Temporary reports whether retrying the same request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is an HTTPError with status 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

// ErrorCode returns the protocol error code for any error returned by
// the client. Network failures map to UNAVAILABLE.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Code()
	}
	return protocol.ErrCodeUnavailable
}
