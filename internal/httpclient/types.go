package httpclient

import (
	"fmt"
	"net/url"
)

// HTTPError represents a non-200 response
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error. The query string is dropped from the
// recorded URL so credentials passed as parameters never reach logs.
func NewHTTPError(statusCode int, rawURL, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        redactQuery(rawURL),
		Message:    message,
	}
}

func redactQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
