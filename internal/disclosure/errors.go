package disclosure

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/impactledger/impact-ingest/internal/httpclient"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, resets, 5xx, maintenance
	ErrTransient = errors.New("transient disclosure API failure")

	// ErrQuotaExceeded marks exhaustion of the API quota; it is never retried
	ErrQuotaExceeded = errors.New("disclosure API quota exceeded")

	// ErrFatal marks failures that retrying cannot fix
	ErrFatal = errors.New("disclosure API request failed")

	// errNoData is the upstream "no data" status, surfaced to callers as an empty result
	errNoData = errors.New("no data")
)

const (
	statusOK          = "000"
	statusNoData      = "013"
	statusMaintenance = "800"
)

// APIError is a non-success status returned inside an otherwise valid response
type APIError struct {
	Endpoint string
	Status   string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned status %s: %s", e.Endpoint, e.Status, e.Message)
}

// classifier sorts failures into the error taxonomy
type classifier struct {
	quotaStatuses []string
	quotaMessages []string
}

// isQuota reports whether the upstream status or message signals quota exhaustion
func (c *classifier) isQuota(status, message string) bool {
	if slices.Contains(c.quotaStatuses, status) {
		return true
	}
	upper := strings.ToUpper(message)
	for _, m := range c.quotaMessages {
		if m != "" && strings.Contains(upper, strings.ToUpper(m)) {
			return true
		}
	}
	return false
}

// status classifies an upstream status envelope; nil means success
func (c *classifier) status(endpoint, status, message string) error {
	switch {
	case status == statusOK:
		return nil
	case status == statusNoData:
		return errNoData
	}

	apiErr := &APIError{Endpoint: endpoint, Status: status, Message: message}
	switch {
	case c.isQuota(status, message):
		return errors.Mark(apiErr, ErrQuotaExceeded)
	case status == statusMaintenance:
		return errors.Mark(apiErr, ErrTransient)
	default:
		return errors.Mark(apiErr, ErrFatal)
	}
}

// transport classifies an error returned by the HTTP layer
func (c *classifier) transport(err error) error {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return errors.Mark(err, ErrQuotaExceeded)
		case c.isQuota("", httpErr.Message):
			return errors.Mark(err, ErrQuotaExceeded)
		case httpErr.StatusCode >= 500, httpErr.StatusCode == http.StatusRequestTimeout:
			return errors.Mark(err, ErrTransient)
		default:
			return errors.Mark(err, ErrFatal)
		}
	}

	if isTransientNetwork(err) {
		return errors.Mark(err, ErrTransient)
	}
	return errors.Mark(err, ErrFatal)
}

func isTransientNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// resultLabel names an outcome for metrics
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errNoData):
		return "no_data"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "fatal"
	}
}
