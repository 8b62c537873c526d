// Package disclosure is the rate-limited client for the corporate disclosure API.
//
// Every request goes through a single call path that appends the API key, waits
// on a process-wide rate limiter, retries transient failures with capped
// exponential backoff and classifies the outcome as transient, quota exhaustion
// or fatal. Callers test the class with errors.Is against ErrTransient,
// ErrQuotaExceeded and ErrFatal.
package disclosure

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/impactledger/impact-ingest/internal/httpclient"
	"github.com/impactledger/impact-ingest/internal/period"
	"github.com/impactledger/impact-ingest/internal/telemetry"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

const (
	// EndpointList is the report list endpoint
	EndpointList = "/api/list.json"

	// EndpointDocument is the filing document endpoint
	EndpointDocument = "/api/document.xml"

	apiKeyParam = "crtfc_key"

	// maxMemberSize caps each decompressed document member
	maxMemberSize = 64 * 1024 * 1024
)

var zipMagic = []byte("PK\x03\x04")

// Client is an interface with methods to query the disclosure API
type Client interface {
	// ListReports returns the filings of corpCode received within p.
	// An upstream "no data" status yields an empty slice and no error.
	ListReports(ctx context.Context, corpCode string, p period.Period) ([]Report, error)

	// FetchDocument returns the text of the filing identified by receiptNo
	FetchDocument(ctx context.Context, receiptNo string) (Document, error)

	// ResetStreak clears the consecutive-failure count
	ResetStreak()
}

// Config holds the client settings
type Config struct {
	BaseURL string
	APIKey  string

	PageSize int
	MaxPages int

	Retry RetryPolicy

	// ConsecutiveErrors escalates that many back-to-back failed calls to ErrQuotaExceeded.
	// Zero disables the escalation.
	ConsecutiveErrors int
	QuotaStatusCodes  []string
	QuotaMessages     []string

	RequestsPerSecond float64
	Burst             int

	// Location is the time zone period boundaries are computed in
	Location *time.Location
}

// DefaultClient is the default Client implementation
type DefaultClient struct {
	http       httpclient.Client
	cfg        Config
	classifier *classifier
	limiter    *rate.Limiter
	streak     atomic.Int32
	metrics    *telemetry.APIMetrics
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithMetrics records call outcomes on m
func WithMetrics(m *telemetry.APIMetrics) Option {
	return func(c *DefaultClient) {
		c.metrics = m
	}
}

// WithLimiter shares an existing limiter between clients
func WithLimiter(l *rate.Limiter) Option {
	return func(c *DefaultClient) {
		c.limiter = l
	}
}

// NewClient creates a DefaultClient over the given HTTP transport
func NewClient(httpClient httpclient.Client, cfg Config, opts ...Option) *DefaultClient {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &DefaultClient{
		http: httpClient,
		cfg:  cfg,
		classifier: &classifier{
			quotaStatuses: cfg.QuotaStatusCodes,
			quotaMessages: cfg.QuotaMessages,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResetStreak implements Client
func (c *DefaultClient) ResetStreak() {
	c.streak.Store(0)
}

// Streak returns the current consecutive-failure count
func (c *DefaultClient) Streak() int {
	return int(c.streak.Load())
}

// ListReports implements Client
func (c *DefaultClient) ListReports(ctx context.Context, corpCode string, p period.Period) ([]Report, error) {
	if strings.TrimSpace(corpCode) == "" {
		return nil, errors.Mark(errors.New("corp code is required"), ErrFatal)
	}

	var reports []Report
	for page := 1; page <= c.cfg.MaxPages; page++ {
		params := url.Values{
			"corp_code":  {corpCode},
			"bgn_de":     {p.Start(c.cfg.Location).Format(dateLayout)},
			"end_de":     {p.End(c.cfg.Location).Format(dateLayout)},
			"page_no":    {strconv.Itoa(page)},
			"page_count": {strconv.Itoa(c.cfg.PageSize)},
		}

		var resp listResponse
		err := c.call(ctx, EndpointList, params, func(body []byte) error {
			resp = listResponse{}
			if err := json.Unmarshal(body, &resp); err != nil {
				return errors.Mark(errors.Wrap(err, "failed to decode report list"), ErrTransient)
			}
			return c.classifier.status(EndpointList, resp.Status, resp.Message)
		})
		if errors.Is(err, errNoData) {
			break
		}
		if err != nil {
			return nil, err
		}

		for _, item := range resp.List {
			if r, ok := item.toReport(); ok {
				reports = append(reports, r)
			}
		}

		if len(resp.List) == 0 || page >= resp.TotalPage {
			break
		}
	}
	return reports, nil
}

// FetchDocument implements Client
func (c *DefaultClient) FetchDocument(ctx context.Context, receiptNo string) (Document, error) {
	if strings.TrimSpace(receiptNo) == "" {
		return Document{}, errors.Mark(errors.New("receipt number is required"), ErrFatal)
	}

	doc := Document{ReceiptNo: receiptNo}
	err := c.call(ctx, EndpointDocument, url.Values{"rcept_no": {receiptNo}}, func(body []byte) error {
		text, members, err := c.decodeDocument(body)
		if err != nil {
			return err
		}
		doc.Text, doc.Members = text, members
		return nil
	})
	if errors.Is(err, errNoData) {
		return doc, nil
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// decodeDocument expands an archive, or classifies the status envelope sent in its place
func (c *DefaultClient) decodeDocument(body []byte) (string, int, error) {
	trimmed := bytes.TrimSpace(body)
	switch {
	case bytes.HasPrefix(body, zipMagic):
		return expandArchive(body)
	case len(trimmed) == 0:
		return "", 0, errors.Mark(errors.New("empty document body"), ErrTransient)
	case trimmed[0] == '{':
		if !gjson.ValidBytes(trimmed) {
			return "", 0, errors.Mark(errors.New("truncated JSON document body"), ErrTransient)
		}
		status := gjson.GetBytes(trimmed, "status").String()
		message := gjson.GetBytes(trimmed, "message").String()
		if err := c.classifier.status(EndpointDocument, status, message); err != nil {
			return "", 0, err
		}
		return "", 0, errors.Mark(errors.Newf("unexpected JSON document body with status %s", status), ErrFatal)
	case trimmed[0] == '<':
		var env statusEnvelope
		if err := xml.Unmarshal(trimmed, &env); err == nil && env.Status != "" {
			if err := c.classifier.status(EndpointDocument, env.Status, env.Message); err != nil {
				return "", 0, err
			}
		}
		return string(trimmed), 1, nil
	default:
		return "", 0, errors.Mark(errors.New("undecodable document body"), ErrTransient)
	}
}

// expandArchive concatenates the text of every XML or HTML member
func expandArchive(body []byte) (string, int, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", 0, errors.Mark(errors.Wrap(err, "failed to open document archive"), ErrTransient)
	}

	var (
		sb      strings.Builder
		members int
	)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".xml", ".html", ".htm", ".xhtml":
		default:
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return "", 0, errors.Mark(errors.Wrapf(err, "failed to open document member %s", f.Name), ErrTransient)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxMemberSize))
		_ = rc.Close()
		if err != nil {
			return "", 0, errors.Mark(errors.Wrapf(err, "failed to read document member %s", f.Name), ErrTransient)
		}

		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.Write(data)
		members++
	}
	return sb.String(), members, nil
}

// call performs one logical request: rate limiting, retries and classification.
// inspect validates a response body and returns a classified error or nil.
func (c *DefaultClient) call(ctx context.Context, endpoint string, params url.Values, inspect func([]byte) error) error {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set(apiKeyParam, c.cfg.APIKey)
	target := c.cfg.BaseURL + endpoint + "?" + q.Encode()

	operation := func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		body, err := c.http.Get(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(ctx.Err())
			}
			err = c.classifier.transport(err)
		} else {
			err = inspect(body)
		}

		if err != nil && errors.Is(err, ErrTransient) && !errors.Is(err, ErrQuotaExceeded) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(NewBackOff(c.cfg.Retry)),
		backoff.WithMaxTries(uint(max(c.cfg.Retry.MaxRetries, 0)+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.metrics.RecordRetry(ctx, endpoint)
			slog.DebugContext(ctx, "Retrying disclosure API call",
				"endpoint", endpoint,
				"wait", wait.String(),
				"error", err,
			)
		}),
	)

	err = c.settle(ctx, endpoint, err)
	c.metrics.RecordCall(ctx, endpoint, resultLabel(err))
	return err
}

// settle updates the consecutive-failure streak and escalates it to quota exhaustion
func (c *DefaultClient) settle(ctx context.Context, endpoint string, err error) error {
	if err == nil || errors.Is(err, errNoData) {
		c.streak.Store(0)
		return err
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return err
	}

	n := c.streak.Add(1)
	threshold := c.cfg.ConsecutiveErrors
	if threshold > 0 && int(n) >= threshold {
		slog.WarnContext(ctx, "Consecutive disclosure API failures treated as quota exhaustion",
			"endpoint", endpoint,
			"consecutive_failures", n,
			"error", err,
		)
		return errors.Mark(errors.Wrapf(err, "%d consecutive failures", n), ErrQuotaExceeded)
	}
	return err
}
