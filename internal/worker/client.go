// Package worker is the client side of the job API: it leases work from a
// nyashd server, runs a [Searcher] over it and confirms it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nyash/nyashd/internal/api"
	"github.com/nyash/nyashd/internal/ledger"
)

// ErrUnknownOutcome reports an outcome this client does not understand.
var ErrUnknownOutcome = errors.New("unknown acquire outcome")

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Status  int
	Message string
	Fatal   bool
}

func (e *StatusError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("server halted (%d): %s", e.Status, e.Message)
	}

	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Retryable reports whether repeating the request may succeed.
func (e *StatusError) Retryable() bool {
	if e.Fatal {
		return false
	}

	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// Client talks to one nyashd server.
type Client struct {
	http *resty.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "nyashd-worker")

	return &Client{http: c}
}

// Acquire leases up to preferredLen keys. Zero asks for the server default.
// The job is only meaningful when the outcome [ledger.Outcome.HasJob].
func (c *Client) Acquire(ctx context.Context, preferredLen uint64) (ledger.Job, ledger.Outcome, error) {
	var out api.AcquireResponse

	err := c.post(ctx, "/v1/jobs", api.AcquireRequest{PreferredLen: preferredLen}, &out)
	if err != nil {
		return ledger.Job{}, 0, fmt.Errorf("acquire: %w", err)
	}

	outcome, err := parseOutcome(out.Outcome)
	if err != nil {
		return ledger.Job{}, 0, fmt.Errorf("acquire: %w", err)
	}

	if !outcome.HasJob() {
		return ledger.Job{}, outcome, nil
	}

	if out.Job == nil {
		return ledger.Job{}, 0, fmt.Errorf("acquire: %s response without job", outcome)
	}

	job, err := out.Job.Lease()
	if err != nil {
		return ledger.Job{}, 0, fmt.Errorf("acquire: %w", err)
	}

	return job, outcome, nil
}

// Commit confirms lease. It reports false when the server no longer holds
// that exact lease.
func (c *Client) Commit(ctx context.Context, lease ledger.Job) (bool, error) {
	wire := api.FromLease(lease)

	var out api.CommitResponse

	err := c.post(ctx, "/v1/jobs/"+strconv.FormatUint(lease.ID, 10)+"/commit", api.CommitRequest{Lease: &wire}, &out)
	if err != nil {
		return false, fmt.Errorf("commit job %d: %w", lease.ID, err)
	}

	return out.Committed, nil
}

// Progress returns the server's completion ratio.
func (c *Client) Progress(ctx context.Context) (float64, error) {
	var out api.ProgressResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&api.ErrorResponse{}).
		Get("/v1/progress")

	err = checkResponse(resp, err)
	if err != nil {
		return 0, fmt.Errorf("progress: %w", err)
	}

	return out.Progress, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&api.ErrorResponse{}).
		Post(path)

	return checkResponse(resp, err)
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}

	if !resp.IsError() {
		return nil
	}

	se := &StatusError{Status: resp.StatusCode(), Message: resp.Status()}

	if body, ok := resp.Error().(*api.ErrorResponse); ok && body.Error != "" {
		se.Message = body.Error
		se.Fatal = body.Fatal
	}

	return se
}

func parseOutcome(s string) (ledger.Outcome, error) {
	for _, o := range []ledger.Outcome{ledger.OutcomeIssued, ledger.OutcomeReclaimed, ledger.OutcomePending, ledger.OutcomeExhausted} {
		if o.String() == s {
			return o, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownOutcome, s)
}
