package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/nyash/nyashd/internal/api"
	"github.com/nyash/nyashd/internal/ledger"
)

func newTestServer(t *testing.T, layout ledger.Layout) (*httptest.Server, *ledger.Ledger) {
	t.Helper()

	reg := prometheus.NewRegistry()

	l, err := ledger.Open(t.Context(), filepath.Join(t.TempDir(), "nyash.db"),
		ledger.WithNoSync(),
		ledger.WithSeed(1),
		ledger.WithLayout(layout),
		ledger.WithMetrics(ledger.NewMetrics(reg)),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	srv := httptest.NewServer(api.New(l, api.Options{
		DefaultJobLen: 2,
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}))
	t.Cleanup(srv.Close)

	return srv, l
}

// post sends body as JSON; a string body is sent verbatim.
func post(t *testing.T, url string, body any, out any) *http.Response {
	t.Helper()

	var rd io.Reader = http.NoBody

	switch raw := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(raw)
	default:
		b, err := json.Marshal(body)
		require.NoError(t, err)

		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, rd)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp
}

func Test_Acquire_Returns_Job_In_Hex_When_Range_Available(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ledger.Layout{Count: 1, Span: uint128.From64(4), KeyMax: uint128.Max})

	var got api.AcquireResponse

	resp := post(t, srv.URL+"/v1/jobs", api.AcquireRequest{PreferredLen: 3}, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(api.RequestIDHeader))

	require.Equal(t, "issued", got.Outcome)
	require.NotNil(t, got.Job)

	assert.Equal(t, uint16(0), got.Job.RangeID)
	assert.Equal(t, strings.Repeat("0", 32), got.Job.TweakKey)
	assert.Equal(t, strings.Repeat("0", 31)+"1", got.Job.StartKey)
	assert.Equal(t, strings.Repeat("0", 63)+"1", got.Job.StartKeyU256)
	assert.Equal(t, uint64(3), got.Job.Len)

	// The default length applies when the body is empty.
	var second api.AcquireResponse

	post(t, srv.URL+"/v1/jobs", nil, &second)
	require.NotNil(t, second.Job)
	assert.Equal(t, uint64(2), second.Job.Len)
	assert.Equal(t, strings.Repeat("0", 31)+"4", second.Job.StartKey)
}

func Test_Acquire_Reports_Pending_Then_Exhausted_When_Space_Runs_Out(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ledger.Layout{Count: 1, Span: uint128.From64(1), KeyMax: uint128.From64(2)})

	var first api.AcquireResponse

	post(t, srv.URL+"/v1/jobs", api.AcquireRequest{PreferredLen: 10}, &first)
	require.Equal(t, "issued", first.Outcome)

	var pending api.AcquireResponse

	post(t, srv.URL+"/v1/jobs", nil, &pending)
	require.Equal(t, "pending", pending.Outcome)
	require.Nil(t, pending.Job)

	var commit api.CommitResponse

	resp := post(t, srv.URL+"/v1/jobs/0/commit", api.CommitRequest{Lease: first.Job}, &commit)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, commit.Committed)

	var done api.AcquireResponse

	post(t, srv.URL+"/v1/jobs", nil, &done)
	require.Equal(t, "exhausted", done.Outcome)

	var progress api.ProgressResponse

	getJSON(t, srv.URL+"/v1/progress", &progress)
	assert.InDelta(t, 1.0, progress.Progress, 1e-12)
}

func Test_Commit_Returns_False_When_Lease_No_Longer_Matches(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ledger.Layout{Count: 1, Span: uint128.From64(4), KeyMax: uint128.Max})

	var old api.AcquireResponse

	post(t, srv.URL+"/v1/jobs", nil, &old)

	var ok api.CommitResponse

	post(t, srv.URL+"/v1/jobs/0/commit", nil, &ok)
	require.True(t, ok.Committed)

	var reissued api.AcquireResponse

	post(t, srv.URL+"/v1/jobs", nil, &reissued)
	require.Equal(t, old.Job.ID, reissued.Job.ID)

	var stale api.CommitResponse

	post(t, srv.URL+"/v1/jobs/0/commit", api.CommitRequest{Lease: old.Job}, &stale)
	assert.False(t, stale.Committed)
}

func Test_Commit_Returns_400_When_Request_Is_Malformed(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ledger.Layout{Count: 1, Span: uint128.From64(4), KeyMax: uint128.Max})

	badHex := api.Job{ID: 0, TweakKey: "xyz", StartKey: strings.Repeat("0", 32)}
	otherID := api.Job{ID: 9, TweakKey: strings.Repeat("0", 32), StartKey: strings.Repeat("0", 32)}

	tests := []struct {
		name string
		path string
		body any
	}{
		{name: "non-numeric id", path: "/v1/jobs/abc/commit"},
		{name: "bad hex", path: "/v1/jobs/0/commit", body: api.CommitRequest{Lease: &badHex}},
		{name: "id mismatch", path: "/v1/jobs/0/commit", body: api.CommitRequest{Lease: &otherID}},
		{name: "unknown field", path: "/v1/jobs/0/commit", body: map[string]int{"bogus": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var errResp api.ErrorResponse

			resp := post(t, srv.URL+tt.path, tt.body, &errResp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, errResp.Error)
			assert.False(t, errResp.Fatal)
		})
	}
}

func Test_Acquire_Returns_400_When_Body_Has_Trailing_Data(t *testing.T) {
	t.Parallel()

	srv, l := newTestServer(t, ledger.Layout{Count: 1, Span: uint128.From64(4), KeyMax: uint128.Max})

	for _, body := range []string{
		`{"preferred_len":5}garbage`,
		`{"preferred_len":5} {"preferred_len":6}`,
		`{"preferred_len":5}}`,
	} {
		var errResp api.ErrorResponse

		resp := post(t, srv.URL+"/v1/jobs", body, &errResp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Contains(t, errResp.Error, "after JSON value", body)
	}

	stats, err := l.Stats(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stats.Jobs, "rejected request leased a job")

	// Trailing whitespace is not extra data.
	var ok api.AcquireResponse

	resp := post(t, srv.URL+"/v1/jobs", "{\"preferred_len\":5}\n", &ok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "issued", ok.Outcome)
}

func Test_Stats_And_Metrics_Reflect_Acquired_Jobs(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ledger.Layout{Count: 5, Span: uint128.From64(4), KeyMax: uint128.Max})

	for range 3 {
		post(t, srv.URL+"/v1/jobs", nil, nil)
	}

	var stats api.StatsResponse

	getJSON(t, srv.URL+"/v1/stats", &stats)
	assert.Equal(t, api.StatsResponse{Ranges: 5, Available: 5, Jobs: 3}, stats)

	body := getText(t, srv.URL+"/metrics")
	assert.Contains(t, body, `nyash_jobs_acquired_total{outcome="issued"} 3`)

	assert.Equal(t, "ok\n", getText(t, srv.URL+"/healthz"))
}

func Test_Acquire_Returns_Fatal_500_When_Ledger_Halted(t *testing.T) {
	t.Parallel()

	fake := &haltedLedger{err: &ledger.InvariantError{Op: "commit work", Detail: "boom"}}
	srv := httptest.NewServer(api.New(fake, api.Options{DefaultJobLen: 1}))
	t.Cleanup(srv.Close)

	var errResp api.ErrorResponse

	resp := post(t, srv.URL+"/v1/jobs", nil, &errResp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, errResp.Fatal)
	assert.Contains(t, errResp.Error, "boom")
}

func Test_Request_Id_Is_Echoed_When_Client_Sends_One(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, ledger.Layout{Count: 1, Span: uint128.From64(4), KeyMax: uint128.Max})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(api.RequestIDHeader, "abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	_ = resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get(api.RequestIDHeader))
}

func Test_U128_Hex_Roundtrips_Extremes(t *testing.T) {
	t.Parallel()

	for _, v := range []uint128.Uint128{uint128.Zero, uint128.From64(1), uint128.New(0, 1), uint128.Max} {
		s := api.FormatU128(v)
		require.Len(t, s, 32)

		back, err := api.ParseU128(s)
		require.NoError(t, err)
		assert.True(t, back.Equals(v), "%s -> %s", v, back)
	}

	_, err := api.ParseU128("12")
	assert.ErrorIs(t, err, api.ErrInvalidU128)
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()

	require.NoError(t, json.Unmarshal([]byte(getText(t, url)), out))
}

func getText(t *testing.T, url string) string {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(b)
}

type haltedLedger struct {
	err error
}

func (h *haltedLedger) AcquireJob(context.Context, uint64) (ledger.Job, ledger.Outcome, error) {
	return ledger.Job{}, 0, errors.Join(ledger.ErrHalted, h.err)
}

func (h *haltedLedger) CommitJob(context.Context, uint64) (bool, error) {
	return false, h.err
}

func (h *haltedLedger) CommitLease(context.Context, ledger.Job) (bool, error) {
	return false, h.err
}

func (h *haltedLedger) Progress(context.Context) (float64, error) { return 0, nil }

func (h *haltedLedger) Stats(context.Context) (ledger.Stats, error) { return ledger.Stats{}, nil }
