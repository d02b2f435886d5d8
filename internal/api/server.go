// Package api exposes the ledger to workers over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/google/uuid"

	"github.com/nyash/nyashd/internal/ledger"
	"github.com/nyash/nyashd/internal/logger"
)

// Ledger is the part of [*ledger.Ledger] the handlers use.
type Ledger interface {
	AcquireJob(ctx context.Context, preferredLen uint64) (ledger.Job, ledger.Outcome, error)
	CommitJob(ctx context.Context, id uint64) (bool, error)
	CommitLease(ctx context.Context, lease ledger.Job) (bool, error)
	Progress(ctx context.Context) (float64, error)
	Stats(ctx context.Context) (ledger.Stats, error)
}

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

const maxBodyBytes = 1 << 16

// Options configures [New].
type Options struct {
	// DefaultJobLen is used when a request omits preferred_len.
	DefaultJobLen uint64

	// Metrics, if set, is served at /metrics.
	Metrics http.Handler

	Logger logger.Logger
}

// Server routes worker requests to a Ledger.
type Server struct {
	ledger     Ledger
	log        logger.Logger
	defaultLen uint64
	handler    http.Handler
}

// New builds the handler tree.
func New(l Ledger, opts Options) *Server {
	s := &Server{
		ledger:     l,
		log:        opts.Logger,
		defaultLen: opts.DefaultJobLen,
	}

	if s.log == nil {
		s.log = logger.Noop{}
	}

	mux := httptreemux.NewContextMux()
	mux.NotFoundHandler = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	}
	mux.MethodNotAllowedHandler = func(w http.ResponseWriter, _ *http.Request, _ map[string]httptreemux.HandlerFunc) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	}

	v1 := mux.NewGroup("/v1")
	v1.POST("/jobs", s.acquire)
	v1.POST("/jobs/:id/commit", s.commit)
	v1.GET("/progress", s.progress)
	v1.GET("/stats", s.stats)

	mux.GET("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	if opts.Metrics != nil {
		mux.Handle(http.MethodGet, "/metrics", opts.Metrics.ServeHTTP)
	}

	s.handler = requestID(accessLog(s.log, mux))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.handler.ServeHTTP(w, req)
}

func (s *Server) acquire(w http.ResponseWriter, req *http.Request) {
	var body AcquireRequest

	err := decodeBody(w, req, &body)
	if err != nil {
		s.fail(w, req, http.StatusBadRequest, err)

		return
	}

	n := body.PreferredLen
	if n == 0 {
		n = s.defaultLen
	}

	job, outcome, err := s.ledger.AcquireJob(req.Context(), n)
	if err != nil {
		s.failLedger(w, req, err)

		return
	}

	resp := AcquireResponse{Outcome: outcome.String()}

	if outcome.HasJob() {
		wire := FromLease(job)
		resp.Job = &wire
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) commit(w http.ResponseWriter, req *http.Request) {
	params := httptreemux.ContextParams(req.Context())

	id, err := strconv.ParseUint(params["id"], 10, 64)
	if err != nil {
		s.fail(w, req, http.StatusBadRequest, fmt.Errorf("job id %q: %w", params["id"], err))

		return
	}

	var body CommitRequest

	err = decodeBody(w, req, &body)
	if err != nil {
		s.fail(w, req, http.StatusBadRequest, err)

		return
	}

	var committed bool

	if body.Lease != nil {
		lease, err := body.Lease.Lease()
		if err != nil {
			s.fail(w, req, http.StatusBadRequest, fmt.Errorf("lease: %w", err))

			return
		}

		if lease.ID != id {
			s.fail(w, req, http.StatusBadRequest, fmt.Errorf("lease id %d does not match path id %d", lease.ID, id))

			return
		}

		committed, err = s.ledger.CommitLease(req.Context(), lease)
	} else {
		committed, err = s.ledger.CommitJob(req.Context(), id)
	}

	if err != nil {
		s.failLedger(w, req, err)

		return
	}

	writeJSON(w, http.StatusOK, CommitResponse{Committed: committed})
}

func (s *Server) progress(w http.ResponseWriter, req *http.Request) {
	p, err := s.ledger.Progress(req.Context())
	if err != nil {
		s.failLedger(w, req, err)

		return
	}

	writeJSON(w, http.StatusOK, ProgressResponse{Progress: p})
}

func (s *Server) stats(w http.ResponseWriter, req *http.Request) {
	st, err := s.ledger.Stats(req.Context())
	if err != nil {
		s.failLedger(w, req, err)

		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Ranges:    st.Ranges,
		Available: st.Available,
		Retired:   st.Retired,
		Draining:  st.Draining,
		Jobs:      st.Jobs,
		StaleJobs: st.StaleJobs,
		FreeIDs:   st.FreeIDs,
		Progress:  st.Progress,
	})
}

// failLedger maps ledger errors to status codes.
func (s *Server) failLedger(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidJobLen):
		s.fail(w, req, http.StatusBadRequest, err)
	case ledger.IsFatal(err):
		s.log.ErrorfCtx(req.Context(), "%s %s: %v", req.Method, req.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Fatal: true})
	case errors.Is(err, ledger.ErrClosed), errors.Is(err, context.Canceled):
		s.fail(w, req, http.StatusServiceUnavailable, err)
	default:
		s.log.ErrorfCtx(req.Context(), "%s %s: %v", req.Method, req.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func (s *Server) fail(w http.ResponseWriter, req *http.Request, status int, err error) {
	s.log.DebugfCtx(req.Context(), "%s %s: %d: %v", req.Method, req.URL.Path, status, err)
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// errTrailingData rejects bodies holding more than one JSON value.
var errTrailingData = errors.New("decode body: unexpected data after JSON value")

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(w http.ResponseWriter, req *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("decode body: %w", err)
	}

	_, err = dec.Token()
	if !errors.Is(err, io.EOF) {
		return errTrailingData
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestID propagates or assigns a request id and stores it in the
// request context for the logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, req.WithContext(logger.WithRequestID(req.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func accessLog(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, req)

		log.DebugfCtx(req.Context(), "req %s %s status=%d time=%s", req.Method, req.URL.Path, rec.status, time.Since(started))
	})
}
