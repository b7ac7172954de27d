// Package api serves signed escrow commands and ledger reads over HTTP.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	errorsmod "cosmossdk.io/errors"

	"Provability/internal/address"
	"Provability/internal/escrow"
	"Provability/internal/index"
	"Provability/internal/logger"
	"Provability/internal/metrics"
	"Provability/internal/protocol"
	"Provability/internal/tx"
)

const (
	// defaultExpiredLimit and maxExpiredLimit bound GET /bounties/expired.
	defaultExpiredLimit = 100
	maxExpiredLimit     = 1000

	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 5 * time.Second
)

// Server is the HTTP API server.
type Server struct {
	addr    string           // addr is the HTTP listen address
	engine  *escrow.Engine   // engine executes commands and serves reads
	index   index.Indexer    // index answers listing queries; optional
	metrics *metrics.Metrics // metrics records requests and serves /metrics; optional
	limiter *rateLimiter     // limiter throttles clients; optional
}

// Option configures the Server during creation.
type Option func(*Server)

// WithIndex enables the listing endpoints.
func WithIndex(idx index.Indexer) Option {
	return func(s *Server) {
		s.index = idx
	}
}

// WithMetrics records request metrics and exposes GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRateLimit allows rps requests per second per client IP. Zero disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newRateLimiter(rps, burst)
		}
	}
}

// New creates a new HTTP API server.
func New(addr string, engine *escrow.Engine, opts ...Option) *Server {
	s := &Server{addr: addr, engine: engine}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the routed handler with rate limiting and metrics applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tx", s.handleSubmitTx)
	mux.HandleFunc("GET /bounty/{addr}", s.handleBounty)
	mux.HandleFunc("GET /bounty/{addr}/submissions", s.handleBountySubmissions)
	mux.HandleFunc("GET /submission/{addr}", s.handleSubmission)
	mux.HandleFunc("GET /account/{addr}", s.handleAccount)
	mux.HandleFunc("GET /bounties", s.handleBountiesByCreator)
	mux.HandleFunc("GET /bounties/expired", s.handleExpired)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.instrument(s.throttle(mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api started", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	}
}

// throttle refuses requests from clients over their rate.
func (s *Server) throttle(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			if s.metrics != nil {
				s.metrics.RateLimited()
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument counts responses by route pattern and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}

		s.metrics.ObserveRequest(route, strconv.Itoa(rec.status))
	})
}

// handleSubmitTx handles POST /tx requests.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, tx.MaxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty transaction")
		return
	}

	env, err := tx.Decode(body)
	if err != nil {
		if errors.Is(err, tx.ErrMalformed) {
			err = errorsmod.Wrap(protocol.ErrInvalidParams, err.Error())
		}
		writeProtocolError(w, err)
		return
	}

	cmd, err := escrow.DecodeCommand(escrow.Kind(env.Kind), env.Args)
	if err != nil {
		writeProtocolError(w, errorsmod.Wrap(protocol.ErrInvalidParams, err.Error()))
		return
	}

	receipt, err := s.engine.Execute(r.Context(), env.Sender, cmd)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	logger.Debug("tx executed", "hash", hex.EncodeToString(env.Hash[:8]), "kind", cmd.Kind())

	writeJSON(w, http.StatusOK, struct {
		Hash string `json:"hash"`
		*escrow.Receipt
	}{hex.EncodeToString(env.Hash[:]), receipt})
}

// handleBounty handles GET /bounty/{addr}.
func (s *Server) handleBounty(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	b, err := s.engine.Bounty(addr)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// handleSubmission handles GET /submission/{addr}.
func (s *Server) handleSubmission(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	sub, err := s.engine.Submission(addr)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// handleAccount handles GET /account/{addr}. Unknown accounts have a zero balance.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	balance, err := s.engine.Balance(addr)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"balance": balance,
	})
}

// handleExpired handles GET /bounties/expired?limit=N.
func (s *Server) handleExpired(w http.ResponseWriter, r *http.Request) {
	limit := defaultExpiredLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxExpiredLimit)
	}

	bounties, err := s.engine.ExpiredBounties(limit)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	if bounties == nil {
		bounties = []*protocol.Bounty{}
	}

	writeJSON(w, http.StatusOK, bounties)
}

// handleBountiesByCreator handles GET /bounties?creator=<addr> from the index.
func (s *Server) handleBountiesByCreator(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata index not configured")
		return
	}

	creator, err := address.Parse(r.URL.Query().Get("creator"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid creator address")
		return
	}

	bounties, err := s.index.BountiesByCreator(r.Context(), creator)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	if bounties == nil {
		bounties = []*protocol.Bounty{}
	}

	writeJSON(w, http.StatusOK, bounties)
}

// handleBountySubmissions handles GET /bounty/{addr}/submissions from the index.
func (s *Server) handleBountySubmissions(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata index not configured")
		return
	}

	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	subs, err := s.index.SubmissionsByBounty(r.Context(), addr)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	if subs == nil {
		subs = []*protocol.Submission{}
	}

	writeJSON(w, http.StatusOK, subs)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   s.engine.Now(),
	})
}

// pathAddress parses the {addr} path value, writing a 400 on failure.
func pathAddress(w http.ResponseWriter, r *http.Request) (address.Address, bool) {
	addr, err := address.Parse(r.PathValue("addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return address.Address{}, false
	}

	return addr, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
