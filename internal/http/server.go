// Package http exposes the ledger engine as a JSON API. The transport
// resolves who is calling (X-Username header); the engine decides what they
// may do.
package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Oghma/Sparagne/internal/ledger"
	"github.com/Oghma/Sparagne/internal/middleware/ratelimit"
	"github.com/Oghma/Sparagne/internal/middleware/security"
	"github.com/Oghma/Sparagne/internal/middleware/trace"
)

const usernameHeader = "X-Username"

// Server wires the engine behind the route table.
type Server struct {
	http.Server
	engine  *ledger.Engine
	limiter *ratelimit.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit caps requests per client IP per minute. Zero disables it.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: perMinute})
		}
	}
}

// NewServer configures routes, middleware and timeouts, returning a
// ready-to-run server.
func NewServer(addr string, engine *ledger.Engine, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		engine: engine,
	}
	for _, opt := range opts {
		opt(s)
	}

	resolver := security.NewIPResolver()
	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Middleware(resolver.ClientIP)(handler)
	}
	handler = trace.Middleware(handler)
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	s.Server.Handler = handler
	s.Server.RegisterOnShutdown(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
	})

	mux.HandleFunc("GET /healthz", handleHealth)

	mux.HandleFunc("POST /api/vaults", s.withRequest(s.handleCreateVault))
	// Lives outside /api/vaults/: a literal segment there would clash with
	// the {id} wildcard patterns and ServeMux refuses to register both.
	mux.HandleFunc("GET /api/vault-names/{name}", s.withRequest(s.handleGetVaultByName))
	mux.HandleFunc("GET /api/vaults/{id}", s.withRequest(s.handleGetVault))
	mux.HandleFunc("DELETE /api/vaults/{id}", s.withRequest(s.handleDeleteVault))

	mux.HandleFunc("POST /api/vaults/{id}/wallets", s.withRequest(s.handleCreateWallet))
	mux.HandleFunc("POST /api/vaults/{id}/flows", s.withRequest(s.handleCreateFlow))

	mux.HandleFunc("POST /api/vaults/{id}/income", s.withRequest(s.handleRecordIncome))
	mux.HandleFunc("POST /api/vaults/{id}/expense", s.withRequest(s.handleRecordExpense))
	mux.HandleFunc("POST /api/vaults/{id}/refund", s.withRequest(s.handleRecordRefund))
	mux.HandleFunc("POST /api/vaults/{id}/transfers/wallet", s.withRequest(s.handleTransferWallet))
	mux.HandleFunc("POST /api/vaults/{id}/transfers/flow", s.withRequest(s.handleTransferFlow))

	mux.HandleFunc("GET /api/vaults/{id}/transactions", s.withRequest(s.handleListTransactions))
	mux.HandleFunc("GET /api/vaults/{id}/statistics", s.withRequest(s.handleStatistics))

	mux.HandleFunc("GET /api/transactions/{id}", s.withRequest(s.handleGetTransaction))
	mux.HandleFunc("PATCH /api/transactions/{id}", s.withRequest(s.handleUpdateTransaction))
	mux.HandleFunc("POST /api/transactions/{id}/void", s.withRequest(s.handleVoidTransaction))

	mux.HandleFunc("PUT /api/vaults/{id}/members/{user}", s.withRequest(s.handleUpsertMember))
	mux.HandleFunc("DELETE /api/vaults/{id}/members/{user}", s.withRequest(s.handleRemoveMember))
	mux.HandleFunc("PUT /api/vaults/{id}/flows/{flow}/members/{user}", s.withRequest(s.handleUpsertFlowMember))
	mux.HandleFunc("DELETE /api/vaults/{id}/flows/{flow}/members/{user}", s.withRequest(s.handleRemoveFlowMember))

	return s
}

// withRequest enforces the caller identity header and logs the request
// outcome.
func (s *Server) withRequest(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		user := strings.TrimSpace(r.Header.Get(usernameHeader))
		if user == "" {
			writeErrorBody(w, http.StatusUnauthorized, "missing "+usernameHeader+" header")
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r, user)

		level := slog.LevelInfo
		if rw.statusCode >= 500 {
			level = slog.LevelError
		} else if rw.statusCode >= 400 {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "Request completed",
			"request_id", trace.RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"user", user)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
