// Package api assembles the HTTP surface: routing, middleware, health,
// metrics and the SSE event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whistlechain/backend/internal/audit"
	"github.com/whistlechain/backend/internal/bounty"
	"github.com/whistlechain/backend/internal/events"
	"github.com/whistlechain/backend/internal/handlers"
	"github.com/whistlechain/backend/internal/inspector"
	"github.com/whistlechain/backend/internal/ledger"
	"github.com/whistlechain/backend/internal/metrics"
	"github.com/whistlechain/backend/internal/middleware"
	"github.com/whistlechain/backend/internal/publication"
	"github.com/whistlechain/backend/internal/resolution"
	"github.com/whistlechain/backend/internal/submission"
	"github.com/whistlechain/backend/internal/verification"
)

// Deps carries everything the server routes to. Algod and Registry may be
// nil when no node is reachable; the rest is always wired.
type Deps struct {
	Algod       *algod.Client
	Registry    *ledger.Registry
	Submissions *submission.Service
	Inspectors  *inspector.Registry
	Verifier    *verification.Engine
	Resolver    *resolution.Engine
	Bounties    *bounty.Engine
	Auditor     *audit.Engine
	Publisher   *publication.Bot
	Bus         *events.Bus
	Metrics     *metrics.Metrics
	Limiter     *middleware.RateLimiter
}

// Server is the coordinator's HTTP front.
type Server struct {
	deps   Deps
	logger *log.Logger
	http   *http.Server
}

// NewServer builds the router and server.
func NewServer(port string, deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	s.http = &http.Server{
		Addr:         ":" + port,
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.Use(corsMiddleware)
	r.Use(s.loggingMiddleware)
	if s.deps.Limiter != nil {
		r.Use(s.deps.Limiter.Middleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/events", s.handleEvents).Methods("GET")

	store := s.deps.Submissions.Store()

	// Documented client surface. The /api/v1 tree below carries the same
	// handlers under resource-style paths; integrators use these.
	r.HandleFunc("/wallet/create", handlers.HandleCreateWallet()).Methods("POST")
	r.HandleFunc("/wallet/recover", handlers.HandleRecoverWallet()).Methods("POST")
	r.HandleFunc("/stake/info/{category}", handlers.HandleStakeInfo()).Methods("GET")
	r.HandleFunc("/evidence/submit", handlers.HandleSubmitEvidence(s.deps.Submissions, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	r.HandleFunc("/evidence/{evidence_id}", handlers.HandleGetEvidence(store)).Methods("GET")
	r.HandleFunc("/verification/register-inspector", handlers.HandleRegisterInspector(s.deps.Inspectors)).Methods("POST")
	r.HandleFunc("/verification/begin", handlers.HandleBeginVerification(s.deps.Verifier, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	r.HandleFunc("/verification/commit", handlers.HandleCommitVerdict(s.deps.Verifier, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	r.HandleFunc("/verification/advance-to-reveal", handlers.HandleAdvanceToReveal(s.deps.Verifier)).Methods("POST")
	r.HandleFunc("/verification/reveal", handlers.HandleRevealVerdict(s.deps.Verifier, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	r.HandleFunc("/verification/finalize", handlers.HandleFinalizeVerification(s.deps.Verifier, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	r.HandleFunc("/verification/status/{evidence_id}", handlers.HandleVerificationStatus(s.deps.Verifier)).Methods("GET")
	r.HandleFunc("/resolution/resolve", handlers.HandleResolveEvidence(s.deps.Resolver, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	r.HandleFunc("/bounty/process/{evidence_id}", handlers.HandleProcessBounty(s.deps.Bounties, s.deps.Resolver, store, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	r.HandleFunc("/audit/publish", handlers.HandlePublishAudit(s.deps.Auditor, s.deps.Bus)).Methods("POST")
	r.HandleFunc("/audit/{evidence_id}", handlers.HandleAuditTrail(s.deps.Auditor)).Methods("GET")
	r.HandleFunc("/publication/publish/{evidence_id}", handlers.HandlePublishEverywhere(s.deps.Publisher, store, s.deps.Bus)).Methods("POST")
	r.HandleFunc("/publication/{evidence_id}", handlers.HandleGetPublication(s.deps.Publisher)).Methods("GET")
	r.HandleFunc("/submissions", handlers.HandleListEvidence(store)).Methods("GET")
	r.HandleFunc("/contract/transparency", handlers.HandleTransparency(
		s.deps.Registry, store, s.deps.Resolver, s.deps.Auditor, s.deps.Bounties)).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Wallets
	api.HandleFunc("/wallets", handlers.HandleCreateWallet()).Methods("POST")
	api.HandleFunc("/wallets/recover", handlers.HandleRecoverWallet()).Methods("POST")

	// Stake policy
	api.HandleFunc("/stake/requirements", handlers.HandleStakeRequirements()).Methods("GET")
	api.HandleFunc("/stake/requirements/{category}", handlers.HandleStakeInfo()).Methods("GET")
	api.HandleFunc("/stake/payout-preview", handlers.HandlePayoutPreview()).Methods("GET")

	// Evidence
	api.HandleFunc("/evidence", handlers.HandleSubmitEvidence(s.deps.Submissions, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	api.HandleFunc("/evidence", handlers.HandleListEvidence(store)).Methods("GET")
	api.HandleFunc("/evidence/{evidence_id}", handlers.HandleGetEvidence(store)).Methods("GET")

	// Inspectors
	api.HandleFunc("/inspectors", handlers.HandleRegisterInspector(s.deps.Inspectors)).Methods("POST")
	api.HandleFunc("/inspectors", handlers.HandleListInspectors(s.deps.Inspectors)).Methods("GET")
	api.HandleFunc("/inspectors/{address}", handlers.HandleGetInspector(s.deps.Inspectors)).Methods("GET")
	api.HandleFunc("/inspectors/{address}", handlers.HandleUpdateInspector(s.deps.Inspectors)).Methods("PATCH")
	api.HandleFunc("/inspectors/{address}/cases", handlers.HandleInspectorCases(s.deps.Verifier)).Methods("GET")

	// Verification
	api.HandleFunc("/verification/begin", handlers.HandleBeginVerification(s.deps.Verifier, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	api.HandleFunc("/verification/commit-ticket", handlers.HandleCommitTicket()).Methods("POST")
	api.HandleFunc("/verification/commit", handlers.HandleCommitVerdict(s.deps.Verifier, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	api.HandleFunc("/verification/reveal", handlers.HandleRevealVerdict(s.deps.Verifier, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	api.HandleFunc("/verification/sessions", handlers.HandleListSessions(s.deps.Verifier)).Methods("GET")
	api.HandleFunc("/verification/{evidence_id}", handlers.HandleVerificationStatus(s.deps.Verifier)).Methods("GET")
	api.HandleFunc("/verification/{evidence_id}/advance", handlers.HandleAdvanceToReveal(s.deps.Verifier)).Methods("POST")
	api.HandleFunc("/verification/{evidence_id}/finalize", handlers.HandleFinalizeVerification(s.deps.Verifier, s.deps.Bus, s.deps.Metrics)).Methods("POST")

	// Resolution and bounty
	api.HandleFunc("/resolutions", handlers.HandleResolveEvidence(s.deps.Resolver, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	api.HandleFunc("/resolutions", handlers.HandleListResolutions(s.deps.Resolver)).Methods("GET")
	api.HandleFunc("/resolutions/{evidence_id}", handlers.HandleGetResolution(s.deps.Resolver)).Methods("GET")
	api.HandleFunc("/bounties", handlers.HandleProcessBounty(s.deps.Bounties, s.deps.Resolver, store, s.deps.Bus, s.deps.Metrics)).Methods("POST")
	api.HandleFunc("/bounties/stats", handlers.HandleBountyStats(s.deps.Bounties)).Methods("GET")
	api.HandleFunc("/bounties/{evidence_id}", handlers.HandleGetBounty(s.deps.Bounties)).Methods("GET")

	// Audit trail and transparency
	api.HandleFunc("/audit/publish", handlers.HandlePublishAudit(s.deps.Auditor, s.deps.Bus)).Methods("POST")
	api.HandleFunc("/audit/{evidence_id}", handlers.HandleAuditTrail(s.deps.Auditor)).Methods("GET")
	api.HandleFunc("/public/evidence", handlers.HandlePublicEvidence(s.deps.Auditor)).Methods("GET")
	api.HandleFunc("/contract/transparency", handlers.HandleTransparency(
		s.deps.Registry, store, s.deps.Resolver, s.deps.Auditor, s.deps.Bounties)).Methods("GET")

	// Publication fan-out
	api.HandleFunc("/publications", handlers.HandlePublishEverywhere(s.deps.Publisher, store, s.deps.Bus)).Methods("POST")
	api.HandleFunc("/publications/schedule", handlers.HandleSchedulePublication(s.deps.Publisher, store)).Methods("POST")
	api.HandleFunc("/publications/queue", handlers.HandlePublicationQueue(s.deps.Publisher)).Methods("GET")
	api.HandleFunc("/publications/{evidence_id}", handlers.HandleGetPublication(s.deps.Publisher)).Methods("GET")
	api.HandleFunc("/publications/{evidence_id}", handlers.HandleCancelPublication(s.deps.Publisher)).Methods("DELETE")

	return r
}

// Start blocks on ListenAndServe.
func (s *Server) Start() error {
	s.logger.Printf("Listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth reports node connectivity alongside process liveness. A dead
// node degrades the report, it does not fail it: the off-chain protocol
// keeps running.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "healthy",
		"service": "whistlechain-api",
	}

	if s.deps.Algod != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, err := ledger.CheckConnection(ctx, s.deps.Algod)
		if err != nil {
			resp["algorand"] = "error"
		} else {
			resp["algorand"] = "connected"
			resp["last_round"] = status.LastRound
			resp["network"] = status.Network
		}
	} else {
		resp["algorand"] = "disabled"
	}
	if s.deps.Registry != nil {
		resp["app_id"] = s.deps.Registry.AppID()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleEvents streams lifecycle events as Server-Sent Events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var types []string
	if t := r.URL.Query().Get("type"); t != "" {
		types = []string{t}
	}
	ch := s.deps.Bus.Subscribe(types...)
	defer s.deps.Bus.Unsubscribe(ch)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev := <-ch:
			frame, err := ev.SSEFormat()
			if err != nil {
				continue
			}
			w.Write(frame)
			flusher.Flush()
		}
	}
}

// corsMiddleware allows browser clients from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.deps.Metrics.RecordRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", rec.status), elapsed.Seconds())
		s.logger.Printf(`{"method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			r.Method, r.URL.Path, rec.status, elapsed.Milliseconds())
	})
}
