package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anima/core"
	"anima/native/access"
	"anima/native/governance"
	"anima/native/ledger"
	"anima/native/stake"
	"anima/scheduler"
)

// errBadRequest marks client-side request shape errors: malformed JSON,
// unknown fields, unparseable amounts or IDs.
var errBadRequest = errors.New("rpc: bad request")

// Server exposes the token-economy operations over HTTP JSON.
type Server struct {
	node *core.Node
	gov  *governance.Engine
	log  *slog.Logger
}

// NewServer builds an HTTP server over the node and governance engine.
func NewServer(node *core.Node, gov *governance.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{node: node, gov: gov, log: log}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts/{account}/onboard", s.handleOnboard)
		r.Get("/accounts/{account}", s.handleAccount)
		r.Get("/accounts/{account}/transactions", s.handleTransactions)
		r.Post("/transfers", s.handleTransfer)
		r.Get("/token", s.handleTokenInfo)

		r.Post("/stakes", s.handleStake)
		r.Post("/unstakes", s.handleUnstake)
		r.Post("/rewards/claims", s.handleClaim)
		r.Get("/staking/stats", s.handleStakingStats)

		r.Post("/productions", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleJob)
		r.Get("/queue/stats", s.handleQueueStats)

		r.Post("/proposals", s.handlePropose)
		r.Get("/proposals", s.handleActiveProposals)
		r.Get("/proposals/{id}", s.handleProposal)
		r.Post("/proposals/{id}/votes", s.handleVote)
		r.Post("/proposals/{id}/execute", s.handleExecute)
		r.Get("/governance/stats", s.handleGovernanceStats)
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error      string      `json:"error"`
	Validation interface{} `json:"validation,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var validationErr *access.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusForbidden, errorBody{
			Error:      validationErr.Error(),
			Validation: validationErr.Result,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, stake.ErrInsufficientStake),
		errors.Is(err, governance.ErrInsufficientProposerStake),
		errors.Is(err, governance.ErrNoVotingPower):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, governance.ErrInvalidProposalType):
		status = http.StatusBadRequest
	case errors.Is(err, stake.ErrNoStake),
		errors.Is(err, governance.ErrProposalNotFound),
		errors.Is(err, scheduler.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, governance.ErrInvalidProposalState),
		errors.Is(err, ledger.ErrAlreadyOnboarded):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
