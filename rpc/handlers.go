package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"anima/core/types"
	"anima/native/access"
	"anima/native/governance"
)

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	tx, err := s.node.Onboard(account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"account":     account,
		"transaction": tx,
		"balance":     types.FormatAmount(s.node.Ledger().Balance(account)),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	overview := s.node.AccountOverview(account)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"balance": types.FormatAmount(overview.Balance),
		"staking": overview.Staking,
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: invalid limit: %v", errBadRequest, err))
			return
		}
		limit = parsed
	}
	txs, err := s.node.Ledger().Transactions(account, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	tx, err := s.node.Ledger().Transfer(req.From, req.To, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction": tx,
		"newBalance":  types.FormatAmount(s.node.Ledger().Balance(req.From)),
	})
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Ledger().Info())
}

type stakeRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	result, err := s.node.Stakes().Stake(req.Account, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	result, err := s.node.Stakes().Unstake(req.Account, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type claimRequest struct {
	Account string `json:"account"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.node.Stakes().ClaimRewards(req.Account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStakingStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Stakes().GlobalStats())
}

type submitRequest struct {
	Account string         `json:"account"`
	Request access.Request `json:"request"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.node.SubmitProduction(req.Account, req.Request)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid job id: %v", errBadRequest, err))
		return
	}
	job, err := s.node.Scheduler().Job(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload := map[string]interface{}{"job": job}
	if position, err := s.node.Scheduler().Position(id); err == nil {
		payload["queuePosition"] = position
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Scheduler().Stats())
}

type proposeRequest struct {
	Proposer    string                  `json:"proposer"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Type        governance.ProposalType `json:"type"`
	Payload     json.RawMessage         `json:"payload,omitempty"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	proposal, err := s.gov.Propose(req.Proposer, req.Title, req.Description, req.Type, req.Payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *Server) handleActiveProposals(w http.ResponseWriter, _ *http.Request) {
	proposals, err := s.gov.ActiveProposals()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proposals": proposals})
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid proposal id: %v", errBadRequest, err))
		return
	}
	proposal, err := s.gov.Proposal(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

type voteRequest struct {
	Voter   string `json:"voter"`
	Support bool   `json:"support"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid proposal id: %v", errBadRequest, err))
		return
	}
	var req voteRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	proposal, err := s.gov.CastVote(id, req.Voter, req.Support)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

type executeRequest struct {
	Executor string `json:"executor"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid proposal id: %v", errBadRequest, err))
		return
	}
	var req executeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	proposal, err := s.gov.Execute(id, req.Executor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleGovernanceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gov.Stats())
}
