package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/poco/internal/app/poco"
	"github.com/tutu-network/poco/internal/domain"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// ─── Request Bodies ─────────────────────────────────────────────────────────

type sponsorMatchRequest struct {
	Sponsor common.Address `json:"sponsor"`
	domain.OrderSet
}

type pushResultRequest struct {
	Worker          common.Address `json:"worker"`
	Results         hexutil.Bytes  `json:"results"`
	ResultsCallback hexutil.Bytes  `json:"results_callback"`
	Authorization   hexutil.Bytes  `json:"authorization"`
	Enclave         common.Address `json:"enclave"`
	EnclaveSign     hexutil.Bytes  `json:"enclave_sign"`
	WorkerSign      hexutil.Bytes  `json:"worker_sign"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type manageOrderRequest struct {
	Caller common.Address `json:"caller"`
	domain.OrderOperationArgs
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// ─── Reads ──────────────────────────────────────────────────────────────────

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	acct, err := s.engine.Account(r.Context(), addr)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleKitty(w http.ResponseWriter, r *http.Request) {
	acct, err := s.engine.Kitty(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleConsumed(w http.ResponseWriter, r *http.Request) {
	h, ok := hashParam(w, r, "hash")
	if !ok {
		return
	}
	v, err := s.engine.Consumed(r.Context(), h)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_hash": h, "consumed": v})
}

func (s *Server) handleDeal(w http.ResponseWriter, r *http.Request) {
	id, ok := hashParam(w, r, "id")
	if !ok {
		return
	}
	d, err := s.engine.Deal(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTaskAt(w http.ResponseWriter, r *http.Request) {
	id, index, ok := taskParams(w, r)
	if !ok {
		return
	}
	t, err := s.engine.TaskAt(r.Context(), id, index)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id, ok := hashParam(w, r, "id")
	if !ok {
		return
	}
	t, err := s.engine.Task(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	offset, err := intQuery(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intQuery(r, "limit", defaultEventPage)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxEventPage)
	evs, err := s.engine.Events(r.Context(), offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if evs == nil {
		evs = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs, "offset": offset})
}

// ─── Operations ─────────────────────────────────────────────────────────────

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var set domain.OrderSet
	if !decode(w, r, &set) {
		return
	}
	id, err := s.engine.MatchOrders(r.Context(), &set.App, &set.Dataset, &set.Workerpool, &set.Request)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"deal_id": id})
}

func (s *Server) handleSponsorMatch(w http.ResponseWriter, r *http.Request) {
	var req sponsorMatchRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.engine.SponsorMatchOrders(r.Context(), req.Sponsor,
		&req.App, &req.Dataset, &req.Workerpool, &req.Request)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"deal_id": id})
}

func (s *Server) handlePushResult(w http.ResponseWriter, r *http.Request) {
	id, index, ok := taskParams(w, r)
	if !ok {
		return
	}
	var req pushResultRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.engine.PushResult(r.Context(), poco.PushResultArgs{
		DealID:          id,
		Index:           index,
		Worker:          req.Worker,
		Results:         req.Results,
		ResultsCallback: req.ResultsCallback,
		Authorization:   req.Authorization,
		Enclave:         req.Enclave,
		EnclaveSign:     req.EnclaveSign,
		WorkerSign:      req.WorkerSign,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeTask(w, r, domain.TaskID(id, index))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, index, ok := taskParams(w, r)
	if !ok {
		return
	}
	if err := s.engine.Claim(r.Context(), id, index); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeTask(w, r, domain.TaskID(id, index))
}

// writeTask responds with the task an operation just finalized.
func (s *Server) writeTask(w http.ResponseWriter, r *http.Request, id common.Hash) {
	t, err := s.engine.Task(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleFunds(w, r, s.engine.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleFunds(w, r, s.engine.Withdraw)
}

func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, addr common.Address, amount uint64) error) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := op(r.Context(), addr, req.Amount); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.handleAccount(w, r)
}

func (s *Server) handleManageOrder(w http.ResponseWriter, r *http.Request) {
	var req manageOrderRequest
	if !decode(w, r, &req) {
		return
	}
	h, err := s.engine.ManageOrder(r.Context(), req.Caller, req.OrderOperationArgs)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_hash": h, "operation": req.Operation})
}

// ─── Parameters ─────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return false
	}
	return true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	s := chi.URLParam(r, name)
	if !common.IsHexAddress(s) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address %q", s))
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func hashParam(w http.ResponseWriter, r *http.Request, name string) (common.Hash, bool) {
	s := chi.URLParam(r, name)
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, s))
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func taskParams(w http.ResponseWriter, r *http.Request) (common.Hash, uint64, bool) {
	id, ok := hashParam(w, r, "id")
	if !ok {
		return common.Hash{}, 0, false
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task index")
		return common.Hash{}, 0, false
	}
	return id, index, true
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
