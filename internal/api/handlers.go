package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/storage"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// CreateCampaignRequest is the request body for POST /campaigns
type CreateCampaignRequest struct {
	ID         string        `json:"id,omitempty"`
	Creator    string        `json:"creator"`
	Shares     []asset.Asset `json:"shares"`
	RaiseAsset string        `json:"raise_asset"`
	SoftCap    asset.Balance `json:"soft_cap"`
	HardCap    asset.Balance `json:"hard_cap"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
}

// CreateCampaignResponse is the response for POST /campaigns
type CreateCampaignResponse struct {
	ID      crowdfunding.CampaignID `json:"id"`
	Account account.ID              `json:"account"`
	Status  crowdfunding.Status     `json:"status"`
}

// InvestRequest is the request body for POST /campaigns/{id}/invest
type InvestRequest struct {
	Investor string      `json:"investor"`
	Asset    asset.Asset `json:"asset"`
}

// CampaignsResponse is the response for GET /campaigns
type CampaignsResponse struct {
	Campaigns []*crowdfunding.Campaign `json:"campaigns"`
}

// ContributionsResponse is the response for GET /campaigns/{id}/contributions
type ContributionsResponse struct {
	Contributions []*crowdfunding.Contribution `json:"contributions"`
}

// BalancesResponse is the response for GET /accounts/{account}/balances
type BalancesResponse struct {
	Account  account.ID    `json:"account"`
	Balances []asset.Asset `json:"balances"`
}

// EventsResponse is the response for GET /events
type EventsResponse struct {
	Events []*crowdfunding.Event `json:"events"`
	Next   uint64                `json:"next"`
}

// TransitionResponse is the response for lifecycle transitions
type TransitionResponse struct {
	ID       crowdfunding.CampaignID `json:"id"`
	Status   crowdfunding.Status     `json:"status"`
	Settled  bool                    `json:"settled"`
	Campaign *crowdfunding.Campaign  `json:"campaign,omitempty"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Uptime  string         `json:"uptime"`
	Ledger  *storage.Stats `json:"ledger,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := crowdfunding.NewCampaignID()
	if req.ID != "" {
		parsed, err := crowdfunding.ParseCampaignID(req.ID)
		if err != nil {
			s.sendEngineError(w, err)
			return
		}
		id = parsed
	}

	creator, err := account.Parse(req.Creator)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid creator: "+err.Error())
		return
	}
	raise, err := asset.ParseID(req.RaiseAsset)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid raise_asset: "+err.Error())
		return
	}
	for _, share := range req.Shares {
		if _, err := asset.ParseID(string(share.ID)); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid share: "+err.Error())
			return
		}
	}

	err = s.engine.Create(r.Context(), crowdfunding.CreateParams{
		ID:         id,
		Creator:    creator,
		Shares:     req.Shares,
		RaiseAsset: raise,
		SoftCap:    req.SoftCap,
		HardCap:    req.HardCap,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	})
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, CreateCampaignResponse{
		ID:      id,
		Account: id.Escrow().ID(),
		Status:  crowdfunding.StatusInactive,
	})
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.engine.Campaigns(r.Context())
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := campaigns[:0]
		for _, c := range campaigns {
			if string(c.Status) == status {
				filtered = append(filtered, c)
			}
		}
		campaigns = filtered
	}
	if campaigns == nil {
		campaigns = []*crowdfunding.Campaign{}
	}

	s.sendJSON(w, http.StatusOK, CampaignsResponse{Campaigns: campaigns})
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}

	c, err := s.engine.Campaign(r.Context(), id)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if c == nil {
		s.sendEngineError(w, crowdfunding.ErrNotFound)
		return
	}

	s.sendJSON(w, http.StatusOK, c)
}

// handleTransition serves the activate, expire and finish endpoints
func (s *Server) handleTransition(name string, apply func(context.Context, crowdfunding.CampaignID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.campaignID(w, r)
		if !ok {
			return
		}

		if err := apply(r.Context(), id); err != nil {
			s.sendEngineError(w, err)
			return
		}

		s.logger.Debug("transition applied via API", "transition", name, "campaign_id", id)
		s.sendTransitionResult(w, r, id)
	}
}

// handleInvest handles POST /api/v1/campaigns/{id}/invest
func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}

	var req InvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	investor, err := account.Parse(req.Investor)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid investor: "+err.Error())
		return
	}

	if !s.allowWrite(w, r, investor.String()) {
		return
	}

	if err := s.engine.Invest(r.Context(), investor, id, req.Asset); err != nil {
		s.sendEngineError(w, err)
		return
	}

	s.sendTransitionResult(w, r, id)
}

// sendTransitionResult reports the campaign state after a successful
// transition. A missing campaign means it was settled.
func (s *Server) sendTransitionResult(w http.ResponseWriter, r *http.Request, id crowdfunding.CampaignID) {
	c, err := s.engine.Campaign(r.Context(), id)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if c != nil {
		s.sendJSON(w, http.StatusOK, TransitionResponse{ID: id, Status: c.Status, Campaign: c})
		return
	}

	resp := TransitionResponse{ID: id, Settled: true}
	if settlement, err := s.engine.Settlement(r.Context(), id); err == nil && settlement != nil {
		resp.Status = settlement.Status
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleListContributions handles GET /api/v1/campaigns/{id}/contributions
func (s *Server) handleListContributions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}

	contributions, err := s.engine.Contributions(r.Context(), id)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if contributions == nil {
		contributions = []*crowdfunding.Contribution{}
	}

	s.sendJSON(w, http.StatusOK, ContributionsResponse{Contributions: contributions})
}

// handleGetContribution handles GET /api/v1/campaigns/{id}/contributions/{account}
func (s *Server) handleGetContribution(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}
	investor, err := account.Parse(chi.URLParam(r, "account"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid account: "+err.Error())
		return
	}

	contribution, err := s.engine.Contribution(r.Context(), id, investor)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if contribution == nil {
		s.sendError(w, http.StatusNotFound, "Contribution not found")
		return
	}

	s.sendJSON(w, http.StatusOK, contribution)
}

// handleGetSettlement handles GET /api/v1/campaigns/{id}/settlement
func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}

	settlement, err := s.engine.Settlement(r.Context(), id)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if settlement == nil {
		s.sendError(w, http.StatusNotFound, "Settlement not found")
		return
	}

	s.sendJSON(w, http.StatusOK, settlement)
}

// handleBalances handles GET /api/v1/accounts/{account}/balances
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	who, err := account.Parse(chi.URLParam(r, "account"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid account: "+err.Error())
		return
	}

	balances, err := s.ledger.Balances(r.Context(), who)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if balances == nil {
		balances = []asset.Asset{}
	}

	s.sendJSON(w, http.StatusOK, BalancesResponse{Account: who, Balances: balances})
}

// handleEvents handles GET /api/v1/events?after=&limit=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid after parameter")
			return
		}
		after = n
	}

	limit := defaultEventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = min(n, maxEventsLimit)
	}

	events, err := s.ledger.Events(r.Context(), after, limit)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	if events == nil {
		events = []*crowdfunding.Event{}
	}

	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	s.sendJSON(w, http.StatusOK, EventsResponse{Events: events, Next: next})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, _ := s.ledger.Stats(r.Context())

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).String(),
		Ledger:  stats,
	})
}

// campaignID parses the {id} URL parameter, answering 400 on failure
func (s *Server) campaignID(w http.ResponseWriter, r *http.Request) (crowdfunding.CampaignID, bool) {
	id, err := crowdfunding.ParseCampaignID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendEngineError(w, err)
		return id, false
	}
	return id, true
}

// statusFor maps an engine error to an HTTP status code
func statusFor(err error) int {
	if errors.Is(err, crowdfunding.ErrNotFound) {
		return http.StatusNotFound
	}
	switch crowdfunding.KindOf(err) {
	case crowdfunding.KindValidation:
		return http.StatusBadRequest
	case crowdfunding.KindResource:
		return http.StatusPaymentRequired
	case crowdfunding.KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendEngineError sends an error classified by kind. Internal details stay
// in the log.
func (s *Server) sendEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	kind := crowdfunding.KindOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "kind", kind)
		s.sendJSON(w, status, ErrorResponse{Error: "Internal error", Kind: kind.String()})
		return
	}
	s.sendJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind.String()})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
