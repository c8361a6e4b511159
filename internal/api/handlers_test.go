package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/config"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/storage"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

var (
	testCreator  = account.FromBytes([]byte{0xC0})
	testInvestor = account.FromBytes([]byte{0xA1})
	testCampaign = "0x00112233445566778899aabbccddeeff00112233"
)

type testServer struct {
	t      *testing.T
	server *Server
	clock  *fixedClock
	db     *storage.DB
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"), storage.Options{
		NativeAsset:        "native",
		ExistentialDeposit: 1,
	})
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	mints := []struct {
		who   account.ID
		value asset.Asset
	}{
		{testCreator, asset.New("native", 10)},
		{testCreator, asset.New("SHARE", 100)},
		{testInvestor, asset.New("USDT", 500)},
	}
	for _, m := range mints {
		if err := db.Mint(ctx, m.who, m.value); err != nil {
			t.Fatalf("Mint() error = %v", err)
		}
	}

	clock := &fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := crowdfunding.NewEngine(db, clock, crowdfunding.Config{}, logger)
	cfg := &config.APIConfig{APIKey: apiKey}

	return &testServer{
		t:      t,
		server: NewServer(engine, db, cfg, logger),
		clock:  clock,
		db:     db,
	}
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatalf("json.Marshal() error = %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createCampaign() {
	ts.t.Helper()
	rec := ts.do("POST", "/api/v1/campaigns", CreateCampaignRequest{
		ID:         testCampaign,
		Creator:    testCreator.String(),
		Shares:     []asset.Asset{asset.New("SHARE", 100)},
		RaiseAsset: "USDT",
		SoftCap:    50,
		HardCap:    200,
		StartTime:  ts.clock.now.Add(time.Minute),
		EndTime:    ts.clock.now.Add(time.Hour),
	})
	if rec.Code != http.StatusCreated {
		ts.t.Fatalf("create status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, "secret")

	rec := ts.do("GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decode[HealthResponse](t, rec)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Ledger == nil {
		t.Error("ledger stats missing")
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, "secret")

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"no key", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"api key header", "X-API-Key", "secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/campaigns", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			ts.server.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCampaignLifecycle(t *testing.T) {
	ts := newTestServer(t, "")
	ts.createCampaign()

	rec := ts.do("GET", "/api/v1/campaigns/"+testCampaign, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", rec.Code, http.StatusOK)
	}
	c := decode[crowdfunding.Campaign](t, rec)
	if c.Status != crowdfunding.StatusInactive {
		t.Errorf("status = %s, want inactive", c.Status)
	}

	// Too early
	rec = ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/activate", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("early activate status = %d, want %d", rec.Code, http.StatusConflict)
	}

	ts.clock.now = ts.clock.now.Add(2 * time.Minute)
	rec = ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/activate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/invest", InvestRequest{
		Investor: testInvestor.String(),
		Asset:    asset.New("USDT", 80),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("invest status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	tr := decode[TransitionResponse](t, rec)
	if tr.Campaign == nil || tr.Campaign.Raised != 80 {
		t.Errorf("raised after invest = %+v, want 80", tr.Campaign)
	}

	rec = ts.do("GET", "/api/v1/campaigns/"+testCampaign+"/contributions/"+testInvestor.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("contribution status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decode[crowdfunding.Contribution](t, rec); got.Amount != 80 {
		t.Errorf("contribution = %d, want 80", got.Amount)
	}

	rec = ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/finish", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("finish status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	tr = decode[TransitionResponse](t, rec)
	if !tr.Settled || tr.Status != crowdfunding.StatusFinished {
		t.Errorf("finish response = %+v, want settled finished", tr)
	}

	rec = ts.do("GET", "/api/v1/campaigns/"+testCampaign+"/settlement", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("settlement status = %d, want %d", rec.Code, http.StatusOK)
	}
	if s := decode[crowdfunding.Settlement](t, rec); s.Raised != 80 || s.Investors != 1 {
		t.Errorf("settlement = %+v, want raised 80 from 1 investor", s)
	}

	rec = ts.do("GET", "/api/v1/accounts/"+testInvestor.String()+"/balances", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balances status = %d, want %d", rec.Code, http.StatusOK)
	}
	balances := decode[BalancesResponse](t, rec)
	got := make(map[asset.ID]asset.Balance)
	for _, b := range balances.Balances {
		got[b.ID] = b.Amount
	}
	if got["SHARE"] != 100 || got["USDT"] != 420 {
		t.Errorf("investor balances = %v, want SHARE 100 and USDT 420", got)
	}

	// Settled campaigns are gone
	rec = ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/finish", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second finish status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCreateCampaignErrors(t *testing.T) {
	ts := newTestServer(t, "")
	now := ts.clock.now

	tests := []struct {
		name       string
		req        CreateCampaignRequest
		wantStatus int
		wantKind   string
	}{
		{
			name: "soft cap zero",
			req: CreateCampaignRequest{
				Creator: testCreator.String(), Shares: []asset.Asset{asset.New("SHARE", 10)},
				RaiseAsset: "USDT", HardCap: 10,
				StartTime: now, EndTime: now.Add(time.Hour),
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   "validation",
		},
		{
			name: "shares not owned",
			req: CreateCampaignRequest{
				Creator: testCreator.String(), Shares: []asset.Asset{asset.New("SHARE", 1000)},
				RaiseAsset: "USDT", SoftCap: 1, HardCap: 10,
				StartTime: now, EndTime: now.Add(time.Hour),
			},
			wantStatus: http.StatusPaymentRequired,
			wantKind:   "resource",
		},
		{
			name: "bad campaign id",
			req: CreateCampaignRequest{
				ID: "0x1234", Creator: testCreator.String(), Shares: []asset.Asset{asset.New("SHARE", 10)},
				RaiseAsset: "USDT", SoftCap: 1, HardCap: 10,
				StartTime: now, EndTime: now.Add(time.Hour),
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   "validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do("POST", "/api/v1/campaigns", tt.req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if resp := decode[ErrorResponse](t, rec); resp.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", resp.Kind, tt.wantKind)
			}
		})
	}

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/campaigns", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestCreateCampaignGeneratesID(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do("POST", "/api/v1/campaigns", CreateCampaignRequest{
		Creator:    testCreator.String(),
		Shares:     []asset.Asset{asset.New("SHARE", 10)},
		RaiseAsset: "USDT",
		SoftCap:    1,
		HardCap:    10,
		StartTime:  ts.clock.now,
		EndTime:    ts.clock.now.Add(time.Hour),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	resp := decode[CreateCampaignResponse](t, rec)
	if resp.ID == (crowdfunding.CampaignID{}) {
		t.Error("generated id is zero")
	}
	if resp.Account != resp.ID.Escrow().ID() {
		t.Error("account is not the derived escrow")
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do("GET", "/api/v1/campaigns/"+testCampaign, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = ts.do("GET", "/api/v1/campaigns/not-an-id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestListCampaigns(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do("GET", "/api/v1/campaigns", nil)
	if resp := decode[CampaignsResponse](t, rec); len(resp.Campaigns) != 0 {
		t.Errorf("campaigns = %d, want 0", len(resp.Campaigns))
	}

	ts.createCampaign()

	tests := []struct {
		query string
		want  int
	}{
		{"", 1},
		{"?status=inactive", 1},
		{"?status=active", 0},
	}
	for _, tt := range tests {
		rec := ts.do("GET", "/api/v1/campaigns"+tt.query, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if resp := decode[CampaignsResponse](t, rec); len(resp.Campaigns) != tt.want {
			t.Errorf("campaigns%s = %d, want %d", tt.query, len(resp.Campaigns), tt.want)
		}
	}
}

func TestEvents(t *testing.T) {
	ts := newTestServer(t, "")
	ts.createCampaign()
	ts.clock.now = ts.clock.now.Add(2 * time.Minute)
	ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/activate", nil)

	rec := ts.do("GET", "/api/v1/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decode[EventsResponse](t, rec)
	if len(resp.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(resp.Events))
	}
	if resp.Events[0].Kind != crowdfunding.EventCampaignCreated || resp.Events[1].Kind != crowdfunding.EventCampaignActivated {
		t.Errorf("event kinds = %s, %s", resp.Events[0].Kind, resp.Events[1].Kind)
	}

	rec = ts.do("GET", "/api/v1/events?after=1&limit=10", nil)
	resp = decode[EventsResponse](t, rec)
	if len(resp.Events) != 1 || resp.Next != 2 {
		t.Errorf("events after 1 = %d (next %d), want 1 (next 2)", len(resp.Events), resp.Next)
	}

	rec = ts.do("GET", "/api/v1/events?limit=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{crowdfunding.ErrSoftCapZero, http.StatusBadRequest},
		{crowdfunding.ErrInsufficientBalance, http.StatusPaymentRequired},
		{crowdfunding.ErrNotFound, http.StatusNotFound},
		{crowdfunding.ErrNotActive, http.StatusConflict},
		{crowdfunding.ErrInvariantViolation, http.StatusInternalServerError},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
