package crowdfunding

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/foxzi/crowdsale/internal/asset"
)

func TestParseCampaignID(t *testing.T) {
	id := NewCampaignID()
	parsed, err := ParseCampaignID(id.String())
	if err != nil {
		t.Fatalf("ParseCampaignID() error = %v", err)
	}
	if parsed != id {
		t.Errorf("ParseCampaignID() = %s, want %s", parsed, id)
	}

	for _, bad := range []string{"", "0x1234", "zz" + id.String()[4:]} {
		if _, err := ParseCampaignID(bad); !errors.Is(err, ErrInvalidCampaignID) {
			t.Errorf("ParseCampaignID(%q) error = %v, want ErrInvalidCampaignID", bad, err)
		}
	}
}

func TestNewCampaignIDUnique(t *testing.T) {
	seen := make(map[CampaignID]bool)
	for i := 0; i < 100; i++ {
		id := NewCampaignID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestCampaignJSON(t *testing.T) {
	c := &Campaign{
		ID:         NewCampaignID(),
		Status:     StatusActive,
		RaiseAsset: "USDT",
		Raised:     5,
		Shares:     []asset.Asset{asset.New("SHARE", 10)},
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got Campaign
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ID != c.ID || got.Status != StatusActive || got.Raised != 5 {
		t.Errorf("round trip = %+v, want %+v", got, c)
	}
}

func TestClamp(t *testing.T) {
	c := &Campaign{Raised: 80, HardCap: 100}

	tests := []struct {
		amount asset.Balance
		want   asset.Balance
		capped bool
	}{
		{10, 10, false},
		{19, 19, false},
		{20, 20, true},
		{50, 20, true},
		{asset.MaxBalance, 20, true},
	}
	for _, tt := range tests {
		got, capped := c.clamp(tt.amount)
		if got != tt.want || capped != tt.capped {
			t.Errorf("clamp(%d) = %d, %v; want %d, %v", tt.amount, got, capped, tt.want, tt.capped)
		}
	}
}

func TestCustodied(t *testing.T) {
	c := &Campaign{
		RaiseAsset: "native",
		Shares:     []asset.Asset{asset.New("A", 1), asset.New("B", 1)},
	}
	got := c.custodied("native")
	want := []asset.ID{"A", "B", "native"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("custodied() = %v, want %v", got, want)
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusPending.PreActive() || !StatusInactive.PreActive() {
		t.Error("pending and inactive must both be pre-active")
	}
	if StatusActive.PreActive() || StatusActive.Terminal() {
		t.Error("active is neither pre-active nor terminal")
	}
	if !StatusFinished.Terminal() || !StatusExpired.Terminal() {
		t.Error("finished and expired are terminal")
	}
}

func TestWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Campaign{StartTime: start, EndTime: start.Add(time.Hour)}

	if c.Started(start.Add(-time.Second)) {
		t.Error("started before start time")
	}
	if !c.Started(start) {
		t.Error("not started at start time")
	}
	if c.Ended(start.Add(59 * time.Minute)) {
		t.Error("ended before end time")
	}
	if !c.Ended(start.Add(time.Hour)) {
		t.Error("not ended at end time")
	}
}

func TestTokenAmount(t *testing.T) {
	tests := []struct {
		investment, share, total, want asset.Balance
	}{
		{30, 100, 100, 30},
		{70, 100, 100, 70},
		{33, 10, 100, 3},
		{34, 10, 100, 3},
		{1, 100, 0, 0},
		{asset.MaxBalance / 2, asset.MaxBalance, asset.MaxBalance, asset.MaxBalance / 2},
	}
	for _, tt := range tests {
		if got := TokenAmount(tt.investment, tt.share, tt.total); got != tt.want {
			t.Errorf("TokenAmount(%d, %d, %d) = %d, want %d", tt.investment, tt.share, tt.total, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{ErrSoftCapZero, KindValidation},
		{fmt.Errorf("%w: detail", ErrTooManyShares), KindValidation},
		{ErrInsufficientBalance, KindResource},
		{ErrNotFound, KindState},
		{ErrSoftCapReached, KindState},
		{violation("refund failed"), KindFatal},
		{errors.New("disk full"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
