package mining

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type fakeAccounts struct {
	tracking  bool
	referrals int
	err       error
}

func (f *fakeAccounts) IsTracking(context.Context, string, string) (bool, error) {
	return f.tracking, nil
}

func (f *fakeAccounts) ReferralCount(context.Context, string, string) (int, error) {
	return f.referrals, f.err
}

var floorCfg = RateConfig{
	DefaultBaseRate:      decimal.RequireFromString("0.25"),
	DefaultReferralBonus: decimal.RequireFromString("0.1"),
}

func TestResolveWithReferrals(t *testing.T) {
	r := NewRateResolver(&fakeAccounts{referrals: 3}, floorCfg)
	inst := &Institution{ID: "i1", BaseRate: decimal.RequireFromString("0.25"), ReferralBonusRate: decimal.RequireFromString("0.1")}
	got, err := r.Resolve(context.Background(), inst, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.RequireFromString("0.55")) {
		t.Fatalf("0.25 + 3*0.1 = 0.55, got %s", got)
	}
}

func TestResolveNoReferrals(t *testing.T) {
	r := NewRateResolver(&fakeAccounts{}, floorCfg)
	inst := &Institution{ID: "i1", BaseRate: decimal.RequireFromString("0.3"), ReferralBonusRate: decimal.RequireFromString("0.1")}
	got, err := r.Resolve(context.Background(), inst, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("want 0.3, got %s", got)
	}
}

func TestResolveFloorsZeroRates(t *testing.T) {
	r := NewRateResolver(&fakeAccounts{referrals: 2}, floorCfg)
	inst := &Institution{ID: "i1"} // no rates configured
	got, err := r.Resolve(context.Background(), inst, "s1")
	if err != nil {
		t.Fatal(err)
	}
	// floors: 0.25 base + 2*0.1 bonus
	if !got.Equal(decimal.RequireFromString("0.45")) {
		t.Fatalf("want 0.45, got %s", got)
	}
}

func TestResolveAccountFailure(t *testing.T) {
	r := NewRateResolver(&fakeAccounts{err: errors.New("down")}, floorCfg)
	inst := &Institution{ID: "i1", BaseRate: decimal.RequireFromString("0.25")}
	if _, err := r.Resolve(context.Background(), inst, "s1"); err == nil {
		t.Fatal("expect error")
	}
}
