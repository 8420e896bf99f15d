package mining

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// RateConfig holds the floor rates applied when an institution has a
// zero or unset rate, so a session can never accrue nothing by
// accident. Both come from configuration, not constants.
type RateConfig struct {
	DefaultBaseRate      decimal.Decimal
	DefaultReferralBonus decimal.Decimal
}

// RateResolver computes the effective hourly rate for a pair at session
// start: base + bonus x active referral count. The result is frozen
// into the session; the resolver itself keeps no state.
type RateResolver struct {
	accounts AccountService
	cfg      RateConfig
}

func NewRateResolver(accounts AccountService, cfg RateConfig) *RateResolver {
	return &RateResolver{accounts: accounts, cfg: cfg}
}

func (r *RateResolver) Resolve(ctx context.Context, inst *Institution, studentID string) (decimal.Decimal, error) {
	base := inst.BaseRate
	if base.Sign() <= 0 {
		base = r.cfg.DefaultBaseRate
	}
	bonus := inst.ReferralBonusRate
	if bonus.Sign() <= 0 {
		bonus = r.cfg.DefaultReferralBonus
	}
	refs, err := r.accounts.ReferralCount(ctx, studentID, inst.ID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "rate: referral count")
	}
	if refs < 0 {
		refs = 0
	}
	return base.Add(bonus.Mul(decimal.NewFromInt(int64(refs)))), nil
}
