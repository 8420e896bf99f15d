package mining

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/campusmine/campusmine/events"
)

// Session is one time-boxed, rate-locked accrual period for a
// (student, institution) pair. The rate is frozen at creation; later
// changes to the institution's rates never affect an open session.
type Session struct {
	SessionID     string
	StudentID     string
	InstitutionID string
	StartTime     time.Time
	ScheduledEnd  time.Time
	Rate          decimal.Decimal // tokens per hour
	Active        bool
	TokensEarned  decimal.Decimal // zero while active, set exactly once at close
	ClosedAt      *time.Time
}

// Expired reports whether the session's scheduled end has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ScheduledEnd.After(now)
}

// Wallet is the persistent cumulative balance for a pair. Balance and
// TotalMined only grow through session commits; administrative
// corrections go through a separate path.
type Wallet struct {
	StudentID     string
	InstitutionID string
	Balance       decimal.Decimal
	TotalMined    decimal.Decimal
}

// Institution is the directory view the engine needs: rates plus
// best-effort denormalized miner counters.
type Institution struct {
	ID                string
	Name              string
	BaseRate          decimal.Decimal
	ReferralBonusRate decimal.Decimal
	ActiveMiners      int
	TotalMiners       int
	TotalTokensMined  decimal.Decimal
}

// SessionStore persists mining sessions. Lookups that find nothing
// return (nil, nil), not an error.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	ActiveSession(ctx context.Context, studentID, institutionID string) (*Session, error)
	ActiveSessions(ctx context.Context, studentID string) ([]*Session, error)
	// ExpiredActiveSessions lists sessions still marked active whose
	// scheduled end is at or before asOf.
	ExpiredActiveSessions(ctx context.Context, asOf time.Time) ([]*Session, error)
	// CloseSession atomically claims the active flag. It returns false
	// when the session was already closed by a concurrent committer; the
	// caller must then treat the close as someone else's.
	CloseSession(ctx context.Context, sessionID string, tokens decimal.Decimal, closedAt time.Time) (bool, error)
	Close() error
}

// WalletStore persists per-pair balances.
type WalletStore interface {
	Wallet(ctx context.Context, studentID, institutionID string) (*Wallet, error)
	Wallets(ctx context.Context, studentID string) ([]*Wallet, error)
	// EnsureWallet creates the wallet if absent and reports whether it
	// did.
	EnsureWallet(ctx context.Context, studentID, institutionID string) (*Wallet, bool, error)
	// Credit adds tokens to both Balance and TotalMined, additively and
	// never by overwrite.
	Credit(ctx context.Context, studentID, institutionID string, tokens decimal.Decimal) (*Wallet, error)
	// AdjustBalance is the administrative correction path. It moves
	// Balance only and sits outside the accrual engine's invariants.
	AdjustBalance(ctx context.Context, studentID, institutionID string, delta decimal.Decimal, reason string) (*Wallet, error)
	Close() error
}

// InstitutionDirectory resolves institutions and receives the
// best-effort miner counters.
type InstitutionDirectory interface {
	Institution(ctx context.Context, id string) (*Institution, error)
	MinerJoined(ctx context.Context, id string, firstTime bool) error
	MinerLeft(ctx context.Context, id string, tokens decimal.Decimal) error
}

// AccountService is the identity collaborator: tracking-list membership
// and per-institution referral counts.
type AccountService interface {
	IsTracking(ctx context.Context, studentID, institutionID string) (bool, error)
	ReferralCount(ctx context.Context, studentID, institutionID string) (int, error)
}

// EventPublisher receives a session event after its commit is durable.
type EventPublisher interface {
	Publish(evt events.SessionEvent) error
}
