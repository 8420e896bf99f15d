package mining

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"

	"github.com/campusmine/campusmine/events"
	"github.com/campusmine/campusmine/logger"
)

// Controller orchestrates the session lifecycle: start, stop, status and
// the sweep commit path. All mutations for one (student, institution)
// pair are serialized through a per-pair lock; different pairs proceed
// in parallel. The store-level close claim backs the lock, so even an
// out-of-band committer cannot double-credit a session.
type Controller struct {
	sessions  SessionStore
	wallets   WalletStore
	directory InstitutionDirectory
	accounts  AccountService
	rates     *RateResolver
	publisher EventPublisher
	window    time.Duration

	mu    sync.Mutex
	pairs map[string]*sync.Mutex

	now func() time.Time
}

func NewController(sessions SessionStore, wallets WalletStore, directory InstitutionDirectory, accounts AccountService, publisher EventPublisher, window time.Duration, rates RateConfig) *Controller {
	return &Controller{
		sessions:  sessions,
		wallets:   wallets,
		directory: directory,
		accounts:  accounts,
		rates:     NewRateResolver(accounts, rates),
		publisher: publisher,
		window:    window,
		pairs:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// SetClock overrides the time source; tests use it to pin accrual math.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

func (c *Controller) lockPair(studentID, institutionID string) func() {
	key := studentID + "\x00" + institutionID
	c.mu.Lock()
	l, ok := c.pairs[key]
	if !ok {
		l = &sync.Mutex{}
		c.pairs[key] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// StartSession opens a new session for the pair. A leftover session past
// its scheduled end is finalized first, through the same commit path as
// the sweeper, so a student returning after 30 hours gets the full
// window credited before the new session opens.
func (c *Controller) StartSession(ctx context.Context, studentID, institutionID string) (*Session, *Wallet, error) {
	unlock := c.lockPair(studentID, institutionID)
	defer unlock()

	inst, err := c.directory.Institution(ctx, institutionID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "start: institution lookup")
	}
	if inst == nil {
		return nil, nil, ErrInstitutionNotFound
	}
	tracking, err := c.accounts.IsTracking(ctx, studentID, institutionID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "start: tracking check")
	}
	if !tracking {
		return nil, nil, ErrNotTracking
	}

	cur, err := c.sessions.ActiveSession(ctx, studentID, institutionID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "start: active session lookup")
	}
	if cur != nil {
		if !cur.Expired(c.now()) {
			return nil, nil, ErrSessionActive
		}
		if _, _, _, err := c.finalize(ctx, cur, cur.ScheduledEnd, events.SessionExpired); err != nil {
			return nil, nil, err
		}
	}

	rate, err := c.rates.Resolve(ctx, inst, studentID)
	if err != nil {
		return nil, nil, err
	}

	wallet, created, err := c.wallets.EnsureWallet(ctx, studentID, institutionID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "start: ensure wallet")
	}

	now := c.now()
	sess := &Session{
		SessionID:     ksuid.New().String(),
		StudentID:     studentID,
		InstitutionID: institutionID,
		StartTime:     now,
		ScheduledEnd:  now.Add(c.window),
		Rate:          rate,
		Active:        true,
		TokensEarned:  decimal.Zero,
	}
	if err := c.sessions.CreateSession(ctx, sess); err != nil {
		return nil, nil, errors.Wrap(err, "start: create session")
	}

	// Counters are best-effort denormalized stats; a failure here must
	// not fail the start.
	if err := c.directory.MinerJoined(ctx, institutionID, created); err != nil {
		logger.WithFields(logger.Fields{"module": "mining.controller", "institution": institutionID}).WithError(err).Warn("miner counter increment failed")
	}

	c.publish(events.SessionEvent{
		Type:          events.SessionStarted,
		StudentID:     studentID,
		InstitutionID: institutionID,
		SessionID:     sess.SessionID,
		TokensEarned:  decimal.Zero,
		Time:          now,
	})
	logger.WithFields(logger.Fields{"module": "mining.controller", "student": studentID, "institution": institutionID, "session": sess.SessionID, "rate": rate.String()}).Info("session started")
	return sess, wallet, nil
}

// StopSession finalizes the pair's active session at the current time,
// clamped to the scheduled end if that has already passed.
func (c *Controller) StopSession(ctx context.Context, studentID, institutionID string) (decimal.Decimal, *Wallet, error) {
	unlock := c.lockPair(studentID, institutionID)
	defer unlock()

	cur, err := c.sessions.ActiveSession(ctx, studentID, institutionID)
	if err != nil {
		return decimal.Zero, nil, errors.Wrap(err, "stop: active session lookup")
	}
	if cur == nil {
		return decimal.Zero, nil, ErrNoActiveSession
	}

	now := c.now()
	cutoff := FinalCutoff(now, cur.ScheduledEnd)
	typ := events.SessionStopped
	if cur.Expired(now) {
		typ = events.SessionExpired
	}
	tokens, wallet, claimed, err := c.finalize(ctx, cur, cutoff, typ)
	if err != nil {
		return decimal.Zero, nil, err
	}
	if !claimed {
		// A concurrent sweep got there first.
		return decimal.Zero, nil, ErrNoActiveSession
	}
	return tokens, wallet, nil
}

// finalize is the single commit path shared by stop, sweep and the
// pre-start cleanup. The store's close claim decides which of any
// concurrent committers wins; the losers see claimed == false.
func (c *Controller) finalize(ctx context.Context, sess *Session, cutoff time.Time, typ events.EventType) (decimal.Decimal, *Wallet, bool, error) {
	tokens := EarnedTokens(sess.StartTime, sess.Rate, cutoff)
	claimed, err := c.sessions.CloseSession(ctx, sess.SessionID, tokens, cutoff)
	if err != nil {
		return decimal.Zero, nil, false, errors.Wrap(err, "finalize: close session")
	}
	if !claimed {
		return decimal.Zero, nil, false, nil
	}
	wallet, err := c.wallets.Credit(ctx, sess.StudentID, sess.InstitutionID, tokens)
	if err != nil {
		return decimal.Zero, nil, true, errors.Wrap(err, "finalize: wallet credit")
	}
	if err := c.directory.MinerLeft(ctx, sess.InstitutionID, tokens); err != nil {
		logger.WithFields(logger.Fields{"module": "mining.controller", "institution": sess.InstitutionID}).WithError(err).Warn("miner counter decrement failed")
	}
	c.publish(events.SessionEvent{
		Type:          typ,
		StudentID:     sess.StudentID,
		InstitutionID: sess.InstitutionID,
		SessionID:     sess.SessionID,
		TokensEarned:  tokens,
		Time:          cutoff,
	})
	logger.WithFields(logger.Fields{"module": "mining.controller", "student": sess.StudentID, "institution": sess.InstitutionID, "session": sess.SessionID, "tokens": tokens.String(), "type": string(typ)}).Info("session finalized")
	return tokens, wallet, true, nil
}

// SessionStatus is one active session with its live, recomputed figures.
type SessionStatus struct {
	Session        *Session
	CurrentTokens  decimal.Decimal
	RemainingHours decimal.Decimal
}

// StudentStatus is the full read-only view for one student.
type StudentStatus struct {
	StudentID string
	Sessions  []SessionStatus
	Wallets   []*Wallet
}

// Status returns every active session and wallet for the student with
// live figures computed as of now. It never mutates state.
func (c *Controller) Status(ctx context.Context, studentID string) (*StudentStatus, error) {
	sessions, err := c.sessions.ActiveSessions(ctx, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "status: sessions")
	}
	wallets, err := c.wallets.Wallets(ctx, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "status: wallets")
	}
	st := &StudentStatus{StudentID: studentID, Wallets: wallets}
	now := c.now()
	for _, s := range sessions {
		st.Sessions = append(st.Sessions, LiveStatus(s, now))
	}
	return st, nil
}

// PairStatus is Status narrowed to one institution.
func (c *Controller) PairStatus(ctx context.Context, studentID, institutionID string) (*SessionStatus, *Wallet, error) {
	sess, err := c.sessions.ActiveSession(ctx, studentID, institutionID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "status: session")
	}
	wallet, err := c.wallets.Wallet(ctx, studentID, institutionID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "status: wallet")
	}
	if sess == nil {
		return nil, wallet, nil
	}
	live := LiveStatus(sess, c.now())
	return &live, wallet, nil
}

// LiveStatus recomputes the ephemeral figures for a session. Accrual is
// clamped to the scheduled end so an unswept expired session never
// displays more than its window's worth.
func LiveStatus(s *Session, now time.Time) SessionStatus {
	return SessionStatus{
		Session:        s,
		CurrentTokens:  EarnedTokens(s.StartTime, s.Rate, FinalCutoff(now, s.ScheduledEnd)),
		RemainingHours: RemainingHours(now, s.ScheduledEnd),
	}
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Scanned int
	Closed  int
	Skipped int // already closed by a concurrent committer
	Failed  int
}

// Sweep finalizes every session past its scheduled end that is still
// marked active, crediting exactly the window duration. One failing
// session does not abort the pass.
func (c *Controller) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	expired, err := c.sessions.ExpiredActiveSessions(ctx, c.now())
	if err != nil {
		return res, errors.Wrap(err, "sweep: list expired")
	}
	res.Scanned = len(expired)
	for _, sess := range expired {
		closed, err := c.sweepOne(ctx, sess)
		if err != nil {
			res.Failed++
			logger.WithFields(logger.Fields{"module": "mining.controller", "session": sess.SessionID, "student": sess.StudentID, "institution": sess.InstitutionID}).WithError(err).Warn("sweep: finalize failed")
			continue
		}
		if closed {
			res.Closed++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

func (c *Controller) sweepOne(ctx context.Context, sess *Session) (bool, error) {
	unlock := c.lockPair(sess.StudentID, sess.InstitutionID)
	defer unlock()
	_, _, claimed, err := c.finalize(ctx, sess, sess.ScheduledEnd, events.SessionExpired)
	return claimed, err
}

// AdjustBalance is the administrative correction entry point. It lives
// outside the accrual invariants and is logged loudly.
func (c *Controller) AdjustBalance(ctx context.Context, studentID, institutionID string, delta decimal.Decimal, reason string) (*Wallet, error) {
	unlock := c.lockPair(studentID, institutionID)
	defer unlock()
	wallet, err := c.wallets.AdjustBalance(ctx, studentID, institutionID, delta, reason)
	if err != nil {
		return nil, errors.Wrap(err, "adjust balance")
	}
	logger.WithFields(logger.Fields{"module": "mining.controller", "student": studentID, "institution": institutionID, "delta": delta.String(), "reason": reason}).Warn("administrative balance correction")
	return wallet, nil
}

func (c *Controller) publish(evt events.SessionEvent) {
	if c.publisher == nil {
		return
	}
	// The commit is already durable; a lost notification only delays the
	// next broadcast tick.
	if err := c.publisher.Publish(evt); err != nil {
		logger.WithFields(logger.Fields{"module": "mining.controller", "session": evt.SessionID, "type": string(evt.Type)}).WithError(err).Warn("event publish failed")
	}
}
