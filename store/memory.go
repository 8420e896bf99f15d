// Package store holds the durable session/wallet/institution stores: an
// in-memory implementation for tests and single-node dev, and a
// Postgres implementation for real deployments.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/campusmine/campusmine/mining"
)

type pairKey struct{ student, institution string }

// MemoryStore implements every store interface the engine consumes,
// including the identity-collaborator reads, behind one mutex.
type MemoryStore struct {
	mu           sync.Mutex
	sessions     map[string]*mining.Session
	wallets      map[pairKey]*mining.Wallet
	institutions map[string]*mining.Institution
	tracking     map[pairKey]bool
	referrals    map[pairKey]int
	adjustments  []Adjustment
}

// Adjustment records one administrative correction.
type Adjustment struct {
	StudentID     string
	InstitutionID string
	Delta         decimal.Decimal
	Reason        string
	At            time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]*mining.Session),
		wallets:      make(map[pairKey]*mining.Wallet),
		institutions: make(map[string]*mining.Institution),
		tracking:     make(map[pairKey]bool),
		referrals:    make(map[pairKey]int),
	}
}

// Seed helpers used by tests and dev mode.

func (s *MemoryStore) AddInstitution(inst *mining.Institution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inst
	s.institutions[inst.ID] = &cp
}

func (s *MemoryStore) SetTracking(studentID, institutionID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking[pairKey{studentID, institutionID}] = on
}

func (s *MemoryStore) SetReferrals(studentID, institutionID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referrals[pairKey{studentID, institutionID}] = n
}

// SessionStore

func (s *MemoryStore) CreateSession(_ context.Context, sess *mining.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.SessionID] = &cp
	return nil
}

func (s *MemoryStore) ActiveSession(_ context.Context, studentID, institutionID string) (*mining.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Active && sess.StudentID == studentID && sess.InstitutionID == institutionID {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ActiveSessions(_ context.Context, studentID string) ([]*mining.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mining.Session
	for _, sess := range s.sessions {
		if sess.Active && sess.StudentID == studentID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ExpiredActiveSessions(_ context.Context, asOf time.Time) ([]*mining.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mining.Session
	for _, sess := range s.sessions {
		if sess.Active && !sess.ScheduledEnd.After(asOf) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CloseSession(_ context.Context, sessionID string, tokens decimal.Decimal, closedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Active {
		return false, nil
	}
	sess.Active = false
	sess.TokensEarned = tokens
	at := closedAt
	sess.ClosedAt = &at
	return true, nil
}

// WalletStore

func (s *MemoryStore) Wallet(_ context.Context, studentID, institutionID string) (*mining.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[pairKey{studentID, institutionID}]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) Wallets(_ context.Context, studentID string) ([]*mining.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mining.Wallet
	for k, w := range s.wallets {
		if k.student == studentID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) EnsureWallet(_ context.Context, studentID, institutionID string) (*mining.Wallet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{studentID, institutionID}
	w, ok := s.wallets[key]
	if !ok {
		w = &mining.Wallet{StudentID: studentID, InstitutionID: institutionID, Balance: decimal.Zero, TotalMined: decimal.Zero}
		s.wallets[key] = w
	}
	cp := *w
	return &cp, !ok, nil
}

func (s *MemoryStore) Credit(_ context.Context, studentID, institutionID string, tokens decimal.Decimal) (*mining.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{studentID, institutionID}
	w, ok := s.wallets[key]
	if !ok {
		w = &mining.Wallet{StudentID: studentID, InstitutionID: institutionID, Balance: decimal.Zero, TotalMined: decimal.Zero}
		s.wallets[key] = w
	}
	w.Balance = w.Balance.Add(tokens)
	w.TotalMined = w.TotalMined.Add(tokens)
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, studentID, institutionID string, delta decimal.Decimal, reason string) (*mining.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{studentID, institutionID}
	w, ok := s.wallets[key]
	if !ok {
		w = &mining.Wallet{StudentID: studentID, InstitutionID: institutionID, Balance: decimal.Zero, TotalMined: decimal.Zero}
		s.wallets[key] = w
	}
	w.Balance = w.Balance.Add(delta)
	s.adjustments = append(s.adjustments, Adjustment{StudentID: studentID, InstitutionID: institutionID, Delta: delta, Reason: reason, At: time.Now()})
	cp := *w
	return &cp, nil
}

// InstitutionDirectory

func (s *MemoryStore) Institution(_ context.Context, id string) (*mining.Institution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.institutions[id]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}

func (s *MemoryStore) MinerJoined(_ context.Context, id string, firstTime bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.institutions[id]
	if !ok {
		return nil
	}
	inst.ActiveMiners++
	if firstTime {
		inst.TotalMiners++
	}
	return nil
}

func (s *MemoryStore) MinerLeft(_ context.Context, id string, tokens decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.institutions[id]
	if !ok {
		return nil
	}
	if inst.ActiveMiners > 0 {
		inst.ActiveMiners--
	}
	inst.TotalTokensMined = inst.TotalTokensMined.Add(tokens)
	return nil
}

// AccountService

func (s *MemoryStore) IsTracking(_ context.Context, studentID, institutionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking[pairKey{studentID, institutionID}], nil
}

func (s *MemoryStore) ReferralCount(_ context.Context, studentID, institutionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referrals[pairKey{studentID, institutionID}], nil
}

func (s *MemoryStore) Close() error { return nil }
