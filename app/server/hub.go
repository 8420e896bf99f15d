package server

import (
	"context"
	"sync"
	"time"

	campusmine "github.com/campusmine/campusmine"
	"github.com/campusmine/campusmine/events"
	"github.com/campusmine/campusmine/logger"
	"github.com/campusmine/campusmine/mining"
	"github.com/campusmine/campusmine/protocol"
)

// statusEntry caches the static session fields and wallets for one
// student between ticks. Live figures are never cached; they are
// recomputed from StartTime/Rate on every push. A stale or invalidated
// entry is discarded outright, never patched.
type statusEntry struct {
	sessions  []*mining.Session
	wallets   []*mining.Wallet
	fetchedAt time.Time
}

// Hub owns connection bookkeeping and the live status cache. It is the
// only component that touches the cache; everyone else goes through the
// durable stores, which keeps the cache a disposable derivative.
type Hub struct {
	svc          MiningService
	pushInterval time.Duration
	staleAfter   time.Duration

	mu     sync.RWMutex
	conns  map[string]map[string]campusmine.Agent // studentID -> connID -> agent
	cache  map[string]*statusEntry
	active map[string]struct{} // students with >= 1 active session

	stopCh chan struct{}
	now    func() time.Time
}

func NewHub(svc MiningService, pushInterval, staleAfter time.Duration) *Hub {
	return &Hub{
		svc:          svc,
		pushInterval: pushInterval,
		staleAfter:   staleAfter,
		conns:        make(map[string]map[string]campusmine.Agent),
		cache:        make(map[string]*statusEntry),
		active:       make(map[string]struct{}),
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

func (h *Hub) Start() { go h.loop() }

func (h *Hub) Stop() { close(h.stopCh) }

func (h *Hub) loop() {
	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.tick()
		case <-h.stopCh:
			return
		}
	}
}

// Register adds a connection for a student and pushes an initial status
// so a fresh tab does not wait for the next tick.
func (h *Hub) Register(ag campusmine.Agent) {
	h.mu.Lock()
	set, ok := h.conns[ag.StudentID()]
	if !ok {
		set = make(map[string]campusmine.Agent)
		h.conns[ag.StudentID()] = set
	}
	set[ag.ID()] = ag
	h.mu.Unlock()
	h.Sync(ag.StudentID())
}

// Unregister removes a connection. When the last one for a student goes
// away its cache and tracking entries are torn down with it.
func (h *Hub) Unregister(studentID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[studentID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(h.conns, studentID)
		delete(h.cache, studentID)
		delete(h.active, studentID)
	}
}

// Invalidate discards the student's cache entry so the next tick or
// explicit status request re-reads ground truth.
func (h *Hub) Invalidate(studentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cache, studentID)
}

// HandleEvent reacts to a post-commit session event: the cache entry is
// discarded and, if the student is connected, a fresh status goes out
// immediately rather than on the next tick.
func (h *Hub) HandleEvent(evt events.SessionEvent) {
	h.Invalidate(evt.StudentID)
	h.mu.RLock()
	_, connected := h.conns[evt.StudentID]
	h.mu.RUnlock()
	if connected {
		h.Sync(evt.StudentID)
	}
}

// Sync re-reads the student's status from the stores, refreshes the
// cache and tracking set, and pushes to every connection.
func (h *Hub) Sync(studentID string) {
	st, err := h.svc.Status(context.Background(), studentID)
	if err != nil {
		logger.WithFields(logger.Fields{"module": "server.hub", "student": studentID}).WithError(err).Warn("status refresh failed")
		return
	}
	entry := &statusEntry{wallets: st.Wallets, fetchedAt: h.now()}
	for _, s := range st.Sessions {
		entry.sessions = append(entry.sessions, s.Session)
	}
	h.mu.Lock()
	if _, connected := h.conns[studentID]; connected {
		h.cache[studentID] = entry
		if len(entry.sessions) > 0 {
			h.active[studentID] = struct{}{}
		} else {
			delete(h.active, studentID)
		}
	}
	h.mu.Unlock()
	h.push(studentID, entry)
}

// tick pushes a recomputed status to every connected student with at
// least one active session, refreshing entries older than the
// staleness threshold.
func (h *Hub) tick() {
	h.mu.RLock()
	var due []string
	var refresh []string
	now := h.now()
	for studentID := range h.active {
		if _, connected := h.conns[studentID]; !connected {
			continue
		}
		entry := h.cache[studentID]
		if entry == nil || now.Sub(entry.fetchedAt) > h.staleAfter {
			refresh = append(refresh, studentID)
		} else {
			due = append(due, studentID)
		}
	}
	h.mu.RUnlock()

	for _, studentID := range refresh {
		h.Sync(studentID)
	}
	for _, studentID := range due {
		h.mu.RLock()
		entry := h.cache[studentID]
		h.mu.RUnlock()
		if entry == nil {
			// invalidated between snapshot and push
			h.Sync(studentID)
			continue
		}
		h.push(studentID, entry)
	}
}

type pushMsg struct {
	ID     any                 `json:"id"`
	Method string              `json:"method"`
	Params protocol.StatusPush `json:"params"`
}

func (h *Hub) push(studentID string, entry *statusEntry) {
	now := h.now()
	status := protocol.StatusPush{}
	for _, sess := range entry.sessions {
		live := mining.LiveStatus(sess, now)
		status.MiningInstitutions = append(status.MiningInstitutions, sess.InstitutionID)
		status.ActiveSessions = append(status.ActiveSessions, protocol.SessionStatus{
			InstitutionID:  sess.InstitutionID,
			StartTime:      sess.StartTime,
			EndTime:        sess.ScheduledEnd,
			EarningRate:    sess.Rate,
			CurrentTokens:  live.CurrentTokens,
			RemainingHours: live.RemainingHours,
			IsActive:       true,
			SessionID:      sess.SessionID,
		})
	}
	for _, w := range entry.wallets {
		status.Wallets = append(status.Wallets, protocol.WalletStatus{
			InstitutionID: w.InstitutionID,
			Balance:       w.Balance,
			TotalMined:    w.TotalMined,
		})
	}
	data, err := protocol.Encode(pushMsg{ID: nil, Method: "status", Params: status})
	if err != nil {
		logger.WithFields(logger.Fields{"module": "server.hub", "student": studentID}).WithError(err).Error("status encode failed")
		return
	}

	h.mu.RLock()
	agents := make([]campusmine.Agent, 0, len(h.conns[studentID]))
	for _, ag := range h.conns[studentID] {
		agents = append(agents, ag)
	}
	h.mu.RUnlock()
	for _, ag := range agents {
		if err := ag.Push(data); err != nil {
			// The read loop will notice the dead connection and
			// unregister it.
			logger.WithFields(logger.Fields{"module": "server.hub", "student": studentID, "conn": ag.ID()}).WithError(err).Debug("push failed")
		}
	}
}
