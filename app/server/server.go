package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"

	campusmine "github.com/campusmine/campusmine"
	"github.com/campusmine/campusmine/logger"
	"github.com/campusmine/campusmine/mining"
	"github.com/campusmine/campusmine/protocol"
)

// clientAgent is one framed, authorized connection. Writes are
// serialized so broadcast pushes and request responses never interleave
// mid-frame.
type clientAgent struct {
	id        string
	studentID string
	conn      campusmine.Conn
	wmu       sync.Mutex
}

func (a *clientAgent) ID() string        { return a.id }
func (a *clientAgent) StudentID() string { return a.studentID }

func (a *clientAgent) Push(payload []byte) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	return a.conn.WriteFrame(campusmine.OpBinary, payload)
}

// Server accepts connections, runs the authorize handshake and
// dispatches client requests to the mining service.
type Server struct {
	addr        string
	framer      Framer
	hub         *Hub
	svc         MiningService
	authTimeout time.Duration

	ln        net.Listener
	mu        sync.Mutex
	agents    map[string]*clientAgent
	closed    chan struct{}
	closeOnce sync.Once
}

func NewServer(addr string, framer Framer, hub *Hub, svc MiningService, authTimeout time.Duration) *Server {
	return &Server{
		addr:        addr,
		framer:      framer,
		hub:         hub,
		svc:         svc,
		authTimeout: authTimeout,
		agents:      make(map[string]*clientAgent),
		closed:      make(chan struct{}),
	}
}

// Start blocks in the accept loop until Shutdown closes the listener.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrap(err, "server: listen")
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	logger.WithFields(logger.Fields{"module": "server", "addr": s.addr}).Info("listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				return errors.Wrap(err, "server: accept")
			}
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(raw net.Conn) {
	conn, err := s.framer.Frame(raw)
	if err != nil {
		logger.WithFields(logger.Fields{"module": "server", "remote": raw.RemoteAddr().String()}).WithError(err).Warn("handshake failed")
		_ = raw.Close()
		return
	}
	ag, err := s.accept(conn)
	if err != nil {
		logger.WithFields(logger.Fields{"module": "server", "remote": raw.RemoteAddr().String()}).WithError(err).Warn("authorize failed")
		_ = conn.Close()
		return
	}
	s.mu.Lock()
	s.agents[ag.id] = ag
	s.mu.Unlock()
	s.hub.Register(ag)
	logger.WithFields(logger.Fields{"module": "server", "student": ag.studentID, "conn": ag.id}).Info("connected")

	s.readLoop(ag)

	s.hub.Unregister(ag.studentID, ag.id)
	s.mu.Lock()
	delete(s.agents, ag.id)
	s.mu.Unlock()
	_ = conn.Close()
	logger.WithFields(logger.Fields{"module": "server", "student": ag.studentID, "conn": ag.id}).Info("disconnected")
}

// accept runs the authorize handshake: the first frame must carry an
// authorize request with a non-empty student id. Real authentication is
// a collaborator concern upstream of this listener.
func (s *Server) accept(conn campusmine.Conn) (*clientAgent, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.authTimeout))
	frame, err := conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	if frame.GetOpCode() != campusmine.OpBinary && frame.GetOpCode() != campusmine.OpText {
		return nil, errors.New("invalid opcode")
	}
	var req protocol.Request
	if err := protocol.Decode(frame.GetPayload(), &req); err != nil {
		return nil, err
	}
	if req.Method != "authorize" || req.ID == nil || req.Params == nil {
		return nil, errors.New("unauthorized")
	}
	var p protocol.AuthorizeParams
	if err := protocol.Decode(req.Params, &p); err != nil {
		return nil, err
	}
	if p.StudentID == "" {
		return nil, errors.New("unauthorized")
	}
	_ = conn.SetReadDeadline(time.Time{})
	ag := &clientAgent{id: ksuid.New().String(), studentID: p.StudentID, conn: conn}
	resp := protocol.Response{ID: *req.ID, Result: true}
	data, _ := protocol.Encode(resp)
	if err := ag.Push(data); err != nil {
		return nil, err
	}
	return ag, nil
}

func (s *Server) readLoop(ag *clientAgent) {
	for {
		frame, err := ag.conn.ReadFrame()
		if err != nil {
			return
		}
		switch frame.GetOpCode() {
		case campusmine.OpClose:
			return
		case campusmine.OpPing:
			_ = ag.conn.WriteFrame(campusmine.OpPong, nil)
		case campusmine.OpBinary, campusmine.OpText:
			s.dispatch(ag, frame.GetPayload())
		}
	}
}

func (s *Server) dispatch(ag *clientAgent, payload []byte) {
	var req protocol.Request
	if err := protocol.Decode(payload, &req); err != nil {
		logger.WithFields(logger.Fields{"module": "server", "conn": ag.id}).WithError(err).Warn("decode error")
		return
	}
	if req.ID == nil {
		return
	}
	ctx := context.Background()
	switch req.Method {
	case "start":
		var p protocol.StartParams
		if err := protocol.Decode(req.Params, &p); err != nil {
			s.respondError(ag, *req.ID, "invalid params")
			return
		}
		if _, _, err := s.svc.StartSession(ctx, ag.studentID, p.InstitutionID); err != nil {
			s.respondError(ag, *req.ID, userMessage(err))
			return
		}
		s.respond(ag, *req.ID)
	case "stop":
		var p protocol.StopParams
		if err := protocol.Decode(req.Params, &p); err != nil {
			s.respondError(ag, *req.ID, "invalid params")
			return
		}
		if _, _, err := s.svc.StopSession(ctx, ag.studentID, p.InstitutionID); err != nil {
			s.respondError(ag, *req.ID, userMessage(err))
			return
		}
		s.respond(ag, *req.ID)
	case "status":
		var p protocol.StatusParams
		if len(req.Params) > 0 {
			if err := protocol.Decode(req.Params, &p); err != nil {
				s.respondError(ag, *req.ID, "invalid params")
				return
			}
		}
		if p.InstitutionID == "" {
			s.respond(ag, *req.ID)
			s.hub.Sync(ag.studentID)
			return
		}
		st, wallet, err := s.svc.PairStatus(ctx, ag.studentID, p.InstitutionID)
		if err != nil {
			s.respondError(ag, *req.ID, userMessage(err))
			return
		}
		s.respond(ag, *req.ID)
		s.pushPair(ag, st, wallet)
	default:
		s.respondError(ag, *req.ID, "unknown method")
	}
}

func (s *Server) respond(ag *clientAgent, id int) {
	data, _ := protocol.Encode(protocol.Response{ID: id, Result: true})
	_ = ag.Push(data)
}

func (s *Server) respondError(ag *clientAgent, id int, msg string) {
	resp := protocol.Response{ID: id, Result: false, Error: &msg}
	data, _ := protocol.Encode(resp)
	_ = ag.Push(data)
	logger.WithFields(logger.Fields{"module": "server", "conn": ag.id, "error": msg}).Warn("request rejected")
}

// pushPair sends a status narrowed to one institution, to the
// requesting connection only. The broadcast loop is untouched.
func (s *Server) pushPair(ag *clientAgent, st *mining.SessionStatus, wallet *mining.Wallet) {
	var push protocol.StatusPush
	if st != nil {
		sess := st.Session
		push.MiningInstitutions = append(push.MiningInstitutions, sess.InstitutionID)
		push.ActiveSessions = append(push.ActiveSessions, protocol.SessionStatus{
			InstitutionID:  sess.InstitutionID,
			StartTime:      sess.StartTime,
			EndTime:        sess.ScheduledEnd,
			EarningRate:    sess.Rate,
			CurrentTokens:  st.CurrentTokens,
			RemainingHours: st.RemainingHours,
			IsActive:       true,
			SessionID:      sess.SessionID,
		})
	}
	if wallet != nil {
		push.Wallets = append(push.Wallets, protocol.WalletStatus{
			InstitutionID: wallet.InstitutionID,
			Balance:       wallet.Balance,
			TotalMined:    wallet.TotalMined,
		})
	}
	data, err := protocol.Encode(pushMsg{ID: nil, Method: "status", Params: push})
	if err != nil {
		logger.WithFields(logger.Fields{"module": "server", "conn": ag.id}).WithError(err).Error("status encode failed")
		return
	}
	_ = ag.Push(data)
}

// userMessage maps engine errors to what a client may see. NotFound and
// InvalidState pass through as-is; anything else is a retryable
// internal failure whose details stay in the logs.
func userMessage(err error) string {
	if mining.IsNotFound(err) || mining.IsInvalidState(err) {
		return err.Error()
	}
	logger.WithError(err).Error("internal error")
	return "temporary failure, try again"
}

// Shutdown closes the listener and every live connection. Safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.mu.Lock()
	ln := s.ln
	agents := make([]*clientAgent, 0, len(s.agents))
	for _, ag := range s.agents {
		agents = append(agents, ag)
	}
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	for _, ag := range agents {
		_ = ag.conn.Close()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
