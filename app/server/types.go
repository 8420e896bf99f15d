package server

import (
	"context"
	"net"

	"github.com/shopspring/decimal"

	campusmine "github.com/campusmine/campusmine"
	"github.com/campusmine/campusmine/events"
	"github.com/campusmine/campusmine/mining"
	"github.com/campusmine/campusmine/tcp"
	"github.com/campusmine/campusmine/websocket"
)

// MiningService is what the transport layer needs from the session
// controller.
type MiningService interface {
	StartSession(ctx context.Context, studentID, institutionID string) (*mining.Session, *mining.Wallet, error)
	StopSession(ctx context.Context, studentID, institutionID string) (decimal.Decimal, *mining.Wallet, error)
	Status(ctx context.Context, studentID string) (*mining.StudentStatus, error)
	PairStatus(ctx context.Context, studentID, institutionID string) (*mining.SessionStatus, *mining.Wallet, error)
}

// MessageQueue delivers post-commit session events to the hub.
type MessageQueue interface {
	Publish(evt events.SessionEvent) error
	Subscribe() <-chan events.SessionEvent
	Close() error
}

// Closer is any store the app must close on shutdown.
type Closer interface {
	Close() error
}

// Framer turns an accepted raw connection into a framed one.
type Framer interface {
	Frame(conn net.Conn) (campusmine.Conn, error)
}

// WsFramer performs the websocket upgrade on accept.
type WsFramer struct{}

func (WsFramer) Frame(conn net.Conn) (campusmine.Conn, error) {
	return websocket.Upgrade(conn)
}

// TcpFramer wraps the connection in the length-prefixed framing.
type TcpFramer struct{}

func (TcpFramer) Frame(conn net.Conn) (campusmine.Conn, error) {
	return tcp.NewConn(conn), nil
}
