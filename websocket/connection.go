// Package websocket adapts gobwas/ws frames to the transport interfaces
// and handles the server-side upgrade.
package websocket

import (
	"context"
	"net"

	campusmine "github.com/campusmine/campusmine"
	"github.com/gobwas/ws"
)

type Frame struct {
	raw ws.Frame
}

func (f *Frame) SetOpCode(code campusmine.OpCode) {
	f.raw.Header.OpCode = ws.OpCode(code)
}

func (f *Frame) GetOpCode() campusmine.OpCode {
	return campusmine.OpCode(f.raw.Header.OpCode)
}

func (f *Frame) SetPayload(payload []byte) {
	f.raw.Payload = payload
}

func (f *Frame) GetPayload() []byte {
	if f.raw.Header.Masked {
		ws.Cipher(f.raw.Payload, f.raw.Header.Mask, 0)
	}
	f.raw.Header.Masked = false
	return f.raw.Payload
}

type WsConn struct {
	net.Conn
	maskWrites bool
}

func NewConn(conn net.Conn) *WsConn {
	return &WsConn{Conn: conn}
}

// Upgrade performs the server side of the websocket handshake on a raw
// accepted connection.
func Upgrade(conn net.Conn) (*WsConn, error) {
	if _, err := ws.Upgrade(conn); err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

// Dial connects and handshakes as a client. Client frames are masked as
// the protocol requires.
func Dial(ctx context.Context, url string) (*WsConn, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return &WsConn{Conn: conn, maskWrites: true}, nil
}

func (c *WsConn) ReadFrame() (campusmine.Frame, error) {
	f, err := ws.ReadFrame(c.Conn)
	if err != nil {
		return nil, err
	}
	return &Frame{raw: f}, nil
}

func (c *WsConn) WriteFrame(code campusmine.OpCode, payload []byte) error {
	f := ws.NewFrame(ws.OpCode(code), true, payload)
	if c.maskWrites {
		f = ws.MaskFrame(f)
	}
	return ws.WriteFrame(c.Conn, f)
}

func (c *WsConn) Flush() error {
	return nil
}
