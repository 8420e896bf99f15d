// Package tcp is the length-prefixed framing used by internal tooling
// and tests, where a websocket handshake only adds noise.
package tcp

import (
	"io"
	"net"

	campusmine "github.com/campusmine/campusmine"
	"github.com/campusmine/campusmine/wire/endian"
)

type Frame struct {
	OpCode  campusmine.OpCode
	Payload []byte
}

func (f *Frame) SetOpCode(code campusmine.OpCode) { f.OpCode = code }

func (f *Frame) GetOpCode() campusmine.OpCode { return f.OpCode }

func (f *Frame) SetPayload(payload []byte) { f.Payload = payload }

func (f *Frame) GetPayload() []byte { return f.Payload }

type TcpConn struct {
	net.Conn
}

func NewConn(conn net.Conn) *TcpConn {
	return &TcpConn{Conn: conn}
}

func (c *TcpConn) ReadFrame() (campusmine.Frame, error) {
	opcode, err := endian.ReadUint8(c.Conn)
	if err != nil {
		return nil, err
	}
	payload, err := endian.ReadBytes(c.Conn)
	if err != nil {
		return nil, err
	}
	return &Frame{
		OpCode:  campusmine.OpCode(opcode),
		Payload: payload,
	}, nil
}

func (c *TcpConn) WriteFrame(code campusmine.OpCode, payload []byte) error {
	return WriteFrame(c.Conn, code, payload)
}

func (c *TcpConn) Flush() error {
	return nil
}

// WriteFrame writes a frame to w.
func WriteFrame(w io.Writer, code campusmine.OpCode, payload []byte) error {
	if err := endian.WriteUint8(w, uint8(code)); err != nil {
		return err
	}
	if err := endian.WriteBytes(w, payload); err != nil {
		return err
	}
	return nil
}
