package campusmine

import (
	"net"
)

// OpCode identifies the kind of a transport frame. Values track the
// websocket opcodes so the ws transport can pass them through unchanged.
type OpCode byte

const (
	OpText   OpCode = 0x1
	OpBinary OpCode = 0x2
	OpClose  OpCode = 0x8
	OpPing   OpCode = 0x9
	OpPong   OpCode = 0xa
)

// Frame is one unit of transport payload.
type Frame interface {
	SetOpCode(code OpCode)
	GetOpCode() OpCode
	SetPayload(payload []byte)
	GetPayload() []byte
}

// Conn is a framed connection. Implementations wrap a net.Conn with a
// concrete framing (websocket or length-prefixed tcp).
type Conn interface {
	net.Conn
	ReadFrame() (Frame, error)
	WriteFrame(code OpCode, payload []byte) error
	Flush() error
}

// Agent is one authenticated client connection as seen by the push side.
// A student may own any number of agents at once.
type Agent interface {
	ID() string
	StudentID() string
	Push(payload []byte) error
}
