// Package protocol implements the binary wire format of the tunnel: a fixed
// 12-byte big-endian header (command, flags, payload length) followed by the
// payload, carried inside the TLS record layer.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Command identifies a frame type on the wire.
type Command uint32

const (
	CmdConnect Command = iota + 1
	CmdConnectAck
	CmdAuthRequest
	CmdAuthChallenge
	CmdAuthResponse
	CmdAuthSuccess
	CmdAuthFail
	CmdSessionRequest
	CmdSessionAssign
	CmdConfigRequest
	CmdConfigResponse
	CmdData
	CmdKeepalive
	CmdKeepaliveAck
	CmdDisconnect
	CmdDisconnectAck
	CmdError
)

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "CONNECT"
	case CmdConnectAck:
		return "CONNECT_ACK"
	case CmdAuthRequest:
		return "AUTH_REQUEST"
	case CmdAuthChallenge:
		return "AUTH_CHALLENGE"
	case CmdAuthResponse:
		return "AUTH_RESPONSE"
	case CmdAuthSuccess:
		return "AUTH_SUCCESS"
	case CmdAuthFail:
		return "AUTH_FAIL"
	case CmdSessionRequest:
		return "SESSION_REQUEST"
	case CmdSessionAssign:
		return "SESSION_ASSIGN"
	case CmdConfigRequest:
		return "CONFIG_REQUEST"
	case CmdConfigResponse:
		return "CONFIG_RESPONSE"
	case CmdData:
		return "DATA"
	case CmdKeepalive:
		return "KEEPALIVE"
	case CmdKeepaliveAck:
		return "KEEPALIVE_ACK"
	case CmdDisconnect:
		return "DISCONNECT"
	case CmdDisconnectAck:
		return "DISCONNECT_ACK"
	case CmdError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%x)", uint32(c))
	}
}

const (
	// HeaderSize is the fixed frame header length.
	HeaderSize = 12

	// MaxPayload is the largest payload a single frame may carry.
	// Larger data must be split across multiple DATA frames.
	MaxPayload = 64 * 1024
)

// Frame flag bits.
const (
	// FlagCompressed marks a DATA payload compressed with the
	// negotiated codec.
	FlagCompressed uint32 = 1 << 0
)

var (
	ErrTruncated    = errors.New("truncated frame")
	ErrFrameTooBig  = errors.New("frame payload exceeds limit")
	ErrEmptyCommand = errors.New("frame has zero command")
)

// Packet is a single protocol frame. A Packet is immutable once built;
// ownership transfers into whichever queue it is pushed onto.
type Packet struct {
	Command Command
	Flags   uint32
	Payload []byte
}

// New builds a packet. The payload is used as-is, not copied.
func New(cmd Command, payload []byte) *Packet {
	return &Packet{Command: cmd, Payload: payload}
}

// Marshal serializes the packet into a freshly allocated buffer.
func (p *Packet) Marshal() ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooBig, len(p.Payload), MaxPayload)
	}
	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Command))
	binary.BigEndian.PutUint32(buf[4:8], p.Flags)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// Unmarshal parses a frame from data. It never reads past len(data): a
// buffer shorter than the header, or shorter than the declared payload,
// yields ErrTruncated.
func Unmarshal(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrTruncated, len(data), HeaderSize)
	}
	cmd := Command(binary.BigEndian.Uint32(data[0:4]))
	if cmd == 0 {
		return nil, ErrEmptyCommand
	}
	flags := binary.BigEndian.Uint32(data[4:8])
	n := binary.BigEndian.Uint32(data[8:12])
	if n > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooBig, n, MaxPayload)
	}
	if len(data) < HeaderSize+int(n) {
		return nil, fmt.Errorf("%w: have %d payload bytes, need %d", ErrTruncated, len(data)-HeaderSize, n)
	}
	payload := make([]byte, n)
	copy(payload, data[HeaderSize:HeaderSize+n])
	return &Packet{Command: cmd, Flags: flags, Payload: payload}, nil
}

var framePool = sync.Pool{
	New: func() any {
		b := make([]byte, HeaderSize+MaxPayload)
		return &b
	},
}

// WriteFrame serializes p and writes the whole frame to w.
func WriteFrame(w io.Writer, p *Packet) error {
	buf, err := p.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame from r, accumulating bytes across
// short reads until the full header and payload are available.
func ReadFrame(r io.Reader) (*Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	cmd := Command(binary.BigEndian.Uint32(hdr[0:4]))
	if cmd == 0 {
		return nil, ErrEmptyCommand
	}
	flags := binary.BigEndian.Uint32(hdr[4:8])
	n := binary.BigEndian.Uint32(hdr[8:12])
	if n > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooBig, n, MaxPayload)
	}
	if n == 0 {
		return &Packet{Command: cmd, Flags: flags}, nil
	}
	bufp := framePool.Get().(*[]byte)
	buf := *bufp
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		framePool.Put(bufp)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	payload := make([]byte, n)
	copy(payload, buf[:n])
	framePool.Put(bufp)
	return &Packet{Command: cmd, Flags: flags, Payload: payload}, nil
}
