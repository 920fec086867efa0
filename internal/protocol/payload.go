package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/crypto/pbkdf2"
)

// Client protocol version advertised in the HELLO payload.
const (
	VersionMajor = 4
	VersionMinor = 0
	VersionBuild = 9680
)

// Capability flag bits carried in the HELLO payload.
const (
	CapEncrypt  uint32 = 1 << 0
	CapCompress uint32 = 1 << 1
)

// HelloSize is the encoded length of a Hello payload.
const HelloSize = 24

// Hello is the CONNECT / CONNECT_ACK payload: protocol version,
// capability flags and a client-chosen session token.
type Hello struct {
	Major uint8
	Minor uint8
	Build uint16
	Caps  uint32
	Token [16]byte
}

// NewHello builds a client hello with a random session token.
func NewHello(caps uint32) (*Hello, error) {
	h := &Hello{
		Major: VersionMajor,
		Minor: VersionMinor,
		Build: VersionBuild,
		Caps:  caps,
	}
	if _, err := rand.Read(h.Token[:]); err != nil {
		return nil, fmt.Errorf("hello token: %w", err)
	}
	return h, nil
}

func (h *Hello) Encode() []byte {
	buf := make([]byte, HelloSize)
	buf[0] = h.Major
	buf[1] = h.Minor
	binary.BigEndian.PutUint16(buf[2:4], h.Build)
	binary.BigEndian.PutUint32(buf[4:8], h.Caps)
	copy(buf[8:24], h.Token[:])
	return buf
}

func ParseHello(data []byte) (*Hello, error) {
	if len(data) < HelloSize {
		return nil, fmt.Errorf("%w: hello payload %d bytes, need %d", ErrTruncated, len(data), HelloSize)
	}
	h := &Hello{
		Major: data[0],
		Minor: data[1],
		Build: binary.BigEndian.Uint16(data[2:4]),
		Caps:  binary.BigEndian.Uint32(data[4:8]),
	}
	copy(h.Token[:], data[8:24])
	return h, nil
}

// Version formats the hello version as "major.minor.build".
func (h *Hello) Version() string {
	return fmt.Sprintf("%d.%d.%d", h.Major, h.Minor, h.Build)
}

// EncodeAuthRequest builds the AUTH_REQUEST payload. Both fields carry a
// 2-byte big-endian length prefix; the 4-byte variant that exists in the
// wild is deliberately not supported.
func EncodeAuthRequest(username, password string) ([]byte, error) {
	if len(username) > 0xFFFF || len(password) > 0xFFFF {
		return nil, fmt.Errorf("auth field too long")
	}
	buf := make([]byte, 0, 4+len(username)+len(password))
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(username)))
	buf = append(buf, l[:]...)
	buf = append(buf, username...)
	binary.BigEndian.PutUint16(l[:], uint16(len(password)))
	buf = append(buf, l[:]...)
	buf = append(buf, password...)
	return buf, nil
}

// ParseAuthRequest decodes an AUTH_REQUEST payload. Used by test servers.
func ParseAuthRequest(data []byte) (username, password string, err error) {
	if len(data) < 2 {
		return "", "", fmt.Errorf("%w: auth payload", ErrTruncated)
	}
	ul := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+ul+2 {
		return "", "", fmt.Errorf("%w: auth username", ErrTruncated)
	}
	username = string(data[2 : 2+ul])
	rest := data[2+ul:]
	pl := int(binary.BigEndian.Uint16(rest[0:2]))
	if len(rest) < 2+pl {
		return "", "", fmt.Errorf("%w: auth password", ErrTruncated)
	}
	password = string(rest[2 : 2+pl])
	return username, password, nil
}

// ChallengeResponse derives the AUTH_RESPONSE payload for a server
// challenge: PBKDF2-SHA256 over the password with the challenge as salt.
func ChallengeResponse(password string, challenge []byte) []byte {
	return pbkdf2.Key([]byte(password), challenge, 4096, 32, sha256.New)
}

// ParseSessionID extracts the assigned session id from a SESSION_ASSIGN
// payload (first 4 bytes, big-endian).
func ParseSessionID(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: session assign payload %d bytes", ErrTruncated, len(data))
	}
	return binary.BigEndian.Uint32(data[0:4]), nil
}

// EncodeSessionID builds a SESSION_ASSIGN payload. Used by test servers.
func EncodeSessionID(id uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	return buf
}

// NetConfig is the virtual network configuration assigned by the server
// through the CONFIG exchange. A zero address means "not set".
type NetConfig struct {
	ClientIP   netip.Addr
	SubnetMask netip.Addr
	Gateway    netip.Addr
	DNS1       netip.Addr
	DNS2       netip.Addr
	LeaseSecs  uint32
}

// netConfigSize is the minimum CONFIG_RESPONSE payload length; the second
// DNS address and lease time are optional trailing fields.
const netConfigSize = 16

func addrField(data []byte) netip.Addr {
	v := binary.BigEndian.Uint32(data)
	if v == 0 {
		return netip.Addr{}
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

func putAddrField(data []byte, a netip.Addr) {
	if !a.IsValid() {
		binary.BigEndian.PutUint32(data, 0)
		return
	}
	b := a.As4()
	copy(data, b[:])
}

// ParseNetConfig decodes a CONFIG_RESPONSE payload: four big-endian u32
// fields (client IP, subnet mask, gateway, primary DNS), optionally
// followed by a second DNS address and a lease time in seconds.
func ParseNetConfig(data []byte) (NetConfig, error) {
	if len(data) < netConfigSize {
		return NetConfig{}, fmt.Errorf("%w: config payload %d bytes, need %d", ErrTruncated, len(data), netConfigSize)
	}
	nc := NetConfig{
		ClientIP:   addrField(data[0:4]),
		SubnetMask: addrField(data[4:8]),
		Gateway:    addrField(data[8:12]),
		DNS1:       addrField(data[12:16]),
	}
	if len(data) >= 20 {
		nc.DNS2 = addrField(data[16:20])
	}
	if len(data) >= 24 {
		nc.LeaseSecs = binary.BigEndian.Uint32(data[20:24])
	}
	return nc, nil
}

// Encode builds a CONFIG_RESPONSE payload. Used by test servers.
func (nc NetConfig) Encode() []byte {
	buf := make([]byte, 24)
	putAddrField(buf[0:4], nc.ClientIP)
	putAddrField(buf[4:8], nc.SubnetMask)
	putAddrField(buf[8:12], nc.Gateway)
	putAddrField(buf[12:16], nc.DNS1)
	putAddrField(buf[16:20], nc.DNS2)
	binary.BigEndian.PutUint32(buf[20:24], nc.LeaseSecs)
	return buf
}

func (nc NetConfig) String() string {
	return fmt.Sprintf("ip=%s mask=%s gw=%s dns=%s", nc.ClientIP, nc.SubnetMask, nc.Gateway, nc.DNS1)
}
