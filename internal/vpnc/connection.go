// Package vpnc implements the client side of the SSL-tunneled VPN
// protocol: the connection state machine that drives TCP, TLS, the
// protocol handshake, authentication and session setup, and the worker
// pump that relays IP packets once connected.
package vpnc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sslvpn/internal/compression"
	"sslvpn/internal/metrics"
	"sslvpn/internal/netutil"
	"sslvpn/internal/protocol"
	"sslvpn/internal/queue"
	"sslvpn/internal/secret"
	"sslvpn/internal/tlsutil"
)

const disconnectAckTimeout = time.Second

// ProxyParams are accepted at the boundary but not used by the engine.
type ProxyParams struct {
	Type     string
	Host     string
	Port     int
	Username string
	Password string
}

// Params is the caller-supplied connection configuration.
type Params struct {
	Host string
	Port int
	Hub  string

	Username string
	Password string

	UseEncryption  bool
	UseCompression bool
	Compression    string

	VerifyCert  bool
	Fingerprint string

	MTU int

	ConnectTimeout    time.Duration
	IOTimeout         time.Duration
	KeepaliveInterval time.Duration
	QueueSize         int

	// Resolve overrides hostname resolution for the dial step.
	Resolve netutil.ResolveFunc

	Proxy ProxyParams

	// Debug enables per-packet trace logging.
	Debug bool
}

func (p *Params) applyDefaults() {
	if p.Port == 0 {
		p.Port = 443
	}
	if p.MTU <= 0 {
		p.MTU = 1400
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = 10 * time.Second
	}
	if p.IOTimeout <= 0 {
		p.IOTimeout = 30 * time.Second
	}
	if p.KeepaliveInterval <= 0 {
		p.KeepaliveInterval = 5 * time.Second
	}
	if p.QueueSize <= 0 {
		p.QueueSize = queue.DefaultCapacity
	}
}

// Connection is a single tunnel to the gateway. It is created once per
// logical VPN attempt and can be reconnected after a disconnect; the
// zero state is Disconnected.
type Connection struct {
	mu    sync.Mutex
	state State

	params    Params // credentials moved into the secret wrappers
	username  *secret.Text
	password  *secret.Text
	hasParams bool

	sock net.Conn // raw TCP socket
	link net.Conn // secure channel over sock

	writeMu sync.Mutex // serializes frame writes across workers

	sessionID uint32
	netcfg    protocol.NetConfig
	caps      uint32
	codec     compression.Codec

	sendQ *queue.Queue
	recvQ *queue.Queue

	stop     chan struct{}
	stopOnce *sync.Once
	discAck  chan struct{}
	wg       sync.WaitGroup

	st       stats
	kaSentAt atomic.Int64 // unix nanos of the last keepalive sent
	events   Events
	sink     PacketSink

	reconnectPref bool
}

// New builds a disconnected Connection. The credentials inside params
// are moved into zeroizing wrappers and wiped when Close is called.
func New(params Params, ev Events) *Connection {
	params.applyDefaults()
	if ev == nil {
		ev = NopEvents{}
	}
	c := &Connection{
		state:    StateDisconnected,
		username: secret.New(params.Username),
		password: secret.New(params.Password),
		events:   ev,
	}
	params.Username = ""
	params.Password = ""
	c.params = params
	c.hasParams = params.Host != ""
	if s, ok := ev.(PacketSink); ok {
		c.sink = s
	}
	return c
}

// Connect drives the connection from Disconnected to Connected:
// TCP dial, TLS handshake, protocol handshake, authentication and
// session setup, then starts the worker pump. Each failing step tears
// down whatever it opened and surfaces exactly one error code. A
// connection left in the Error state is reset first.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateError {
		c.mu.Unlock()
		if err := c.disconnect("", false); err != nil {
			return err
		}
		c.mu.Lock()
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrNotDisconnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	sock, err := netutil.DialTCP(ctx, c.params.Host, c.params.Port, c.params.ConnectTimeout, c.params.Resolve)
	if err != nil {
		return c.failConnect(CodeTCPConnect, "connect", err)
	}
	if err := netutil.Tune(sock, netutil.DefaultOptions()); err != nil {
		log.Printf("socket tuning failed: %v", err)
	}
	c.mu.Lock()
	c.sock = sock
	c.state = StateTLSHandshake
	c.mu.Unlock()

	link, err := tlsutil.Client(ctx, sock, tlsutil.ClientConfig{
		ServerName:  c.params.Host,
		Verify:      c.params.VerifyCert,
		Fingerprint: c.params.Fingerprint,
	})
	if err != nil {
		// tlsutil closed the socket on handshake failure.
		c.mu.Lock()
		c.sock = nil
		c.mu.Unlock()
		return c.failConnect(CodeTLSHandshake, "tls handshake", err)
	}
	c.mu.Lock()
	c.link = link
	c.state = StateProtocolHandshake
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		return c.failConnect(CodeProtocolVersion, "protocol handshake", err)
	}
	c.setState(StateAuthenticating)
	if err := c.authenticate(); err != nil {
		return c.failConnect(CodeAuthentication, "authenticate", err)
	}
	c.setState(StateSessionSetup)
	if err := c.setupSession(); err != nil {
		return c.failConnect(CodeSession, "session setup", err)
	}

	c.mu.Lock()
	c.state = StateConnected
	c.stop = make(chan struct{})
	c.stopOnce = new(sync.Once)
	c.discAck = make(chan struct{}, 1)
	c.sendQ = queue.New(c.params.QueueSize)
	c.recvQ = queue.New(c.params.QueueSize)
	netcfg := c.netcfg
	sessionID := c.sessionID
	c.mu.Unlock()

	c.st.connectedAt.Store(time.Now().UnixNano())
	metrics.IncSessions()

	c.wg.Add(3)
	go c.recvLoop()
	go c.sendLoop()
	go c.keepaliveLoop()

	c.events.OnConnected(netcfg)
	log.Printf("tunnel connected: session=0x%08x %s", sessionID, netcfg)
	return nil
}

// failConnect unwinds a partially established connection and reports
// the failure.
func (c *Connection) failConnect(code Code, op string, err error) error {
	c.teardownLink()
	c.setState(StateError)
	c.st.errors.Add(1)
	metrics.IncErrors()
	e := newErr(code, op, err)
	c.events.OnError(code, e.Error())
	return e
}

// handshake exchanges CONNECT / CONNECT_ACK. A server advertising a
// different protocol version is logged but tolerated; capabilities are
// the intersection of both hellos.
func (c *Connection) handshake() error {
	caps := uint32(0)
	if c.params.UseEncryption {
		caps |= protocol.CapEncrypt
	}
	if c.params.UseCompression {
		caps |= protocol.CapCompress
	}
	hello, err := protocol.NewHello(caps)
	if err != nil {
		return err
	}
	resp, err := c.exchange(protocol.New(protocol.CmdConnect, hello.Encode()), protocol.CmdConnectAck)
	if err != nil {
		return err
	}

	negotiated := uint32(0)
	if len(resp.Payload) >= protocol.HelloSize {
		srv, perr := protocol.ParseHello(resp.Payload)
		if perr == nil {
			if srv.Major != hello.Major || srv.Minor != hello.Minor {
				log.Printf("server protocol version %s differs from client %s, continuing", srv.Version(), hello.Version())
			}
			negotiated = hello.Caps & srv.Caps
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps = negotiated
	c.codec = nil
	if negotiated&protocol.CapCompress != 0 {
		codec, cerr := compression.ForName(c.params.Compression)
		if cerr != nil {
			return cerr
		}
		c.codec = codec
	}
	return nil
}

// authenticate sends AUTH_REQUEST and accepts either a direct
// AUTH_SUCCESS or an AUTH_CHALLENGE round trip.
func (c *Connection) authenticate() error {
	payload, err := protocol.EncodeAuthRequest(c.username.Reveal(), c.password.Reveal())
	if err != nil {
		return err
	}
	err = c.writePacket(protocol.New(protocol.CmdAuthRequest, payload))
	secret.Wipe(payload)
	if err != nil {
		return err
	}
	resp, err := c.readPacket(c.params.ConnectTimeout)
	if err != nil {
		return err
	}
	switch resp.Command {
	case protocol.CmdAuthSuccess:
		return nil
	case protocol.CmdAuthChallenge:
		answer := protocol.ChallengeResponse(c.password.Reveal(), resp.Payload)
		_, err := c.exchange(protocol.New(protocol.CmdAuthResponse, answer), protocol.CmdAuthSuccess)
		secret.Wipe(answer)
		return err
	case protocol.CmdAuthFail:
		return errors.New("server rejected credentials")
	default:
		return fmt.Errorf("%w: got %s during auth", ErrUnexpectedCommand, resp.Command)
	}
}

// setupSession obtains the session id and the virtual network
// configuration.
func (c *Connection) setupSession() error {
	resp, err := c.exchange(protocol.New(protocol.CmdSessionRequest, nil), protocol.CmdSessionAssign)
	if err != nil {
		return err
	}
	id, err := protocol.ParseSessionID(resp.Payload)
	if err != nil {
		return err
	}
	cfgResp, err := c.exchange(protocol.New(protocol.CmdConfigRequest, nil), protocol.CmdConfigResponse)
	if err != nil {
		return err
	}
	nc, err := protocol.ParseNetConfig(cfgResp.Payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sessionID = id
	c.netcfg = nc
	c.mu.Unlock()
	return nil
}

// Disconnect tears the connection down: best-effort DISCONNECT
// exchange, stop and join the workers, then release the secure channel
// and the socket. It is idempotent.
func (c *Connection) Disconnect() error {
	return c.disconnect("client requested disconnect", true)
}

func (c *Connection) disconnect(reason string, sendDisconnect bool) error {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateDisconnecting {
		c.mu.Unlock()
		return nil
	}
	wasConnected := c.state == StateConnected
	c.state = StateDisconnecting
	stop, once := c.stop, c.stopOnce
	discAck := c.discAck
	sendQ, recvQ := c.sendQ, c.recvQ
	c.mu.Unlock()

	if wasConnected && sendDisconnect {
		// Failure here is ignored: the peer may already be gone.
		if err := c.writePacket(protocol.New(protocol.CmdDisconnect, nil)); err == nil {
			select {
			case <-discAck:
			case <-time.After(disconnectAckTimeout):
			}
		}
	}

	if once != nil {
		once.Do(func() { close(stop) })
	}
	if sendQ != nil {
		sendQ.Close()
	}
	if recvQ != nil {
		recvQ.Close()
	}
	// Workers must be joined before the socket and secure channel are
	// released.
	c.wg.Wait()
	c.teardownLink()

	c.mu.Lock()
	c.sessionID = 0
	c.netcfg = protocol.NetConfig{}
	c.caps = 0
	c.codec = nil
	c.sendQ, c.recvQ = nil, nil
	c.stop, c.stopOnce, c.discAck = nil, nil, nil
	c.state = StateDisconnected
	c.mu.Unlock()

	// The session gauge was bumped on reaching Connected, which the
	// state no longer shows once a worker failure moved it to Error.
	if c.st.connectedAt.Load() != 0 {
		metrics.DecSessions()
	}
	c.st.connectedAt.Store(0)
	if reason != "" {
		c.events.OnDisconnected(reason)
		log.Printf("tunnel disconnected: %s", reason)
	}
	return nil
}

// Close disconnects if needed and wipes the stored credentials. The
// connection cannot reconnect afterwards.
func (c *Connection) Close() error {
	err := c.Disconnect()
	c.username.Zero()
	c.password.Zero()
	c.mu.Lock()
	c.hasParams = false
	c.mu.Unlock()
	return err
}

// Send splits an outbound IP packet into DATA frames and enqueues them
// for the send loop. It reports the number of payload bytes accepted.
func (c *Connection) Send(pkt []byte) (int, error) {
	if len(pkt) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return 0, newErr(CodeDataTransmission, "send", fmt.Errorf("not connected (state %s)", state))
	}
	q := c.sendQ
	codec := c.codec
	c.mu.Unlock()

	sent := 0
	for off := 0; off < len(pkt); off += protocol.MaxPayload {
		end := min(off+protocol.MaxPayload, len(pkt))
		chunk := pkt[off:end]
		if !q.Push(c.frameData(chunk, codec), true) {
			return sent, newErr(CodeDataTransmission, "send", errors.New("send queue closed"))
		}
		sent += len(chunk)
	}
	return sent, nil
}

// frameData copies chunk into an owned DATA packet, compressing it when
// the negotiated codec wins.
func (c *Connection) frameData(chunk []byte, codec compression.Codec) *protocol.Packet {
	if codec != nil && len(chunk) >= compression.MinSize {
		if comp, err := codec.Compress(chunk); err == nil && len(comp) < len(chunk) {
			return &protocol.Packet{Command: protocol.CmdData, Flags: protocol.FlagCompressed, Payload: comp}
		}
	}
	payload := make([]byte, len(chunk))
	copy(payload, chunk)
	return &protocol.Packet{Command: protocol.CmdData, Payload: payload}
}

// Receive pops one inbound IP packet from the receive queue. It is the
// pollable alternative to a PacketSink; (nil, false) means no packet.
func (c *Connection) Receive(block bool) ([]byte, bool) {
	c.mu.Lock()
	q := c.recvQ
	c.mu.Unlock()
	if q == nil {
		return nil, false
	}
	p, ok := q.Pop(block)
	if !ok {
		return nil, false
	}
	return p.Payload, true
}

// Reconnect re-establishes the tunnel with the parameters stored by the
// last Connect. It carries no retry policy of its own.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	ok := c.hasParams
	c.mu.Unlock()
	if !ok || c.username.Len() == 0 {
		return newErr(CodeNotConfigured, "reconnect", errors.New("no stored connection parameters"))
	}
	if c.State() != StateDisconnected {
		if err := c.Disconnect(); err != nil {
			return err
		}
	}
	metrics.IncReconnects()
	return c.Connect(ctx)
}

// SetReconnectEnabled stores a caller preference; it does not retry by
// itself.
func (c *Connection) SetReconnectEnabled(enabled bool) {
	c.mu.Lock()
	c.reconnectPref = enabled
	c.mu.Unlock()
}

// ReconnectEnabled returns the stored preference.
func (c *Connection) ReconnectEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectPref
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SessionID returns the server-assigned session id, zero when not
// connected.
func (c *Connection) SessionID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// NetConfig returns the virtual network configuration assigned by the
// server, zero before session setup completes.
func (c *Connection) NetConfig() protocol.NetConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.netcfg
}

// Statistics snapshots the connection counters.
func (c *Connection) Statistics() Statistics {
	return c.st.snapshot()
}

// ResetStatistics zeroes the connection counters.
func (c *Connection) ResetStatistics() {
	c.st.reset()
}

// conn returns the secure channel, nil when torn down.
func (c *Connection) conn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// teardownLink releases the secure channel and the raw socket. Only
// Connect and disconnect call this, never the workers.
func (c *Connection) teardownLink() {
	c.mu.Lock()
	link, sock := c.link, c.sock
	c.link, c.sock = nil, nil
	c.mu.Unlock()
	if link != nil {
		_ = link.Close()
	}
	if sock != nil {
		_ = sock.Close()
	}
}

// writePacket writes one frame through the secure channel under the
// write lock, bounded by the I/O timeout.
func (c *Connection) writePacket(p *protocol.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	link := c.conn()
	if link == nil {
		return net.ErrClosed
	}
	buf, err := p.Marshal()
	if err != nil {
		return err
	}
	return netutil.SendAll(link, buf, c.params.IOTimeout)
}

// readPacket reads one frame within timeout. Used by the connect-time
// exchanges; the receive loop has its own polled reader.
func (c *Connection) readPacket(timeout time.Duration) (*protocol.Packet, error) {
	link := c.conn()
	if link == nil {
		return nil, net.ErrClosed
	}
	if err := link.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	return protocol.ReadFrame(link)
}

// exchange writes a frame and requires a specific response command.
func (c *Connection) exchange(send *protocol.Packet, want protocol.Command) (*protocol.Packet, error) {
	if err := c.writePacket(send); err != nil {
		return nil, err
	}
	resp, err := c.readPacket(c.params.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Command != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedCommand, resp.Command, want)
	}
	return resp, nil
}
