package vpnc

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"testing"
	"time"

	"sslvpn/internal/compression"
	"sslvpn/internal/protocol"
)

const (
	testSessionID = uint32(0xAABBCCDD)
	testPassword  = "hunter2"
)

type authMode int

const (
	authAccept authMode = iota
	authChallenge
	authReject
)

// fakeGateway is an in-process server speaking the tunnel protocol over
// TLS with a throwaway certificate.
type fakeGateway struct {
	t    *testing.T
	ln   net.Listener
	auth authMode
	caps uint32

	// raw replaces the post-handshake serve loop when set, for tests
	// that need byte-level control of the stream.
	raw func(net.Conn)

	mu         sync.Mutex
	data       [][]byte
	keepalives int
	username   string
	conns      []net.Conn
	outbound   []*protocol.Packet
}

func newFakeGateway(t *testing.T, auth authMode, caps uint32) *fakeGateway {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}

	g := &fakeGateway{t: t, ln: ln, auth: auth, caps: caps}
	go g.acceptLoop()
	t.Cleanup(g.close)
	return g
}

func (g *fakeGateway) close() {
	_ = g.ln.Close()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		_ = c.Close()
	}
}

func (g *fakeGateway) port() int {
	return g.ln.Addr().(*net.TCPAddr).Port
}

// enqueue schedules a frame to be written to the next serving
// connection loop.
func (g *fakeGateway) enqueue(p *protocol.Packet) {
	g.mu.Lock()
	g.outbound = append(g.outbound, p)
	g.mu.Unlock()
}

func (g *fakeGateway) acceptLoop() {
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.mu.Unlock()
		go g.handle(conn)
	}
}

func (g *fakeGateway) handle(conn net.Conn) {
	defer conn.Close()

	// CONNECT / CONNECT_ACK
	p, err := protocol.ReadFrame(conn)
	if err != nil || p.Command != protocol.CmdConnect {
		return
	}
	srvHello, err := protocol.NewHello(g.caps)
	if err != nil {
		return
	}
	if err := protocol.WriteFrame(conn, protocol.New(protocol.CmdConnectAck, srvHello.Encode())); err != nil {
		return
	}

	// AUTH
	p, err = protocol.ReadFrame(conn)
	if err != nil || p.Command != protocol.CmdAuthRequest {
		return
	}
	user, pass, err := protocol.ParseAuthRequest(p.Payload)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.username = user
	g.mu.Unlock()

	switch g.auth {
	case authReject:
		_ = protocol.WriteFrame(conn, protocol.New(protocol.CmdAuthFail, []byte("bad credentials")))
		return
	case authChallenge:
		challenge := []byte("0123456789abcdef")
		if err := protocol.WriteFrame(conn, protocol.New(protocol.CmdAuthChallenge, challenge)); err != nil {
			return
		}
		p, err = protocol.ReadFrame(conn)
		if err != nil || p.Command != protocol.CmdAuthResponse {
			return
		}
		want := protocol.ChallengeResponse(testPassword, challenge)
		if !bytes.Equal(p.Payload, want) {
			_ = protocol.WriteFrame(conn, protocol.New(protocol.CmdAuthFail, nil))
			return
		}
		if err := protocol.WriteFrame(conn, protocol.New(protocol.CmdAuthSuccess, nil)); err != nil {
			return
		}
	default:
		if pass != testPassword {
			_ = protocol.WriteFrame(conn, protocol.New(protocol.CmdAuthFail, nil))
			return
		}
		if err := protocol.WriteFrame(conn, protocol.New(protocol.CmdAuthSuccess, nil)); err != nil {
			return
		}
	}

	// SESSION + CONFIG
	p, err = protocol.ReadFrame(conn)
	if err != nil || p.Command != protocol.CmdSessionRequest {
		return
	}
	if err := protocol.WriteFrame(conn, protocol.New(protocol.CmdSessionAssign, protocol.EncodeSessionID(testSessionID))); err != nil {
		return
	}
	p, err = protocol.ReadFrame(conn)
	if err != nil || p.Command != protocol.CmdConfigRequest {
		return
	}
	nc := protocol.NetConfig{
		ClientIP:   netip.MustParseAddr("10.0.0.2"),
		SubnetMask: netip.MustParseAddr("255.255.255.0"),
		Gateway:    netip.MustParseAddr("10.0.0.1"),
		DNS1:       netip.MustParseAddr("10.0.0.1"),
	}
	if err := protocol.WriteFrame(conn, protocol.New(protocol.CmdConfigResponse, nc.Encode())); err != nil {
		return
	}

	if g.raw != nil {
		g.raw(conn)
		return
	}
	g.serve(conn)
}

// dropConns severs every active connection at the TCP level, as a
// dying gateway would.
func (g *fakeGateway) dropConns() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		_ = c.Close()
	}
	g.conns = nil
}

// serve runs the post-handshake frame loop.
func (g *fakeGateway) serve(conn net.Conn) {
	var codec compression.Codec
	if g.caps&protocol.CapCompress != 0 {
		codec, _ = compression.ForName("lz4")
	}

	writeMu := sync.Mutex{}
	write := func(p *protocol.Packet) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return protocol.WriteFrame(conn, p)
	}

	// Queued outbound frames are pushed as soon as the client is up.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			g.mu.Lock()
			var p *protocol.Packet
			if len(g.outbound) > 0 {
				p = g.outbound[0]
				g.outbound = g.outbound[1:]
			}
			g.mu.Unlock()
			if p == nil {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			if err := write(p); err != nil {
				return
			}
		}
	}()

	for {
		p, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		switch p.Command {
		case protocol.CmdData:
			payload := p.Payload
			if p.Flags&protocol.FlagCompressed != 0 && codec != nil {
				if raw, derr := codec.Decompress(payload); derr == nil {
					payload = raw
				}
			}
			g.mu.Lock()
			g.data = append(g.data, payload)
			g.mu.Unlock()
		case protocol.CmdKeepalive:
			g.mu.Lock()
			g.keepalives++
			g.mu.Unlock()
			if err := write(protocol.New(protocol.CmdKeepaliveAck, nil)); err != nil {
				return
			}
		case protocol.CmdDisconnect:
			_ = write(protocol.New(protocol.CmdDisconnectAck, nil))
			return
		}
	}
}

func (g *fakeGateway) dataCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.data)
}

func (g *fakeGateway) keepaliveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keepalives
}

// recorder captures lifecycle events.
type recorder struct {
	mu          sync.Mutex
	connected   []protocol.NetConfig
	disconnects []string
	codes       []Code
}

func (r *recorder) OnConnected(nc protocol.NetConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, nc)
}

func (r *recorder) OnDisconnected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, reason)
}

func (r *recorder) OnError(code Code, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *recorder) lastDisconnect() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.disconnects) == 0 {
		return ""
	}
	return r.disconnects[len(r.disconnects)-1]
}

// packetSink additionally collects inbound DATA payloads.
type packetSink struct {
	recorder
	pktMu   sync.Mutex
	packets [][]byte
}

func (s *packetSink) OnPacket(pkt []byte) {
	s.pktMu.Lock()
	defer s.pktMu.Unlock()
	s.packets = append(s.packets, pkt)
}

func (s *packetSink) packetCount() int {
	s.pktMu.Lock()
	defer s.pktMu.Unlock()
	return len(s.packets)
}

func testParams(g *fakeGateway) Params {
	return Params{
		Host:              "127.0.0.1",
		Port:              g.port(),
		Username:          "alice",
		Password:          testPassword,
		UseEncryption:     true,
		VerifyCert:        false,
		ConnectTimeout:    3 * time.Second,
		IOTimeout:         3 * time.Second,
		KeepaliveInterval: time.Minute,
		QueueSize:         32,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectLifecycle(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	rec := &recorder{}
	c := New(testParams(g), rec)

	if got := c.State(); got != StateDisconnected {
		t.Fatalf("initial state = %s", got)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state after Connect = %s", got)
	}
	if got := c.SessionID(); got != testSessionID {
		t.Errorf("session id = %#x, want %#x", got, testSessionID)
	}
	nc := c.NetConfig()
	if nc.ClientIP != netip.MustParseAddr("10.0.0.2") {
		t.Errorf("client ip = %s, want 10.0.0.2", nc.ClientIP)
	}
	if nc.Gateway != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("gateway = %s, want 10.0.0.1", nc.Gateway)
	}

	rec.mu.Lock()
	connects := len(rec.connected)
	rec.mu.Unlock()
	if connects != 1 {
		t.Errorf("OnConnected fired %d times, want 1", connects)
	}

	g.mu.Lock()
	user := g.username
	g.mu.Unlock()
	if user != "alice" {
		t.Errorf("server saw username %q, want alice", user)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state after Disconnect = %s", got)
	}
	if c.SessionID() != 0 {
		t.Error("session id not cleared after Disconnect")
	}
	if rec.lastDisconnect() == "" {
		t.Error("OnDisconnected never fired")
	}

	// Idempotent.
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}

func TestConnectRejectsWhileConnected(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	c := New(testParams(g), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background()); !errors.Is(err, ErrNotDisconnected) {
		t.Fatalf("second Connect = %v, want ErrNotDisconnected", err)
	}
}

func TestAuthFailure(t *testing.T) {
	g := newFakeGateway(t, authReject, 0)
	rec := &recorder{}
	c := New(testParams(g), rec)

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect with rejected credentials succeeded")
	}
	if got := CodeOf(err); got != CodeAuthentication {
		t.Fatalf("error code = %s, want %s", got, CodeAuthentication)
	}
	if got := c.State(); got != StateError {
		t.Fatalf("state after auth failure = %s, want %s", got, StateError)
	}
	rec.mu.Lock()
	codes := append([]Code(nil), rec.codes...)
	rec.mu.Unlock()
	if len(codes) == 0 || codes[0] != CodeAuthentication {
		t.Errorf("OnError codes = %v, want [%s]", codes, CodeAuthentication)
	}
}

func TestAuthChallenge(t *testing.T) {
	g := newFakeGateway(t, authChallenge, 0)
	c := New(testParams(g), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect with challenge auth: %v", err)
	}
	defer c.Disconnect()
	if got := c.SessionID(); got != testSessionID {
		t.Errorf("session id = %#x, want %#x", got, testSessionID)
	}
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := New(Params{
		Host:           "127.0.0.1",
		Port:           port,
		Username:       "alice",
		Password:       testPassword,
		ConnectTimeout: time.Second,
	}, nil)
	err = c.Connect(context.Background())
	if got := CodeOf(err); got != CodeTCPConnect {
		t.Fatalf("error code = %s (%v), want %s", got, err, CodeTCPConnect)
	}

	// An errored connection must be usable for a fresh Connect attempt.
	if got := c.State(); got != StateError {
		t.Fatalf("state = %s, want %s", got, StateError)
	}
	if err := c.Connect(context.Background()); CodeOf(err) != CodeTCPConnect {
		t.Fatalf("second Connect = %v, want TCP connect failure again", err)
	}
}

func TestDataExchange(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	sink := &packetSink{}
	c := New(testParams(g), sink)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	// Client to server.
	out := bytes.Repeat([]byte{0x45}, 600)
	n, err := c.Send(out)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != len(out) {
		t.Fatalf("Send accepted %d bytes, want %d", n, len(out))
	}
	waitFor(t, "server to receive DATA", func() bool { return g.dataCount() >= 1 })
	g.mu.Lock()
	got := g.data[0]
	g.mu.Unlock()
	if !bytes.Equal(got, out) {
		t.Errorf("server got %d bytes, want %d matching bytes", len(got), len(out))
	}

	// Server to client.
	inbound := []byte("inbound ip packet")
	g.enqueue(protocol.New(protocol.CmdData, inbound))
	waitFor(t, "client to receive DATA", func() bool { return sink.packetCount() >= 1 })
	sink.pktMu.Lock()
	pkt := sink.packets[0]
	sink.pktMu.Unlock()
	if !bytes.Equal(pkt, inbound) {
		t.Errorf("client got %q, want %q", pkt, inbound)
	}

	waitFor(t, "statistics to settle", func() bool {
		st := c.Statistics()
		return st.PacketsSent == 1 && st.PacketsReceived == 1
	})
	st := c.Statistics()
	if st.BytesSent != int64(len(out)) {
		t.Errorf("BytesSent = %d, want %d", st.BytesSent, len(out))
	}
	if st.BytesReceived != int64(len(inbound)) {
		t.Errorf("BytesReceived = %d, want %d", st.BytesReceived, len(inbound))
	}
}

func TestSendSplitsOversizedPacket(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	c := New(testParams(g), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	big := make([]byte, protocol.MaxPayload+1000)
	for i := range big {
		big[i] = byte(i)
	}
	n, err := c.Send(big)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != len(big) {
		t.Fatalf("Send accepted %d bytes, want %d", n, len(big))
	}
	waitFor(t, "both fragments to arrive", func() bool { return g.dataCount() >= 2 })
	g.mu.Lock()
	joined := append(append([]byte(nil), g.data[0]...), g.data[1]...)
	g.mu.Unlock()
	if !bytes.Equal(joined, big) {
		t.Error("fragments do not reassemble to the original packet")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	c := New(testParams(g), nil)
	if _, err := c.Send([]byte("nope")); CodeOf(err) != CodeDataTransmission {
		t.Fatalf("Send while disconnected = %v, want data transmission error", err)
	}
}

func TestKeepalive(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	params := testParams(g)
	params.KeepaliveInterval = 50 * time.Millisecond
	c := New(params, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, "keepalives to flow", func() bool { return g.keepaliveCount() >= 5 })
	st := c.Statistics()
	if st.KeepalivesSent < 5 {
		t.Errorf("KeepalivesSent = %d, want >= 5", st.KeepalivesSent)
	}
}

func TestCompressionNegotiated(t *testing.T) {
	g := newFakeGateway(t, authAccept, protocol.CapCompress)
	params := testParams(g)
	params.UseCompression = true
	params.Compression = "lz4"
	sink := &packetSink{}
	c := New(params, sink)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	// Well over MinSize and highly repetitive, so the codec engages.
	out := bytes.Repeat([]byte("abcdefgh"), 200)
	if _, err := c.Send(out); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "server to receive DATA", func() bool { return g.dataCount() >= 1 })
	g.mu.Lock()
	got := g.data[0]
	g.mu.Unlock()
	if !bytes.Equal(got, out) {
		t.Fatal("server payload does not match after decompression")
	}

	// Compressed frame from the server side.
	codec, err := compression.ForName("lz4")
	if err != nil {
		t.Fatalf("ForName: %v", err)
	}
	inbound := bytes.Repeat([]byte("01234567"), 300)
	comp, err := codec.Compress(inbound)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	g.enqueue(&protocol.Packet{Command: protocol.CmdData, Flags: protocol.FlagCompressed, Payload: comp})
	waitFor(t, "client to receive DATA", func() bool { return sink.packetCount() >= 1 })
	sink.pktMu.Lock()
	pkt := sink.packets[0]
	sink.pktMu.Unlock()
	if !bytes.Equal(pkt, inbound) {
		t.Error("client payload does not match after decompression")
	}
}

// TestStalledFrameFailsReceiveLoop drives a link that goes quiet in the
// middle of a frame. The receive loop must fail the connection rather
// than discard the partial frame and parse the rest of the stream out
// of alignment, which would silently drop traffic on a link still
// reported as connected.
func TestStalledFrameFailsReceiveLoop(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)

	frame, err := protocol.New(protocol.CmdData, []byte("hello")).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	more, err := protocol.New(protocol.CmdData, []byte("world")).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	g.raw = func(conn net.Conn) {
		if _, err := conn.Write(frame[:1]); err != nil {
			return
		}
		time.Sleep(600 * time.Millisecond)
		tail := append(append([]byte(nil), frame[1:]...), more...)
		if _, err := conn.Write(tail); err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, conn)
	}

	params := testParams(g)
	params.IOTimeout = 200 * time.Millisecond
	sink := &packetSink{}
	c := New(params, sink)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, "receive loop to fail", func() bool { return c.State() == StateError })
	sink.mu.Lock()
	codes := append([]Code(nil), sink.codes...)
	sink.mu.Unlock()
	seen := false
	for _, code := range codes {
		if code == CodeDataTransmission {
			seen = true
		}
	}
	if !seen {
		t.Errorf("OnError codes = %v, want %s", codes, CodeDataTransmission)
	}
	if n := sink.packetCount(); n != 0 {
		t.Errorf("client delivered %d packets after mid-frame stall, want 0", n)
	}
}

func TestServerInitiatedDisconnect(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	rec := &recorder{}
	c := New(testParams(g), rec)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	g.enqueue(protocol.New(protocol.CmdDisconnect, nil))
	waitFor(t, "client to disconnect", func() bool { return c.State() == StateDisconnected })
	if rec.lastDisconnect() == "" {
		t.Error("OnDisconnected never fired for server-initiated disconnect")
	}
}

func TestReconnect(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	c := New(testParams(g), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	defer c.Disconnect()
	if got := c.State(); got != StateConnected {
		t.Fatalf("state after Reconnect = %s", got)
	}
	if got := c.SessionID(); got != testSessionID {
		t.Errorf("session id after Reconnect = %#x, want %#x", got, testSessionID)
	}
}

// TestReconnectAfterLinkFailure kills the link under an established
// session and reconnects out of the error state, joining the workers
// the failure left running.
func TestReconnectAfterLinkFailure(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	rec := &recorder{}
	c := New(testParams(g), rec)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	g.dropConns()
	waitFor(t, "link failure to surface", func() bool { return c.State() == StateError })

	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect after link failure: %v", err)
	}
	defer c.Disconnect()
	if got := c.State(); got != StateConnected {
		t.Fatalf("state after Reconnect = %s", got)
	}
	if got := c.SessionID(); got != testSessionID {
		t.Errorf("session id after Reconnect = %#x, want %#x", got, testSessionID)
	}
}

func TestReconnectWithoutParams(t *testing.T) {
	c := New(Params{}, nil)
	if err := c.Reconnect(context.Background()); CodeOf(err) != CodeNotConfigured {
		t.Fatalf("Reconnect without params = %v, want not-configured error", err)
	}
}

func TestConnectDisconnectCycles(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	c := New(testParams(g), nil)
	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect cycle %d: %v", i, err)
		}
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect cycle %d: %v", i, err)
		}
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("final state = %s", got)
	}
	// Worker and gateway goroutines from all cycles must have exited.
	waitFor(t, "goroutines to drain", func() bool {
		return runtime.NumGoroutine() <= before+5
	})
}

func TestCloseWipesCredentials(t *testing.T) {
	g := newFakeGateway(t, authAccept, 0)
	c := New(testParams(g), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Reconnect(context.Background()); CodeOf(err) != CodeNotConfigured {
		t.Fatalf("Reconnect after Close = %v, want not-configured error", err)
	}
}

func TestStateStrings(t *testing.T) {
	for _, s := range []State{
		StateDisconnected, StateConnecting, StateTLSHandshake,
		StateProtocolHandshake, StateAuthenticating, StateSessionSetup,
		StateConnected, StateDisconnecting, StateError,
	} {
		if s.String() == "" {
			t.Errorf("state %d has empty string", int32(s))
		}
	}
}
