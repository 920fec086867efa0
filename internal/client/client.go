package client

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"sslvpn/internal/config"
	"sslvpn/internal/dnsutil"
	"sslvpn/internal/netutil"
	"sslvpn/internal/protocol"
	"sslvpn/internal/vpnc"
)

// ErrRetriesExhausted reports that the retry budget ran out before a
// connection could be established.
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

// ErrTunnelDown reports a dropped link with reconnection disabled.
var ErrTunnelDown = errors.New("tunnel is down and reconnect is disabled")

// Client runs one supervised tunnel: it connects, watches for link
// failures and reconnects with jittered exponential backoff while the
// policy allows it.
type Client struct {
	cfg      *config.Config
	conn     *vpnc.Connection
	strategy *ReconnectStrategy

	notify  chan struct{}
	closing atomic.Bool
}

// New builds a supervised client from the loaded configuration. The
// caller's events, if any, are forwarded unchanged.
func New(cfg *config.Config, ev vpnc.Events) *Client {
	c := &Client{
		cfg:    cfg,
		notify: make(chan struct{}, 1),
	}
	c.strategy = &ReconnectStrategy{
		InitialInterval: cfg.ReconnectInitialInterval(),
		MaxInterval:     cfg.ReconnectMaxInterval(),
		MaxRetries:      cfg.Reconnect.MaxRetries,
		JitterPercent:   0.1,
		CircuitBreaker:  NewCircuitBreaker(5, 2*cfg.ReconnectMaxInterval()),
		currentInterval: cfg.ReconnectInitialInterval(),
	}
	watched := vpnc.Events(&watchEvents{inner: ev, client: c})
	if sink, ok := ev.(vpnc.PacketSink); ok {
		watched = &watchSink{watchEvents: watched.(*watchEvents), sink: sink}
	}
	c.conn = vpnc.New(paramsFromConfig(cfg), watched)
	c.conn.SetReconnectEnabled(cfg.Reconnect.Enabled)
	return c
}

func paramsFromConfig(cfg *config.Config) vpnc.Params {
	p := vpnc.Params{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		Hub:               cfg.Server.Hub,
		Username:          cfg.Auth.Username,
		Password:          cfg.Auth.Password,
		UseEncryption:     cfg.UseEncryption(),
		UseCompression:    cfg.Tunnel.UseCompression,
		Compression:       cfg.Tunnel.Compression,
		VerifyCert:        cfg.TLS.VerifyCert,
		Fingerprint:       cfg.TLS.Fingerprint,
		MTU:               cfg.Tunnel.MTU,
		ConnectTimeout:    cfg.ConnectTimeout(),
		IOTimeout:         cfg.IOTimeout(),
		KeepaliveInterval: cfg.KeepaliveInterval(),
		QueueSize:         cfg.Tunnel.QueueSize,
		Debug:             cfg.Logging.Debug,
		Proxy: vpnc.ProxyParams{
			Type:     cfg.Proxy.Type,
			Host:     cfg.Proxy.Host,
			Port:     cfg.Proxy.Port,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		},
	}
	if cfg.DNS.Bootstrap != "" {
		r := &dnsutil.Resolver{Server: cfg.DNS.Bootstrap}
		p.Resolve = netutil.ResolveFunc(r.LookupHost)
	}
	return p
}

// Connection exposes the underlying tunnel for packet I/O.
func (c *Client) Connection() *vpnc.Connection { return c.conn }

// Run connects and supervises the tunnel until ctx is canceled, the
// retry budget runs out, or the link drops with reconnection disabled.
func (c *Client) Run(ctx context.Context) error {
	defer func() {
		c.closing.Store(true)
		_ = c.conn.Close()
	}()

	if err := c.establish(ctx, c.conn.Connect); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.notify:
		}
		if c.conn.State() == vpnc.StateConnected {
			continue
		}
		if !c.cfg.Reconnect.Enabled {
			return ErrTunnelDown
		}
		log.Printf("tunnel lost, reconnecting (attempt %d)", c.strategy.Attempts()+1)
		if err := c.establish(ctx, c.conn.Reconnect); err != nil {
			return err
		}
	}
}

// establish retries connect until it succeeds or the policy gives up.
func (c *Client) establish(ctx context.Context, connect func(context.Context) error) error {
	for {
		err := connect(ctx)
		if err == nil {
			c.strategy.Reset()
			if cb := c.strategy.CircuitBreaker; cb != nil {
				cb.RecordSuccess()
			}
			c.drainNotify()
			return nil
		}
		if cb := c.strategy.CircuitBreaker; cb != nil {
			cb.RecordFailure()
		}
		if !c.cfg.Reconnect.Enabled || !c.strategy.ShouldRetry() {
			if c.strategy.Attempts() > 0 {
				return errors.Join(ErrRetriesExhausted, err)
			}
			return err
		}
		backoff := c.strategy.NextBackoff()
		log.Printf("connect failed: %v, retrying in %s", err, backoff.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// drainNotify clears failure signals raced in during a connect.
func (c *Client) drainNotify() {
	select {
	case <-c.notify:
	default:
	}
}

func (c *Client) signal() {
	if c.closing.Load() {
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// watchEvents forwards events to the caller and nudges the supervisor
// on anything that can mean a dead link.
type watchEvents struct {
	inner  vpnc.Events
	client *Client
}

func (w *watchEvents) OnConnected(nc protocol.NetConfig) {
	if w.inner != nil {
		w.inner.OnConnected(nc)
	}
}

func (w *watchEvents) OnDisconnected(reason string) {
	if w.inner != nil {
		w.inner.OnDisconnected(reason)
	}
	w.client.signal()
}

func (w *watchEvents) OnError(code vpnc.Code, msg string) {
	if w.inner != nil {
		w.inner.OnError(code, msg)
	}
	w.client.signal()
}

// watchSink is used instead of watchEvents when the caller consumes
// inbound packets via events rather than the receive queue.
type watchSink struct {
	*watchEvents
	sink vpnc.PacketSink
}

func (w *watchSink) OnPacket(pkt []byte) { w.sink.OnPacket(pkt) }
