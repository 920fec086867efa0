// Package tlsutil wraps the raw TCP socket in the tunnel's secure
// channel. Certificate verification is a caller-selected trade-off, and
// the client hello can optionally mimic a browser fingerprint.
package tlsutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// ClientConfig configures the client side of the secure channel.
type ClientConfig struct {
	// ServerName is the expected hostname, used for SNI and, when
	// Verify is set, for certificate validation.
	ServerName string

	// Verify enables certificate chain and hostname validation. When
	// false the handshake proceeds without validation.
	Verify bool

	// RootCAs overrides the system roots when Verify is set.
	RootCAs *x509.CertPool

	// Fingerprint selects a uTLS browser client hello ("chrome",
	// "firefox", "safari", "ios", "edge", "random"). Empty uses the
	// standard library handshake.
	Fingerprint string
}

func (c ClientConfig) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: !c.Verify,
		RootCAs:            c.RootCAs,
		MinVersion:         tls.VersionTLS12,
	}
}

// Client performs the TLS handshake over an existing connection and
// returns the secured connection. On handshake failure the underlying
// connection is closed.
func Client(ctx context.Context, conn net.Conn, cfg ClientConfig) (net.Conn, error) {
	if cfg.Fingerprint != "" {
		return wrapUTLS(ctx, conn, cfg)
	}
	tconn := tls.Client(conn, cfg.tlsConfig())
	if err := tconn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tconn, nil
}

// wrapUTLS performs a uTLS handshake with a mimicked client hello.
func wrapUTLS(ctx context.Context, conn net.Conn, cfg ClientConfig) (net.Conn, error) {
	uCfg := &utls.Config{
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: !cfg.Verify,
		RootCAs:            cfg.RootCAs,
		MinVersion:         utls.VersionTLS12,
	}
	hello, err := helloID(cfg.Fingerprint)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	uconn := utls.UClient(conn, uCfg, hello)
	if err := uconn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("utls handshake: %w", err)
	}
	return uconn, nil
}

var fingerprints = map[string]utls.ClientHelloID{
	"chrome":  utls.HelloChrome_Auto,
	"firefox": utls.HelloFirefox_Auto,
	"safari":  utls.HelloSafari_Auto,
	"ios":     utls.HelloIOS_Auto,
	"edge":    utls.HelloEdge_Auto,
	"random":  utls.HelloRandomized,
}

func helloID(name string) (utls.ClientHelloID, error) {
	id, ok := fingerprints[name]
	if !ok {
		return utls.ClientHelloID{}, fmt.Errorf("unknown tls fingerprint %q", name)
	}
	return id, nil
}

// Fingerprints lists the supported fingerprint names, for config
// validation.
func Fingerprints() []string {
	out := make([]string, 0, len(fingerprints))
	for name := range fingerprints {
		out = append(out, name)
	}
	return out
}
