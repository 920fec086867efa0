package netutil

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	conn, err := DialTCP(context.Background(), "127.0.0.1", port, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	if err := Tune(conn, DefaultOptions()); err != nil {
		t.Errorf("Tune: %v", err)
	}
	conn.Close()
}

func TestDialTCPRefused(t *testing.T) {
	// Grab a port and close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	if _, err := DialTCP(context.Background(), "127.0.0.1", port, time.Second, nil); err == nil {
		t.Fatal("DialTCP to closed port succeeded")
	}
}

func TestDialTCPCustomResolver(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	resolved := false
	resolve := func(ctx context.Context, host string) (string, error) {
		if host != "vpn.example.invalid" {
			t.Errorf("resolver got host %q", host)
		}
		resolved = true
		return "127.0.0.1", nil
	}
	port := ln.Addr().(*net.TCPAddr).Port
	conn, err := DialTCP(context.Background(), "vpn.example.invalid", port, 2*time.Second, resolve)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	conn.Close()
	if !resolved {
		t.Error("custom resolver was not called")
	}
}

func TestDialTCPResolverError(t *testing.T) {
	resolve := func(ctx context.Context, host string) (string, error) {
		return "", errors.New("nxdomain")
	}
	if _, err := DialTCP(context.Background(), "nope.invalid", 443, time.Second, resolve); err == nil {
		t.Fatal("DialTCP with failing resolver succeeded")
	}
}

func TestSendAllRecvAll(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte{0x5A}, 4096)
	go func() {
		if err := SendAll(client, payload, time.Second); err != nil {
			t.Errorf("SendAll: %v", err)
		}
	}()

	buf := make([]byte, len(payload))
	if err := RecvAll(server, buf, time.Second); err != nil {
		t.Fatalf("RecvAll: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Error("received bytes differ from sent bytes")
	}
}

func TestRecvAllPeerClosed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte{1, 2, 3})
		client.Close()
	}()

	buf := make([]byte, 10)
	err := RecvAll(server, buf, time.Second)
	if !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("RecvAll = %v, want ErrPeerClosed", err)
	}
}

func TestRecvAllTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	buf := make([]byte, 4)
	err := RecvAll(server, buf, 50*time.Millisecond)
	if err == nil {
		t.Fatal("RecvAll with silent peer succeeded")
	}
	if !IsTimeout(err) {
		t.Fatalf("RecvAll = %v, want timeout", err)
	}
}

func TestIsTimeout(t *testing.T) {
	if IsTimeout(errors.New("plain")) {
		t.Error("IsTimeout(plain error) = true")
	}
	if IsTimeout(nil) {
		t.Error("IsTimeout(nil) = true")
	}
}
