package tun

import (
	"context"
	"errors"
	"io"

	"sslvpn/internal/vpnc"
)

const readBufSize = 64 * 1024

// Bridge copies IP packets between the TUN device and the tunnel in
// both directions until ctx is canceled or either side fails. The
// device is closed on the way out; the connection is left to its
// owner.
func Bridge(ctx context.Context, iface io.ReadWriteCloser, conn *vpnc.Connection) error {
	errCh := make(chan error, 2)

	go func() {
		buf := make([]byte, readBufSize)
		for {
			n, err := iface.Read(buf)
			if err != nil {
				errCh <- err
				return
			}
			if _, err := conn.Send(buf[:n]); err != nil {
				errCh <- err
				return
			}
		}
	}()
	go func() {
		for {
			pkt, ok := conn.Receive(true)
			if !ok {
				errCh <- errors.New("tunnel receive queue closed")
				return
			}
			if _, err := iface.Write(pkt); err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case err := <-errCh:
		_ = iface.Close()
		return err
	case <-ctx.Done():
		_ = iface.Close()
		return ctx.Err()
	}
}
