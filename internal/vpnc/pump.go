package vpnc

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"sslvpn/internal/metrics"
	"sslvpn/internal/netutil"
	"sslvpn/internal/protocol"
	"sslvpn/internal/sniff"
)

const (
	recvPollInterval = 500 * time.Millisecond
	sendPollInterval = 10 * time.Millisecond
	keepaliveFailMax = 3
)

// recvLoop reads frames off the secure channel and dispatches them
// until the stop channel closes or the link fails.
func (c *Connection) recvLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh():
			return
		default:
		}
		p, err := c.readPacketPolled(recvPollInterval)
		if err != nil {
			if errors.Is(err, errPollIdle) {
				continue
			}
			select {
			case <-c.stopCh():
				// Teardown in progress, the link error is expected.
			default:
				c.workerFailed("receive", err)
			}
			return
		}
		if !c.dispatch(p) {
			return
		}
	}
}

// readPacketPolled waits up to poll for the first byte of a frame, so
// the loop can notice the stop channel, then reads the rest of the
// frame under the full I/O timeout. Only the poll phase may time out
// harmlessly: nothing has been consumed yet, so the loop can try
// again. Once the first byte arrives the frame must complete; a
// timeout mid-frame leaves the stream unparseable and is fatal like
// any other read error.
func (c *Connection) readPacketPolled(poll time.Duration) (*protocol.Packet, error) {
	link := c.conn()
	if link == nil {
		return nil, net.ErrClosed
	}
	var first [1]byte
	if err := netutil.RecvAll(link, first[:], poll); err != nil {
		if netutil.IsTimeout(err) {
			return nil, errPollIdle
		}
		return nil, err
	}
	if err := link.SetReadDeadline(time.Now().Add(c.params.IOTimeout)); err != nil {
		return nil, err
	}
	return protocol.ReadFrame(io.MultiReader(bytes.NewReader(first[:]), link))
}

// dispatch handles one inbound frame. It reports whether the receive
// loop should keep running.
func (c *Connection) dispatch(p *protocol.Packet) bool {
	switch p.Command {
	case protocol.CmdData:
		payload := p.Payload
		if p.Flags&protocol.FlagCompressed != 0 {
			c.mu.Lock()
			codec := c.codec
			c.mu.Unlock()
			if codec == nil {
				c.workerFailed("receive", errUnnegotiatedCompression)
				return false
			}
			raw, err := codec.Decompress(payload)
			if err != nil {
				c.workerFailed("receive", err)
				return false
			}
			payload = raw
		}
		c.st.bytesReceived.Add(int64(len(payload)))
		c.st.packetsReceived.Add(1)
		metrics.AddBytesReceived(int64(len(payload)))
		metrics.IncPacketsReceived()
		if c.params.Debug {
			log.Printf("recv %s", sniff.Summary(payload))
		}
		if c.sink != nil {
			c.sink.OnPacket(payload)
			return true
		}
		c.mu.Lock()
		q := c.recvQ
		c.mu.Unlock()
		if q != nil {
			q.Push(&protocol.Packet{Command: protocol.CmdData, Payload: payload}, true)
		}
		return true

	case protocol.CmdKeepalive:
		if err := c.writePacket(protocol.New(protocol.CmdKeepaliveAck, nil)); err != nil {
			c.workerFailed("receive", err)
			return false
		}
		return true

	case protocol.CmdKeepaliveAck:
		if sent := c.kaSentAt.Load(); sent != 0 {
			rtt := time.Since(time.Unix(0, sent))
			c.st.lastRTT.Store(int64(rtt))
			metrics.SetLastRTT(rtt)
		}
		return true

	case protocol.CmdDisconnect:
		_ = c.writePacket(protocol.New(protocol.CmdDisconnectAck, nil))
		// The teardown must run outside this goroutine or disconnect
		// would join on its own caller.
		go func() { _ = c.disconnect("server requested disconnect", false) }()
		return false

	case protocol.CmdDisconnectAck:
		c.mu.Lock()
		ack := c.discAck
		c.mu.Unlock()
		if ack != nil {
			select {
			case ack <- struct{}{}:
			default:
			}
		}
		return true

	case protocol.CmdError:
		c.st.errors.Add(1)
		metrics.IncErrors()
		log.Printf("server error frame: %q", p.Payload)
		return true

	default:
		// Unknown commands are skipped so old clients survive newer
		// servers.
		log.Printf("ignoring unexpected command %s", p.Command)
		return true
	}
}

// sendLoop drains the send queue onto the secure channel.
func (c *Connection) sendLoop() {
	defer c.wg.Done()
	c.mu.Lock()
	q := c.sendQ
	c.mu.Unlock()
	for {
		select {
		case <-c.stopCh():
			return
		default:
		}
		p, ok := q.Pop(false)
		if !ok {
			if q.Closed() {
				return
			}
			time.Sleep(sendPollInterval)
			continue
		}
		if err := c.writePacket(p); err != nil {
			select {
			case <-c.stopCh():
			default:
				c.workerFailed("send", err)
			}
			return
		}
		n := int64(len(p.Payload))
		c.st.bytesSent.Add(n)
		c.st.packetsSent.Add(1)
		metrics.AddBytesSent(n)
		metrics.IncPacketsSent()
	}
}

// keepaliveLoop emits KEEPALIVE frames at the configured interval.
// After keepaliveFailMax consecutive write failures the link is
// declared dead and the whole pump is stopped.
func (c *Connection) keepaliveLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.params.KeepaliveInterval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh():
			return
		case <-ticker.C:
		}
		c.kaSentAt.Store(time.Now().UnixNano())
		if err := c.writePacket(protocol.New(protocol.CmdKeepalive, nil)); err != nil {
			failures++
			log.Printf("keepalive write failed (%d/%d): %v", failures, keepaliveFailMax, err)
			if failures >= keepaliveFailMax {
				c.workerFailed("keepalive", err)
				c.signalStop()
				return
			}
			continue
		}
		failures = 0
		c.st.keepalivesSent.Add(1)
		metrics.IncKeepalives()
	}
}

// workerFailed marks the connection failed and reports the error. The
// caller's goroutine returns afterwards; a full teardown is left to
// Disconnect or Reconnect.
func (c *Connection) workerFailed(op string, err error) {
	c.mu.Lock()
	if c.state == StateConnected {
		c.state = StateError
	}
	c.mu.Unlock()
	c.st.errors.Add(1)
	metrics.IncErrors()
	e := newErr(CodeDataTransmission, op, err)
	log.Printf("tunnel worker failed: %v", e)
	c.events.OnError(CodeDataTransmission, e.Error())
}

// stopCh returns the stop channel of the current run; a closed channel
// when no run is active.
func (c *Connection) stopCh() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return closedCh
	}
	return c.stop
}

func (c *Connection) signalStop() {
	c.mu.Lock()
	stop, once := c.stop, c.stopOnce
	c.mu.Unlock()
	if once != nil {
		once.Do(func() { close(stop) })
	}
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
