package vpnc

import "sslvpn/internal/protocol"

// Events receives connection lifecycle notifications. Implementations
// must not call back into the Connection from inside a notification;
// they run on the connection's worker or caller goroutines.
type Events interface {
	OnConnected(cfg protocol.NetConfig)
	OnDisconnected(reason string)
	OnError(code Code, msg string)
}

// PacketSink is optionally implemented by an Events value to receive
// inbound IP packets directly. Without it, packets are queued and read
// through Connection.Receive.
type PacketSink interface {
	OnPacket(pkt []byte)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) OnConnected(protocol.NetConfig) {}
func (NopEvents) OnDisconnected(string)          {}
func (NopEvents) OnError(Code, string)           {}
