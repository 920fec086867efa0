package vpnc

import (
	"sync/atomic"
	"time"
)

// stats holds the per-connection counters, updated by the worker loops.
type stats struct {
	bytesSent       atomic.Int64
	bytesReceived   atomic.Int64
	packetsSent     atomic.Int64
	packetsReceived atomic.Int64
	keepalivesSent  atomic.Int64
	errors          atomic.Int64
	connectedAt     atomic.Int64 // unix nanos, 0 when disconnected
	lastRTT         atomic.Int64 // nanoseconds
}

// Statistics is a point-in-time copy of the connection counters.
type Statistics struct {
	BytesSent        int64         `json:"bytes_sent"`
	BytesReceived    int64         `json:"bytes_received"`
	PacketsSent      int64         `json:"packets_sent"`
	PacketsReceived  int64         `json:"packets_received"`
	KeepalivesSent   int64         `json:"keepalives_sent"`
	Errors           int64         `json:"errors"`
	ConnectedAt      time.Time     `json:"connected_at"`
	LastKeepaliveRTT time.Duration `json:"last_keepalive_rtt"`
}

func (s *stats) snapshot() Statistics {
	out := Statistics{
		BytesSent:        s.bytesSent.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		PacketsSent:      s.packetsSent.Load(),
		PacketsReceived:  s.packetsReceived.Load(),
		KeepalivesSent:   s.keepalivesSent.Load(),
		Errors:           s.errors.Load(),
		LastKeepaliveRTT: time.Duration(s.lastRTT.Load()),
	}
	if at := s.connectedAt.Load(); at != 0 {
		out.ConnectedAt = time.Unix(0, at)
	}
	return out
}

func (s *stats) reset() {
	s.bytesSent.Store(0)
	s.bytesReceived.Store(0)
	s.packetsSent.Store(0)
	s.packetsReceived.Store(0)
	s.keepalivesSent.Store(0)
	s.errors.Store(0)
	s.lastRTT.Store(0)
}
