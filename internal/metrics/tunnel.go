package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of the tunnel counters.
type Snapshot struct {
	SessionsTotal   int64 `json:"sessions_total"`
	SessionsActive  int64 `json:"sessions_active"`
	BytesSent       int64 `json:"bytes_sent"`
	BytesReceived   int64 `json:"bytes_received"`
	PacketsSent     int64 `json:"packets_sent"`
	PacketsReceived int64 `json:"packets_received"`
	KeepalivesSent  int64 `json:"keepalives_sent"`
	Errors          int64 `json:"errors_total"`
	Reconnects      int64 `json:"reconnects_total"`
	LastRTTMs       int64 `json:"last_keepalive_rtt_ms"`
	UpdatedUnix     int64 `json:"updated_unix"`
}

var (
	sessionsTotal  atomic.Int64
	sessionsActive atomic.Int64
	bytesSent      atomic.Int64
	bytesReceived  atomic.Int64
	packetsSent    atomic.Int64
	packetsRecv    atomic.Int64
	keepalives     atomic.Int64
	errorsTotal    atomic.Int64
	reconnects     atomic.Int64
	lastRTTMs      atomic.Int64
)

func IncSessions()               { sessionsTotal.Add(1); sessionsActive.Add(1) }
func DecSessions()               { sessionsActive.Add(-1) }
func AddBytesSent(n int64)       { bytesSent.Add(n) }
func AddBytesReceived(n int64)   { bytesReceived.Add(n) }
func IncPacketsSent()            { packetsSent.Add(1) }
func IncPacketsReceived()        { packetsRecv.Add(1) }
func IncKeepalives()             { keepalives.Add(1) }
func IncErrors()                 { errorsTotal.Add(1) }
func IncReconnects()             { reconnects.Add(1) }
func SetLastRTT(d time.Duration) { lastRTTMs.Store(d.Milliseconds()) }

func GetSessionsActive() int64 { return sessionsActive.Load() }
func GetErrorsTotal() int64    { return errorsTotal.Load() }

// SnapshotData copies the current counters.
func SnapshotData() Snapshot {
	return Snapshot{
		SessionsTotal:   sessionsTotal.Load(),
		SessionsActive:  sessionsActive.Load(),
		BytesSent:       bytesSent.Load(),
		BytesReceived:   bytesReceived.Load(),
		PacketsSent:     packetsSent.Load(),
		PacketsReceived: packetsRecv.Load(),
		KeepalivesSent:  keepalives.Load(),
		Errors:          errorsTotal.Load(),
		Reconnects:      reconnects.Load(),
		LastRTTMs:       lastRTTMs.Load(),
		UpdatedUnix:     time.Now().Unix(),
	}
}

// Reset zeroes every counter. Test helper.
func Reset() {
	sessionsTotal.Store(0)
	sessionsActive.Store(0)
	bytesSent.Store(0)
	bytesReceived.Store(0)
	packetsSent.Store(0)
	packetsRecv.Store(0)
	keepalives.Store(0)
	errorsTotal.Store(0)
	reconnects.Store(0)
	lastRTTMs.Store(0)
}
