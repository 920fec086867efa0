// Package metrics exposes the tunnel counters over HTTP: a Prometheus
// registry on /metrics, a JSON snapshot on /metrics.json and a liveness
// probe on /healthz.
package metrics

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry builds a Prometheus registry over the tunnel counters plus
// the standard Go process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	for _, m := range []struct {
		name, help string
		value      func() float64
	}{
		{"sslvpn_sessions_total", "Tunnel sessions established", func() float64 { return float64(sessionsTotal.Load()) }},
		{"sslvpn_bytes_sent_total", "Payload bytes written to the tunnel", func() float64 { return float64(bytesSent.Load()) }},
		{"sslvpn_bytes_received_total", "Payload bytes read from the tunnel", func() float64 { return float64(bytesReceived.Load()) }},
		{"sslvpn_packets_sent_total", "DATA frames written to the tunnel", func() float64 { return float64(packetsSent.Load()) }},
		{"sslvpn_packets_received_total", "DATA frames read from the tunnel", func() float64 { return float64(packetsRecv.Load()) }},
		{"sslvpn_keepalives_sent_total", "KEEPALIVE frames sent", func() float64 { return float64(keepalives.Load()) }},
		{"sslvpn_errors_total", "Tunnel errors", func() float64 { return float64(errorsTotal.Load()) }},
		{"sslvpn_reconnects_total", "Reconnect attempts", func() float64 { return float64(reconnects.Load()) }},
	} {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{Name: m.name, Help: m.help}, m.value))
	}
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "sslvpn_sessions_active", Help: "Currently connected sessions"},
		func() float64 { return float64(sessionsActive.Load()) }))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "sslvpn_last_keepalive_rtt_ms", Help: "RTT of the last acknowledged keepalive"},
		func() float64 { return float64(lastRTTMs.Load()) }))
	return reg
}

// Start serves the metrics endpoints on addr in the background. A
// non-loopback address without an auth token is refused rather than
// exposed unauthenticated.
func Start(addr, authToken string) {
	if addr == "" {
		return
	}
	if !isLoopback(addr) && authToken == "" {
		log.Printf("metrics not started: refusing to expose unauthenticated endpoint on %s", addr)
		return
	}

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if authToken != "" && r.Header.Get("Authorization") != "Bearer "+authToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	reg := NewRegistry()
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", auth(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP))
	mux.HandleFunc("/metrics.json", auth(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(SnapshotData())
	}))
	mux.HandleFunc("/healthz", auth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	mux.HandleFunc("/debug/status/text", auth(handleTextStatus))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
}

func handleTextStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	st := SnapshotData()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "=== Tunnel Status ===\n\n")
	fmt.Fprintf(w, "Go Version:   %s\n", runtime.Version())
	fmt.Fprintf(w, "Goroutines:   %d\n", runtime.NumGoroutine())
	fmt.Fprintf(w, "Heap Alloc:   %d\n\n", m.Alloc)
	fmt.Fprintf(w, "Sessions:     %d active, %d total\n", st.SessionsActive, st.SessionsTotal)
	fmt.Fprintf(w, "Sent:         %d bytes, %d packets\n", st.BytesSent, st.PacketsSent)
	fmt.Fprintf(w, "Received:     %d bytes, %d packets\n", st.BytesReceived, st.PacketsReceived)
	fmt.Fprintf(w, "Keepalives:   %d\n", st.KeepalivesSent)
	fmt.Fprintf(w, "Errors:       %d\n", st.Errors)
	fmt.Fprintf(w, "Reconnects:   %d\n", st.Reconnects)
	if st.LastRTTMs > 0 {
		fmt.Fprintf(w, "Last RTT:     %dms\n", st.LastRTTMs)
	}
	fmt.Fprintf(w, "Updated:      %s\n", time.Unix(st.UpdatedUnix, 0).Format(time.RFC3339))
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
