package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sslvpn/internal/client"
	"sslvpn/internal/config"
	"sslvpn/internal/metrics"
	"sslvpn/internal/protocol"
	"sslvpn/internal/tun"
	"sslvpn/internal/vpnc"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	reloader, err := config.NewReloadable(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	defer reloader.Close()
	cfg := reloader.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	metrics.Start(cfg.Metrics.Listen, cfg.Metrics.AuthToken)

	restartCh := make(chan *config.Config, 1)
	reloader.Watch(func(old, next *config.Config) {
		select {
		case restartCh <- next:
		default:
		}
	})

	runCtx, runCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go runTunnel(runCtx, cfg, errCh)

	for {
		select {
		case <-ctx.Done():
			runCancel()
			<-errCh
			return
		case next := <-restartCh:
			log.Printf("config reloaded: restarting tunnel with updated settings")
			runCancel()
			<-errCh
			cfg = next
			runCtx, runCancel = context.WithCancel(ctx)
			errCh = make(chan error, 1)
			go runTunnel(runCtx, cfg, errCh)
		case err := <-errCh:
			runCancel()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				log.Fatalf("tunnel failed: %v", err)
			}
			return
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
}

// runTunnel supervises one tunnel instance. When the TUN device is
// enabled, inbound and outbound packets are bridged to it as soon as
// the tunnel comes up.
func runTunnel(ctx context.Context, cfg *config.Config, errCh chan<- error) {
	var ev vpnc.Events
	bridgeUp := make(chan protocol.NetConfig, 1)
	if cfg.TUN.Enabled {
		ev = &bridgeEvents{up: bridgeUp}
	}
	cl := client.New(cfg, ev)

	if cfg.TUN.Enabled {
		go runBridge(ctx, cfg, cl, bridgeUp)
	}
	errCh <- cl.Run(ctx)
}

// bridgeEvents signals the bridge goroutine on each (re)connection.
type bridgeEvents struct {
	up chan protocol.NetConfig
}

func (b *bridgeEvents) OnConnected(nc protocol.NetConfig) {
	select {
	case b.up <- nc:
	default:
	}
}

func (b *bridgeEvents) OnDisconnected(reason string) {}
func (b *bridgeEvents) OnError(code vpnc.Code, msg string) {
	log.Printf("tunnel error [%s]: %s", code, msg)
}

func runBridge(ctx context.Context, cfg *config.Config, cl *client.Client, up <-chan protocol.NetConfig) {
	for {
		var nc protocol.NetConfig
		select {
		case <-ctx.Done():
			return
		case nc = <-up:
		}

		mtu := cfg.TUN.MTU
		if mtu <= 0 {
			mtu = cfg.Tunnel.MTU
		}
		iface, err := tun.Open(tun.Config{Name: cfg.TUN.Name, MTU: mtu})
		if err != nil {
			log.Printf("tun open failed: %v", err)
			continue
		}
		// Address and route assignment is the operator's job.
		log.Printf("tun %s up, assigned %s", iface.Name(), nc)

		if err := tun.Bridge(ctx, iface, cl.Connection()); err != nil && ctx.Err() == nil {
			log.Printf("tun bridge stopped: %v", err)
		}
	}
}
