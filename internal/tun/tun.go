// Package tun opens the local TUN device and bridges it to a tunnel
// connection. Assigning addresses and routes to the device is left to
// the operator.
package tun

import (
	"github.com/songgao/water"
)

// Config holds TUN device configuration.
type Config struct {
	Name string
	MTU  int
}

// Open creates a TUN interface and applies the MTU.
func Open(cfg Config) (*water.Interface, error) {
	wcfg := water.Config{DeviceType: water.TUN}
	if cfg.Name != "" {
		wcfg.Name = cfg.Name
	}
	iface, err := water.New(wcfg)
	if err != nil {
		return nil, err
	}
	if cfg.MTU > 0 {
		if err := setMTU(iface.Name(), cfg.MTU); err != nil {
			_ = iface.Close()
			return nil, err
		}
	}
	return iface, nil
}
