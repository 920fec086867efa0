//go:build !linux && !darwin

package tun

import "errors"

func setMTU(name string, mtu int) error {
	if mtu <= 0 {
		return nil
	}
	return errors.New("setting MTU is not supported on this OS")
}
