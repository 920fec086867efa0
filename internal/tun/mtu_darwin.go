//go:build darwin

package tun

import (
	"fmt"
	"os/exec"
)

func setMTU(name string, mtu int) error {
	if mtu <= 0 {
		return nil
	}
	cmd := exec.Command("ifconfig", name, "mtu", fmt.Sprintf("%d", mtu))
	return cmd.Run()
}
