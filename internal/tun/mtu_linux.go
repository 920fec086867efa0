//go:build linux

package tun

import (
	"fmt"
	"os/exec"
)

func setMTU(name string, mtu int) error {
	if mtu <= 0 {
		return nil
	}
	cmd := exec.Command("ip", "link", "set", "dev", name, "mtu", fmt.Sprintf("%d", mtu))
	return cmd.Run()
}
