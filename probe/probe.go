// Package probe checks host KVM capabilities this module relies on and
// reports them, without creating a VM.
package probe

import (
	"fmt"
	"os"

	"github.com/nanvix/microvm/kvm"
)

// capabilities names the capabilities this module actually checks, paired
// with a human-readable note on what breaks if the host lacks them.
var capabilities = []struct {
	cap  kvm.Capability
	note string
}{
	{kvm.CapSyncMMU, "guest memory writes may not be visible to the guest without this"},
	{kvm.CapUserMemory, "guest memory regions cannot be registered without this"},
	{kvm.CapSetTSSAddr, "required by some KVM backends to enter protected mode cleanly"},
}

// Capabilities opens devPath, checks every capability this module uses, and
// prints one line per capability to stdout.
func Capabilities(devPath string) error {
	dev, err := os.OpenFile(devPath, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("probe: open %s: %w", devPath, err)
	}
	defer dev.Close()

	kvmFd := dev.Fd()

	apiVersion, err := kvm.GetAPIVersion(kvmFd)
	if err != nil {
		return fmt.Errorf("probe: GetAPIVersion: %w", err)
	}

	fmt.Printf("KVM API version: %d\n", apiVersion)

	for _, c := range capabilities {
		support, err := kvm.CheckExtension(kvmFd, c.cap)
		if err != nil {
			return fmt.Errorf("probe: CheckExtension(%s): %w", c.cap, err)
		}

		status := "supported"
		if support == 0 {
			status = "UNSUPPORTED: " + c.note
		}

		fmt.Printf("%-24s %s\n", c.cap, status)
	}

	return nil
}
