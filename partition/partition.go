// Package partition owns the hypervisor and VM handles: opening /dev/kvm,
// creating the VM, and verifying the host supports the capabilities this
// module relies on.
package partition

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/nanvix/microvm/kvm"
)

// ErrSyncMMUUnsupported is a fatal configuration error: the host kernel
// does not support synchronous MMU updates, which this module assumes when
// it writes guest memory without explicit TLB-flush coordination.
var ErrSyncMMUUnsupported = errors.New("partition: host does not support CapSyncMMU")

// Partition owns one VM and the /dev/kvm fd that created it.
type Partition struct {
	dev  *os.File
	kvmFd uintptr
	vmFd  uintptr
}

// New opens devPath (typically "/dev/kvm"), creates one VM, and verifies the
// synchronous-MMU capability. Any failure is unrecoverable: the caller
// should treat it as a ConfigError and exit.
func New(devPath string) (*Partition, error) {
	dev, err := os.OpenFile(devPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("partition: open %s: %w", devPath, err)
	}

	kvmFd := dev.Fd()

	support, err := kvm.CheckExtension(kvmFd, kvm.CapSyncMMU)
	if err != nil {
		dev.Close()

		return nil, fmt.Errorf("partition: CheckExtension(CapSyncMMU): %w", err)
	}

	if support == 0 {
		dev.Close()

		return nil, ErrSyncMMUUnsupported
	}

	vmFd, err := kvm.CreateVM(kvmFd)
	if err != nil {
		dev.Close()

		return nil, fmt.Errorf("partition: CreateVM: %w", err)
	}

	return &Partition{dev: dev, kvmFd: kvmFd, vmFd: vmFd}, nil
}

// KVMFd is the raw /dev/kvm descriptor.
func (p *Partition) KVMFd() uintptr { return p.kvmFd }

// VMFd is the raw VM descriptor.
func (p *Partition) VMFd() uintptr { return p.vmFd }

// Close releases the VM and the hypervisor handle, in that order.
func (p *Partition) Close() error {
	if err := syscall.Close(int(p.vmFd)); err != nil {
		p.dev.Close()

		return fmt.Errorf("partition: close vmFd: %w", err)
	}

	return p.dev.Close()
}
