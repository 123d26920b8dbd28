// Package vcpu wraps a single KVM virtual CPU: creation, the boot register
// convention this module's guests use, and vmexit classification into
// port-mapped I/O accesses.
package vcpu

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/nanvix/microvm/kvm"
)

// ExitKind classifies a vmexit the way the emulator needs to see it.
type ExitKind int

const (
	// ExitUnknown covers every vmexit this module does not emulate:
	// MMIO, hypercall, exception, halt, shutdown, fail-entry, NMI,
	// internal error, and anything else.
	ExitUnknown ExitKind = iota
	// ExitPmioIn is a port-mapped IN: the guest is reading from a port.
	ExitPmioIn
	// ExitPmioOut is a port-mapped OUT: the guest is writing to a port.
	ExitPmioOut
	// ExitDebug is a single-step trap, only produced while SingleStep(true)
	// is armed; the caller is expected to log and resume, not treat it as
	// fatal like other Unknown exits.
	ExitDebug
)

// ExitContext describes one vmexit.
type ExitContext struct {
	Kind ExitKind
	Port uint16
	// Size is the PMIO operand width in bytes (1, 2, or 4).
	Size uint8
	// Value is the little-endian-packed operand for ExitPmioOut.
	Value uint32
}

// VCPU is one guest virtual processor.
type VCPU struct {
	fd     uintptr
	region []byte
	run    *kvm.RunData
	online bool
}

// New creates vCPU number id within the VM identified by vmFd and maps its
// kvm_run shared-memory region.
func New(kvmFd, vmFd uintptr, id int) (*VCPU, error) {
	fd, err := kvm.CreateVCPU(vmFd, id)
	if err != nil {
		return nil, fmt.Errorf("vcpu: CreateVCPU: %w", err)
	}

	mmapSize, err := kvm.GetVCPUMMmapSize(kvmFd)
	if err != nil {
		return nil, fmt.Errorf("vcpu: GetVCPUMMmapSize: %w", err)
	}

	region, err := syscall.Mmap(int(fd), 0, int(mmapSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("vcpu: mmap kvm_run: %w", err)
	}

	return &VCPU{
		fd:     fd,
		region: region,
		run:    (*kvm.RunData)(unsafe.Pointer(&region[0])),
	}, nil
}

// Reset zeros the code-segment base/selector (the other segments keep the
// hypervisor's reset values), sets rip/rax/rbx/rflags per this module's boot
// convention, and marks the vCPU online.
func (v *VCPU) Reset(rip, rax, rbx uint64) error {
	sregs, err := kvm.GetSregs(v.fd)
	if err != nil {
		return fmt.Errorf("vcpu: GetSregs: %w", err)
	}

	sregs.CS.Base, sregs.CS.Selector = 0, 0

	if err := kvm.SetSregs(v.fd, sregs); err != nil {
		return fmt.Errorf("vcpu: SetSregs: %w", err)
	}

	regs := &kvm.Regs{
		RIP:    rip,
		RAX:    rax,
		RBX:    rbx,
		RFLAGS: 2,
	}

	if err := kvm.SetRegs(v.fd, regs); err != nil {
		return fmt.Errorf("vcpu: SetRegs: %w", err)
	}

	v.online = true

	return nil
}

// PowerOff marks the vCPU offline; the run loop observes this and stops.
func (v *VCPU) PowerOff() {
	v.online = false
}

// IsOnline reports whether the vCPU should still be run.
func (v *VCPU) IsOnline() bool {
	return v.online
}

// SingleStep arms or disarms per-instruction debug exits, for the optional
// instruction trace.
func (v *VCPU) SingleStep(onoff bool) error {
	return kvm.SingleStep(v.fd, onoff)
}

// Regs returns the vCPU's current general-purpose registers.
func (v *VCPU) Regs() (*kvm.Regs, error) {
	return kvm.GetRegs(v.fd)
}

// Run executes the guest until the next vmexit and classifies it.
func (v *VCPU) Run() (ExitContext, error) {
	if err := kvm.Run(v.fd); err != nil {
		return ExitContext{}, fmt.Errorf("vcpu: Run: %w", err)
	}

	switch kvm.ExitType(v.run.ExitReason) {
	case kvm.EXITIO:
		direction, size, port, _, offset := v.run.IO()

		if direction == kvm.EXITIOIN {
			return ExitContext{Kind: ExitPmioIn, Port: uint16(port), Size: uint8(size)}, nil
		}

		data := (*(*[8]byte)(unsafe.Pointer(uintptr(unsafe.Pointer(v.run)) + uintptr(offset))))[:size]

		var value uint32
		for i := len(data) - 1; i >= 0; i-- {
			value = value<<8 | uint32(data[i])
		}

		return ExitContext{Kind: ExitPmioOut, Port: uint16(port), Size: uint8(size), Value: value}, nil

	case kvm.EXITDEBUG:
		return ExitContext{Kind: ExitDebug}, nil

	default:
		return ExitContext{Kind: ExitUnknown}, nil
	}
}

// Close unmaps the kvm_run region. The underlying vCPU fd is released when
// the owning partition's VM fd is closed.
func (v *VCPU) Close() error {
	return syscall.Munmap(v.region)
}
