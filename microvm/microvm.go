// Package microvm composes the partition, guest memory, vCPU, and emulator
// into the single-vCPU VM façade the CLI and gateway drive.
package microvm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"syscall"

	"github.com/nanvix/microvm/elfloader"
	"github.com/nanvix/microvm/emulator"
	"github.com/nanvix/microvm/guestmem"
	"github.com/nanvix/microvm/partition"
	"github.com/nanvix/microvm/trace"
	"github.com/nanvix/microvm/vcpu"
)

// MicroVMMagic is placed in rax at reset so the guest can recognize it is
// running under this hypervisor's boot convention.
const MicroVMMagic = 0x0c00ffee

// InitrdBase is the fixed guest physical address the initrd is always
// loaded at.
const InitrdBase = 0x0080_0000

// ErrInitrdOverlapsKernel is returned by LoadInitrd when the initrd extent
// would overlap the already-loaded kernel image or extend past the end of
// guest memory.
var ErrInitrdOverlapsKernel = errors.New("microvm: initrd overlaps kernel image")

// ErrUnknownExit is the fatal error the run loop raises when the vCPU
// reports an exit this module does not emulate.
var ErrUnknownExit = errors.New("microvm: unknown vmexit")

// image records where a loaded ELF landed in guest memory.
type image struct {
	entry, firstVaddr, size uint64
}

// MicroVM owns one partition, one guest memory region, and one vCPU.
type MicroVM struct {
	part *partition.Partition
	mem  *guestmem.Memory
	cpu  *vcpu.VCPU

	kernel image
	initrd image

	tracer *trace.Tracer
}

// New acquires a partition, allocates memSize bytes of guest memory, and
// creates vCPU 0. devPath is typically "/dev/kvm".
func New(devPath string, memSize int) (*MicroVM, error) {
	part, err := partition.New(devPath)
	if err != nil {
		return nil, err
	}

	mem, err := guestmem.New(part.KVMFd(), part.VMFd(), memSize)
	if err != nil {
		part.Close()

		return nil, fmt.Errorf("microvm: %w", err)
	}

	cpu, err := vcpu.New(part.KVMFd(), part.VMFd(), 0)
	if err != nil {
		part.Close()

		return nil, fmt.Errorf("microvm: %w", err)
	}

	return &MicroVM{part: part, mem: mem, cpu: cpu}, nil
}

// Close releases the vCPU, memory, and partition handles.
func (m *MicroVM) Close() error {
	if err := m.cpu.Close(); err != nil {
		m.part.Close()

		return fmt.Errorf("microvm: close vcpu: %w", err)
	}

	if err := syscall.Munmap(m.mem.Bytes()); err != nil {
		m.part.Close()

		return fmt.Errorf("microvm: unmap guest memory: %w", err)
	}

	return m.part.Close()
}

// LoadKernel loads a 32-bit i386 ELF image from path and returns its entry
// point.
func (m *MicroVM) LoadKernel(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("microvm: open kernel: %w", err)
	}
	defer f.Close()

	img, err := elfloader.Load(f, m.mem, uint64(m.mem.Size()))
	if err != nil {
		return 0, fmt.Errorf("microvm: load kernel: %w", err)
	}

	m.kernel = image{entry: img.Entry, firstVaddr: img.FirstAddress, size: img.Size}

	return img.Entry, nil
}

// LoadInitrd copies the file at path into guest memory at InitrdBase,
// rejecting an overlap with the already-loaded kernel extent.
func (m *MicroVM) LoadInitrd(path string) (base, size uint64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("microvm: read initrd: %w", err)
	}

	size = uint64(len(data))

	if InitrdBase+size > uint64(m.mem.Size()) {
		return 0, 0, fmt.Errorf("%w: extends past memory size", ErrInitrdOverlapsKernel)
	}

	kernelEnd := m.kernel.firstVaddr + m.kernel.size
	initrdEnd := InitrdBase + size

	if InitrdBase < kernelEnd && m.kernel.firstVaddr < initrdEnd {
		return 0, 0, ErrInitrdOverlapsKernel
	}

	if err := m.mem.WriteBytes(InitrdBase, data); err != nil {
		return 0, 0, fmt.Errorf("microvm: load initrd: %w", err)
	}

	m.initrd = image{firstVaddr: InitrdBase, size: size}

	return InitrdBase, size, nil
}

// Reset arms the vCPU at the loaded kernel's entry point with this module's
// boot register convention.
func (m *MicroVM) Reset() error {
	rbx := (m.initrd.firstVaddr & 0xFFFFF000) | ((m.initrd.size >> 12) & 0xFFF)

	return m.cpu.Reset(m.kernel.entry, MicroVMMagic, rbx)
}

// EnableTrace builds a Tracer logging a disassembly of every every'th
// instruction to out, arms single-step exits on the vCPU, and wires it into
// Run. every == 0 disables tracing as a safe no-op.
func (m *MicroVM) EnableTrace(every int, out io.Writer) error {
	t := trace.New(every, out, m.cpu, m.mem)
	m.tracer = t

	return t.Arm()
}

// Run drives the vCPU until it goes offline, dispatching every PMIO exit to
// an Emulator built from cb. The calling goroutine is locked to its OS
// thread for the duration, since the vCPU fd is only valid from the thread
// that issues KVM_RUN.
func (m *MicroVM) Run(cb emulator.Callbacks) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	emu := emulator.New(m.mem, cb)

	for m.cpu.IsOnline() {
		exit, err := m.cpu.Run()
		if err != nil {
			return fmt.Errorf("microvm: run: %w", err)
		}

		switch exit.Kind {
		case vcpu.ExitPmioIn, vcpu.ExitPmioOut:
			resume, err := emu.HandlePmioAccess(exit)
			if err != nil {
				return fmt.Errorf("microvm: %w", err)
			}

			if !resume {
				m.cpu.PowerOff()
			}

		case vcpu.ExitDebug:
			if m.tracer == nil {
				return ErrUnknownExit
			}

			if err := m.tracer.LogIfDue(); err != nil {
				return fmt.Errorf("microvm: %w", err)
			}

		default:
			return ErrUnknownExit
		}
	}

	return nil
}
