// Package guestmem manages the guest's single physical memory region: an
// anonymous host mapping registered with the hypervisor as guest physical
// address 0, with byte-granular bounds-checked access for loaders and the
// emulator.
package guestmem

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"github.com/nanvix/microvm/kvm"
)

// ErrOutOfRange is returned by ReadBytes/WriteBytes when the access would
// leave [0, Size()).
var ErrOutOfRange = errors.New("guestmem: access out of range")

// Poison is a short instruction sequence (mov eax,0xcafebabe; nop; ud2) that
// forces a vmexit. Memory is pre-filled with it before anything is loaded,
// so stray execution into never-loaded memory traps instead of running
// whatever zero bytes happen to decode to.
const Poison = "\xB8\xBE\xBA\xFE\xCA\x90\x0F\x0B"

// Memory is the guest's single RAM region, slot 0 at guest address 0.
type Memory struct {
	buf []byte
}

// New allocates size bytes of anonymous memory, poisons it, and registers
// it with the VM identified by vmFd as guest physical address 0, slot 0.
func New(kvmFd, vmFd uintptr, size int) (*Memory, error) {
	if _, err := kvm.CheckExtension(kvmFd, kvm.CapUserMemory); err != nil {
		return nil, fmt.Errorf("check CapUserMemory: %w", err)
	}

	buf, err := syscall.Mmap(-1, 0, size, syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_SHARED|syscall.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap guest memory: %w", err)
	}

	for i := 0; i < len(buf); i += len(Poison) {
		copy(buf[i:], Poison)
	}

	m := &Memory{buf: buf}

	region := &kvm.UserspaceMemoryRegion{
		Slot:          0,
		GuestPhysAddr: 0,
		MemorySize:    uint64(size),
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&buf[0]))),
	}

	if err := kvm.SetUserMemoryRegion(vmFd, region); err != nil {
		return nil, fmt.Errorf("SetUserMemoryRegion: %w", err)
	}

	return m, nil
}

// Size returns the guest memory region's size in bytes.
func (m *Memory) Size() int {
	return len(m.buf)
}

// ReadBytes copies len(buf) bytes starting at addr into buf.
func (m *Memory) ReadBytes(addr uint64, buf []byte) error {
	if addr+uint64(len(buf)) > uint64(len(m.buf)) {
		return fmt.Errorf("%w: read [%#x, %#x) vs size %#x", ErrOutOfRange, addr, addr+uint64(len(buf)), len(m.buf))
	}

	copy(buf, m.buf[addr:addr+uint64(len(buf))])

	return nil
}

// WriteBytes copies data into the guest memory starting at addr.
func (m *Memory) WriteBytes(addr uint64, data []byte) error {
	if addr+uint64(len(data)) > uint64(len(m.buf)) {
		return fmt.Errorf("%w: write [%#x, %#x) vs size %#x", ErrOutOfRange, addr, addr+uint64(len(data)), len(m.buf))
	}

	copy(m.buf[addr:], data)

	return nil
}

// Bytes exposes the raw backing slice; MicroVM.Close unmaps it through this.
// Callers must respect the same bounds ReadBytes/WriteBytes enforce.
func (m *Memory) Bytes() []byte {
	return m.buf
}
