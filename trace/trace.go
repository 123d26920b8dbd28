// Package trace implements the optional every-Nth-instruction disassembly
// log, single-stepping the vCPU and decoding the instruction at RIP.
package trace

import (
	"fmt"
	"io"

	"golang.org/x/arch/x86/x86asm"

	"github.com/nanvix/microvm/kvm"
)

// Stepper is the vCPU surface tracing needs: arm/disarm single-step and read
// registers. Instruction bytes at RIP come from GuestMemory.
type Stepper interface {
	SingleStep(onoff bool) error
	Regs() (*kvm.Regs, error)
}

// GuestMemory is the guest-memory read surface tracing needs.
type GuestMemory interface {
	ReadBytes(addr uint64, buf []byte) error
}

// Tracer logs a disassembly of every every'th instruction the vCPU
// executes (the every'th, 2*every'th, ...). every == 0 disables it.
type Tracer struct {
	every int
	count int
	out   io.Writer
	cpu   Stepper
	mem   GuestMemory
}

// New builds a Tracer. If every is 0, Enabled reports false and Arm and
// LogIfDue are no-ops: callers can construct a Tracer unconditionally and only pay for
// single-stepping when tracing is actually on.
func New(every int, out io.Writer, cpu Stepper, mem GuestMemory) *Tracer {
	return &Tracer{every: every, out: out, cpu: cpu, mem: mem}
}

// Enabled reports whether this Tracer logs anything.
func (t *Tracer) Enabled() bool {
	return t.every > 0
}

// Arm enables single-step exits on the vCPU if tracing is enabled.
func (t *Tracer) Arm() error {
	if !t.Enabled() {
		return nil
	}

	return t.cpu.SingleStep(true)
}

// LogIfDue disassembles and logs the instruction at the current RIP if this
// is the every'th instruction since tracing started.
func (t *Tracer) LogIfDue() error {
	if !t.Enabled() {
		return nil
	}

	t.count++
	if t.count%t.every != 0 {
		return nil
	}

	regs, err := t.cpu.Regs()
	if err != nil {
		return fmt.Errorf("trace: Regs: %w", err)
	}

	insn := make([]byte, 16)
	if err := t.mem.ReadBytes(regs.RIP, insn); err != nil {
		return fmt.Errorf("trace: reading instruction bytes at %#x: %w", regs.RIP, err)
	}

	d, err := x86asm.Decode(insn, 32)
	if err != nil {
		fmt.Fprintf(t.out, "rip=%#x: <undecodable: %v>\n", regs.RIP, err)

		return nil
	}

	fmt.Fprintf(t.out, "rip=%#x: %s\n", regs.RIP, x86asm.GNUSyntax(d, regs.RIP, nil))

	return nil
}
