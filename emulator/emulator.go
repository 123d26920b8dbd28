// Package emulator interprets the port-mapped I/O exits this module's
// guest ABI relies on: a diagnostic byte port, a message-exchange pair of
// ports, and a shutdown-request port.
package emulator

import (
	"errors"
	"fmt"
	"io"

	"github.com/nanvix/microvm/message"
	"github.com/nanvix/microvm/vcpu"
)

// Port numbers this module's guest ABI defines. Any other port is
// ErrUnsupportedPort.
const (
	StdoutPort = 0xE9
	StdinPort  = 0xEA
	VMMPort    = 0x604
)

var (
	// ErrUnsupportedPort is returned for an OUT to a port this module does
	// not emulate.
	ErrUnsupportedPort = errors.New("emulator: unsupported port")

	// ErrUnsupportedPortRead is returned for any IN: this guest ABI is
	// OUT-driven only.
	ErrUnsupportedPortRead = errors.New("emulator: unsupported port read")

	// ErrInvalidOperandSize is returned when an OUT to STDOUT carries an
	// operand size other than 1 (diagnostic byte) or 4 (message pointer), or
	// an OUT to STDIN carries an operand size other than 4.
	ErrInvalidOperandSize = errors.New("emulator: invalid operand size")
)

// GuestMemory is the read/write surface the emulator needs from guest
// physical memory. guestmem.Memory satisfies it.
type GuestMemory interface {
	ReadBytes(addr uint64, buf []byte) error
	WriteBytes(addr uint64, data []byte) error
}

// Callbacks are the host-side handlers for the two message-bearing ports.
type Callbacks interface {
	// Diagnostic handles a single-byte OUT to STDOUT_PORT, used for the
	// guest's early console output.
	Diagnostic(b byte) error
	// Output handles a 4-byte (message-pointer) OUT to STDOUT_PORT: msg is
	// the Message the guest placed at the pointed-to address.
	Output(msg *message.Message) error
	// Input handles a 4-byte (message-pointer) OUT to STDIN_PORT: the
	// returned Message is written back to the pointed-to address.
	Input() (*message.Message, error)
}

// Emulator dispatches port-mapped I/O exits to Callbacks.
type Emulator struct {
	mem GuestMemory
	cb  Callbacks
}

// New builds an Emulator reading/writing guest memory through mem and
// invoking cb for STDOUT/STDIN traffic.
func New(mem GuestMemory, cb Callbacks) *Emulator {
	return &Emulator{mem: mem, cb: cb}
}

// HandlePmioAccess dispatches one PMIO vmexit. resume reports whether the
// vCPU should continue running; false with a nil error means a clean
// shutdown, requested by the guest via VMMPort or by an OUT to StdinPort
// once the input source reports io.EOF.
func (e *Emulator) HandlePmioAccess(exit vcpu.ExitContext) (resume bool, err error) {
	switch exit.Kind {
	case vcpu.ExitPmioIn:
		return false, fmt.Errorf("port %#x: %w", exit.Port, ErrUnsupportedPortRead)

	case vcpu.ExitPmioOut:
		return e.handleOut(exit)

	default:
		return false, fmt.Errorf("emulator: exit is not a PMIO access")
	}
}

func (e *Emulator) handleOut(exit vcpu.ExitContext) (bool, error) {
	switch exit.Port {
	case StdoutPort:
		return true, e.handleStdout(exit)

	case StdinPort:
		return e.handleStdin(exit)

	case VMMPort:
		return false, nil

	default:
		return false, fmt.Errorf("port %#x: %w", exit.Port, ErrUnsupportedPort)
	}
}

func (e *Emulator) handleStdout(exit vcpu.ExitContext) error {
	switch exit.Size {
	case 1:
		return e.cb.Diagnostic(byte(exit.Value))

	case 4:
		buf := make([]byte, message.Size)
		if err := e.mem.ReadBytes(uint64(exit.Value), buf); err != nil {
			return fmt.Errorf("emulator: reading message from guest: %w", err)
		}

		msg, err := message.FromBytes(buf)
		if err != nil {
			return fmt.Errorf("emulator: decoding message: %w", err)
		}

		return e.cb.Output(msg)

	default:
		return fmt.Errorf("stdout size %d: %w", exit.Size, ErrInvalidOperandSize)
	}
}

// handleStdin returns resume=false, nil when cb.Input reports io.EOF: a
// closed stdin source is a clean shutdown request, not a fatal error.
func (e *Emulator) handleStdin(exit vcpu.ExitContext) (bool, error) {
	if exit.Size != 4 {
		return false, fmt.Errorf("stdin size %d: %w", exit.Size, ErrInvalidOperandSize)
	}

	msg, err := e.cb.Input()
	if errors.Is(err, io.EOF) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("emulator: getting input message: %w", err)
	}

	// Every message handed to the guest is inter-kernel communication,
	// regardless of what the backend carried it in as.
	msg.MessageType = message.Ikc

	if err := e.mem.WriteBytes(uint64(exit.Value), msg.ToBytes()); err != nil {
		return false, fmt.Errorf("emulator: writing message to guest: %w", err)
	}

	return true, nil
}
