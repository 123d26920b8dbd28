package emulator_test

import (
	"errors"
	"io"
	"testing"

	"github.com/nanvix/microvm/emulator"
	"github.com/nanvix/microvm/message"
	"github.com/nanvix/microvm/vcpu"
)

type fakeMem struct {
	buf []byte
}

func newFakeMem(size int) *fakeMem {
	return &fakeMem{buf: make([]byte, size)}
}

func (m *fakeMem) ReadBytes(addr uint64, buf []byte) error {
	copy(buf, m.buf[addr:addr+uint64(len(buf))])

	return nil
}

func (m *fakeMem) WriteBytes(addr uint64, data []byte) error {
	copy(m.buf[addr:], data)

	return nil
}

type fakeCallbacks struct {
	diagnostics []byte
	outputs     []*message.Message
	input       *message.Message
	inputErr    error
}

func (c *fakeCallbacks) Diagnostic(b byte) error {
	c.diagnostics = append(c.diagnostics, b)

	return nil
}

func (c *fakeCallbacks) Output(msg *message.Message) error {
	c.outputs = append(c.outputs, msg)

	return nil
}

func (c *fakeCallbacks) Input() (*message.Message, error) {
	return c.input, c.inputErr
}

func exitOut(port uint16, size uint8, value uint32) vcpu.ExitContext {
	return vcpu.ExitContext{Kind: vcpu.ExitPmioOut, Port: port, Size: size, Value: value}
}

func TestDiagnosticByte(t *testing.T) {
	t.Parallel()

	cb := &fakeCallbacks{}
	e := emulator.New(newFakeMem(0x1000), cb)

	resume, err := e.HandlePmioAccess(exitOut(emulator.StdoutPort, 1, 'A'))
	if err != nil {
		t.Fatalf("HandlePmioAccess: %v", err)
	}

	if !resume {
		t.Fatal("resume = false, want true")
	}

	if len(cb.diagnostics) != 1 || cb.diagnostics[0] != 'A' {
		t.Errorf("got diagnostics %v", cb.diagnostics)
	}
}

func TestOutputMessage(t *testing.T) {
	t.Parallel()

	mem := newFakeMem(0x1000)
	cb := &fakeCallbacks{}
	e := emulator.New(mem, cb)

	msg := &message.Message{MessageType: message.Ikc, Source: 1, Dest: 2}
	copy(msg.Payload[:], "hello")

	if err := mem.WriteBytes(0x100, msg.ToBytes()); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	resume, err := e.HandlePmioAccess(exitOut(emulator.StdoutPort, 4, 0x100))
	if err != nil {
		t.Fatalf("HandlePmioAccess: %v", err)
	}

	if !resume {
		t.Fatal("resume = false, want true")
	}

	if len(cb.outputs) != 1 || cb.outputs[0].Source != 1 || cb.outputs[0].Dest != 2 {
		t.Errorf("got outputs %+v", cb.outputs)
	}
}

func TestInputMessage(t *testing.T) {
	t.Parallel()

	mem := newFakeMem(0x1000)
	want := &message.Message{MessageType: message.Ikc, Source: 9, Dest: 4}
	cb := &fakeCallbacks{input: want}
	e := emulator.New(mem, cb)

	resume, err := e.HandlePmioAccess(exitOut(emulator.StdinPort, 4, 0x200))
	if err != nil {
		t.Fatalf("HandlePmioAccess: %v", err)
	}

	if !resume {
		t.Fatal("resume = false, want true")
	}

	buf := make([]byte, message.Size)
	if err := mem.ReadBytes(0x200, buf); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}

	got, err := message.FromBytes(buf)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	if got.Source != want.Source || got.Dest != want.Dest {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestInputEOFRequestsCleanShutdown(t *testing.T) {
	t.Parallel()

	cb := &fakeCallbacks{inputErr: io.EOF}
	e := emulator.New(newFakeMem(0x10), cb)

	resume, err := e.HandlePmioAccess(exitOut(emulator.StdinPort, 4, 0x200))
	if err != nil {
		t.Fatalf("HandlePmioAccess: %v", err)
	}

	if resume {
		t.Fatal("resume = true, want false on stdin EOF")
	}
}

func TestVMMPortRequestsShutdown(t *testing.T) {
	t.Parallel()

	e := emulator.New(newFakeMem(0x10), &fakeCallbacks{})

	resume, err := e.HandlePmioAccess(exitOut(emulator.VMMPort, 4, 0))
	if err != nil {
		t.Fatalf("HandlePmioAccess: %v", err)
	}

	if resume {
		t.Fatal("resume = true, want false")
	}
}

func TestUnsupportedPort(t *testing.T) {
	t.Parallel()

	e := emulator.New(newFakeMem(0x10), &fakeCallbacks{})

	if _, err := e.HandlePmioAccess(exitOut(0x3f8, 1, 0)); !errors.Is(err, emulator.ErrUnsupportedPort) {
		t.Errorf("got %v, want ErrUnsupportedPort", err)
	}
}

func TestUnsupportedPortRead(t *testing.T) {
	t.Parallel()

	e := emulator.New(newFakeMem(0x10), &fakeCallbacks{})

	exit := vcpu.ExitContext{Kind: vcpu.ExitPmioIn, Port: emulator.StdoutPort, Size: 1}

	if _, err := e.HandlePmioAccess(exit); !errors.Is(err, emulator.ErrUnsupportedPortRead) {
		t.Errorf("got %v, want ErrUnsupportedPortRead", err)
	}
}

func TestInvalidOperandSize(t *testing.T) {
	t.Parallel()

	e := emulator.New(newFakeMem(0x10), &fakeCallbacks{})

	if _, err := e.HandlePmioAccess(exitOut(emulator.StdoutPort, 2, 0)); !errors.Is(err, emulator.ErrInvalidOperandSize) {
		t.Errorf("got %v, want ErrInvalidOperandSize", err)
	}
}
