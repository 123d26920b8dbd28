// Package vmmio wires emulator.Callbacks to a concrete I/O backend: plain
// host files (-stdin/-stdout/-stderr) or the HTTP gateway (-http).
package vmmio

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/nanvix/microvm/gateway"
	"github.com/nanvix/microvm/message"
)

// FileIO implements emulator.Callbacks over plain host files.
type FileIO struct {
	stderr io.Writer
	stdout io.Writer
	stdin  *bufio.Reader
}

// NewFileIO builds a FileIO backend. stdin/stdout/stderr may be nil; a nil
// stderr defaults to os.Stderr, a nil stdout/stdin make Output/Input
// unavailable (calling them returns an error).
func NewFileIO(stdin io.Reader, stdout, stderr io.Writer) *FileIO {
	if stderr == nil {
		stderr = os.Stderr
	}

	f := &FileIO{stdout: stdout, stderr: stderr}
	if stdin != nil {
		f.stdin = bufio.NewReader(stdin)
	}

	return f
}

// Diagnostic writes a single diagnostic byte to the stderr sink.
func (f *FileIO) Diagnostic(b byte) error {
	_, err := f.stderr.Write([]byte{b})

	return err
}

// Output appends the message payload to the stdout file.
func (f *FileIO) Output(msg *message.Message) error {
	if f.stdout == nil {
		return fmt.Errorf("vmmio: no -stdout file configured")
	}

	_, err := f.stdout.Write(msg.Payload[:])

	return err
}

// Input reads the next sizeof(Message) block from the stdin file. On EOF
// it returns io.EOF unwrapped, which the emulator treats as a clean
// shutdown request rather than a fatal error.
func (f *FileIO) Input() (*message.Message, error) {
	if f.stdin == nil {
		return nil, fmt.Errorf("vmmio: no -stdin file configured")
	}

	buf := make([]byte, message.Size)
	if _, err := io.ReadFull(f.stdin, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}

		return nil, err
	}

	return message.FromBytes(buf)
}

// GatewayIO implements emulator.Callbacks over the HTTP gateway using the
// fan-out broker model: inbound and outbound messages are routed purely by
// PID, with no per-request pairing.
type GatewayIO struct {
	gw *gateway.Gateway
}

// NewGatewayIO adapts gw to emulator.Callbacks.
func NewGatewayIO(gw *gateway.Gateway) *GatewayIO {
	return &GatewayIO{gw: gw}
}

// Diagnostic drops single-byte diagnostics: the gateway has no console
// sink, only structured messages.
func (g *GatewayIO) Diagnostic(b byte) error {
	return nil
}

// Output delivers msg to whichever client owns msg.Dest.
func (g *GatewayIO) Output(msg *message.Message) error {
	g.gw.Deliver(msg)

	return nil
}

// Input blocks for the next inbound client request. The request's own
// Reply channel is unused under the fan-out model: replies are routed
// later, purely by destination PID, through Output/Deliver.
func (g *GatewayIO) Input() (*message.Message, error) {
	req := <-g.gw.Inbound()

	return req.Msg, nil
}
