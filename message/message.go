// Package message implements the fixed-size IPC record exchanged between a
// guest, the host VMM, and (when bridged) external HTTP clients.
package message

import (
	"fmt"
	"unsafe"
)

// Type identifies the kind of payload carried by a Message.
type Type uint32

const (
	// Ikc is the only message kind this module currently defines: an
	// inter-kernel-communication record addressed by PID.
	Ikc Type = 1
)

// PayloadSize is the number of bytes reserved for Message.Payload, making
// sizeof(Message) 4+4+4+448 = 460 bytes: a page-aligned 4 KiB guest page
// holds eight whole messages (3680 bytes), with 416 bytes left over.
const PayloadSize = 448

// Message is the wire-stable IPC record. Its memory layout is fixed: no
// field may be reordered, resized, or given implicit padding beyond what is
// declared, since ToBytes/FromBytes alias this layout directly.
type Message struct {
	MessageType Type
	Source      uint32
	Dest        uint32
	Payload     [PayloadSize]byte
}

// Size is sizeof(Message) in bytes.
const Size = int(unsafe.Sizeof(Message{}))

// structBytes returns a byte slice that aliases the memory of v.
// v must be a pointer to a fixed-size struct with no pointer fields.
func structBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// copyStruct fills *dst from a byte slice produced by structBytes.
func copyStruct[T any](dst *T, b []byte) error {
	size := int(unsafe.Sizeof(*dst))
	if len(b) < size {
		return fmt.Errorf("%w: got %d want %d", ErrShortBuffer, len(b), size)
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(dst)), size), b[:size])

	return nil
}

// ToBytes serializes m to its wire representation. The returned slice
// aliases m's own memory; callers that retain it across mutations of m
// should copy it first.
func (m *Message) ToBytes() []byte {
	return structBytes(m)
}

// FromBytes parses a wire-format buffer into a new Message.
func FromBytes(b []byte) (*Message, error) {
	m := &Message{}
	if err := copyStruct(m, b); err != nil {
		return nil, err
	}

	return m, nil
}
