// Package elfloader validates and places a 32-bit i386 ELF executable into
// guest memory.
package elfloader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotELF32 is returned for anything but a 32-bit little-endian
	// EM_386 ET_EXEC image.
	ErrNotELF32 = errors.New("elfloader: not a 32-bit little-endian i386 ET_EXEC image")

	// ErrSegmentOutOfRange is returned when a PT_LOAD segment would not
	// fit within the configured guest memory.
	ErrSegmentOutOfRange = errors.New("elfloader: PT_LOAD segment out of range")

	// ErrEmptyImage is returned when an ELF file has no PT_LOAD segments.
	ErrEmptyImage = errors.New("elfloader: image has no loadable segments")
)

// Writer is the guest-memory write surface the loader needs. guestmem.Memory
// satisfies it.
type Writer interface {
	WriteBytes(addr uint64, data []byte) error
}

// Image describes where a loaded ELF landed in guest memory.
type Image struct {
	Entry        uint64
	FirstAddress uint64
	Size         uint64
}

// Load validates r as a 32-bit i386 ET_EXEC image, copies each PT_LOAD
// segment's file bytes into mem at its p_vaddr, and returns the resulting
// Image. memSize bounds every segment: p_vaddr+p_memsz must not exceed it.
func Load(r io.ReaderAt, mem Writer, memSize uint64) (Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrNotELF32, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB ||
		f.Type != elf.ET_EXEC || f.Machine != elf.EM_386 {
		return Image{}, fmt.Errorf("%w: class=%v data=%v type=%v machine=%v",
			ErrNotELF32, f.Class, f.Data, f.Type, f.Machine)
	}

	var (
		firstAddr = ^uint64(0)
		lastEnd   uint64
		loaded    bool
	)

	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}

		end := p.Vaddr + p.Memsz
		if end > memSize {
			return Image{}, fmt.Errorf("%w: segment %d [%#x,%#x) vs memory size %#x",
				ErrSegmentOutOfRange, i, p.Vaddr, end, memSize)
		}

		buf := make([]byte, p.Filesz)
		if _, err := p.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
			return Image{}, fmt.Errorf("elfloader: reading segment %d: %w", i, err)
		}

		if err := mem.WriteBytes(p.Vaddr, buf); err != nil {
			return Image{}, fmt.Errorf("elfloader: loading segment %d: %w", i, err)
		}

		// [p_filesz, p_memsz) is zero-initialized data (.bss): overwrite the
		// poison guestmem.New pre-filled it with.
		if p.Memsz > p.Filesz {
			if err := mem.WriteBytes(p.Vaddr+p.Filesz, make([]byte, p.Memsz-p.Filesz)); err != nil {
				return Image{}, fmt.Errorf("elfloader: zeroing bss of segment %d: %w", i, err)
			}
		}

		if p.Vaddr < firstAddr {
			firstAddr = p.Vaddr
		}

		if end > lastEnd {
			lastEnd = end
		}

		loaded = true
	}

	if !loaded {
		return Image{}, ErrEmptyImage
	}

	return Image{
		Entry:        f.Entry,
		FirstAddress: firstAddr,
		Size:         lastEnd - firstAddr,
	}, nil
}
