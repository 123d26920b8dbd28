package elfloader_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/nanvix/microvm/elfloader"
)

// elf32Ehdr and elf32Phdr mirror the on-disk ELF32 layout (little-endian)
// closely enough to hand-build minimal test fixtures without needing a real
// toolchain in the test.
type elf32Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elf32Phdr struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

const (
	etExec  = 2
	emI386  = 3
	ptLoad  = 1
	pfRX    = 5
	evCur   = 1
	elfMag0 = 0x7f
)

// buildELF32 assembles a single-PT_LOAD ET_EXEC i386 image: ehdr, one phdr,
// then code at the given vaddr/entry.
func buildELF32(t *testing.T, vaddr, entry uint32, code []byte) []byte {
	t.Helper()

	const (
		ehdrSize = 52
		phdrSize = 32
	)

	ehdr := elf32Ehdr{
		Type:      etExec,
		Machine:   emI386,
		Version:   evCur,
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
	}
	ehdr.Ident[0] = elfMag0
	ehdr.Ident[1], ehdr.Ident[2], ehdr.Ident[3] = 'E', 'L', 'F'
	ehdr.Ident[4] = 1 // ELFCLASS32
	ehdr.Ident[5] = 1 // ELFDATA2LSB
	ehdr.Ident[6] = evCur

	phdr := elf32Phdr{
		Type:   ptLoad,
		Offset: ehdrSize + phdrSize,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint32(len(code)),
		Memsz:  uint32(len(code)),
		Flags:  pfRX,
		Align:  0x1000,
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, ehdr); err != nil {
		t.Fatalf("write ehdr: %v", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, phdr); err != nil {
		t.Fatalf("write phdr: %v", err)
	}

	buf.Write(code)

	return buf.Bytes()
}

// buildELF32BSS is buildELF32 with an explicit memsz larger than the code,
// i.e. a .bss tail that the file doesn't carry bytes for.
func buildELF32BSS(t *testing.T, vaddr, entry uint32, code []byte, memsz uint32) []byte {
	t.Helper()

	const (
		ehdrSize = 52
		phdrSize = 32
	)

	ehdr := elf32Ehdr{
		Type:      etExec,
		Machine:   emI386,
		Version:   evCur,
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
	}
	ehdr.Ident[0] = elfMag0
	ehdr.Ident[1], ehdr.Ident[2], ehdr.Ident[3] = 'E', 'L', 'F'
	ehdr.Ident[4] = 1
	ehdr.Ident[5] = 1
	ehdr.Ident[6] = evCur

	phdr := elf32Phdr{
		Type:   ptLoad,
		Offset: ehdrSize + phdrSize,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint32(len(code)),
		Memsz:  memsz,
		Flags:  pfRX,
		Align:  0x1000,
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, ehdr); err != nil {
		t.Fatalf("write ehdr: %v", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, phdr); err != nil {
		t.Fatalf("write phdr: %v", err)
	}

	buf.Write(code)

	return buf.Bytes()
}

type fakeMem struct {
	buf []byte
}

func (m *fakeMem) WriteBytes(addr uint64, data []byte) error {
	if addr+uint64(len(data)) > uint64(len(m.buf)) {
		return errors.New("out of range")
	}

	copy(m.buf[addr:], data)

	return nil
}

func TestLoadValidImage(t *testing.T) {
	t.Parallel()

	code := []byte{0xf4, 0x90, 0x90, 0x90} // hlt; nop; nop; nop
	raw := buildELF32(t, 0x1000, 0x1000, code)

	mem := &fakeMem{buf: make([]byte, 0x10000)}

	img, err := elfloader.Load(bytes.NewReader(raw), mem, 0x10000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if img.Entry != 0x1000 || img.FirstAddress != 0x1000 || img.Size != uint64(len(code)) {
		t.Errorf("got %+v", img)
	}

	if img.Entry < img.FirstAddress || img.Entry >= img.FirstAddress+img.Size {
		t.Errorf("entry %#x not within [%#x, %#x)", img.Entry, img.FirstAddress, img.FirstAddress+img.Size)
	}

	if !bytes.Equal(mem.buf[0x1000:0x1004], code) {
		t.Errorf("segment not copied to guest memory")
	}
}

func TestLoadRejectsNonELF(t *testing.T) {
	t.Parallel()

	mem := &fakeMem{buf: make([]byte, 0x1000)}

	if _, err := elfloader.Load(bytes.NewReader([]byte("not an elf")), mem, 0x1000); !errors.Is(err, elfloader.ErrNotELF32) {
		t.Errorf("got %v, want ErrNotELF32", err)
	}
}

func TestLoadZeroesBSS(t *testing.T) {
	t.Parallel()

	code := []byte{0xf4, 0x90} // hlt; nop
	const memsz = 8
	raw := buildELF32BSS(t, 0x2000, 0x2000, code, memsz)

	mem := &fakeMem{buf: make([]byte, 0x10000)}
	for i := range mem.buf {
		mem.buf[i] = 0xAA // stand-in for guestmem's poison fill
	}

	if _, err := elfloader.Load(bytes.NewReader(raw), mem, 0x10000); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !bytes.Equal(mem.buf[0x2000:0x2000+len(code)], code) {
		t.Errorf("segment bytes not copied to guest memory")
	}

	bss := mem.buf[0x2000+len(code) : 0x2000+memsz]
	for i, b := range bss {
		if b != 0 {
			t.Errorf("bss byte %d = %#x, want 0", i, b)
		}
	}
}

func TestLoadRejectsSegmentOutOfRange(t *testing.T) {
	t.Parallel()

	raw := buildELF32(t, 0xfff0, 0xfff0, make([]byte, 0x100))
	mem := &fakeMem{buf: make([]byte, 0x10000)}

	if _, err := elfloader.Load(bytes.NewReader(raw), mem, 0x10000); !errors.Is(err, elfloader.ErrSegmentOutOfRange) {
		t.Errorf("got %v, want ErrSegmentOutOfRange", err)
	}
}
