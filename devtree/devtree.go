// Package devtree parses the flattened device tree (FDT) blob a boot loader
// hands the kernel: the header, and the memory-reservation block that
// follows it. Everything here is big-endian, per the FDT spec, and is read
// directly out of the byte image handed in by the caller (the real kernel
// reads it out of physical memory at a fixed boot-time address; this
// simulation has no physical memory, so the blob is just a []byte — see
// DESIGN.md).
package devtree

import (
	"encoding/binary"
	"fmt"
)

// Magic is the fixed FDT magic number every blob must start with.
const Magic = 0xD00DFEED

// ExpectedVersion and LastCompVersion are the header version fields this
// kernel requires; a blob with any other version is rejected outright
// rather than handled generically, matching the original's panic-on-
// mismatch behavior (this kernel supports exactly one FDT version, not a
// version range).
const (
	ExpectedVersion  = 17
	LastCompVersion  = 16
	headerFieldCount = 10
	headerSize       = headerFieldCount * 4
)

// Header is the fixed-size FDT header block.
type Header struct {
	Magic            uint32
	TotalSize        uint32
	OffsetDtStruct   uint32
	OffsetDtStrings  uint32
	OffsetMemRsvmap  uint32
	Version          uint32
	LastCompVersion  uint32
	BootCpuidPhys    uint32
	SizeDtStrings    uint32
	SizeDtStruct     uint32
}

// ParseHeader reads and validates the FDT header from the start of blob.
// It panics on a short buffer, a bad magic number, or an unsupported
// version — an invalid device tree is not a recoverable condition this
// early in boot, per spec.md §7's "invariant violation" category.
func ParseHeader(blob []byte) Header {
	if len(blob) < headerSize {
		panic(fmt.Sprintf("devtree: blob too small for header: %d bytes", len(blob)))
	}
	fields := make([]uint32, headerFieldCount)
	for i := range fields {
		fields[i] = binary.BigEndian.Uint32(blob[i*4:])
	}
	h := Header{
		Magic:           fields[0],
		TotalSize:       fields[1],
		OffsetDtStruct:  fields[2],
		OffsetDtStrings: fields[3],
		OffsetMemRsvmap: fields[4],
		Version:         fields[5],
		LastCompVersion: fields[6],
		BootCpuidPhys:   fields[7],
		SizeDtStrings:   fields[8],
		SizeDtStruct:    fields[9],
	}
	if h.Magic != Magic {
		panic(fmt.Sprintf("devtree: invalid magic: expected %#x, got %#x", uint32(Magic), h.Magic))
	}
	if h.Version != ExpectedVersion {
		panic(fmt.Sprintf("devtree: unsupported version: expected %d, got %d", ExpectedVersion, h.Version))
	}
	if h.LastCompVersion != LastCompVersion {
		panic(fmt.Sprintf("devtree: unsupported last compatible version: expected %d, got %d", LastCompVersion, h.LastCompVersion))
	}
	return h
}

// Reservation is one entry of the memory-reservation block: a physical
// address range the boot loader has claimed and the kernel must not hand
// out via the buddy allocator.
type Reservation struct {
	Address uint64
	Size    uint64
}

// ParseReservations reads the memory-reservation block starting at
// h.OffsetMemRsvmap within blob. The block is a sequence of (address, size)
// big-endian uint64 pairs, terminated by a (0, 0) entry, per the FDT
// format.
func ParseReservations(blob []byte, h Header) []Reservation {
	off := int(h.OffsetMemRsvmap)
	var out []Reservation
	for {
		if off+16 > len(blob) {
			panic("devtree: memory reservation block runs past end of blob")
		}
		addr := binary.BigEndian.Uint64(blob[off:])
		size := binary.BigEndian.Uint64(blob[off+8:])
		off += 16
		if addr == 0 && size == 0 {
			break
		}
		out = append(out, Reservation{Address: addr, Size: size})
	}
	return out
}
