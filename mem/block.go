// Package mem implements the plain byte-addressed memory backing stores
// (ROM, SRAM, NOR-flash/SDRAM-via-EBI) that bootmem.Alias switches between.
// These are not peripherals in the datasheet sense; they are the real
// storage that the address-0 boot alias points into.
package mem

import (
	"encoding/binary"

	"github.com/isis-obc/iobcsim/mmio"
)

// Block is a flat, little-endian, 32-bit addressable memory region.
type Block struct {
	Name     string
	data     []byte
	ReadOnly bool
}

var _ mmio.Device = (*Block)(nil)

// NewBlock allocates a zeroed block of the given size in bytes.
func NewBlock(name string, size uint32, readOnly bool) *Block {
	return &Block{Name: name, data: make([]byte, size), ReadOnly: readOnly}
}

// Read32 reads a little-endian 32-bit word. Offsets past the end of the
// block are a wiring bug (the region registered with the router should
// never exceed the backing size) and abort.
func (b *Block) Read32(offset uint32) uint32 {
	if int(offset)+4 > len(b.data) {
		mmio.Abort(b.Name, offset, 0, "read past end of memory block (size %d)", len(b.data))
	}
	return binary.LittleEndian.Uint32(b.data[offset:])
}

// Write32 writes a little-endian 32-bit word. Writes to a read-only block
// (e.g. internal ROM) are silently ignored, matching real NOR/ROM behavior
// rather than corrupting flight software's view of memory.
func (b *Block) Write32(offset uint32, val uint32) {
	if int(offset)+4 > len(b.data) {
		mmio.Abort(b.Name, offset, val, "write past end of memory block (size %d)", len(b.data))
	}
	if b.ReadOnly {
		return
	}
	binary.LittleEndian.PutUint32(b.data[offset:], val)
}

// Size returns the block's capacity in bytes.
func (b *Block) Size() uint32 {
	return uint32(len(b.data))
}

// Load copies data into the block starting at offset, for bios/NOR image
// loading and test fixture setup. It bypasses the read-only flag since it
// models how the image gets there in the first place (flashed/mapped),
// not a CPU store.
func (b *Block) Load(offset uint32, data []byte) {
	if int(offset)+len(data) > len(b.data) {
		mmio.Abort(b.Name, offset, 0, "load past end of memory block (size %d)", len(b.data))
	}
	copy(b.data[offset:], data)
}

// Bytes exposes the raw backing slice for read-only use by callers, such
// as tests comparing byte-for-byte alias contents.
func (b *Block) Bytes() []byte {
	return b.data
}

// ReadByte and WriteByte give PDC-style DMA byte-granular access to the
// block, independent of the CPU's 32-bit-only mmio.Device path.
func (b *Block) ReadByte(offset uint32) byte {
	if int(offset) >= len(b.data) {
		mmio.Abort(b.Name, offset, 0, "DMA read past end of memory block (size %d)", len(b.data))
	}
	return b.data[offset]
}

func (b *Block) WriteByte(offset uint32, val byte) {
	if int(offset) >= len(b.data) {
		mmio.Abort(b.Name, offset, uint32(val), "DMA write past end of memory block (size %d)", len(b.data))
	}
	if b.ReadOnly {
		return
	}
	b.data[offset] = val
}
