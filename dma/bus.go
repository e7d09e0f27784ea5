// Package dma gives PDC-equipped peripherals byte-granular access into CPU
// address space, independent of the 32-bit-only mmio.Router path the CPU
// itself uses. It implements pdc.Memory.
package dma

import "github.com/isis-obc/iobcsim/mmio"

// ByteMemory is implemented by any backing store addressable a byte at a
// time (mem.Block satisfies this).
type ByteMemory interface {
	ReadByte(offset uint32) byte
	WriteByte(offset uint32, val byte)
}

type region struct {
	base uint32
	size uint32
	mem  ByteMemory
}

// Bus routes a flat address to whichever registered region contains it.
type Bus struct {
	regions []region
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register adds a byte-addressable backing store at [base, base+size).
func (b *Bus) Register(base, size uint32, mem ByteMemory) {
	b.regions = append(b.regions, region{base: base, size: size, mem: mem})
}

func (b *Bus) find(addr uint32) *region {
	for i := range b.regions {
		r := &b.regions[i]
		if addr >= r.base && addr < r.base+r.size {
			return r
		}
	}
	return nil
}

// ReadByte implements pdc.Memory.
func (b *Bus) ReadByte(addr uint32) byte {
	r := b.find(addr)
	if r == nil {
		mmio.Abort("dma", addr, 0, "DMA read from unmapped address")
	}
	return r.mem.ReadByte(addr - r.base)
}

// WriteByte implements pdc.Memory.
func (b *Bus) WriteByte(addr uint32, val byte) {
	r := b.find(addr)
	if r == nil {
		mmio.Abort("dma", addr, uint32(val), "DMA write to unmapped address")
	}
	r.mem.WriteByte(addr-r.base, val)
}
