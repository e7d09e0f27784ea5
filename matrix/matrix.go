// Package matrix implements the Bus Matrix's remap control register
// (MRCR) and its SCFG sibling. MRCR's REMAP bit is the single-valued field
// that selects which backing store the boot-memory alias exposes at
// address 0; SCFG carries default bus-master priority and is modeled for
// register-map completeness without further behavior attached.
package matrix

import (
	"github.com/isis-obc/iobcsim/internal/bits"
	"github.com/isis-obc/iobcsim/mmio"
)

const (
	offMRCR = 0x00
	offSCFG = 0x10

	mrcrRemapBit = 0
)

// Remapper is the capability a bootmem.Alias exposes to MATRIX: flip the
// live alias target.
type Remapper interface {
	SetRemapped(remapped bool)
}

// Controller is the MATRIX register file.
type Controller struct {
	remapper Remapper

	mrcr uint32
	scfg [16]uint32
}

// New creates a MATRIX controller wired to the bootmem alias it controls.
func New(remapper Remapper) *Controller {
	return &Controller{remapper: remapper}
}

// ResetRegisters restores power-on values. REMAP defaults to 0: the BMS pin
// selects the initial alias target independently; MATRIX itself resets to
// "not remapped".
func (c *Controller) ResetRegisters() {
	c.mrcr = 0
	for i := range c.scfg {
		c.scfg[i] = 0
	}
	if c.remapper != nil {
		c.remapper.SetRemapped(false)
	}
}

func (c *Controller) Read32(offset uint32) uint32 {
	switch {
	case offset == offMRCR:
		return c.mrcr
	case offset >= offSCFG && offset < offSCFG+uint32(len(c.scfg))*4:
		return c.scfg[(offset-offSCFG)/4]
	}
	mmio.Abort("MATRIX", offset, 0, "read from unimplemented MATRIX register")
	return 0
}

func (c *Controller) Write32(offset uint32, val uint32) {
	switch {
	case offset == offMRCR:
		bits.SetTo(&c.mrcr, mrcrRemapBit, val&1 != 0)
		if c.remapper != nil {
			c.remapper.SetRemapped(bits.Bit(&c.mrcr, mrcrRemapBit))
		}
	case offset >= offSCFG && offset < offSCFG+uint32(len(c.scfg))*4:
		c.scfg[(offset-offSCFG)/4] = val
	default:
		mmio.Abort("MATRIX", offset, val, "write to unimplemented MATRIX register")
	}
}
