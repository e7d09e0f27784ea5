// Package rstc implements the Reset Controller: a key-protected control
// register that can request a full SoC reset, and a status register
// reporting the cause and the NRST pin level.
package rstc

import (
	"sync"

	"github.com/isis-obc/iobcsim/internal/bits"
	"github.com/isis-obc/iobcsim/mmio"
)

const resetKey = 0xA5

const (
	crPROCRST = 1 << 0
	crPERRST  = 1 << 2
	crEXTRST  = 1 << 3
	crKeyShift = 24
)

const (
	srURSTS  = 1 << 0
	srNRSTL  = 1 << 16
	srSRCMP  = 1 << 17
)

// Resetter is invoked when RSTC_CR requests a processor reset; it
// performs the two-phase SoC reset.
type Resetter interface {
	Reset()
}

// Controller is the RSTC register file.
type Controller struct {
	mu sync.Mutex

	mr uint32
	sr uint32

	soc Resetter
}

var _ mmio.Device = (*Controller)(nil)

// New creates an RSTC wired to the SoC it can trigger a reset on.
func New(soc Resetter) *Controller {
	c := &Controller{soc: soc}
	c.ResetRegisters()
	return c
}

// ResetRegisters restores power-on defaults: NRST reads high, no reset
// cause latched.
func (c *Controller) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mr = 0
	c.sr = srNRSTL
}

const (
	offCR = 0x00
	offSR = 0x04
	offMR = 0x08
)

func (c *Controller) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offSR:
		v := c.sr
		c.sr &^= srURSTS
		return v
	case offMR:
		return c.mr
	}
	mmio.Abort("RSTC", offset, 0, "read from write-only or unimplemented RSTC register")
	return 0
}

func (c *Controller) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offCR:
		if bits.Get(&val, crKeyShift, 0xFF) != resetKey {
			return
		}
		if val&(crPROCRST|crPERRST|crEXTRST) != 0 {
			c.sr |= srURSTS | srSRCMP
			soc := c.soc
			c.mu.Unlock()
			soc.Reset()
			c.mu.Lock()
		}
	case offMR:
		if bits.Get(&val, crKeyShift, 0xFF) != resetKey {
			return
		}
		c.mr = val & 0xFFFF
	default:
		mmio.Abort("RSTC", offset, val, "write to read-only or unimplemented RSTC register")
	}
}
