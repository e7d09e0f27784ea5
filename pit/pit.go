// Package pit implements the Periodic Interval Timer: a 20-bit counter
// incrementing at MCK/16. The host event loop advances it in master-clock
// cycles; PIT internally accumulates the /16 remainder.
package pit

import (
	"sync"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/mmio"
)

const (
	mrPITEN  = 1 << 24
	mrPITIEN = 1 << 25
)

const cpivMask = 0xFFFFF // 20 bits
const picntMask = 0xFFF  // 12 bits

// Channel is the PIT register file and counter.
type Channel struct {
	mu sync.Mutex

	irqLine uint8
	aicCtrl aic.LineSetter

	mr    uint32
	cpiv  uint32
	picnt uint32
	pits  bool

	disablePending bool
	mckRemainder   uint64

	mckHz uint64
}

var _ mmio.Device = (*Channel)(nil)

// New creates a PIT wired to the given AIC line.
func New(irqLine uint8, ctrl aic.LineSetter) *Channel {
	c := &Channel{irqLine: irqLine, aicCtrl: ctrl}
	c.ResetRegisters()
	return c
}

// ResetRegisters restores power-on defaults: MR.PIV all-ones, disabled.
func (c *Channel) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mr = cpivMask
	c.cpiv = 0
	c.picnt = 0
	c.pits = false
	c.disablePending = false
	c.mckRemainder = 0
	c.recomputeIRQLocked()
}

func (c *Channel) enabledLocked() bool {
	return c.mr&mrPITEN != 0
}

func (c *Channel) recomputeIRQLocked() {
	asserted := c.pits && c.mr&mrPITIEN != 0
	c.aicCtrl.SetLine(c.irqLine, asserted)
}

// Advance steps the PIT by mckCycles master-clock cycles, internally
// dividing by 16 (with the carried remainder from the previous call).
func (c *Channel) Advance(mckCycles uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabledLocked() && !c.disablePending {
		return
	}
	c.mckRemainder += mckCycles
	for c.mckRemainder >= 16 {
		if !c.enabledLocked() && !c.disablePending {
			// A pending disable reached zero: the counter has stopped.
			c.mckRemainder = 0
			break
		}
		c.mckRemainder -= 16
		c.tickLocked()
	}
}

func (c *Channel) tickLocked() {
	if c.disablePending {
		if c.cpiv == 0 {
			c.disablePending = false
			return
		}
	}
	piv := c.mr & cpivMask
	c.cpiv++
	if c.cpiv > piv {
		c.cpiv = 0
		c.picnt = (c.picnt + 1) & picntMask
		c.pits = true
		c.recomputeIRQLocked()
	}
	if c.disablePending && c.cpiv == 0 {
		c.disablePending = false
	}
}

const (
	offMR   = 0x00
	offSR   = 0x04
	offPIVR = 0x08
	offPIIR = 0x0C
)

func (c *Channel) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMR:
		return c.mr
	case offSR:
		if c.pits {
			return 1
		}
		return 0
	case offPIVR:
		v := (c.picnt << 20) | c.cpiv
		c.picnt = 0
		c.pits = false
		c.recomputeIRQLocked()
		return v
	case offPIIR:
		return (c.picnt << 20) | c.cpiv
	}
	mmio.Abort("PIT", offset, 0, "read from unimplemented PIT register")
	return 0
}

func (c *Channel) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMR:
		wasEnabled := c.enabledLocked()
		c.mr = val
		if wasEnabled && c.mr&mrPITEN == 0 {
			c.disablePending = true
		}
		if c.mr&mrPITEN != 0 {
			c.disablePending = false
		}
		c.recomputeIRQLocked()
	default:
		mmio.Abort("PIT", offset, val, "write to read-only or unimplemented PIT register")
	}
}

// MasterClockChanged implements pmc.ClockSink; PIT always divides MCK by
// 16 already in Advance, so this only records the rate for completeness.
func (c *Channel) MasterClockChanged(hz uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mckHz = hz
}
