// Package rtt implements the Real-Time Timer: a 32-bit free-running
// counter clocked at SLCK divided by a 16-bit prescaler (default divisor
// 32768, giving a 1 Hz tick), with a single alarm register.
package rtt

import (
	"sync"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/mmio"
)

const (
	mrRTPRESMask = 0xFFFF
	mrALMIEN     = 1 << 16
	mrRTTINCIEN  = 1 << 17
	mrRTTRST     = 1 << 18
)

const (
	srALMS = 1 << 0
	srRTTINC = 1 << 1
)

// Channel is the RTT register file and counter.
type Channel struct {
	mu sync.Mutex

	irqLine uint8
	aicCtrl aic.LineSetter

	mr  uint32
	vr  uint32
	ar  uint32
	sr  uint32

	slckRemainder uint64
}

var _ mmio.Device = (*Channel)(nil)

// New creates an RTT wired to the given AIC line.
func New(irqLine uint8, ctrl aic.LineSetter) *Channel {
	c := &Channel{irqLine: irqLine, aicCtrl: ctrl}
	c.ResetRegisters()
	return c
}

// ResetRegisters restores power-on defaults: divisor 32768, counter zero,
// alarm register all ones (0xFFFFFFFF).
func (c *Channel) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mr = 32768
	c.vr = 0
	c.ar = 0xFFFFFFFF
	c.sr = 0
	c.slckRemainder = 0
	c.recomputeIRQLocked()
}

func (c *Channel) prescalerLocked() uint32 {
	p := c.mr & mrRTPRESMask
	if p == 0 {
		return 1
	}
	return p
}

func (c *Channel) recomputeIRQLocked() {
	asserted := (c.sr&srALMS != 0 && c.mr&mrALMIEN != 0) ||
		(c.sr&srRTTINC != 0 && c.mr&mrRTTINCIEN != 0)
	c.aicCtrl.SetLine(c.irqLine, asserted)
}

// Advance steps the RTT by slckCycles slow-clock cycles, internally
// dividing by the configured prescaler (with carried remainder).
func (c *Channel) Advance(slckCycles uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	presc := uint64(c.prescalerLocked())
	c.slckRemainder += slckCycles
	for c.slckRemainder >= presc {
		c.slckRemainder -= presc
		c.tickLocked()
	}
}

func (c *Channel) tickLocked() {
	prev := c.vr
	c.vr++
	c.sr |= srRTTINC
	if prev <= c.ar && c.vr > c.ar {
		c.sr |= srALMS
	}
	c.recomputeIRQLocked()
}

const (
	offMR = 0x00
	offAR = 0x04
	offVR = 0x08
	offSR = 0x0C
)

func (c *Channel) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMR:
		return c.mr
	case offAR:
		return c.ar
	case offVR:
		return c.vr
	case offSR:
		v := c.sr
		c.sr = 0
		c.recomputeIRQLocked()
		return v
	}
	mmio.Abort("RTT", offset, 0, "read from unimplemented RTT register")
	return 0
}

func (c *Channel) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMR:
		c.mr = val
		if val&mrRTTRST != 0 {
			c.vr = 0
			c.slckRemainder = 0
		}
		c.recomputeIRQLocked()
	case offAR:
		c.ar = val
	default:
		mmio.Abort("RTT", offset, val, "write to read-only or unimplemented RTT register")
	}
}
