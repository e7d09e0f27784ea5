// Package pmc implements the Power Management Controller's clock tree:
// the main oscillator, two PLLs, and a master-clock selector/prescaler.
// Readiness bits are set immediately on configuration (no ramp-up is
// emulated) and a master-clock-change callback fans out to every
// clock-sensitive peripheral, but only when the computed frequency
// actually changed — so writing the same MCKR twice fires it once.
package pmc

import (
	"sync"

	"github.com/isis-obc/iobcsim/mmio"
)

const (
	slckHz = 32768
	moscHz = 18432000
)

const (
	srMOSCS  = 1 << 0
	srLOCKA  = 1 << 1
	srLOCKB  = 1 << 2
	srMCKRDY = 1 << 3
)

// ClockSink is the capability interface a clock-sensitive peripheral
// implements to be notified when the master clock frequency changes.
type ClockSink interface {
	MasterClockChanged(hz uint64)
}

const (
	cssSLCK = 0
	cssMAIN = 1
	cssPLLA = 2
	cssPLLB = 3
)

// Channel is the PMC register file and clock-tree state.
type Channel struct {
	mu sync.Mutex

	mor   uint32
	pllar uint32
	pllbr uint32
	mckr  uint32
	sr    uint32

	sinks    []ClockSink
	lastMckHz uint64
}

var _ mmio.Device = (*Channel)(nil)

// New creates a PMC. Register callers of MasterClockChanged with
// AddClockSink before the first register write that changes the clock.
func New() *Channel {
	c := &Channel{}
	c.ResetRegisters()
	return c
}

// AddClockSink registers a peripheral to be notified of master clock
// frequency changes.
func (c *Channel) AddClockSink(s ClockSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// ResetRegisters restores power-on defaults: main oscillator and PLLs
// unconfigured, master clock running from SLCK undivided.
func (c *Channel) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mor = 0
	c.pllar = 0
	c.pllbr = 0
	c.mckr = 0
	c.sr = srMOSCS | srMCKRDY
	c.lastMckHz = slckHz
}

func pllHzLocked(cfgReg uint32) uint64 {
	mul := (cfgReg >> 16) & 0x7FF
	div := cfgReg & 0xFF
	if mul == 0 || div == 0 {
		return 0
	}
	return moscHz * uint64(mul+1) / uint64(div)
}

func (c *Channel) sourceHzLocked(css uint32) uint64 {
	switch css {
	case cssSLCK:
		return slckHz
	case cssMAIN:
		return moscHz
	case cssPLLA:
		return pllHzLocked(c.pllar)
	case cssPLLB:
		return pllHzLocked(c.pllbr)
	}
	return 0
}

// prescalerDivLocked decodes MCKR.PRES (bits 2-4): 1,2,4,8,16,32,64.
func prescalerDivLocked(mckr uint32) uint64 {
	pres := (mckr >> 2) & 0x7
	if pres == 0 {
		return 1
	}
	return 1 << pres
}

// mdivLocked decodes MCKR.MDIV (bits 8-9): divide by 1, 2, 4, or 3.
func mdivLocked(mckr uint32) uint64 {
	switch (mckr >> 8) & 0x3 {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	case 3:
		return 3
	}
	return 1
}

func (c *Channel) recomputeMasterClockLocked() {
	css := c.mckr & 0x3
	src := c.sourceHzLocked(css)
	if src == 0 {
		c.sr &^= srMCKRDY
		return
	}
	hz := src / prescalerDivLocked(c.mckr) / mdivLocked(c.mckr)
	c.sr |= srMCKRDY
	if hz == c.lastMckHz {
		return
	}
	c.lastMckHz = hz
	sinks := c.sinks
	c.mu.Unlock()
	for _, s := range sinks {
		s.MasterClockChanged(hz)
	}
	c.mu.Lock()
}

const (
	offMOR   = 0x20
	offPLLAR = 0x28
	offPLLBR = 0x2C
	offMCKR  = 0x30
	offSR    = 0x68
	offIER   = 0x60
	offIDR   = 0x64
	offIMR   = 0x6C
)

func (c *Channel) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMOR:
		return c.mor
	case offPLLAR:
		return c.pllar
	case offPLLBR:
		return c.pllbr
	case offMCKR:
		return c.mckr
	case offSR:
		return c.sr
	}
	mmio.Abort("PMC", offset, 0, "read from unimplemented PMC register")
	return 0
}

func (c *Channel) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMOR:
		c.mor = val
		if val&0xFF != 0 {
			c.sr |= srMOSCS
		} else {
			c.sr &^= srMOSCS
		}
	case offPLLAR:
		c.pllar = val
		if pllHzLocked(val) != 0 {
			c.sr |= srLOCKA
		} else {
			c.sr &^= srLOCKA
		}
		c.recomputeMasterClockLocked()
	case offPLLBR:
		c.pllbr = val
		if pllHzLocked(val) != 0 {
			c.sr |= srLOCKB
		} else {
			c.sr &^= srLOCKB
		}
		c.recomputeMasterClockLocked()
	case offMCKR:
		c.mckr = val
		c.recomputeMasterClockLocked()
	default:
		mmio.Abort("PMC", offset, val, "write to read-only or unimplemented PMC register")
	}
}
