// Package tc implements a Timer/Counter block of three channels. Each
// channel picks its clock from MCK/2, /8, /32, /128, or SLCK (XC0-2
// external clocking is not implemented) and runs either capture mode
// (free-running CV, RA/RB latched on external triggers the core doesn't
// model) or waveform mode (CV counts up to RC or 0xFFFF, sawtooth or
// triangular). The host event loop drives channels forward with
// AdvanceMCK/AdvanceSLCK rather than a wall-clock timer.
package tc

import (
	"sync"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/mmio"
)

const (
	bitCOVFS  = 1 << 0
	bitLOVRS  = 1 << 1
	bitCPAS   = 1 << 2
	bitCPBS   = 1 << 3
	bitCPCS   = 1 << 4
	bitLDRAS  = 1 << 5
	bitLDRBS  = 1 << 6
	bitETRGS  = 1 << 7
	bitCLKSTA = 1 << 16
)

const (
	ccrCLKEN = 1 << 0
	ccrCLKDIS = 1 << 1
	ccrSWTRG  = 1 << 2
)

const cmrWAVE = 1 << 15
const cmrWAVSELShift = 13
const cmrWAVSELMask = 0x3

// Channel is one TC channel.
type Channel struct {
	name    string
	irqLine uint8
	aicCtrl *aic.Controller

	cmr uint32
	ra, rb, rc uint32
	cv  uint32
	sr  uint32
	ier uint32

	clkEnabled bool
	dirUp      bool
	remainder  uint64
}

func newChannel(name string, irqLine uint8, ctrl *aic.Controller) *Channel {
	c := &Channel{name: name, irqLine: irqLine, aicCtrl: ctrl}
	c.resetLocked()
	return c
}

func (c *Channel) resetLocked() {
	c.cmr = 0
	c.ra, c.rb, c.rc = 0, 0, 0
	c.cv = 0
	c.sr = 0
	c.ier = 0
	c.clkEnabled = false
	c.dirUp = true
	c.remainder = 0
}

func (c *Channel) recomputeIRQLocked() {
	c.aicCtrl.SetLine(c.irqLine, c.sr&c.ier != 0)
}

// tcclksLocked returns ("mck", divisor) or ("slck", 1) or aborts for the
// unimplemented XC0-2 sources.
func (c *Channel) tcclksLocked() (source string, div uint64) {
	switch c.cmr & 0x7 {
	case 0:
		return "mck", 2
	case 1:
		return "mck", 8
	case 2:
		return "mck", 32
	case 3:
		return "mck", 128
	case 4:
		return "slck", 1
	}
	mmio.Abort(c.name, 0, c.cmr, "external clock chaining (XC0-2) not implemented")
	return "mck", 2
}

func (c *Channel) waveModeLocked() bool { return c.cmr&cmrWAVE != 0 }

func (c *Channel) wavselLocked() uint32 { return (c.cmr >> cmrWAVSELShift) & cmrWAVSELMask }

// targetLocked is the top of the count range: RC if the waveform mode
// triggers on RC compare (WAVSEL bit 0 set), else 0xFFFF.
func (c *Channel) targetLocked() uint32 {
	if c.wavselLocked()&0x1 != 0 && c.rc != 0 {
		return c.rc
	}
	return 0xFFFF
}

func (c *Channel) tickOnce() {
	target := c.targetLocked()
	triangular := c.waveModeLocked() && c.wavselLocked() == 0x2

	if triangular {
		if c.dirUp {
			c.cv++
			if c.cv >= target {
				c.cv = target
				c.dirUp = false
			}
		} else {
			if c.cv == 0 {
				c.dirUp = true
			} else {
				c.cv--
			}
		}
	} else {
		c.cv++
		if c.cv > target {
			c.cv = 0
			c.sr |= bitCOVFS
		}
	}

	if c.cv == c.ra {
		c.sr |= bitCPAS
	}
	if c.cv == c.rb {
		c.sr |= bitCPBS
	}
	if c.cv == c.rc {
		c.sr |= bitCPCS
	}
	c.recomputeIRQLocked()
}

const (
	relCCR = 0x00
	relCMR = 0x04
	relCV  = 0x10
	relRA  = 0x14
	relRB  = 0x18
	relRC  = 0x1C
	relSR  = 0x20
	relIER = 0x24
	relIDR = 0x28
	relIMR = 0x2C
)

func (c *Channel) read(rel uint32) uint32 {
	switch rel {
	case relCMR:
		return c.cmr
	case relCV:
		return c.cv
	case relRA:
		return c.ra
	case relRB:
		return c.rb
	case relRC:
		return c.rc
	case relSR:
		v := c.sr
		if c.clkEnabled {
			v |= bitCLKSTA
		}
		c.sr = 0
		c.recomputeIRQLocked()
		return v
	case relIMR:
		return c.ier
	}
	mmio.Abort(c.name, rel, 0, "read from write-only or unimplemented TC register")
	return 0
}

func (c *Channel) write(rel uint32, val uint32) {
	switch rel {
	case relCCR:
		if val&ccrCLKDIS != 0 {
			c.clkEnabled = false
		}
		if val&ccrCLKEN != 0 {
			c.clkEnabled = true
		}
		if val&ccrSWTRG != 0 {
			c.cv = 0
			c.dirUp = true
			c.sr |= bitETRGS
			c.recomputeIRQLocked()
		}
	case relCMR:
		burst := (val >> 4) & 0x3
		if burst != 0 {
			mmio.Abort(c.name, rel, val, "BURST clock gating not implemented")
		}
		c.cmr = val
	case relRA:
		c.ra = val
	case relRB:
		c.rb = val
	case relRC:
		c.rc = val
	case relIER:
		c.ier |= val
		c.recomputeIRQLocked()
	case relIDR:
		c.ier &^= val
		c.recomputeIRQLocked()
	default:
		mmio.Abort(c.name, rel, val, "write to read-only or unimplemented TC register")
	}
}

// Block is a 3-channel Timer/Counter block.
type Block struct {
	mu       sync.Mutex
	name     string
	channels [3]*Channel
	bmr      uint32

	mckHz uint64
}

var _ mmio.Device = (*Block)(nil)

// New creates a TC block with channels wired to the three given AIC lines.
func New(name string, irqLines [3]uint8, ctrl *aic.Controller) *Block {
	b := &Block{name: name}
	for i := range b.channels {
		b.channels[i] = newChannel(name, irqLines[i], ctrl)
	}
	return b
}

// ResetRegisters resets every channel and the shared block-mode register.
func (b *Block) ResetRegisters() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.channels {
		c.resetLocked()
	}
	b.bmr = 0
}

// AdvanceMCK steps every channel clocked from MCK by mckCycles cycles.
func (b *Block) AdvanceMCK(mckCycles uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.channels {
		src, div := c.tcclksLocked()
		if src != "mck" || !c.clkEnabled {
			continue
		}
		c.remainder += mckCycles
		for c.remainder >= div {
			c.remainder -= div
			c.tickOnce()
		}
	}
}

// AdvanceSLCK steps every channel clocked from SLCK by slckCycles cycles.
func (b *Block) AdvanceSLCK(slckCycles uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.channels {
		src, _ := c.tcclksLocked()
		if src != "slck" || !c.clkEnabled {
			continue
		}
		for i := uint64(0); i < slckCycles; i++ {
			c.tickOnce()
		}
	}
}

const (
	channelWindow = 0x40
	offBCR        = 0xC0
	offBMR        = 0xC4
)

func (b *Block) Read32(offset uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset < channelWindow*3 {
		ch := b.channels[offset/channelWindow]
		return ch.read(offset % channelWindow)
	}
	switch offset {
	case offBMR:
		return b.bmr
	}
	mmio.Abort(b.name, offset, 0, "read from write-only or unimplemented TC register")
	return 0
}

func (b *Block) Write32(offset uint32, val uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset < channelWindow*3 {
		ch := b.channels[offset/channelWindow]
		ch.write(offset%channelWindow, val)
		return
	}
	switch offset {
	case offBCR:
		// software sync trigger on selected channels; not modeled beyond
		// accepting the write.
	case offBMR:
		b.bmr = val
	default:
		mmio.Abort(b.name, offset, val, "write to read-only or unimplemented TC register")
	}
}

// MasterClockChanged implements pmc.ClockSink; TCCLKS divides MCK by a
// fixed ratio already applied in AdvanceMCK, so this only records the
// rate for completeness.
func (b *Block) MasterClockChanged(hz uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mckHz = hz
}
