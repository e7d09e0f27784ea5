// Package pio implements one 32-pin Parallel I/O controller bank. Each pin
// is either owned by PIO (general-purpose) or handed to a peripheral (A or
// B per ABSR); PIO-owned pins are further split into inputs and outputs.
// External pin state crosses an IOX socket as a 32-bit vector, one bit per
// pin, under CAT_DATA/ID_PIN_* frames.
package pio

import (
	"encoding/binary"
	"sync"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/iox"
	"github.com/isis-obc/iobcsim/mmio"
)

// Channel is one PIO bank (PIOA, PIOB, or PIOC).
type Channel struct {
	mu sync.Mutex

	name    string
	irqLine uint8
	aicCtrl *aic.Controller
	server  *iox.Server

	psr  uint32 // 1 = PIO owns the pin, 0 = peripheral owns it
	osr  uint32 // 1 = output, 0 = input, for PIO-owned pins
	absr uint32 // 0 = peripheral A, 1 = peripheral B, for peripheral-owned pins
	ower uint32 // 1 = ODSR writes affect this pin's output latch
	ifsr uint32 // input glitch filter enable (modeled as a no-op, tracked for readback)

	odsr uint32 // output data latch
	pdsr uint32 // last-observed pin level, PIO-owned inputs + external peripheral-owned pins

	imr uint32
	isr uint32 // edge-detected changes since last ISR read
}

var _ mmio.Device = (*Channel)(nil)
var _ iox.Handler = (*Channel)(nil)

// New creates a PIO bank wired to the given AIC line, and opens its IOX
// socket carrying the external pin-state vector.
func New(name string, irqLine uint8, ctrl *aic.Controller, socketPath string) (*Channel, error) {
	c := &Channel{name: name, irqLine: irqLine, aicCtrl: ctrl}
	server, err := iox.NewServer(socketPath, c)
	if err != nil {
		return nil, err
	}
	c.server = server
	c.ResetRegisters()
	return c, nil
}

// ResetRegisters restores power-on defaults: every pin returned to its
// peripheral (PIO disabled everywhere).
func (c *Channel) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.psr = 0
	c.osr = 0
	c.absr = 0
	c.ower = 0
	c.ifsr = 0
	c.odsr = 0
	c.pdsr = 0
	c.imr = 0
	c.isr = 0
	c.recomputeIRQLocked()
}

// ResetBuffers implements phase 2 of a system reset: re-emit the current
// pin-state vector so a connected IOX client observes the bank's
// post-reset state (every pin handed back to its peripheral) instead of
// being left with whatever it last saw before the reset.
func (c *Channel) ResetBuffers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendPinStateLocked()
}

func (c *Channel) recomputeIRQLocked() {
	c.aicCtrl.SetLine(c.irqLine, c.isr&c.imr != 0)
}

// effectivePinStateLocked computes the pin-level vector visible to an
// external observer: PIO-owned outputs drive odsr, everything else (PIO
// inputs and peripheral-owned pins) reflects the last value latched into
// pdsr by SetExternalState.
func (c *Channel) effectivePinStateLocked() uint32 {
	pioOutputs := c.psr & c.osr
	return (c.odsr & pioOutputs) | (c.pdsr &^ pioOutputs)
}

func (c *Channel) updatePDSRLocked() {
	prev := c.pdsr
	c.pdsr = c.effectivePinStateLocked()
	changed := prev ^ c.pdsr
	if changed != 0 {
		c.isr |= changed
		c.recomputeIRQLocked()
	}
}

// SetExternalState updates the externally-driven bits of the bank (inputs,
// and peripheral-owned pins fed back from outside) and re-derives PDSR,
// latching any edges into ISR. bits that are PIO-owned outputs are
// ignored since the PIO itself drives those.
func (c *Channel) SetExternalState(level uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pioOutputs := c.psr & c.osr
	prev := c.pdsr
	c.pdsr = (c.pdsr & pioOutputs) | (level &^ pioOutputs)
	c.updatePDSRLocked()
	if changed := prev ^ c.pdsr; changed != 0 {
		c.isr |= changed
		c.recomputeIRQLocked()
	}
}

const (
	offPER  = 0x00
	offPDR  = 0x04
	offPSR  = 0x08
	offOER  = 0x10
	offODR  = 0x14
	offOSR  = 0x18
	offIFER = 0x20
	offIFDR = 0x24
	offIFSR = 0x28
	offSODR = 0x30
	offCODR = 0x34
	offODSR = 0x38
	offPDSR = 0x3C
	offIER  = 0x40
	offIDR  = 0x44
	offIMR  = 0x48
	offISR  = 0x4C
	offABSR = 0x70
	offOWER = 0xA0
	offOWDR = 0xA4
	offOWSR = 0xA8
)

func (c *Channel) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offPSR:
		return c.psr
	case offOSR:
		return c.osr
	case offIFSR:
		return c.ifsr
	case offODSR:
		return c.odsr
	case offPDSR:
		return c.effectivePinStateLocked()
	case offIMR:
		return c.imr
	case offISR:
		v := c.isr
		c.isr = 0
		c.recomputeIRQLocked()
		return v
	case offABSR:
		return c.absr
	case offOWSR:
		return c.ower
	}
	mmio.Abort(c.name, offset, 0, "read from write-only or unimplemented PIO register")
	return 0
}

func (c *Channel) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offPER:
		c.psr |= val
	case offPDR:
		c.psr &^= val
	case offOER:
		c.osr |= val
	case offODR:
		c.osr &^= val
	case offIFER:
		c.ifsr |= val
	case offIFDR:
		c.ifsr &^= val
	case offSODR:
		c.odsr |= val
		c.updatePDSRLocked()
		c.sendPinStateLocked()
	case offCODR:
		c.odsr &^= val
		c.updatePDSRLocked()
		c.sendPinStateLocked()
	case offODSR:
		c.odsr = (c.odsr &^ c.ower) | (val & c.ower)
		c.updatePDSRLocked()
		c.sendPinStateLocked()
	case offIER:
		c.imr |= val
		c.recomputeIRQLocked()
	case offIDR:
		c.imr &^= val
		c.recomputeIRQLocked()
	case offABSR:
		c.absr = val
	case offOWER:
		c.ower |= val
	case offOWDR:
		c.ower &^= val
	default:
		mmio.Abort(c.name, offset, val, "write to read-only or unimplemented PIO register")
	}
}

func (c *Channel) sendPinStateLocked() {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, c.effectivePinStateLocked())
	c.server.Send(iox.CatPin, iox.IDPinOut, buf)
}

// HandleFrame implements iox.Handler: ID_PIN_GET replies with the current
// pin-state vector, ID_PIN_ENABLE/DISABLE toggle which pins PIO claims.
func (c *Channel) HandleFrame(f iox.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.Cat != iox.CatPin {
		return
	}
	switch f.ID {
	case iox.IDPinEnable:
		if len(f.Payload) < 4 {
			return
		}
		c.psr |= binary.LittleEndian.Uint32(f.Payload)
		c.updatePDSRLocked()
	case iox.IDPinDisable:
		if len(f.Payload) < 4 {
			return
		}
		c.psr &^= binary.LittleEndian.Uint32(f.Payload)
		c.updatePDSRLocked()
	case iox.IDPinGet:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, c.effectivePinStateLocked())
		c.server.Reply(f, iox.CatPin, iox.IDPinGet, buf)
	case iox.IDPinOut:
		if len(f.Payload) < 4 {
			return
		}
		level := binary.LittleEndian.Uint32(f.Payload)
		pioOutputs := c.psr & c.osr
		prev := c.pdsr
		c.pdsr = (c.pdsr & pioOutputs) | (level &^ pioOutputs)
		c.updatePDSRLocked()
		if changed := prev ^ c.pdsr; changed != 0 {
			c.isr |= changed
			c.recomputeIRQLocked()
		}
	}
}

// Poll drives the channel's IOX server; call once per event-loop tick.
func (c *Channel) Poll() {
	c.server.Poll()
}

// PinLevel reports one pin's current externally-observable level, for
// board-level wiring that reacts to a single pin without a full register
// read (e.g. MCI card-select driven from a PIO bit).
func (c *Channel) PinLevel(pin uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectivePinStateLocked()&(1<<pin) != 0
}
