// Package dbgu implements the Debug Unit: a UART wired straight to the
// host process's stdio rather than a simulated wire. Input arrives via
// PushByte (the host side feeds it from stdin), output flushes to an
// io.Writer on every THR write.
package dbgu

import (
	"io"
	"sync"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/mmio"
)

const (
	bitRXRDY  = 1 << 0
	bitTXRDY  = 1 << 1
	bitTXEMPTY = 1 << 9
	bitOVRE   = 1 << 5
)

const (
	crRSTRX  = 1 << 2
	crRSTTX  = 1 << 3
	crRXEN   = 1 << 4
	crRXDIS  = 1 << 5
	crTXEN   = 1 << 6
	crTXDIS  = 1 << 7
	crRSTSTA = 1 << 8
)

// Channel is the DBGU register file.
type Channel struct {
	mu sync.Mutex

	irqLine uint8
	aicCtrl aic.LineSetter
	out     io.Writer

	mr     uint32
	ier    uint32
	sticky uint32

	rxEnabled, txEnabled bool
	rxrdy                bool
	rhr                  uint32
}

var _ mmio.Device = (*Channel)(nil)

// New creates a DBGU channel that writes transmitted bytes to out.
func New(irqLine uint8, ctrl aic.LineSetter, out io.Writer) *Channel {
	c := &Channel{irqLine: irqLine, aicCtrl: ctrl, out: out}
	c.ResetRegisters()
	return c
}

// ResetRegisters restores power-on defaults: receiver and transmitter
// both disabled.
func (c *Channel) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mr = 0
	c.ier = 0
	c.sticky = 0
	c.rxEnabled = false
	c.txEnabled = false
	c.rxrdy = false
	c.rhr = 0
	c.recomputeIRQLocked()
}

func (c *Channel) csrLocked() uint32 {
	v := c.sticky
	if c.rxrdy {
		v |= bitRXRDY
	}
	if c.txEnabled {
		v |= bitTXRDY | bitTXEMPTY
	}
	return v
}

func (c *Channel) recomputeIRQLocked() {
	c.aicCtrl.SetLine(c.irqLine, c.csrLocked()&c.ier != 0)
}

// PushByte delivers one byte from the host's stdin into the receiver,
// setting OVRE if a previous byte hadn't yet been read.
func (c *Channel) PushByte(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rxEnabled {
		return
	}
	if c.rxrdy {
		c.sticky |= bitOVRE
	}
	c.rhr = uint32(b)
	c.rxrdy = true
	c.recomputeIRQLocked()
}

const (
	offCR  = 0x00
	offMR  = 0x04
	offIER = 0x08
	offIDR = 0x0C
	offIMR = 0x10
	offSR  = 0x14
	offRHR = 0x18
	offTHR = 0x1C
)

func (c *Channel) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMR:
		return c.mr
	case offIMR:
		return c.ier
	case offSR:
		return c.csrLocked()
	case offRHR:
		c.rxrdy = false
		c.recomputeIRQLocked()
		return c.rhr
	}
	mmio.Abort("DBGU", offset, 0, "read from write-only or unimplemented DBGU register")
	return 0
}

func (c *Channel) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offCR:
		c.applyCRLocked(val)
	case offMR:
		c.mr = val
	case offIER:
		c.ier |= val
		c.recomputeIRQLocked()
	case offIDR:
		c.ier &^= val
		c.recomputeIRQLocked()
	case offTHR:
		if c.txEnabled && c.out != nil {
			c.out.Write([]byte{byte(val)})
		}
	default:
		mmio.Abort("DBGU", offset, val, "write to read-only or unimplemented DBGU register")
	}
}

func (c *Channel) applyCRLocked(val uint32) {
	if val&crRSTRX != 0 {
		c.rxEnabled = false
	}
	if val&crRSTTX != 0 {
		c.txEnabled = false
	}
	if val&crRXEN != 0 {
		c.rxEnabled = true
	}
	if val&crRXDIS != 0 {
		c.rxEnabled = false
	}
	if val&crTXEN != 0 {
		c.txEnabled = true
	}
	if val&crTXDIS != 0 {
		c.txEnabled = false
	}
	if val&crRSTSTA != 0 {
		c.sticky = 0
	}
	c.recomputeIRQLocked()
}
