// Package pdc implements the Peripheral DMA Controller block shared by
// USART, SPI, TWI and MCI: reusable current/next pointer-count register
// pairs per direction, with status flags derived from live register state
// and a small capability interface standing in for the host peripheral.
package pdc

import "github.com/isis-obc/iobcsim/mmio"

// Memory is the bus-master DMA capability: direct access to CPU address
// space, independent of the peripheral's own MMIO register window.
type Memory interface {
	ReadByte(addr uint32) byte
	WriteByte(addr uint32, val byte)
}

// Host is the capability interface a peripheral exposes to its PDC so
// starting/stopping a transfer and re-evaluating interrupts stays generic
// across USART/SPI/TWI/MCI.
type Host interface {
	RxStart()
	RxStop()
	TxStart()
	TxStop()
	UpdateIRQ()
}

// Channel is one PDC block: current+next pointer/count pairs for RX and
// TX, plus the PTSR enable bits.
type Channel struct {
	mem  Memory
	host Host

	// HalfDuplex enforces mutual exclusion between RX and TX enable, for
	// peripherals that cannot transfer both directions concurrently.
	HalfDuplex bool

	rpr, rcr   uint32
	rnpr, rncr uint32
	tpr, tcr   uint32
	tnpr, tncr uint32

	rxten, txten bool
}

// New creates a PDC channel bound to the given host peripheral and memory
// fabric.
func New(mem Memory, host Host) *Channel {
	return &Channel{mem: mem, host: host}
}

// ResetRegisters clears all pointer/count pairs and enable bits.
func (c *Channel) ResetRegisters() {
	c.rpr, c.rcr, c.rnpr, c.rncr = 0, 0, 0, 0
	c.tpr, c.tcr, c.tnpr, c.tncr = 0, 0, 0, 0
	c.rxten, c.txten = false, false
}

// --- register accessors -----------------------------------------------

func (c *Channel) RPR() uint32  { return c.rpr }
func (c *Channel) RCR() uint32  { return c.rcr }
func (c *Channel) RNPR() uint32 { return c.rnpr }
func (c *Channel) RNCR() uint32 { return c.rncr }
func (c *Channel) TPR() uint32  { return c.tpr }
func (c *Channel) TCR() uint32  { return c.tcr }
func (c *Channel) TNPR() uint32 { return c.tnpr }
func (c *Channel) TNCR() uint32 { return c.tncr }

func (c *Channel) WriteRPR(v uint32)  { c.rpr = v }
func (c *Channel) WriteRNPR(v uint32) { c.rnpr = v }
func (c *Channel) WriteTPR(v uint32)  { c.tpr = v }
func (c *Channel) WriteTNPR(v uint32) { c.tnpr = v }

// WriteRCR starts RX if RXTEN is set and the new count is non-zero, stops
// RX if RXTEN is set and the new count is zero.
func (c *Channel) WriteRCR(v uint32) {
	c.rcr = v
	if c.rxten {
		if v != 0 {
			c.host.RxStart()
		} else {
			c.host.RxStop()
		}
	}
	c.host.UpdateIRQ()
}

func (c *Channel) WriteRNCR(v uint32) {
	c.rncr = v
	c.host.UpdateIRQ()
}

// WriteTCR mirrors WriteRCR for the transmit side.
func (c *Channel) WriteTCR(v uint32) {
	c.tcr = v
	if c.txten {
		if v != 0 {
			c.host.TxStart()
		} else {
			c.host.TxStop()
		}
	}
	c.host.UpdateIRQ()
}

func (c *Channel) WriteTNCR(v uint32) {
	c.tncr = v
	c.host.UpdateIRQ()
}

// PTSR bit positions (standard AT91 PDC layout).
const (
	ptsrRXTEN  = 0
	ptsrRXTDIS = 1
	ptsrTXTEN  = 8
	ptsrTXTDIS = 9
)

// WritePTCR applies an enable/disable command word to the channel,
// enforcing half-duplex mutual exclusion where configured.
func (c *Channel) WritePTCR(v uint32) {
	if v&(1<<ptsrRXTDIS) != 0 {
		c.rxten = false
	}
	if v&(1<<ptsrTXTDIS) != 0 {
		c.txten = false
	}
	if v&(1<<ptsrRXTEN) != 0 {
		if c.HalfDuplex {
			c.txten = false
		}
		c.rxten = true
	}
	if v&(1<<ptsrTXTEN) != 0 {
		if c.HalfDuplex {
			c.rxten = false
		}
		c.txten = true
	}
	c.host.UpdateIRQ()
}

// ReadPTSR reports the live enable bits.
func (c *Channel) ReadPTSR() uint32 {
	var v uint32
	if c.rxten {
		v |= 1 << ptsrRXTEN
	}
	if c.txten {
		v |= 1 << ptsrTXTEN
	}
	return v
}

func (c *Channel) RxEnabled() bool { return c.rxten }
func (c *Channel) TxEnabled() bool { return c.txten }

// --- status flag predicates ---------------------------------------------

func (c *Channel) ENDRX() bool  { return c.rcr == 0 && c.rxten }
func (c *Channel) RXBUFF() bool { return c.rcr == 0 && c.rncr == 0 && c.rxten }
func (c *Channel) ENDTX() bool  { return c.tcr == 0 && c.txten }
func (c *Channel) TXBUFE() bool { return c.tcr == 0 && c.tncr == 0 && c.txten }

// --- DMA transfer steps --------------------------------------------------

// PushRxByte drains one received byte into CPU memory through the current
// RX pointer/counter pair, rolling current over from next when the count
// reaches zero. It reports whether the byte was actually consumed by DMA
// (RX must be enabled with a non-zero count).
func (c *Channel) PushRxByte(b byte) bool {
	if !c.rxten || c.rcr == 0 {
		return false
	}
	c.mem.WriteByte(c.rpr, b)
	c.rpr++
	c.rcr--
	if c.rcr == 0 {
		c.rpr, c.rcr = c.rnpr, c.rncr
		c.rnpr, c.rncr = 0, 0
	}
	c.host.UpdateIRQ()
	return true
}

// PopTxByte fetches one byte to transmit from CPU memory through the
// current TX pointer/counter pair, with the same current/next rollover
// rule as PushRxByte.
func (c *Channel) PopTxByte() (byte, bool) {
	if !c.txten || c.tcr == 0 {
		return 0, false
	}
	b := c.mem.ReadByte(c.tpr)
	c.tpr++
	c.tcr--
	if c.tcr == 0 {
		c.tpr, c.tcr = c.tnpr, c.tncr
		c.tnpr, c.tncr = 0, 0
	}
	c.host.UpdateIRQ()
	return b, true
}

// Abort is used by a host peripheral to report a datasheet-contract
// violation it detected while driving its PDC (e.g. an SPI TX count that
// is not a multiple of the configured transfer width).
func Abort(peripheral string, offset, value uint32, reason string, args ...interface{}) {
	mmio.Abort(peripheral, offset, value, reason, args...)
}
