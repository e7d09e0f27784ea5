// Package spi implements the two SPI channels, master mode only. Every
// write to TDR implies a read of equal size from the addressed slave: when
// an IOX client is attached the transfer suspends until the client echoes
// back the same number of transfer units, otherwise the emulator loops the
// written data straight back into RDR.
package spi

import (
	"encoding/binary"
	"sync"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/iox"
	"github.com/isis-obc/iobcsim/mmio"
	"github.com/isis-obc/iobcsim/pdc"
)

const (
	bitRDRF    = 1 << 0
	bitTDRE    = 1 << 1
	bitMODF    = 1 << 2
	bitOVRES   = 1 << 3
	bitENDRX   = 1 << 4
	bitENDTX   = 1 << 5
	bitRXBUFF  = 1 << 6
	bitTXBUFE  = 1 << 7
	bitTXEMPTY = 1 << 9
)

const (
	crSPIEN  = 1 << 0
	crSPIDIS = 1 << 1
	crSWRST  = 1 << 7
)

const (
	mrPS   = 1 << 1 // variable peripheral select
	mrMSTR = 1 << 0
)

// Channel is one SPI instance.
type Channel struct {
	mu sync.Mutex

	name    string
	irqLine uint8
	aicCtrl *aic.Controller

	mr       uint32
	csr      [4]uint32
	ier      uint32
	sticky   uint32
	enabled  bool
	rdr      uint32
	rdrf     bool
	pending  int // transfer units awaiting client echo

	pdcChan *pdc.Channel
	server  *iox.Server

	mckHz uint64
}

var _ mmio.Device = (*Channel)(nil)
var _ iox.Handler = (*Channel)(nil)
var _ pdc.Host = (*Channel)(nil)

// New creates an SPI channel wired to the given AIC line and DMA bus, and
// opens its IOX socket.
func New(name string, irqLine uint8, ctrl *aic.Controller, mem pdc.Memory, socketPath string) (*Channel, error) {
	c := &Channel{name: name, irqLine: irqLine, aicCtrl: ctrl}
	c.pdcChan = pdc.New(mem, c)
	c.pdcChan.HalfDuplex = true
	server, err := iox.NewServer(socketPath, c)
	if err != nil {
		return nil, err
	}
	c.server = server
	c.ResetRegisters()
	return c, nil
}

// ResetRegisters clears every register to power-on defaults.
func (c *Channel) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mr = 0
	for i := range c.csr {
		c.csr[i] = 0
	}
	c.ier = 0
	c.sticky = 0
	c.enabled = false
	c.rdr = 0
	c.rdrf = false
	c.pending = 0
	c.pdcChan.ResetRegisters()
	c.recomputeIRQLocked()
}

func (c *Channel) srLocked() uint32 {
	v := c.sticky
	if c.rdrf {
		v |= bitRDRF
	}
	if c.pending == 0 {
		v |= bitTDRE | bitTXEMPTY
	}
	if c.pdcChan.ENDRX() {
		v |= bitENDRX
	}
	if c.pdcChan.RXBUFF() {
		v |= bitRXBUFF
	}
	if c.pdcChan.ENDTX() {
		v |= bitENDTX
	}
	if c.pdcChan.TXBUFE() {
		v |= bitTXBUFE
	}
	return v
}

func (c *Channel) recomputeIRQLocked() {
	c.aicCtrl.SetLine(c.irqLine, c.srLocked()&c.ier != 0)
}

// UpdateIRQ implements pdc.Host. The PDC calls it only from paths that
// already hold c.mu, so it does not lock again.
func (c *Channel) UpdateIRQ() { c.recomputeIRQLocked() }

func (c *Channel) RxStart() {}
func (c *Channel) RxStop()  {}
func (c *Channel) TxStop()  {}

// TxStart drains TCR through the same write path as a TDR register write,
// one transfer unit at a time, each unit sized off the configured word
// width (transferByteWidthLocked) rather than assumed to be a single byte.
func (c *Channel) TxStart() {
	width := c.transferByteWidthLocked()
	bits := c.widthBitsLocked()
	for {
		first, ok := c.pdcChan.PopTxByte()
		if !ok {
			break
		}
		data := uint32(first)
		for i := 1; i < width; i++ {
			b, ok := c.pdcChan.PopTxByte()
			if !ok {
				pdc.Abort(c.name, 0, data, "PDC TX count not a multiple of the configured transfer width")
			}
			data |= uint32(b) << (8 * uint(i))
		}
		c.transferUnitLocked(data, bits, 0)
	}
}

// widthBitsLocked reports the configured word width: 32 when MR.PS selects
// variable width, otherwise 8 plus CSR0's BITS field, with results above 16
// read as 8. Only CSR0 is consulted; CSR1-3 do not affect the width.
func (c *Channel) widthBitsLocked() int {
	if c.mr&mrPS != 0 {
		return 32
	}
	csr := c.csr[0]
	bits := 8 + int((csr>>4)&0xF)
	if bits < 8 || bits > 16 {
		return 8
	}
	return bits
}

// transferByteWidthLocked reports how many raw bytes the PDC consumes from
// memory to fill one transfer unit: 8/16-bit words each pack into that many
// bytes, 32-bit (variable PS) units pack into four.
func (c *Channel) transferByteWidthLocked() int {
	switch bits := c.widthBitsLocked(); {
	case bits <= 8:
		return 1
	case bits <= 16:
		return 2
	default:
		return 4
	}
}

const offsetEncodePCSShift = 24
const offsetEncodeBitsShift = 16

// transferUnitLocked is the shared TDR-write / PDC-TX-drain path: encode
// the unit, hand it to the client if connected (suspending completion
// until the echo arrives) or loop it back immediately.
func (c *Channel) transferUnitLocked(data uint32, bits int, pcs uint8) {
	if !c.enabled {
		mmio.Abort(c.name, 0, data, "TDR write while SPI disabled")
	}
	if c.pending > 0 {
		// A transfer unit was written before the previous one's echo
		// arrived: real hardware would overrun.
		c.sticky |= bitOVRES
	}

	unit := (uint32(pcs) << offsetEncodePCSShift) | (uint32(bits-8) << offsetEncodeBitsShift) | (data & 0xFFFF)

	if c.server.Connected() {
		c.pending++
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, unit)
		c.server.Send(iox.CatData, iox.IDDataOut, buf)
		return
	}
	c.completeLocked(data)
}

func (c *Channel) completeLocked(data uint32) {
	if c.rdrf {
		c.sticky |= bitOVRES
	}
	c.rdr = data
	c.rdrf = true
	if c.pdcChan.RxEnabled() {
		c.pdcChan.PushRxByte(byte(data))
	}
	c.recomputeIRQLocked()
}

// --- register access ------------------------------------------------

const (
	offCR  = 0x00
	offMR  = 0x04
	offRDR = 0x08
	offTDR = 0x0C
	offSR  = 0x10
	offIER = 0x14
	offIDR = 0x18
	offIMR = 0x1C

	offCSR0 = 0x30
	offCSR1 = 0x34
	offCSR2 = 0x38
	offCSR3 = 0x3C

	offRPR  = 0x100
	offRCR  = 0x104
	offTPR  = 0x108
	offTCR  = 0x10C
	offRNPR = 0x110
	offRNCR = 0x114
	offTNPR = 0x118
	offTNCR = 0x11C
	offPTCR = 0x120
	offPTSR = 0x124
)

func (c *Channel) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMR:
		return c.mr
	case offRDR:
		v := c.rdr
		c.rdrf = false
		c.recomputeIRQLocked()
		return v
	case offSR:
		return c.srLocked()
	case offIMR:
		return c.ier
	case offCSR0:
		return c.csr[0]
	case offCSR1:
		return c.csr[1]
	case offCSR2:
		return c.csr[2]
	case offCSR3:
		return c.csr[3]
	case offRPR:
		return c.pdcChan.RPR()
	case offRCR:
		return c.pdcChan.RCR()
	case offTPR:
		return c.pdcChan.TPR()
	case offTCR:
		return c.pdcChan.TCR()
	case offRNPR:
		return c.pdcChan.RNPR()
	case offRNCR:
		return c.pdcChan.RNCR()
	case offTNPR:
		return c.pdcChan.TNPR()
	case offTNCR:
		return c.pdcChan.TNCR()
	case offPTSR:
		return c.pdcChan.ReadPTSR()
	}
	mmio.Abort(c.name, offset, 0, "read from write-only or unimplemented SPI register")
	return 0
}

func (c *Channel) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offCR:
		if val&crSWRST != 0 {
			c.resetSoftLocked()
			return
		}
		if val&crSPIEN != 0 {
			c.enabled = true
		}
		if val&crSPIDIS != 0 {
			c.enabled = false
		}
		c.recomputeIRQLocked()
	case offMR:
		c.mr = val
	case offTDR:
		c.transferUnitLocked(val, c.widthBitsLocked(), uint8((val>>16)&0xF))
	case offIER:
		c.ier |= val
		c.recomputeIRQLocked()
	case offIDR:
		c.ier &^= val
		c.recomputeIRQLocked()
	case offCSR0:
		c.csr[0] = val
	case offCSR1:
		c.csr[1] = val
	case offCSR2:
		c.csr[2] = val
	case offCSR3:
		c.csr[3] = val
	case offRPR:
		c.pdcChan.WriteRPR(val)
	case offRCR:
		c.pdcChan.WriteRCR(val)
	case offTPR:
		c.pdcChan.WriteTPR(val)
	case offTCR:
		c.pdcChan.WriteTCR(val)
	case offRNPR:
		c.pdcChan.WriteRNPR(val)
	case offRNCR:
		c.pdcChan.WriteRNCR(val)
	case offTNPR:
		c.pdcChan.WriteTNPR(val)
	case offTNCR:
		c.pdcChan.WriteTNCR(val)
	case offPTCR:
		c.pdcChan.WritePTCR(val)
	default:
		mmio.Abort(c.name, offset, val, "write to read-only or unimplemented SPI register")
	}
}

func (c *Channel) resetSoftLocked() {
	c.mr = 0
	for i := range c.csr {
		c.csr[i] = 0
	}
	c.ier = 0
	c.sticky = 0
	c.enabled = false
	c.rdr = 0
	c.rdrf = false
	c.pending = 0
	c.pdcChan.ResetRegisters()
	c.recomputeIRQLocked()
}

// --- IOX handling -----------------------------------------------------

// HandleFrame implements iox.Handler: each DATA_IN frame carries the
// client's echo of one pending transfer unit; FAULT/MODF and FAULT/OVRES
// inject the corresponding sticky status bit.
func (c *Channel) HandleFrame(f iox.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case f.Cat == iox.CatData && f.ID == iox.IDDataIn:
		c.handleEchoLocked(f)
	case f.Cat == iox.CatFault:
		c.handleFaultLocked(f)
	}
}

func (c *Channel) handleEchoLocked(f iox.Frame) {
	if len(f.Payload) < 1 || c.pending == 0 {
		return
	}
	// One frame completes one unit: a payload of four or more bytes is read
	// as a little-endian word (low 16 bits kept), a shorter one as its first
	// byte. The rest of the payload is dropped, and so is a frame that
	// arrives while nothing is pending.
	data := uint32(f.Payload[0])
	if len(f.Payload) >= 4 {
		data = binary.LittleEndian.Uint32(f.Payload) & 0xFFFF
	}
	c.pending--
	c.completeLocked(data)
}

const (
	faultMODF  = 0x01
	faultOVRES = 0x02
)

func (c *Channel) handleFaultLocked(f iox.Frame) {
	switch f.ID {
	case faultMODF:
		c.sticky |= bitMODF
	case faultOVRES:
		c.sticky |= bitOVRES
	default:
		return
	}
	c.recomputeIRQLocked()
}

// Poll drives the channel's IOX server; call once per event-loop tick.
func (c *Channel) Poll() {
	c.server.Poll()
}

// MasterClockChanged implements pmc.ClockSink. SPI clock-phase/rate on
// the wire isn't modeled; this only records the rate for completeness.
func (c *Channel) MasterClockChanged(hz uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mckHz = hz
}
