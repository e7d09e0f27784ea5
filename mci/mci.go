// Package mci implements the Multimedia Card Interface (SD host): a
// command/response path over an SDBus collaborator, plus a block data
// path that can drain/fill memory through the PDC or through RDR/TDR
// with RXRDY/TXRDY flow control.
package mci

import (
	"sync"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/mmio"
	"github.com/isis-obc/iobcsim/pdc"
)

// SDRequest is one command dispatched to the selected card.
type SDRequest struct {
	Cmd uint8
	Arg uint32
}

// SDResponse carries 0, 4, or 16 raw big-endian response bytes, or a
// timeout/CRC/index error in place of a response.
type SDResponse struct {
	Bytes   []byte
	Timeout bool
	CRCErr  bool
	IndexErr bool
	EndErr  bool
}

// SDBus is the collaborator an MCI channel issues commands and block
// data transfers to; a raw image file, an in-memory FAT image, or a
// full SD emulation can all implement it.
type SDBus interface {
	DoCommand(card int, req SDRequest) SDResponse
	DataReady(card int) bool
	ReadData(card int) (byte, bool)
	WriteData(card int, b byte)
}

const (
	bitCMDRDY  = 1 << 0
	bitRXRDY   = 1 << 1
	bitTXRDY   = 1 << 2
	bitBLKE    = 1 << 3
	bitNOTBUSY = 1 << 8
	bitRTOE    = 1 << 16
	bitRENDE   = 1 << 17
	bitRCRCE   = 1 << 18
	bitRDIRE   = 1 << 19
	bitRINDE   = 1 << 20
	bitENDRX   = 1 << 24
	bitRXBUFF  = 1 << 25
	bitENDTX   = 1 << 26
	bitTXBUFE  = 1 << 27
)

const (
	crMCIEN  = 1 << 0
	crMCIDIS = 1 << 1
	crSWRST  = 1 << 7
)

const (
	trcmdShift = 16
	trcmdMask  = 0x3
	trcmdStart = 1

	trtypShift = 19
	trtypMask  = 0x7
	trtypMultiple = 1
	trtypStream   = 2
	trtypSDIOByte = 4
	trtypSDIOBlk  = 5

	cmdrRSPTYPShift = 6
	cmdrRSPTYPMask  = 0x3
	cmdrPDCMode     = 1 << 15
)

// Channel is one MCI instance.
type Channel struct {
	mu sync.Mutex

	name    string
	irqLine uint8
	aicCtrl *aic.Controller
	bus     SDBus

	cr, mr, dtor, sdcr uint32
	argr, cmdr         uint32
	rspr               [4]uint32
	sticky             uint32
	ier                uint32
	blkr               uint32

	enabled bool

	selectedCard int // persists across MCI-only reset

	dataActive   bool
	dataIsWrite  bool
	remaining    int // bytes left; -1 means infinite (multiple-block, BCNT=0)
	blkLen       int
	blkPos       int
	usePDC       bool

	pdcChan *pdc.Channel

	mckHz uint64
}

var _ mmio.Device = (*Channel)(nil)
var _ pdc.Host = (*Channel)(nil)

// New creates an MCI channel wired to the given AIC line, DMA bus, and
// SD-bus collaborator.
func New(name string, irqLine uint8, ctrl *aic.Controller, mem pdc.Memory, bus SDBus) *Channel {
	c := &Channel{name: name, irqLine: irqLine, aicCtrl: ctrl, bus: bus}
	c.pdcChan = pdc.New(mem, c)
	c.ResetRegisters()
	return c
}

// ResetRegisters restores power-on defaults. selectedCard is left
// untouched: card selection survives an MCI-only reset.
func (c *Channel) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cr, c.mr, c.dtor, c.sdcr = 0, 0, 0, 0
	c.argr, c.cmdr = 0, 0
	c.rspr = [4]uint32{}
	c.sticky = 0
	c.ier = 0
	c.blkr = 0
	c.enabled = false
	c.dataActive = false
	c.remaining = 0
	c.blkLen = 0
	c.blkPos = 0
	c.pdcChan.ResetRegisters()
	c.recomputeIRQLocked()
}

// SetSelectedCard is called by board wiring when the PIOB bit-7 card
// select input changes; it is independent of ResetRegisters.
func (c *Channel) SetSelectedCard(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedCard = idx
}

func (c *Channel) srLocked() uint32 {
	v := c.sticky | bitNOTBUSY
	if !c.dataActive {
		v |= bitRXRDY | bitTXRDY
	} else if c.dataIsWrite {
		v |= bitTXRDY
	} else {
		v |= bitRXRDY
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

func (c *Channel) RxStart() { c.pumpPDCLocked() }
func (c *Channel) RxStop()  {}
func (c *Channel) TxStart() { c.pumpPDCLocked() }
func (c *Channel) TxStop()  {}

func (c *Channel) blkLenLocked() int {
	return int(c.blkr & 0xFFFF)
}

func (c *Channel) totalBytesLocked() int {
	bcnt := int((c.blkr >> 16) & 0xFFFF)
	trtyp := (c.cmdr >> trtypShift) & trtypMask
	blklen := c.blkLenLocked()
	switch trtyp {
	case trtypMultiple:
		if bcnt == 0 {
			return -1
		}
		return blklen * bcnt
	case trtypStream:
		return -1
	case trtypSDIOByte:
		return bcnt
	case trtypSDIOBlk:
		return blklen * bcnt
	default: // single block
		return blklen
	}
}

func (c *Channel) startDataTransferLocked() {
	c.dataActive = true
	c.dataIsWrite = c.cmdr&(1<<18) == 0 // TRDIR: 0 = write to card, 1 = read from card
	c.remaining = c.totalBytesLocked()
	c.blkLen = c.blkLenLocked()
	c.blkPos = 0
	c.usePDC = c.cmdr&cmdrPDCMode != 0

	if c.usePDC {
		fbyte := c.mr&(1<<12) != 0
		if !fbyte && c.blkLen%4 != 0 {
			mmio.Abort(c.name, 0, c.cmdr, "PDC mode requires BLKLEN multiple of 4 unless PDCFBYTE is set")
		}
		c.pumpPDCLocked()
	}
	c.recomputeIRQLocked()
}

// pumpPDCLocked drains/fills CPU memory through the SD bus while a PDC
// transfer is active, one byte at a time, honoring remaining/blkLen
// bookkeeping for BLKE.
func (c *Channel) pumpPDCLocked() {
	if !c.dataActive || !c.usePDC {
		return
	}
	for {
		if c.dataIsWrite {
			b, ok := c.pdcChan.PopTxByte()
			if !ok {
				break
			}
			c.bus.WriteData(c.selectedCard, b)
		} else {
			if !c.bus.DataReady(c.selectedCard) {
				break
			}
			b, ok := c.bus.ReadData(c.selectedCard)
			if !ok {
				break
			}
			if !c.pdcChan.RxEnabled() {
				break
			}
			c.pdcChan.PushRxByte(b)
		}
		c.advanceBlockPosLocked()
	}
}

// advanceBlockPosLocked tracks completion and BLKE: writes set BLKE on
// every block boundary, reads only on full completion (PDC mode: only
// the last block).
func (c *Channel) advanceBlockPosLocked() {
	if c.remaining > 0 {
		c.remaining--
	}
	c.blkPos++
	atBlockBoundary := c.blkLen > 0 && c.blkPos == c.blkLen
	if atBlockBoundary {
		c.blkPos = 0
	}
	done := c.remaining == 0
	if c.dataIsWrite && atBlockBoundary {
		c.sticky |= bitBLKE
	}
	if !c.dataIsWrite && done {
		c.sticky |= bitBLKE
	}
	if done {
		c.dataActive = false
	}
	c.recomputeIRQLocked()
}

// wordScaleLocked is the MCI-specific PDC counting unit: RCR/TCR count
// 32-bit words unless MR.PDCFBYTE selects byte counting, while the
// shared PDC channel underneath always counts bytes.
func (c *Channel) wordScaleLocked() uint32 {
	if c.mr&(1<<12) != 0 {
		return 1
	}
	return 4
}

const (
	offCR    = 0x00
	offMR    = 0x04
	offDTOR  = 0x08
	offSDCR  = 0x0C
	offARGR  = 0x10
	offCMDR  = 0x14
	offBLKR  = 0x18
	offRSPR0 = 0x20
	offRSPR1 = 0x24
	offRSPR2 = 0x28
	offRSPR3 = 0x2C
	offRDR   = 0x30
	offTDR   = 0x34
	offSR    = 0x40
	offIER   = 0x44
	offIDR   = 0x48
	offIMR   = 0x4C

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
	case offDTOR:
		return c.dtor
	case offSDCR:
		return c.sdcr
	case offARGR:
		return c.argr
	case offRSPR0:
		return c.rspr[0]
	case offRSPR1:
		return c.rspr[1]
	case offRSPR2:
		return c.rspr[2]
	case offRSPR3:
		return c.rspr[3]
	case offRDR:
		if !c.dataActive || c.dataIsWrite {
			mmio.Abort(c.name, offset, 0, "RDR read while no read transfer active")
		}
		b, ok := c.bus.ReadData(c.selectedCard)
		if !ok {
			return 0
		}
		c.advanceBlockPosLocked()
		return uint32(b)
	case offSR:
		return c.srLocked()
	case offIMR:
		return c.ier
	case offRPR:
		return c.pdcChan.RPR()
	case offRCR:
		return c.pdcChan.RCR() / c.wordScaleLocked()
	case offTPR:
		return c.pdcChan.TPR()
	case offTCR:
		return c.pdcChan.TCR() / c.wordScaleLocked()
	case offRNPR:
		return c.pdcChan.RNPR()
	case offRNCR:
		return c.pdcChan.RNCR() / c.wordScaleLocked()
	case offTNPR:
		return c.pdcChan.TNPR()
	case offTNCR:
		return c.pdcChan.TNCR() / c.wordScaleLocked()
	case offPTSR:
		return c.pdcChan.ReadPTSR()
	}
	mmio.Abort(c.name, offset, 0, "read from write-only or unimplemented MCI register")
	return 0
}

func (c *Channel) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offCR:
		if val&crSWRST != 0 {
			c.enabled = false
		}
		if val&crMCIEN != 0 {
			c.enabled = true
		}
		if val&crMCIDIS != 0 {
			c.enabled = false
		}
	case offMR:
		c.mr = val
	case offDTOR:
		c.dtor = val
	case offSDCR:
		c.sdcr = val
	case offARGR:
		c.argr = val
	case offCMDR:
		c.cmdr = val
		c.dispatchCommandLocked()
	case offBLKR:
		c.blkr = val
	case offTDR:
		if !c.dataActive || !c.dataIsWrite {
			mmio.Abort(c.name, offset, val, "TDR write while no write transfer active")
		}
		c.bus.WriteData(c.selectedCard, byte(val))
		c.advanceBlockPosLocked()
	case offIER:
		c.ier |= val
		c.recomputeIRQLocked()
	case offIDR:
		c.ier &^= val
		c.recomputeIRQLocked()
	case offRPR:
		c.pdcChan.WriteRPR(val)
	case offRCR:
		c.pdcChan.WriteRCR(val * c.wordScaleLocked())
	case offTPR:
		c.pdcChan.WriteTPR(val)
	case offTCR:
		c.pdcChan.WriteTCR(val * c.wordScaleLocked())
	case offRNPR:
		c.pdcChan.WriteRNPR(val)
	case offRNCR:
		c.pdcChan.WriteRNCR(val * c.wordScaleLocked())
	case offTNPR:
		c.pdcChan.WriteTNPR(val)
	case offTNCR:
		c.pdcChan.WriteTNCR(val * c.wordScaleLocked())
	case offPTCR:
		c.pdcChan.WritePTCR(val)
	default:
		mmio.Abort(c.name, offset, val, "write to read-only or unimplemented MCI register")
	}
}

func (c *Channel) dispatchCommandLocked() {
	if !c.enabled {
		mmio.Abort(c.name, 0, c.cmdr, "CMDR write while MCI disabled")
	}
	cmd := uint8(c.cmdr & 0x3F)
	resp := c.bus.DoCommand(c.selectedCard, SDRequest{Cmd: cmd, Arg: c.argr})

	c.sticky &^= bitRTOE | bitRDIRE | bitRINDE | bitRCRCE | bitRENDE
	switch {
	case resp.Timeout:
		c.sticky |= bitRTOE
	case resp.IndexErr:
		c.sticky |= bitRINDE
	case resp.CRCErr:
		c.sticky |= bitRCRCE
	case resp.EndErr:
		c.sticky |= bitRENDE
	}

	c.rspr = [4]uint32{}
	for i := 0; i < len(resp.Bytes) && i < 16; i += 4 {
		var w uint32
		for j := 0; j < 4 && i+j < len(resp.Bytes); j++ {
			w = (w << 8) | uint32(resp.Bytes[i+j])
		}
		c.rspr[i/4] = w
	}
	c.sticky |= bitCMDRDY

	if c.cmdr&(trcmdMask<<trcmdShift) == trcmdStart<<trcmdShift {
		c.startDataTransferLocked()
	}
	c.recomputeIRQLocked()
}

// MasterClockChanged implements pmc.ClockSink. SD bus clock timing isn't
// modeled; this only records the rate for completeness.
func (c *Channel) MasterClockChanged(hz uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mckHz = hz
}
