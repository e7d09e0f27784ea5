// Package usart implements the six USART channels: a PDC-backed serial
// port whose RX/TX data path is bridged to an external process through an
// IOX socket instead of real wire signaling.
package usart

import (
	"sync"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/iox"
	"github.com/isis-obc/iobcsim/mmio"
	"github.com/isis-obc/iobcsim/pdc"
)

// Status/interrupt bits, shared layout for CSR/IER/IDR/IMR.
const (
	bitRXRDY   = 1 << 0
	bitTXRDY   = 1 << 1
	bitRXBRK   = 1 << 2
	bitENDRX   = 1 << 3
	bitENDTX   = 1 << 4
	bitOVRE    = 1 << 5
	bitFRAME   = 1 << 6
	bitPARE    = 1 << 7
	bitTIMEOUT = 1 << 8
	bitTXEMPTY = 1 << 9
	bitRXBUFF  = 1 << 12
	bitTXBUFE  = 1 << 13
)

// CR action bits.
const (
	crRSTRX  = 1 << 2
	crRSTTX  = 1 << 3
	crRXEN   = 1 << 4
	crRXDIS  = 1 << 5
	crTXEN   = 1 << 6
	crTXDIS  = 1 << 7
	crRSTSTA = 1 << 8
)

// stickyMask is the set of CSR bits that latch until cleared by RSTSTA,
// rather than being recomputed live from current state.
const stickyMask = bitRXBRK | bitOVRE | bitFRAME | bitPARE | bitTIMEOUT

// MR fields consulted by BaudRate.
const (
	mrModeMask      = 0xF
	mrModeISO7816T0 = 0x4
	mrModeISO7816T1 = 0x6
	mrSync          = 1 << 8
	mrOver          = 1 << 19
)

// BRGR fields: CD is the 16-bit clock divider, FP the 3-bit fractional part.
const (
	brgrCDMask  = 0xFFFF
	brgrFPShift = 16
	brgrFPMask  = 0x7
)

// Channel is one USART instance.
type Channel struct {
	mu sync.Mutex

	name    string
	irqLine uint8
	aicCtrl *aic.Controller

	mr, brgr, rtor, ttgr, fidi, ner, ifield, man uint32
	ier, sticky                                  uint32

	rxEnabled, txEnabled bool
	rxrdy                bool
	rhr                  uint32
	rxQueue              []byte // bytes backed up behind an unread RHR

	pdcChan *pdc.Channel

	server *iox.Server

	mckHz uint64 // last master clock rate from pmc.Channel, see BaudRate
}

var _ mmio.Device = (*Channel)(nil)
var _ iox.Handler = (*Channel)(nil)
var _ pdc.Host = (*Channel)(nil)

// New creates a USART channel wired to the given AIC line and DMA bus, and
// opens its IOX socket.
func New(name string, irqLine uint8, ctrl *aic.Controller, mem pdc.Memory, socketPath string) (*Channel, error) {
	c := &Channel{name: name, irqLine: irqLine, aicCtrl: ctrl}
	c.pdcChan = pdc.New(mem, c)
	server, err := iox.NewServer(socketPath, c)
	if err != nil {
		return nil, err
	}
	c.server = server
	c.ResetRegisters()
	return c, nil
}

// ResetRegisters implements the reset fanout's phase 1: clear every
// register to its power-on value. Communication stops immediately.
func (c *Channel) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mr, c.brgr, c.rtor, c.ttgr, c.fidi, c.ner, c.ifield, c.man = 0, 0, 0, 0, 0x174, 0, 0, 0
	c.ier = 0
	c.sticky = 0
	c.rxEnabled, c.txEnabled = false, false
	c.rhr = 0
	c.rxQueue = nil
	c.pdcChan.ResetRegisters()
	c.recomputeIRQLocked()
}

// ResetBuffers implements phase 2: drop anything buffered internally.
// The rxQueue backlog is already emptied by ResetRegisters, so this only
// clears rxrdy.
func (c *Channel) ResetBuffers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rxrdy = false
	c.recomputeIRQLocked()
}

func (c *Channel) csrLocked() uint32 {
	v := c.sticky
	if c.rxrdy && c.rxEnabled {
		v |= bitRXRDY
	}
	if c.txEnabled {
		v |= bitTXRDY | bitTXEMPTY
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
	asserted := c.csrLocked()&c.ier != 0
	c.aicCtrl.SetLine(c.irqLine, asserted)
}

// UpdateIRQ implements pdc.Host. The PDC calls it only from paths that
// already hold c.mu, so it does not lock again.
func (c *Channel) UpdateIRQ() { c.recomputeIRQLocked() }

// RxStart/RxStop/TxStop implement pdc.Host with no extra bookkeeping: the
// actual byte movement happens as bytes are pushed in (RX) or as TCR is
// drained (TX, see TxStart).
func (c *Channel) RxStart() {}
func (c *Channel) RxStop()  {}
func (c *Channel) TxStop()  {}

// TxStart drains the whole TX buffer across the wire immediately: the
// emulator does not throttle transfers to real baud rate, so once PDC TX
// is armed the bytes are available to the client right away.
func (c *Channel) TxStart() {
	var out []byte
	for {
		b, ok := c.pdcChan.PopTxByte()
		if !ok {
			break
		}
		out = append(out, b)
	}
	if len(out) > 0 {
		c.server.Send(iox.CatData, iox.IDDataOut, out)
	}
}

// --- register access ------------------------------------------------

const (
	offCR   = 0x00
	offMR   = 0x04
	offIER  = 0x08
	offIDR  = 0x0C
	offIMR  = 0x10
	offCSR  = 0x14
	offRHR  = 0x18
	offTHR  = 0x1C
	offBRGR = 0x20
	offRTOR = 0x24
	offTTGR = 0x28
	offFIDI = 0x2C
	offNER  = 0x30
	offIF   = 0x3C
	offMAN  = 0x50

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
	case offIMR:
		return c.ier
	case offCSR:
		return c.csrLocked()
	case offRHR:
		v := c.rhr
		if len(c.rxQueue) > 0 {
			c.rhr = uint32(c.rxQueue[0])
			c.rxQueue = c.rxQueue[1:]
		} else {
			c.rxrdy = false
		}
		c.recomputeIRQLocked()
		return v
	case offBRGR:
		return c.brgr
	case offRTOR:
		return c.rtor
	case offTTGR:
		return c.ttgr
	case offFIDI:
		return c.fidi
	case offNER:
		return c.ner
	case offIF:
		return c.ifield
	case offMAN:
		return c.man
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
	mmio.Abort(c.name, offset, 0, "read from write-only or unimplemented USART register")
	return 0
}

func (c *Channel) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offCR:
		c.applyCRLocked(val)
		c.recomputeIRQLocked()
	case offMR:
		c.mr = val
	case offIER:
		c.ier |= val
		c.recomputeIRQLocked()
	case offIDR:
		c.ier &^= val
		c.recomputeIRQLocked()
	case offTHR:
		c.writeTHRLocked(val)
	case offBRGR:
		c.brgr = val
	case offRTOR:
		c.rtor = val
	case offTTGR:
		c.ttgr = val
	case offFIDI:
		c.fidi = val
	case offIF:
		c.ifield = val
	case offMAN:
		c.man = val
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
		mmio.Abort(c.name, offset, val, "write to read-only or unimplemented USART register")
	}
}

func (c *Channel) applyCRLocked(val uint32) {
	if val&crRSTRX != 0 {
		c.rxEnabled = false
		// RXRDY is intentionally left untouched: it is gated separately by
		// rx_enabled, not cleared by reset.
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
}

func (c *Channel) writeTHRLocked(val uint32) {
	if !c.txEnabled {
		return
	}
	c.server.Send(iox.CatData, iox.IDDataOut, []byte{byte(val)})
}

// --- IOX handling -----------------------------------------------------

// HandleFrame implements iox.Handler.
func (c *Channel) HandleFrame(f iox.Frame) {
	switch {
	case f.Cat == iox.CatData && f.ID == iox.IDDataIn:
		c.handleDataIn(f)
	case f.Cat == iox.CatFault:
		c.handleFault(f)
	}
}

func (c *Channel) handleDataIn(f iox.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.rxEnabled {
		c.server.Reply(f, iox.CatData, iox.IDDataIn, statusWord(iox.StatusENXIO))
		return
	}
	for _, b := range f.Payload {
		if c.pdcChan.RxEnabled() {
			c.pdcChan.PushRxByte(b)
			continue
		}
		if c.rxrdy {
			c.sticky |= bitOVRE
			c.rxQueue = append(c.rxQueue, b)
			continue
		}
		c.rhr = uint32(b)
		c.rxrdy = true
	}
	c.recomputeIRQLocked()
	c.server.Reply(f, iox.CatData, iox.IDDataIn, statusWord(iox.StatusOK))
}

func statusWord(status uint32) []byte {
	return []byte{byte(status), byte(status >> 8), byte(status >> 16), byte(status >> 24)}
}

const (
	faultOVRE    = 0x01
	faultFRAME   = 0x02
	faultPARE    = 0x03
	faultTIMEOUT = 0x04
)

func (c *Channel) handleFault(f iox.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.ID {
	case faultOVRE:
		c.sticky |= bitOVRE
	case faultFRAME:
		c.sticky |= bitFRAME
	case faultPARE:
		c.sticky |= bitPARE
	case faultTIMEOUT:
		c.sticky |= bitTIMEOUT
	default:
		return
	}
	c.recomputeIRQLocked()
}

// Poll drives the channel's IOX server; call once per event-loop tick.
func (c *Channel) Poll() {
	c.server.Poll()
}

// MasterClockChanged implements pmc.ClockSink, recording the rate BaudRate
// derives from.
func (c *Channel) MasterClockChanged(hz uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mckHz = hz
}

// BaudRate computes the bit rate MR/BRGR/FIDI currently select, per the
// AT91 baud-rate-generator formulas. It is purely informational: transfers
// aren't throttled to it, but OBSW can read BRGR/FIDI back and expects the
// derived rate to be consistent with what real hardware would compute.
func (c *Channel) BaudRate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baudRateLocked()
}

func (c *Channel) baudRateLocked() uint64 {
	cd := uint64(c.brgr & brgrCDMask)
	if cd == 0 {
		return 0
	}

	switch mode := c.mr & mrModeMask; {
	case mode == mrModeISO7816T0 || mode == mrModeISO7816T1:
		fidi := uint64(c.fidi)
		if fidi == 0 {
			return 0
		}
		return c.mckHz / (fidi * cd)
	case c.mr&mrSync != 0:
		return c.mckHz / cd
	default:
		over := uint64(16)
		if c.mr&mrOver != 0 {
			over = 8
		}
		fp := uint64((c.brgr >> brgrFPShift) & brgrFPMask)
		denom := over * (cd*8 + fp)
		if denom == 0 {
			return 0
		}
		return c.mckHz * 8 / denom
	}
}
