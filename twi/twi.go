// Package twi implements the master-only Two-Wire (I2C) controller. A
// transaction is bracketed on the wire by an IOX CTRL_START frame (device
// address, internal address bytes, transfer size) and a CTRL_STOP frame,
// with DATA_OUT frames carrying the payload in between.
//
// Byte-at-a-time writes through THR are consolidated into a single burst:
// each THR write resets a two-tick debounce counter, and the accumulated
// bytes are flushed as one START/data/STOP sequence once the counter
// elapses without a further write. The debounce is driven by an explicit
// Tick call from the host loop rather than a wall-clock timer, keeping the
// whole core single-threaded.
package twi

import (
	"sync"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/iox"
	"github.com/isis-obc/iobcsim/mmio"
	"github.com/isis-obc/iobcsim/pdc"
)

// Mode is the TWI master/slave/offline state.
type Mode int

const (
	ModeOffline Mode = iota
	ModeMaster
	ModeSlave
)

const (
	bitTXCOMP = 1 << 0
	bitRXRDY  = 1 << 1
	bitTXRDY  = 1 << 2
	bitOVRE   = 1 << 6
	bitNACK   = 1 << 8
	bitARBLST = 1 << 9
)

const (
	crSTART = 1 << 0
	crSTOP  = 1 << 1
	crMSEN  = 1 << 2
	crMSDIS = 1 << 3
	crSVEN  = 1 << 4
	crSVDIS = 1 << 5
	crSWRST = 1 << 7
)

const mrMREAD = 1 << 12

// debounceTicks is the number of Tick calls a THR write waits for more
// bytes before the accumulated burst is flushed, matching "two ticks of
// the TWI clock".
const debounceTicks = 2

// Channel is the TWI controller.
type Channel struct {
	mu sync.Mutex

	name    string
	irqLine uint8
	aicCtrl *aic.Controller

	mode Mode

	mr, iadr, cwgr uint32
	ier            uint32
	sticky         uint32
	txcomp         bool
	rhr            uint32
	rxrdy          bool

	pendingWrite     []byte
	debounceRemain   int
	debouncePending  bool

	pdcChan *pdc.Channel
	server  *iox.Server

	mckHz uint64
}

var _ mmio.Device = (*Channel)(nil)
var _ iox.Handler = (*Channel)(nil)
var _ pdc.Host = (*Channel)(nil)

// New creates a TWI channel wired to the given AIC line and DMA bus, and
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

// ResetRegisters clears every register and returns to OFFLINE mode.
func (c *Channel) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeOffline
	c.mr, c.iadr, c.cwgr = 0, 0, 0
	c.ier = 0
	c.sticky = 0
	c.txcomp = true
	c.rhr = 0
	c.rxrdy = false
	c.pendingWrite = nil
	c.debouncePending = false
	c.pdcChan.ResetRegisters()
	c.recomputeIRQLocked()
}

func (c *Channel) srLocked() uint32 {
	v := c.sticky
	if c.txcomp {
		v |= bitTXCOMP
	}
	if c.rxrdy {
		v |= bitRXRDY
	}
	if !c.debouncePending {
		v |= bitTXRDY
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

// TxStart drains and sends the whole PDC TX buffer synchronously as one
// START/data/STOP burst, bypassing the THR debounce entirely.
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
		c.sendBurstLocked(out)
	}
}

func (c *Channel) sendBurstLocked(data []byte) {
	dadr := byte((c.mr >> 16) & 0x7F)
	iadrsz := byte((c.mr >> 8) & 0x3)
	start := []byte{dadr, iadrsz, byte(c.iadr), byte(c.iadr >> 8), byte(c.iadr >> 16)}
	c.server.Send(iox.CatData, iox.IDCtrlStart, start)
	c.server.Send(iox.CatData, iox.IDDataOut, data)
	c.server.Send(iox.CatData, iox.IDCtrlStop, nil)
	c.txcomp = true
	c.recomputeIRQLocked()
}

// --- register access ------------------------------------------------

const (
	offCR   = 0x00
	offMR   = 0x04
	offIADR = 0x0C
	offCWGR = 0x10
	offSR   = 0x20
	offIER  = 0x24
	offIDR  = 0x28
	offIMR  = 0x2C
	offRHR  = 0x30
	offTHR  = 0x34

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
	case offIADR:
		return c.iadr
	case offCWGR:
		return c.cwgr
	case offSR:
		return c.srLocked()
	case offIMR:
		return c.ier
	case offRHR:
		c.rxrdy = false
		c.recomputeIRQLocked()
		return c.rhr
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
	mmio.Abort(c.name, offset, 0, "read from write-only or unimplemented TWI register")
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
	case offIADR:
		c.iadr = val
	case offCWGR:
		c.cwgr = val
	case offIER:
		c.ier |= val
		c.recomputeIRQLocked()
	case offIDR:
		c.ier &^= val
		c.recomputeIRQLocked()
	case offTHR:
		c.writeTHRLocked(byte(val))
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
		mmio.Abort(c.name, offset, val, "write to read-only or unimplemented TWI register")
	}
}

func (c *Channel) applyCRLocked(val uint32) {
	if val&crSWRST != 0 {
		c.mode = ModeOffline
		c.sticky = 0
		c.txcomp = true
		c.pendingWrite = nil
		c.debouncePending = false
	}
	if val&crMSEN != 0 {
		if !c.txcomp {
			mmio.Abort(c.name, 0, val, "mode switch to MASTER attempted while TXCOMP=0")
		}
		c.mode = ModeMaster
	}
	if val&crMSDIS != 0 {
		if !c.txcomp {
			mmio.Abort(c.name, 0, val, "mode switch to OFFLINE attempted while TXCOMP=0")
		}
		c.mode = ModeOffline
	}
	if val&crSVEN != 0 {
		mmio.Abort(c.name, 0, val, "slave mode is not implemented")
	}
	if val&crSTART != 0 {
		c.txcomp = false
	}
	if val&crSTOP != 0 {
		c.flushPendingLocked()
		c.txcomp = true
	}
	c.recomputeIRQLocked()
}

func (c *Channel) writeTHRLocked(b byte) {
	c.pendingWrite = append(c.pendingWrite, b)
	c.debouncePending = true
	c.debounceRemain = debounceTicks
	c.txcomp = false
	c.recomputeIRQLocked()
}

func (c *Channel) flushPendingLocked() {
	if len(c.pendingWrite) == 0 {
		return
	}
	c.sendBurstLocked(c.pendingWrite)
	c.pendingWrite = nil
	c.debouncePending = false
}

// Tick advances the THR debounce counter by one step. Once it reaches
// zero without an intervening THR write, the accumulated bytes flush as a
// single START/data/STOP burst.
func (c *Channel) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.debouncePending {
		return
	}
	c.debounceRemain--
	if c.debounceRemain <= 0 {
		c.flushPendingLocked()
		c.recomputeIRQLocked()
	}
}

// --- IOX handling -----------------------------------------------------

// HandleFrame implements iox.Handler: DATA_IN frames carry received
// bytes; FAULT frames inject OVRE/NACK/ARBLST.
func (c *Channel) HandleFrame(f iox.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case f.Cat == iox.CatData && f.ID == iox.IDDataIn:
		for _, b := range f.Payload {
			if c.pdcChan.RxEnabled() {
				c.pdcChan.PushRxByte(b)
				continue
			}
			if c.rxrdy {
				c.sticky |= bitOVRE
			}
			c.rhr = uint32(b)
			c.rxrdy = true
		}
		c.recomputeIRQLocked()
	case f.Cat == iox.CatFault:
		c.handleFaultLocked(f)
	}
}

const (
	faultOVRE   = 0x01
	faultNACK   = 0x02
	faultARBLST = 0x03
)

func (c *Channel) handleFaultLocked(f iox.Frame) {
	switch f.ID {
	case faultOVRE:
		c.sticky |= bitOVRE
	case faultNACK:
		c.sticky |= bitNACK
	case faultARBLST:
		c.sticky |= bitARBLST
	default:
		return
	}
	c.recomputeIRQLocked()
}

// Poll drives the channel's IOX server; call once per event-loop tick.
func (c *Channel) Poll() {
	c.server.Poll()
}

// MasterClockChanged implements pmc.ClockSink. I2C clock-pullup timing
// isn't modeled; this only records the rate for completeness.
func (c *Channel) MasterClockChanged(hz uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mckHz = hz
}
