// Package aic implements the Advanced Interrupt Controller: a 32-source
// priority+vectored controller with an 8-entry acknowledgement stack,
// fast-forcing (FIQ) redirection, and a protect-mode debug path.
//
// Each line is configured through a command/data register pair (SMR/SVR),
// with priority resolution and an explicit in-service bookkeeping step
// performed on every acknowledgement: reading IVR pushes the selected
// line's priority onto a stack, and EOICR pops it, so a higher-priority
// interrupt can preempt a lower one currently in service.
package aic

import (
	"sync"

	"github.com/isis-obc/iobcsim/mmio"
)

// SourceType is the AIC_SMR SRCTYPE field.
type SourceType int

const (
	LevelHigh SourceType = iota
	EdgeRising
	LevelLow
	EdgeFalling
)

func (t SourceType) isEdge() bool {
	return t == EdgeRising || t == EdgeFalling
}

// NumLines is the number of AIC sources.
const NumLines = 32

// StackDepth is the IVR acknowledgement stack's fixed depth.
const StackDepth = 8

// FIQLine is the hardwired fast-interrupt line.
const FIQLine = 0

// SYSCLine is where the AIC stub ORs all SYSC sources onto.
const SYSCLine = 1

// internalForcedMax is the highest line index forced to
// ACTIVE_HIGH/ACTIVE_RISING regardless of software SMR writes.
const internalForcedMax = 28

const spuriousVectorPriority = 8 // sentinel stack-entry priority on spurious IVR read

type lineState struct {
	priority   uint8
	srcType    SourceType
	vector     uint32
	mask       bool
	fastForced bool
	pending    bool
	prevLevel  bool
}

type stackEntry struct {
	irq       uint8
	priority  uint8
	spurious  bool
}

// Controller is the AIC register file plus its priority-selection and
// acknowledgement-stack logic.
type Controller struct {
	mu sync.Mutex

	lines [NumLines]lineState
	stack []stackEntry

	protectMode bool // DCR.PROT
	generalMask bool // DCR.GMSK

	spu uint32

	nIRQAsserted bool
	nFIQAsserted bool
}

var _ mmio.Device = (*Controller)(nil)

// New creates a Controller with all lines masked and pending clear.
func New() *Controller {
	c := &Controller{}
	c.ResetRegisters()
	return c
}

// ResetRegisters restores power-on defaults: all lines masked, no pending
// sources, empty stack, DCR clear, SPU zero.
func (c *Controller) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.lines {
		c.lines[i] = lineState{}
	}
	c.stack = c.stack[:0]
	c.protectMode = false
	c.generalMask = false
	c.spu = 0
	c.nIRQAsserted = false
	c.nFIQAsserted = false
}

// SetLine drives an external/internal source's raw input level. Level
// sources track the line directly; edge sources latch a pending bit on the
// configured transition.
func (c *Controller) SetLine(irq uint8, level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLineLocked(irq, level)
	c.recomputeOutputsLocked()
}

func (c *Controller) setLineLocked(irq uint8, level bool) {
	l := &c.lines[irq]
	switch l.srcType {
	case LevelHigh:
		l.pending = level
	case LevelLow:
		l.pending = !level
	case EdgeRising:
		if level && !l.prevLevel {
			l.pending = true
		}
	case EdgeFalling:
		if !level && l.prevLevel {
			l.pending = true
		}
	}
	l.prevLevel = level
}

// Assert/Deassert/Pulse are convenience wrappers for peripherals that raise
// interrupts as a level or as a momentary edge.
func (c *Controller) Assert(irq uint8)   { c.SetLine(irq, true) }
func (c *Controller) Deassert(irq uint8) { c.SetLine(irq, false) }
func (c *Controller) Pulse(irq uint8) {
	c.mu.Lock()
	c.setLineLocked(irq, true)
	c.setLineLocked(irq, false)
	c.recomputeOutputsLocked()
	c.mu.Unlock()
}

// selectBestLocked returns the index of the highest-priority pending,
// enabled, non-fast-forced line among 1..31. Ties are broken by lowest
// index, guaranteed here by scanning ascending and using a strict '>'
// comparison.
func (c *Controller) selectBestLocked() (idx int, ok bool) {
	best := -1
	bestPriority := -1
	for i := 1; i < NumLines; i++ {
		l := &c.lines[i]
		if l.pending && l.mask && !l.fastForced {
			if int(l.priority) > bestPriority {
				bestPriority = int(l.priority)
				best = i
			}
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

func (c *Controller) fiqPendingLocked() bool {
	if l := &c.lines[FIQLine]; l.pending && l.mask {
		return true
	}
	for i := 1; i < NumLines; i++ {
		l := &c.lines[i]
		if l.fastForced && l.pending && l.mask {
			return true
		}
	}
	return false
}

func (c *Controller) recomputeOutputsLocked() {
	c.nFIQAsserted = c.fiqPendingLocked()

	threshold := -1
	if n := len(c.stack); n > 0 {
		threshold = int(c.stack[n-1].priority)
	}

	best, ok := c.selectBestLocked()
	c.nIRQAsserted = ok && !c.generalMask && int(c.lines[best].priority) > threshold
}

// IRQAsserted/FIQAsserted report the controller's current output lines,
// consulted by the CPU executor at each recheck point.
func (c *Controller) IRQAsserted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nIRQAsserted
}

func (c *Controller) FIQAsserted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nFIQAsserted
}

func (c *Controller) pushLocked(irq uint8, priority uint8, spurious bool) {
	if len(c.stack) >= StackDepth {
		mmio.Abort("AIC", 0, uint32(irq), "acknowledgement stack overflow (depth %d)", StackDepth)
	}
	c.stack = append(c.stack, stackEntry{irq: irq, priority: priority, spurious: spurious})
}

// ackLocked performs the IVR acknowledgement side effects shared by a
// normal IVR read and a protect-mode IVR write.
func (c *Controller) ackLocked() uint32 {
	best, ok := c.selectBestLocked()
	if !ok {
		c.pushLocked(0, spuriousVectorPriority, true)
		c.recomputeOutputsLocked()
		return c.spu
	}

	l := &c.lines[best]
	if l.srcType.isEdge() {
		l.pending = false
	}
	c.pushLocked(uint8(best), l.priority, false)
	c.recomputeOutputsLocked()
	return l.vector
}

// ReadIVR reads the Interrupt Vector Register. In normal mode this
// performs the full acknowledgement side effects; in protect mode it is a
// pure read.
func (c *Controller) ReadIVR() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.protectMode {
		best, ok := c.selectBestLocked()
		if !ok {
			return c.spu
		}
		return c.lines[best].vector
	}
	return c.ackLocked()
}

// WriteIVR performs the acknowledgement side effects regardless of value;
// only meaningful in protect mode, where it substitutes for the read that
// would otherwise have side effects.
func (c *Controller) WriteIVR() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ackLocked()
}

// ReadFVR returns the FIQ vector and, for an edge-triggered FIQ line,
// clears its pending bit.
func (c *Controller) ReadFVR() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := &c.lines[FIQLine]
	if l.srcType.isEdge() {
		l.pending = false
	}
	c.recomputeOutputsLocked()
	return l.vector
}

// WriteEOICR pops the acknowledgement stack, recomputing outputs so a
// lower-priority line can now be serviced.
func (c *Controller) WriteEOICR() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stack) > 0 {
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.recomputeOutputsLocked()
}

// CurrentInService returns the irq index on top of the acknowledgement
// stack, for AIC_ISR.
func (c *Controller) CurrentInService() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stack) == 0 {
		return 0
	}
	return c.stack[len(c.stack)-1].irq
}

func decodeSrcType(bits uint32) SourceType {
	switch bits & 0x3 {
	case 0b00:
		return LevelHigh
	case 0b01:
		return EdgeRising
	case 0b10:
		return LevelLow
	default:
		return EdgeFalling
	}
}

func encodeSrcType(t SourceType) uint32 {
	switch t {
	case LevelHigh:
		return 0b00
	case EdgeRising:
		return 0b01
	case LevelLow:
		return 0b10
	default:
		return 0b11
	}
}

func smrValue(l *lineState) uint32 {
	return uint32(l.priority) | (encodeSrcType(l.srcType) << 5)
}

func (c *Controller) setSMRLocked(irq uint8, val uint32) {
	l := &c.lines[irq]
	l.priority = uint8(val & 0x7)
	srcBits := (val >> 5) & 0x3
	if irq >= 1 && irq <= internalForcedMax {
		// Force ACTIVE_HIGH/ACTIVE_RISING: drop the external-polarity bit.
		srcBits &= 0b01
	}
	l.srcType = decodeSrcType(srcBits)
}
