// Package bootmem implements the 0x0000_0000-based aliasing region that
// exposes one of {internal ROM, internal SRAM0, external NOR-flash/SDRAM
// via EBI_NCS0} depending on the BMS boot-mode pin (fixed at reset) and the
// MATRIX MRCR REMAP bit (software-controlled at runtime): per the AT91
// datasheet, REMAP always maps internal SRAM0 at 0x0 when set, regardless
// of the BMS-selected default.
//
// The alias never allocates storage of its own; it forwards every access
// to whichever backing store is currently live, and the live target can be
// swapped atomically underneath unchanged read/write calls.
package bootmem

import (
	"sync"

	"github.com/isis-obc/iobcsim/mmio"
)

// Target names the live backing store for address 0x0.
type Target int

const (
	TargetROM Target = iota
	TargetSRAM0
	TargetEBINCS0
)

func (t Target) String() string {
	switch t {
	case TargetROM:
		return "ROM"
	case TargetSRAM0:
		return "SRAM0"
	case TargetEBINCS0:
		return "EBI_NCS0"
	default:
		return "unknown"
	}
}

// Size is the fixed bootmem window size.
const Size = 0x0010_0000

// Alias is the bootmem region's mmio.Device. It never allocates storage of
// its own; it forwards every access to whichever backing Device is
// currently live.
type Alias struct {
	mu sync.Mutex

	rom, sram0, ebi mmio.Device

	bootTarget Target // fixed by the BMS pin for this boot
	remapped   bool   // MATRIX MRCR REMAP bit
	current    Target
}

var _ mmio.Device = (*Alias)(nil)

// NewAlias wires the three possible backing stores and the BMS-selected
// boot target.
func NewAlias(rom, sram0, ebi mmio.Device, bootTarget Target) *Alias {
	a := &Alias{rom: rom, sram0: sram0, ebi: ebi, bootTarget: bootTarget}
	a.recompute()
	return a
}

// Reset restores REMAP to its power-on (unset) state, so the alias reverts
// to the BMS-selected boot target. Bootmem has no registers of its own to
// clear; this is called as part of the SoC-wide reset fanout.
func (a *Alias) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remapped = false
	a.recompute()
}

// SetRemapped implements matrix.Remapper: flips the live alias atomically
// with respect to any Read32/Write32 in flight. No access can observe a
// partially-applied remap.
func (a *Alias) SetRemapped(remapped bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remapped = remapped
	a.recompute()
}

func (a *Alias) recompute() {
	if a.remapped {
		a.current = TargetSRAM0
	} else {
		a.current = a.bootTarget
	}
}

func (a *Alias) backing() mmio.Device {
	a.mu.Lock()
	target := a.current
	a.mu.Unlock()

	switch target {
	case TargetROM:
		return a.rom
	case TargetSRAM0:
		return a.sram0
	case TargetEBINCS0:
		return a.ebi
	default:
		mmio.Abort("bootmem", 0, 0, "invalid alias target %v", target)
		return nil
	}
}

// Current reports the live alias target, for diagnostics and tests.
func (a *Alias) Current() Target {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Alias) Read32(offset uint32) uint32 {
	return a.backing().Read32(offset)
}

func (a *Alias) Write32(offset uint32, val uint32) {
	a.backing().Write32(offset, val)
}
