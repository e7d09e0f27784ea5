package tc_test

import (
	"testing"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/tc"
)

func TestSawtoothWrapsAtRCAndSetsCPCS(t *testing.T) {
	ctrl := aic.New()
	b := tc.New("TC0", [3]uint8{12, 13, 14}, ctrl)

	const relCMR, relRC, relCCR, relCV, relSR = 0x04, 0x1C, 0x00, 0x10, 0x20

	b.Write32(relRC, 5)
	b.Write32(relCMR, 0<<0|(1<<13)) // TCCLKS=MCK/2, WAVE=0 waveform off actually wavsel bit0 set via shift
	b.Write32(relCMR, (0)|(1<<15)|(1<<13))
	b.Write32(relCCR, 1<<0) // CLKEN

	b.AdvanceMCK(2 * 6) // 6 ticks at div 2

	if cv := b.Read32(relCV); cv != 0 {
		t.Fatalf("CV = %d, want 0 after wrapping past RC=5", cv)
	}
	if sr := b.Read32(relSR); sr&(1<<4) == 0 {
		t.Fatal("expected CPCS set")
	}
}

func TestIRQAssertedOnCompareMatch(t *testing.T) {
	ctrl := aic.New()
	b := tc.New("TC0", [3]uint8{12, 13, 14}, ctrl)
	ctrl.Write32(0x120, 1<<12) // AIC IECR: unmask line 12

	const relCMR, relRA, relCCR, relIER = 0x04, 0x14, 0x00, 0x24

	b.Write32(relRA, 3)
	b.Write32(relCMR, 0) // TCCLKS=MCK/2
	b.Write32(relIER, 1<<2) // CPAS
	b.Write32(relCCR, 1<<0)

	b.AdvanceMCK(2 * 3)

	if !ctrl.IRQAsserted() {
		t.Fatal("expected AIC line asserted on CPAS")
	}
}
