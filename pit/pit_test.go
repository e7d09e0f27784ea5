package pit_test

import (
	"testing"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/pit"
)

func TestPITSAfterPIVWraps(t *testing.T) {
	ctrl := aic.New()
	ch := pit.New(4, ctrl)
	ctrl.Write32(0x120, 1<<4) // AIC IECR: unmask line 4

	ch.Write32(0x00, 0xFF|(1<<24)|(1<<25)) // MR: PIV=0xFF, PITEN, PITIEN

	ch.Advance(256 * 16)

	if sr := ch.Read32(0x04); sr&1 == 0 {
		t.Fatal("expected PITS set after 256 pit ticks")
	}
	if !ctrl.IRQAsserted() {
		t.Fatal("expected AIC line asserted")
	}

	v := ch.Read32(0x08) // PIVR
	picnt := v >> 20
	cpiv := v & 0xFFFFF
	if picnt != 1 {
		t.Fatalf("PICNT = %d, want 1", picnt)
	}
	if cpiv != 0 {
		t.Fatalf("CPIV = %d, want 0", cpiv)
	}
	if sr := ch.Read32(0x04); sr&1 != 0 {
		t.Fatal("PITS should be cleared by PIVR read")
	}
}

func TestDisableWhileRunningStopsAtZero(t *testing.T) {
	ctrl := aic.New()
	ch := pit.New(4, ctrl)

	ch.Write32(0x00, 0xFF|(1<<24))
	ch.Advance(16 * 10) // cpiv = 10

	ch.Write32(0x00, 0xFF) // clear PITEN: disable pending until cpiv wraps to 0
	ch.Advance(16 * 1000)  // far more than enough to reach wrap if it kept running

	got := ch.Read32(0x0C) // PIIR, doesn't reset anything
	cpiv := got & 0xFFFFF
	if cpiv != 0 {
		t.Fatalf("CPIV = %d, want 0 (stopped at wrap)", cpiv)
	}
}
