package rtt_test

import (
	"testing"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/rtt"
)

func TestAlarmFiresWhenCounterPassesAR(t *testing.T) {
	ctrl := aic.New()
	ch := rtt.New(5, ctrl)
	ctrl.Write32(0x000+5*4, 0b01<<5) // AIC SMR5: edge-rising, stays pending after the SR read
	ctrl.Write32(0x120, 1<<5)        // AIC IECR: unmask line 5

	ch.Write32(0x00, 1|(1<<16)) // MR: prescaler=1 (fastest), ALMIEN
	ch.Write32(0x04, 9)         // AR: alarm at 9

	ch.Advance(9)
	if sr := ch.Read32(0x0C); sr&1 != 0 {
		t.Fatal("ALMS should not be set yet at VR == AR")
	}

	ch.Advance(1)
	sr := ch.Read32(0x0C)
	if sr&1 == 0 {
		t.Fatal("expected ALMS set once VR exceeds AR")
	}
	if !ctrl.IRQAsserted() {
		t.Fatal("expected AIC line asserted")
	}

	if sr2 := ch.Read32(0x0C); sr2 != 0 {
		t.Fatal("SR read should clear all flags")
	}
}
