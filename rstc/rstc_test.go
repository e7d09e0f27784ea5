package rstc_test

import (
	"testing"

	"github.com/isis-obc/iobcsim/rstc"
)

type recordingResetter struct{ count int }

func (r *recordingResetter) Reset() { r.count++ }

func TestPROCRSTTriggersSoCResetOnlyWithCorrectKey(t *testing.T) {
	soc := &recordingResetter{}
	ctrl := rstc.New(soc)

	ctrl.Write32(0x00, 0x11<<24|1) // wrong key
	if soc.count != 0 {
		t.Fatal("reset must not fire without the correct key")
	}

	ctrl.Write32(0x00, 0xA5<<24|1) // PROCRST, correct key
	if soc.count != 1 {
		t.Fatalf("reset count = %d, want 1", soc.count)
	}

	if sr := ctrl.Read32(0x04); sr&1 == 0 {
		t.Fatal("expected URSTS set after a triggered reset")
	}
	if sr := ctrl.Read32(0x04); sr&1 != 0 {
		t.Fatal("URSTS should clear on read")
	}
}
