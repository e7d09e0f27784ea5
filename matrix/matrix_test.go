package matrix_test

import (
	"testing"

	"github.com/isis-obc/iobcsim/matrix"
)

type recordingRemapper struct{ remapped bool }

func (r *recordingRemapper) SetRemapped(remapped bool) { r.remapped = remapped }

func TestMRCRWriteFlipsRemapper(t *testing.T) {
	rm := &recordingRemapper{}
	ctrl := matrix.New(rm)

	ctrl.Write32(0x00, 1)
	if !rm.remapped {
		t.Fatal("expected remapper notified of REMAP set")
	}
	if got := ctrl.Read32(0x00); got != 1 {
		t.Fatalf("MRCR readback = %d, want 1", got)
	}

	ctrl.Write32(0x00, 0)
	if rm.remapped {
		t.Fatal("expected remapper notified of REMAP clear")
	}
}

func TestResetRegistersClearsRemap(t *testing.T) {
	rm := &recordingRemapper{}
	ctrl := matrix.New(rm)

	ctrl.Write32(0x00, 1)
	ctrl.ResetRegisters()

	if rm.remapped {
		t.Fatal("expected ResetRegisters to clear the remap")
	}
	if got := ctrl.Read32(0x00); got != 0 {
		t.Fatalf("MRCR after reset = %d, want 0", got)
	}
}

func TestSCFGReadWrite(t *testing.T) {
	ctrl := matrix.New(&recordingRemapper{})

	ctrl.Write32(0x10, 0x42)
	if got := ctrl.Read32(0x10); got != 0x42 {
		t.Fatalf("SCFG[0] = 0x%x, want 0x42", got)
	}
	ctrl.Write32(0x10+4*3, 0x99)
	if got := ctrl.Read32(0x10 + 4*3); got != 0x99 {
		t.Fatalf("SCFG[3] = 0x%x, want 0x99", got)
	}
}
