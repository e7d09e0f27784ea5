package twi_test

import (
	"testing"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/mmio"
	"github.com/isis-obc/iobcsim/twi"
)

type fakeMem struct{ data [256]byte }

func (m *fakeMem) ReadByte(addr uint32) byte       { return m.data[addr] }
func (m *fakeMem) WriteByte(addr uint32, val byte) { m.data[addr] = val }

func TestTHRWritesBundleIntoOneBurstAfterDebounce(t *testing.T) {
	ctrl := aic.New()
	mem := &fakeMem{}
	ch, err := twi.New("TWI_TEST", 11, ctrl, mem, t.TempDir()+"/twi_test.sock")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch.Write32(0x00, 1<<2) // CR.MSEN

	ch.Write32(0x34, 0x11) // THR
	ch.Tick()
	ch.Write32(0x34, 0x22) // resets the debounce countdown
	ch.Tick()
	if sr := ch.Read32(0x20); sr&(1<<0) != 0 {
		t.Fatal("TXCOMP should still be 0: burst not yet flushed")
	}
	ch.Tick()
	if sr := ch.Read32(0x20); sr&(1<<0) == 0 {
		t.Fatal("TXCOMP should be 1 after the debounce elapses")
	}
}

func TestCRSlaveModeSelectionAborts(t *testing.T) {
	ctrl := aic.New()
	mem := &fakeMem{}
	ch, err := twi.New("TWI_TEST", 11, ctrl, mem, t.TempDir()+"/twi_test.sock")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic when selecting SLAVE mode")
		}
		fault, ok := r.(*mmio.Fault)
		if !ok {
			t.Fatalf("recovered value is %T, want *mmio.Fault", r)
		}
		if fault.Peripheral != "TWI_TEST" {
			t.Fatalf("fault.Peripheral = %q, want %q", fault.Peripheral, "TWI_TEST")
		}
	}()
	ch.Write32(0x00, 1<<4) // CR.SVEN
}
