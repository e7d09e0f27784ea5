package spi_test

import (
	"testing"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/spi"
)

type fakeMem struct{ data [256]byte }

func (m *fakeMem) ReadByte(addr uint32) byte       { return m.data[addr] }
func (m *fakeMem) WriteByte(addr uint32, val byte) { m.data[addr] = val }

func TestLoopbackWithNoClient(t *testing.T) {
	ctrl := aic.New()
	mem := &fakeMem{}
	ch, err := spi.New("SPI_TEST", 9, ctrl, mem, t.TempDir()+"/spi_test.sock")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch.Write32(0x00, 1<<0) // CR.SPIEN
	ch.Write32(0x30, 0)    // CSR0: 8-bit width (no PS)

	ch.Write32(0x0C, 0xA5) // TDR

	sr := ch.Read32(0x10)
	if sr&(1<<0) == 0 {
		t.Fatal("expected RDRF set after loopback")
	}
	if got := ch.Read32(0x08); got != 0xA5 {
		t.Fatalf("RDR = 0x%x, want 0xA5", got)
	}
}

func TestPDCTxDrainsOneUnitPerConfiguredWordWidth(t *testing.T) {
	ctrl := aic.New()
	mem := &fakeMem{}
	mem.data[0] = 0x34
	mem.data[1] = 0x12
	ch, err := spi.New("SPI_TEST", 9, ctrl, mem, t.TempDir()+"/spi_test.sock")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch.Write32(0x00, 1<<0)  // CR.SPIEN
	ch.Write32(0x30, 8<<4)  // CSR0: BITS field = 8 -> 16-bit words
	ch.Write32(0x108, 0)    // TPR
	ch.Write32(0x120, 1<<8) // PTCR.TXTEN
	ch.Write32(0x10C, 2)    // TCR: 2 raw bytes, one 16-bit unit

	if got := ch.Read32(0x08); got != 0x1234 {
		t.Fatalf("RDR = 0x%x, want 0x1234 (whole 16-bit unit looped back)", got)
	}
	if got := ch.Read32(0x10C); got != 0 {
		t.Fatalf("TCR after drain = %d, want 0", got)
	}
	sr := ch.Read32(0x10)
	if sr&(1<<5) == 0 { // ENDTX
		t.Fatal("expected ENDTX set after TCR reaches zero")
	}
}
