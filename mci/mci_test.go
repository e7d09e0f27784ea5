package mci_test

import (
	"testing"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/mci"
)

type fakeMem struct{ data [4096]byte }

func (m *fakeMem) ReadByte(addr uint32) byte       { return m.data[addr] }
func (m *fakeMem) WriteByte(addr uint32, val byte) { m.data[addr] = val }

type fakeCard struct {
	sector [512]byte
	pos    int
	active bool
}

func (f *fakeCard) DoCommand(card int, req mci.SDRequest) mci.SDResponse {
	if req.Cmd == 17 { // READ_SINGLE_BLOCK
		f.pos = 0
		f.active = true
		return mci.SDResponse{Bytes: []byte{0, 0, 0, 0}}
	}
	return mci.SDResponse{Bytes: []byte{0, 0, 0, 0}}
}

func (f *fakeCard) DataReady(card int) bool { return f.active && f.pos < len(f.sector) }

func (f *fakeCard) ReadData(card int) (byte, bool) {
	if !f.DataReady(card) {
		return 0, false
	}
	b := f.sector[f.pos]
	f.pos++
	if f.pos == len(f.sector) {
		f.active = false
	}
	return b, true
}

func (f *fakeCard) WriteData(card int, b byte) {}

func TestSingleBlockReadViaPDCMatchesPattern(t *testing.T) {
	ctrl := aic.New()
	mem := &fakeMem{}
	card := &fakeCard{}
	for i := range card.sector {
		card.sector[i] = byte(i)
	}

	ch := mci.New("MCI", 10, ctrl, mem, card)

	ch.Write32(0x00, 1<<0) // CR.MCIEN
	ch.Write32(0x18, 512)  // BLKR: BLKLEN=512 bytes

	// PDC RX setup: RCR counts 32-bit words (FBYTE unset), 128 words = 512 bytes
	ch.Write32(0x100, 0)   // RPR
	ch.Write32(0x104, 128) // RCR
	ch.Write32(0x120, 1)   // PTCR RXTEN

	ch.Write32(0x10, 0)  // ARGR
	// CMDR: cmd=17, TRCMD=START(1<<16), TRTYP=single(0), PDC mode bit15, TRDIR read (bit18 set)
	ch.Write32(0x14, 17|(1<<16)|(1<<15)|(1<<18))

	for i := 0; i < 512; i++ {
		if got := mem.data[i]; got != byte(i) {
			t.Fatalf("mem[%d] = %d, want %d", i, got, byte(i))
		}
	}

	if sr := ch.Read32(0x40); sr&(1<<24) == 0 {
		t.Fatal("expected ENDRX set")
	}
	if sr := ch.Read32(0x40); sr&(1<<3) == 0 {
		t.Fatal("expected BLKE set on read completion")
	}
}
