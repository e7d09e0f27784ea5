package soc_test

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/isis-obc/iobcsim/bootmem"
	"github.com/isis-obc/iobcsim/iox"
	"github.com/isis-obc/iobcsim/soc"
)

// Address constants mirror soc.go's internal layout; the router has no
// exported symbolic offsets, so tests address peripherals the way firmware
// would, by literal base address.
const (
	baseMATRIX = 0xFFFF_FF00
	baseRSTC   = 0xFFFF_FD00
	basePIT    = 0xFFFF_FD30
	basePMC    = 0xFFFF_FC00

	offMRCR = 0x00
	offCR   = 0x00
	offPITMR = 0x00
	offMCKR = 0x30

	rstcKey      = 0xA5
	rstcKeyShift = 24
	crPROCRST    = 1 << 0

	pitPIVMask = 0xFFFFF
	pitPITEN   = 1 << 24
)

func newTestSoC(t *testing.T) *soc.SoC {
	t.Helper()
	cfg := soc.Config{
		ROMSize:      0x1000,
		SRAM0Size:    0x1000,
		EBISize:      0x1000,
		BootTarget:   bootmem.TargetROM,
		USARTSockets: [6]string{t.TempDir() + "/u0", t.TempDir() + "/u1", t.TempDir() + "/u2", t.TempDir() + "/u3", t.TempDir() + "/u4", t.TempDir() + "/u5"},
		SPISockets:   [2]string{t.TempDir() + "/s0", t.TempDir() + "/s1"},
		TWISocket:    t.TempDir() + "/twi",
		PIOSockets:   [3]string{t.TempDir() + "/pioa", t.TempDir() + "/piob", t.TempDir() + "/pioc"},
		SDRAMCSocket: t.TempDir() + "/sdramc",
	}
	s, err := soc.New(cfg)
	if err != nil {
		t.Fatalf("soc.New: %v", err)
	}
	return s
}

func TestNewWiresEveryPeripheralWithoutError(t *testing.T) {
	s := newTestSoC(t)
	if s.Bootmem.Current() != bootmem.TargetROM {
		t.Fatalf("Current() = %v, want TargetROM at boot", s.Bootmem.Current())
	}
}

func TestMatrixRemapFlipsBootmemAlias(t *testing.T) {
	s := newTestSoC(t)

	s.Router.Write(baseMATRIX+offMRCR, 4, 1)
	if got := s.Bootmem.Current(); got != bootmem.TargetSRAM0 {
		t.Fatalf("Current() after REMAP set = %v, want TargetSRAM0", got)
	}

	s.Router.Write(baseMATRIX+offMRCR, 4, 0)
	if got := s.Bootmem.Current(); got != bootmem.TargetROM {
		t.Fatalf("Current() after REMAP clear = %v, want TargetROM", got)
	}
}

// TestRSTCResetRevertsMatrixRemap exercises the two-phase reset fanout:
// RSTC_CR with the key and PROCRST triggers SoC.Reset, which resets MATRIX,
// which in turn clears the bootmem alias's remap regardless of what it was
// left at.
func TestRSTCResetRevertsMatrixRemap(t *testing.T) {
	s := newTestSoC(t)

	s.Router.Write(baseMATRIX+offMRCR, 4, 1)
	if s.Bootmem.Current() != bootmem.TargetSRAM0 {
		t.Fatal("setup: expected remap to take effect before reset")
	}

	s.Router.Write(baseRSTC+offCR, 4, (rstcKey<<rstcKeyShift)|crPROCRST)

	if got := s.Bootmem.Current(); got != bootmem.TargetROM {
		t.Fatalf("Current() after RSTC reset = %v, want TargetROM (remap cleared)", got)
	}
}

// TestRSTCResetClearsPeripheralRegisters checks phase 1 of SoC.Reset: a
// register left dirty on one peripheral (PIT's MR) comes back to its
// power-on value once RSTC triggers a reset.
func TestRSTCResetClearsPeripheralRegisters(t *testing.T) {
	s := newTestSoC(t)

	s.Router.Write(basePIT+offPITMR, 4, 0xFF|pitPITEN)
	if got := s.Router.Read(basePIT+offPITMR, 4); got&pitPITEN == 0 {
		t.Fatal("setup: expected PITEN set before reset")
	}

	s.Router.Write(baseRSTC+offCR, 4, (rstcKey<<rstcKeyShift)|crPROCRST)

	got := s.Router.Read(basePIT+offPITMR, 4)
	if got != pitPIVMask {
		t.Fatalf("PIT MR after reset = 0x%x, want 0x%x (power-on PIV, PITEN cleared)", got, pitPIVMask)
	}
}

// TestPMCMasterClockChangeFansOutWithoutPanic exercises the clock-sink
// wiring registered in registerClockSinks: selecting the main oscillator as
// the master clock source changes the computed frequency from the power-on
// default (SLCK) and notifies every registered sink. None of that wiring
// should panic even though several peripherals (USARTs, SPIs, TWI, MCI,
// PIT, TC0, TC1) are all registered as sinks of the same PMC instance.
func TestPMCMasterClockChangeFansOutWithoutPanic(t *testing.T) {
	s := newTestSoC(t)

	const cssMAIN = 1
	s.Router.Write(basePMC+offMCKR, 4, cssMAIN)
}

func TestPollSamplesPIOBForMCICardSelect(t *testing.T) {
	s := newTestSoC(t)

	// Poll with PIOB bit 7 left at its power-on level (low): card 0 selected.
	s.Poll()

	// Drive PIOB bit 7 high externally and confirm Poll doesn't panic when
	// re-sampling the card-select mux.
	s.PIO[1].SetExternalState(1 << 7)
	s.Poll()
}

// TestRSTCResetReemitsPIOPinState exercises phase 2 of SoC.Reset for PIO: a
// client already attached to a PIO bank's IOX socket observes a fresh
// pin-state frame once RSTC triggers a reset, reflecting every pin being
// handed back to its peripheral.
func TestRSTCResetReemitsPIOPinState(t *testing.T) {
	dir := t.TempDir()
	pioaPath := dir + "/pioa"
	cfg := soc.Config{
		ROMSize:      0x1000,
		SRAM0Size:    0x1000,
		EBISize:      0x1000,
		BootTarget:   bootmem.TargetROM,
		USARTSockets: [6]string{dir + "/u0", dir + "/u1", dir + "/u2", dir + "/u3", dir + "/u4", dir + "/u5"},
		SPISockets:   [2]string{dir + "/s0", dir + "/s1"},
		TWISocket:    dir + "/twi",
		PIOSockets:   [3]string{pioaPath, dir + "/piob", dir + "/pioc"},
		SDRAMCSocket: dir + "/sdramc",
	}
	s, err := soc.New(cfg)
	if err != nil {
		t.Fatalf("soc.New: %v", err)
	}

	conn, err := net.Dial("unix", pioaPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	s.Poll() // let the server accept the connection before reset fires

	s.Router.Write(baseRSTC+offCR, 4, (rstcKey<<rstcKeyShift)|crPROCRST)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		t.Fatalf("read frame header: %v", err)
	}
	if hdr[1] != iox.CatPin || hdr[2] != iox.IDPinOut {
		t.Fatalf("got cat=0x%x id=0x%x, want CatPin/IDPinOut", hdr[1], hdr[2])
	}
	length := int(hdr[3])
	if length != 4 {
		t.Fatalf("payload length = %d, want 4", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Fatalf("read frame payload: %v", err)
	}
	if got := binary.LittleEndian.Uint32(payload); got != 0 {
		t.Fatalf("pin-state payload = 0x%x, want 0 (every pin handed back to its peripheral after reset)", got)
	}
}
