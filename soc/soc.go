// Package soc wires every peripheral model into one AT91SAM9G20-shaped
// machine: a single mmio.Router for CPU-visible 32-bit accesses, a
// parallel dma.Bus for PDC byte-granular transfers, the AIC (with its
// SYSC OR-stub for the system-controller sources), and the PMC
// master-clock fanout. It owns no CPU of its own; a host driving the
// emulated core calls Router.Read/Router.Write to dispatch bus accesses
// and the various Poll/Advance* methods to step time forward.
package soc

import (
	"io"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/bootmem"
	"github.com/isis-obc/iobcsim/dbgu"
	"github.com/isis-obc/iobcsim/dma"
	"github.com/isis-obc/iobcsim/matrix"
	"github.com/isis-obc/iobcsim/mci"
	"github.com/isis-obc/iobcsim/mem"
	"github.com/isis-obc/iobcsim/mmio"
	"github.com/isis-obc/iobcsim/pio"
	"github.com/isis-obc/iobcsim/pit"
	"github.com/isis-obc/iobcsim/pmc"
	"github.com/isis-obc/iobcsim/rstc"
	"github.com/isis-obc/iobcsim/rtt"
	"github.com/isis-obc/iobcsim/sdramc"
	"github.com/isis-obc/iobcsim/spi"
	"github.com/isis-obc/iobcsim/tc"
	"github.com/isis-obc/iobcsim/twi"
	"github.com/isis-obc/iobcsim/usart"
)

// Base addresses, laid out the way the AT91SAM9G20 datasheet does: low
// memory for the aliased boot region, the external bus interface at
// EBI_NCS0, and everything else packed into the internal peripheral
// window.
const (
	baseBootmem = 0x0000_0000 // alias, size bootmem.Size

	baseROM     = 0x0010_0000 // internal ROM, fixed address regardless of remap
	baseSRAM0   = 0x0020_0000 // internal SRAM0, likewise fixed
	baseEBINCS0 = 0x1000_0000

	baseMCI  = 0xFFFA_0000
	baseSPI0 = 0xFFFA_4000
	baseSPI1 = 0xFFFA_8000
	baseTWI  = 0xFFFA_C000
	baseTC0  = 0xFFFB_0000
	baseTC1  = 0xFFFB_4000

	baseUSART0 = 0xFFFB_C000
	usartSpan  = 0x4000 // USART0..5 at 0x4000 apart

	baseAIC  = 0xFFFF_F000
	baseDBGU = 0xFFFF_F200
	basePIOA = 0xFFFF_F400
	basePIOB = 0xFFFF_F600
	basePIOC = 0xFFFF_F800

	basePMC    = 0xFFFF_FC00
	baseRSTC   = 0xFFFF_FD00
	baseRTT    = 0xFFFF_FD20
	basePIT    = 0xFFFF_FD30
	baseSDRAMC = 0xFFFF_FEA0
	baseMATRIX = 0xFFFF_FF00

	peripheralWindow = 0x4000
	smallWindow      = 0x200
	tcBlockSize      = 0x100
	pmcSize          = 0x100
	pitRttSize       = 0x10
	rstcSize         = 0x10
	sdramcSize       = 0x20
	matrixSize       = 0x60
)

// AIC line assignment: lines 2 and up are dedicated per peripheral. The
// SYSC sources (PIT, RTT, DBGU) share line 1 through the stub.
const (
	irqUSART0 = 2
	irqUSART1 = 3
	irqUSART2 = 4
	irqUSART3 = 5
	irqUSART4 = 6
	irqUSART5 = 7
	irqTWI    = 8
	irqSPI0   = 9
	irqSPI1   = 10
	irqMCI    = 11
	irqPIOA   = 12
	irqPIOB   = 13
	irqPIOC   = 14
	irqTC0Ch0 = 15
	irqTC0Ch1 = 16
	irqTC0Ch2 = 17
	irqTC1Ch0 = 18
	irqTC1Ch1 = 19
	irqTC1Ch2 = 20

	sysSourcePIT  = 0
	sysSourceRTT  = 1
	sysSourceDBGU = 2
)

// cardSelectPin is the PIOB input wired to MCI's selected_card mux: two
// SD cards share slot A electrically, and this GPIO toggles between them.
const cardSelectPin = 7

// Config supplies everything that depends on the host environment: the
// IOX socket paths clients connect to, the SD-card collaborators, boot
// memory sizing, and the destination for DBGU console bytes.
type Config struct {
	ROMSize    uint32
	SRAM0Size  uint32
	EBISize    uint32
	BootTarget bootmem.Target

	USARTSockets [6]string
	SPISockets   [2]string
	TWISocket    string
	PIOSockets   [3]string
	SDRAMCSocket string

	SDCards [2]mci.SDBus

	DBGUOutput io.Writer
}

// SoC is the fully wired machine.
type SoC struct {
	cfg Config

	Router  *mmio.Router
	DMA     *dma.Bus
	AIC     *aic.Controller
	SysStub *aic.Stub
	PMC     *pmc.Channel
	Matrix  *matrix.Controller
	RSTC    *rstc.Controller

	Bootmem *bootmem.Alias
	ROM     *mem.Block
	SRAM0   *mem.Block
	EBINCS0 *mem.Block

	USART  [6]*usart.Channel
	SPI    [2]*spi.Channel
	TWI    *twi.Channel
	MCI    *mci.Channel
	PIT    *pit.Channel
	RTT    *rtt.Channel
	TC0    *tc.Block
	TC1    *tc.Block
	DBGU   *dbgu.Channel
	PIO    [3]*pio.Channel
	SDRAMC *sdramc.Controller
}

var _ rstc.Resetter = (*SoC)(nil)

// New builds and wires every peripheral.
func New(cfg Config) (*SoC, error) {
	s := &SoC{cfg: cfg}

	s.Router = mmio.NewRouter()
	s.DMA = dma.NewBus()
	s.AIC = aic.New()
	s.SysStub = aic.NewStub(s.AIC)
	s.PMC = pmc.New()

	s.ROM = mem.NewBlock("ROM", cfg.ROMSize, true)
	s.SRAM0 = mem.NewBlock("SRAM0", cfg.SRAM0Size, false)
	s.EBINCS0 = mem.NewBlock("EBI_NCS0", cfg.EBISize, false)
	s.Bootmem = bootmem.NewAlias(s.ROM, s.SRAM0, s.EBINCS0, cfg.BootTarget)

	s.RSTC = rstc.New(s)
	s.Matrix = matrix.New(s.Bootmem)

	var err error
	s.SDRAMC, err = sdramc.New(cfg.SDRAMCSocket)
	if err != nil {
		return nil, err
	}

	for i := range s.USART {
		line := []uint8{irqUSART0, irqUSART1, irqUSART2, irqUSART3, irqUSART4, irqUSART5}[i]
		s.USART[i], err = usart.New("USART"+string(rune('0'+i)), line, s.AIC, s.DMA, cfg.USARTSockets[i])
		if err != nil {
			return nil, err
		}
	}

	for i := range s.SPI {
		line := []uint8{irqSPI0, irqSPI1}[i]
		s.SPI[i], err = spi.New("SPI"+string(rune('0'+i)), line, s.AIC, s.DMA, cfg.SPISockets[i])
		if err != nil {
			return nil, err
		}
	}

	s.TWI, err = twi.New("TWI", irqTWI, s.AIC, s.DMA, cfg.TWISocket)
	if err != nil {
		return nil, err
	}

	s.MCI = mci.New("MCI", irqMCI, s.AIC, s.DMA, &cardSwitchingBus{cards: cfg.SDCards})

	s.PIT = pit.New(sysSourcePIT, aic.StubLine{Stub: s.SysStub, Source: sysSourcePIT})
	s.RTT = rtt.New(sysSourceRTT, aic.StubLine{Stub: s.SysStub, Source: sysSourceRTT})
	s.DBGU = dbgu.New(sysSourceDBGU, aic.StubLine{Stub: s.SysStub, Source: sysSourceDBGU}, cfg.DBGUOutput)

	s.TC0 = tc.New("TC0", [3]uint8{irqTC0Ch0, irqTC0Ch1, irqTC0Ch2}, s.AIC)
	s.TC1 = tc.New("TC1", [3]uint8{irqTC1Ch0, irqTC1Ch1, irqTC1Ch2}, s.AIC)

	pioLines := [3]uint8{irqPIOA, irqPIOB, irqPIOC}
	pioNames := [3]string{"PIOA", "PIOB", "PIOC"}
	for i := range s.PIO {
		s.PIO[i], err = pio.New(pioNames[i], pioLines[i], s.AIC, cfg.PIOSockets[i])
		if err != nil {
			return nil, err
		}
	}

	s.registerRegions()
	s.registerClockSinks()

	return s, nil
}

// cardSwitchingBus adapts MCI's single-card-at-a-time SDBus contract to
// the two physical cards sharing slot A, indexed by the card argument MCI
// passes in (its selectedCard, which SoC.Poll sets from PIOB pin 7).
type cardSwitchingBus struct {
	cards [2]mci.SDBus
}

func (b *cardSwitchingBus) DoCommand(card int, req mci.SDRequest) mci.SDResponse {
	if b.cards[card] == nil {
		return mci.SDResponse{Timeout: true}
	}
	return b.cards[card].DoCommand(card, req)
}

func (b *cardSwitchingBus) DataReady(card int) bool {
	if b.cards[card] == nil {
		return false
	}
	return b.cards[card].DataReady(card)
}

func (b *cardSwitchingBus) ReadData(card int) (byte, bool) {
	if b.cards[card] == nil {
		return 0, false
	}
	return b.cards[card].ReadData(card)
}

func (b *cardSwitchingBus) WriteData(card int, v byte) {
	if b.cards[card] == nil {
		return
	}
	b.cards[card].WriteData(card, v)
}

func (s *SoC) registerRegions() {
	reg := func(name string, base, size uint32, dev mmio.Device) {
		s.Router.Register(mmio.Region{Name: name, Base: base, Size: size, Device: dev})
	}

	reg("bootmem", baseBootmem, bootmem.Size, s.Bootmem)
	reg("ROM", baseROM, s.ROM.Size(), s.ROM)
	reg("SRAM0", baseSRAM0, s.SRAM0.Size(), s.SRAM0)
	reg("EBI_NCS0", baseEBINCS0, s.EBINCS0.Size(), s.EBINCS0)

	for i := range s.USART {
		reg("USART"+string(rune('0'+i)), baseUSART0+uint32(i)*usartSpan, peripheralWindow, s.USART[i])
	}
	reg("SPI0", baseSPI0, peripheralWindow, s.SPI[0])
	reg("SPI1", baseSPI1, peripheralWindow, s.SPI[1])
	reg("TWI", baseTWI, peripheralWindow, s.TWI)
	reg("MCI", baseMCI, peripheralWindow, s.MCI)

	reg("TC0", baseTC0, tcBlockSize, s.TC0)
	reg("TC1", baseTC1, tcBlockSize, s.TC1)

	reg("DBGU", baseDBGU, smallWindow, s.DBGU)
	reg("PIOA", basePIOA, smallWindow, s.PIO[0])
	reg("PIOB", basePIOB, smallWindow, s.PIO[1])
	reg("PIOC", basePIOC, smallWindow, s.PIO[2])

	reg("PMC", basePMC, pmcSize, s.PMC)
	reg("RSTC", baseRSTC, rstcSize, s.RSTC)
	reg("RTT", baseRTT, pitRttSize, s.RTT)
	reg("PIT", basePIT, pitRttSize, s.PIT)
	reg("SDRAMC", baseSDRAMC, sdramcSize, s.SDRAMC)
	reg("MATRIX", baseMATRIX, matrixSize, s.Matrix)
	reg("AIC", baseAIC, smallWindow, s.AIC)

	// PDC-capable peripherals drain/fill CPU address space byte-at-a-time
	// through the shared DMA bus, independent of the mmio.Router's 32-bit
	// path above. Firmware points RPR/TPR at real backing storage (SRAM,
	// ROM, EBI) rather than the bootmem alias, so the bus is registered
	// against the backing blocks directly at their fixed addresses.
	s.DMA.Register(baseROM, s.ROM.Size(), s.ROM)
	s.DMA.Register(baseSRAM0, s.SRAM0.Size(), s.SRAM0)
	s.DMA.Register(baseEBINCS0, s.EBINCS0.Size(), s.EBINCS0)
}

func (s *SoC) registerClockSinks() {
	for _, u := range s.USART {
		s.PMC.AddClockSink(u)
	}
	for _, sp := range s.SPI {
		s.PMC.AddClockSink(sp)
	}
	s.PMC.AddClockSink(s.TWI)
	s.PMC.AddClockSink(s.MCI)
	s.PMC.AddClockSink(s.PIT)
	s.PMC.AddClockSink(s.TC0)
	s.PMC.AddClockSink(s.TC1)
}

// Poll drives every IOX-backed peripheral's socket once; call from the
// host event loop each tick.
func (s *SoC) Poll() {
	for _, u := range s.USART {
		u.Poll()
	}
	for _, sp := range s.SPI {
		sp.Poll()
	}
	s.TWI.Poll()
	for _, p := range s.PIO {
		p.Poll()
	}
	s.SDRAMC.Poll()

	// The MCI card-select mux is driven by a GPIO rather than a register
	// write, so it's re-sampled here rather than through Write32.
	if s.PIO[1] != nil {
		if s.PIO[1].PinLevel(cardSelectPin) {
			s.MCI.SetSelectedCard(1)
		} else {
			s.MCI.SetSelectedCard(0)
		}
	}
}

// AdvanceMCK steps every master-clock-derived time source by mckCycles
// master-clock cycles.
func (s *SoC) AdvanceMCK(mckCycles uint64) {
	s.PIT.Advance(mckCycles)
	s.TC0.AdvanceMCK(mckCycles)
	s.TC1.AdvanceMCK(mckCycles)
}

// AdvanceSLCK steps every slow-clock-derived time source by slckCycles
// slow-clock cycles.
func (s *SoC) AdvanceSLCK(slckCycles uint64) {
	s.RTT.Advance(slckCycles)
	s.TC0.AdvanceSLCK(slckCycles)
	s.TC1.AdvanceSLCK(slckCycles)
}

// Tick advances the TWI THR-debounce state machine by one step; call once
// per event-loop tick alongside Poll.
func (s *SoC) Tick() {
	s.TWI.Tick()
}

// Reset performs the two-phase SoC-wide reset RSTC triggers: phase 1
// clears every peripheral's registers so no peripheral observes another
// mid-reset, phase 2 drops anything buffered beyond registers (USART's
// queued RX byte) and re-emits any initialization-derived outbound IOX
// frames (PIO's post-reset pin-state vector). Implements rstc.Resetter.
func (s *SoC) Reset() {
	for _, u := range s.USART {
		u.ResetRegisters()
	}
	for _, sp := range s.SPI {
		sp.ResetRegisters()
	}
	s.TWI.ResetRegisters()
	s.MCI.ResetRegisters()
	s.PIT.ResetRegisters()
	s.RTT.ResetRegisters()
	s.TC0.ResetRegisters()
	s.TC1.ResetRegisters()
	s.DBGU.ResetRegisters()
	for _, p := range s.PIO {
		p.ResetRegisters()
	}
	s.PMC.ResetRegisters()
	s.SDRAMC.ResetRegisters()
	s.Matrix.ResetRegisters() // also restores bootmem's alias via Remapper
	s.AIC.ResetRegisters()

	for _, u := range s.USART {
		u.ResetBuffers()
	}
	for _, p := range s.PIO {
		p.ResetBuffers()
	}
}
