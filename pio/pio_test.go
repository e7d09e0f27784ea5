package pio_test

import (
	"encoding/binary"
	"testing"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/iox"
	"github.com/isis-obc/iobcsim/pio"
)

func TestOutputWriteReflectsInPDSR(t *testing.T) {
	ctrl := aic.New()
	ch, err := pio.New("PIOA", 3, ctrl, t.TempDir()+"/pioa.sock")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch.Write32(0x00, 1<<0)  // PER: PIO claims pin 0
	ch.Write32(0x10, 1<<0)  // OER: pin 0 is an output
	ch.Write32(0x30, 1<<0)  // SODR: drive pin 0 high

	if got := ch.Read32(0x3C); got&1 == 0 {
		t.Fatal("expected PDSR bit 0 set after SODR")
	}
}

func TestExternalInputEdgeSetsISRAndIRQ(t *testing.T) {
	ctrl := aic.New()
	ch, err := pio.New("PIOB", 4, ctrl, t.TempDir()+"/piob.sock")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctrl.Write32(0x000+4*4, 0b01<<5) // AIC SMR4: edge-rising, stays pending after the ISR read
	ctrl.Write32(0x120, 1<<4)        // AIC IECR: unmask line 4

	ch.Write32(0x00, 1<<7)  // PER: PIO claims pin 7 (input, OSR left clear)
	ch.Write32(0x40, 1<<7)  // IER: enable interrupt on pin 7

	ch.SetExternalState(1 << 7)

	if isr := ch.Read32(0x4C); isr&(1<<7) == 0 {
		t.Fatal("expected ISR bit 7 set on rising edge")
	}
	if !ctrl.IRQAsserted() {
		t.Fatal("expected AIC line asserted")
	}
	if isr2 := ch.Read32(0x4C); isr2 != 0 {
		t.Fatal("ISR should clear on read")
	}
}

func TestHandleFramePinEnableDisableTogglePSR(t *testing.T) {
	ctrl := aic.New()
	ch, err := pio.New("PIOA", 3, ctrl, t.TempDir()+"/pioa.sock")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mask := make([]byte, 4)
	binary.LittleEndian.PutUint32(mask, 1<<5)

	ch.HandleFrame(iox.Frame{Cat: iox.CatPin, ID: iox.IDPinEnable, Payload: mask})
	if got := ch.Read32(0x08); got&(1<<5) == 0 {
		t.Fatal("expected PSR bit 5 set after an ID_PIN_ENABLE frame")
	}

	ch.HandleFrame(iox.Frame{Cat: iox.CatPin, ID: iox.IDPinDisable, Payload: mask})
	if got := ch.Read32(0x08); got&(1<<5) != 0 {
		t.Fatal("expected PSR bit 5 cleared after an ID_PIN_DISABLE frame")
	}
}
