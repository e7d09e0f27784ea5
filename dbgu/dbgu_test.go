package dbgu_test

import (
	"bytes"
	"testing"

	"github.com/isis-obc/iobcsim/aic"
	"github.com/isis-obc/iobcsim/dbgu"
)

func TestTHRWriteFlushesToWriter(t *testing.T) {
	ctrl := aic.New()
	var buf bytes.Buffer
	ch := dbgu.New(2, ctrl, &buf)

	ch.Write32(0x00, 1<<6) // CR.TXEN
	ch.Write32(0x1C, 'h')
	ch.Write32(0x1C, 'i')

	if got := buf.String(); got != "hi" {
		t.Fatalf("output = %q, want %q", got, "hi")
	}
	if sr := ch.Read32(0x14); sr&(1<<1) == 0 {
		t.Fatal("expected TXRDY set")
	}
}

func TestOVREOnByteArrivalWhileRXRDYSet(t *testing.T) {
	ctrl := aic.New()
	ch := dbgu.New(2, ctrl, nil)
	ctrl.Write32(0x120, 1<<2) // AIC IECR: unmask line 2
	ch.Write32(0x00, 1<<4) // CR.RXEN
	ch.Write32(0x08, 1<<0) // IER.RXRDY

	ch.PushByte('a')
	ch.PushByte('b')

	sr := ch.Read32(0x14)
	if sr&(1<<5) == 0 {
		t.Fatal("expected OVRE set")
	}
	if !ctrl.IRQAsserted() {
		t.Fatal("expected AIC line asserted")
	}
	if got := ch.Read32(0x18); got != 'b' {
		t.Fatalf("RHR = %q, want 'b'", got)
	}
}
