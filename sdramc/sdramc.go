// Package sdramc implements a minimal SDRAM Controller register file
// plus an IOX socket carrying a single injectable fault: a refresh
// timeout, letting an external harness simulate the hardware error
// without the emulator tracking real refresh timing.
package sdramc

import (
	"sync"

	"github.com/isis-obc/iobcsim/iox"
	"github.com/isis-obc/iobcsim/mmio"
)

const srREFRESHTO = 1 << 0

// Controller is the SDRAMC register file.
type Controller struct {
	mu sync.Mutex

	mr, cr, lpr, tr uint32
	sr              uint32

	server *iox.Server
}

var _ mmio.Device = (*Controller)(nil)
var _ iox.Handler = (*Controller)(nil)

// New creates an SDRAMC and opens its IOX socket.
func New(socketPath string) (*Controller, error) {
	c := &Controller{}
	server, err := iox.NewServer(socketPath, c)
	if err != nil {
		return nil, err
	}
	c.server = server
	c.ResetRegisters()
	return c, nil
}

// ResetRegisters restores power-on defaults.
func (c *Controller) ResetRegisters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mr, c.cr, c.lpr, c.tr = 0, 0, 0, 0
	c.sr = 0
}

const (
	offMR  = 0x00
	offTR  = 0x04
	offCR  = 0x08
	offLPR = 0x10
	offSR  = 0x14
)

func (c *Controller) Read32(offset uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMR:
		return c.mr
	case offTR:
		return c.tr
	case offCR:
		return c.cr
	case offLPR:
		return c.lpr
	case offSR:
		v := c.sr
		c.sr = 0
		return v
	}
	mmio.Abort("SDRAMC", offset, 0, "read from write-only or unimplemented SDRAMC register")
	return 0
}

func (c *Controller) Write32(offset uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case offMR:
		c.mr = val
	case offTR:
		c.tr = val
	case offCR:
		c.cr = val
	case offLPR:
		c.lpr = val
	default:
		mmio.Abort("SDRAMC", offset, val, "write to read-only or unimplemented SDRAMC register")
	}
}

const faultRES = 0x01

// HandleFrame implements iox.Handler: FAULT/RES injects a refresh
// timeout.
func (c *Controller) HandleFrame(f iox.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.Cat == iox.CatFault && f.ID == faultRES {
		c.sr |= srREFRESHTO
	}
}

// Poll drives the controller's IOX server; call once per event-loop tick.
func (c *Controller) Poll() {
	c.server.Poll()
}
