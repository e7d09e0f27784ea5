package mmio

import "log"

// Reserved is a catch-all Device for address ranges the datasheet marks
// reserved. Any access aborts with location information; these exist
// purely to catch flight-software bugs early.
type Reserved struct {
	Name string
}

func (r *Reserved) Read32(offset uint32) uint32 {
	Abort(r.Name, offset, 0, "access to reserved region")
	return 0
}

func (r *Reserved) Write32(offset uint32, val uint32) {
	Abort(r.Name, offset, val, "access to reserved region")
}

// UnimplementedPolicy controls how an Unimplemented region behaves.
type UnimplementedPolicy int

const (
	// WarnOnAccess logs once per distinct offset and returns zero on read;
	// writes are logged and discarded. The default policy.
	WarnOnAccess UnimplementedPolicy = iota
	// AbortOnAccess treats the region like Reserved.
	AbortOnAccess
)

// Unimplemented models an address range belonging to a peripheral the
// emulator does not model. Reads return 0, writes warn, both configurable
// to abort instead.
type Unimplemented struct {
	Name   string
	Policy UnimplementedPolicy
	Logger *log.Logger

	warned map[uint32]bool
}

func (u *Unimplemented) Read32(offset uint32) uint32 {
	if u.Policy == AbortOnAccess {
		Abort(u.Name, offset, 0, "read from unimplemented region")
	}
	u.warn(offset, 0, "read")
	return 0
}

func (u *Unimplemented) Write32(offset uint32, val uint32) {
	if u.Policy == AbortOnAccess {
		Abort(u.Name, offset, val, "write to unimplemented region")
	}
	u.warn(offset, val, "write")
}

func (u *Unimplemented) warn(offset, val uint32, op string) {
	if u.warned == nil {
		u.warned = make(map[uint32]bool)
	}
	if u.warned[offset] {
		return
	}
	u.warned[offset] = true
	logger := u.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("mmio: %s to unimplemented region %s offset 0x%x (value 0x%x)", op, u.Name, offset, val)
}
