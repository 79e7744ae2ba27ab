package region

import (
	"runtime/debug"

	"github.com/wippyai/heapguard/errors"
)

// sink keeps probe loads from being optimized away.
var sink byte

// Probe reads b[i] and reports a fault instead of crashing when the page is
// inaccessible. b is typically a Reservation.
func Probe(b []byte, i int) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer recoverFault(i, &err)
	sink = b[i]
	return nil
}

// ProbeWrite stores v at b[i] and reports a fault instead of crashing when
// the page is not writable.
func ProbeWrite(b []byte, i int, v byte) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer recoverFault(i, &err)
	b[i] = v
	return nil
}

// Faults recovered under SetPanicOnFault carry the faulting address.
type addrError interface {
	Addr() uintptr
}

func recoverFault(i int, err *error) {
	r := recover()
	if r == nil {
		return
	}
	ae, ok := r.(addrError)
	if !ok {
		panic(r)
	}
	*err = errors.Fault(errors.PhaseRegion, uint64(i), ae.Addr())
}
