package region

import "os"

// Protection is a page protection mode.
type Protection uint8

const (
	ProtNone Protection = iota
	ProtRead
	ProtReadWrite
	ProtReadExec
)

func (p Protection) String() string {
	switch p {
	case ProtNone:
		return "none"
	case ProtRead:
		return "r"
	case ProtReadWrite:
		return "rw"
	case ProtReadExec:
		return "rx"
	default:
		return "prot(?)"
	}
}

// Backend is the virtual memory primitive a Region is built on. Slices
// passed to Commit, Protect and MapFile are always page-aligned subslices of
// a reservation returned by Reserve or ReserveCommitted.
type Backend interface {
	// PageSize returns the granularity of protection changes.
	PageSize() int
	// Reserve maps size bytes of inaccessible address space.
	Reserve(size int) ([]byte, error)
	// ReserveCommitted maps size bytes readable and writable in one step.
	ReserveCommitted(size int) ([]byte, error)
	// Commit makes b readable and writable.
	Commit(b []byte) error
	// Protect changes the protection of b.
	Protect(b []byte, prot Protection) error
	// MapFile places a private read-only image of f at the start of dst.
	// Writes made after a later Protect to ProtReadWrite never reach f.
	MapFile(f *os.File, dst []byte) error
	// Release unmaps an entire reservation.
	Release(b []byte) error
}

var defaultBackend Backend = osBackend{}

// DefaultBackend returns the backend for the host operating system.
func DefaultBackend() Backend { return defaultBackend }

// PageSize returns the host page size.
func PageSize() int { return defaultBackend.PageSize() }
