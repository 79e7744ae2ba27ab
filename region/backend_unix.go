//go:build unix

package region

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// osBackend reserves with PROT_NONE and commits subranges with mprotect.
type osBackend struct{}

func (osBackend) PageSize() int { return unix.Getpagesize() }

func (osBackend) Reserve(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func (osBackend) ReserveCommitted(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func (osBackend) Commit(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
}

func (osBackend) Protect(b []byte, prot Protection) error {
	return unix.Mprotect(b, unixProt(prot))
}

func (osBackend) MapFile(f *os.File, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	addr := unsafe.Pointer(unsafe.SliceData(dst))
	got, err := unix.MmapPtr(int(f.Fd()), 0, addr, uintptr(len(dst)), unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_FIXED)
	if err != nil {
		return err
	}
	if got != addr {
		return fmt.Errorf("file mapped at %p, want %p", got, addr)
	}
	return nil
}

func (osBackend) Release(b []byte) error {
	return unix.Munmap(b)
}

func unixProt(p Protection) int {
	switch p {
	case ProtRead:
		return unix.PROT_READ
	case ProtReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	case ProtReadExec:
		return unix.PROT_READ | unix.PROT_EXEC
	default:
		return unix.PROT_NONE
	}
}
