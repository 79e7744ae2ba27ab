//go:build windows

package region

import (
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// osBackend reserves with MEM_RESERVE and commits subranges with
// MEM_COMMIT. Windows cannot place a file view inside an existing
// reservation without placeholder APIs, so MapFile copies the image into
// committed pages and then drops write access.
type osBackend struct{}

func (osBackend) PageSize() int { return os.Getpagesize() }

func (osBackend) Reserve(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func (osBackend) ReserveCommitted(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func (osBackend) Commit(b []byte) error {
	_, err := windows.VirtualAlloc(addrOf(b), uintptr(len(b)), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

func (osBackend) Protect(b []byte, prot Protection) error {
	if prot != ProtNone {
		if _, err := windows.VirtualAlloc(addrOf(b), uintptr(len(b)), windows.MEM_COMMIT, windows.PAGE_READWRITE); err != nil {
			return err
		}
	}
	var old uint32
	return windows.VirtualProtect(addrOf(b), uintptr(len(b)), winProt(prot), &old)
}

func (b osBackend) MapFile(f *os.File, dst []byte) error {
	if err := b.Commit(dst); err != nil {
		return err
	}
	if _, err := f.ReadAt(dst, 0); err != nil && err != io.EOF {
		return err
	}
	return b.Protect(dst, ProtRead)
}

func (osBackend) Release(b []byte) error {
	return windows.VirtualFree(addrOf(b), 0, windows.MEM_RELEASE)
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func winProt(p Protection) uint32 {
	switch p {
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtReadWrite:
		return windows.PAGE_READWRITE
	case ProtReadExec:
		return windows.PAGE_EXECUTE_READ
	default:
		return windows.PAGE_NOACCESS
	}
}
