//go:build !unix && !windows

package region

import (
	"os"

	"github.com/wippyai/heapguard/errors"
)

// osBackend reports every operation as unsupported on platforms without
// virtual memory control.
type osBackend struct{}

func (osBackend) PageSize() int { return os.Getpagesize() }

func (osBackend) Reserve(int) ([]byte, error)          { return nil, unsupported() }
func (osBackend) ReserveCommitted(int) ([]byte, error) { return nil, unsupported() }
func (osBackend) Commit([]byte) error                  { return unsupported() }
func (osBackend) Protect([]byte, Protection) error     { return unsupported() }
func (osBackend) MapFile(*os.File, []byte) error       { return unsupported() }
func (osBackend) Release([]byte) error                 { return unsupported() }

func unsupported() error {
	return errors.Unsupported(errors.PhaseRegion, "virtual memory reservation on this platform")
}
