//go:build unix

package main

import (
	"strings"
	"testing"

	"github.com/wippyai/heapguard/memory"
)

func TestRun_Probe(t *testing.T) {
	tests := []struct {
		name    string
		spectre bool
		addr    uint64
		want    string
	}{
		{"accessible", false, 0x10, "readable"},
		{"guard page", false, 2 * memory.PageSize, "faulted"},
		{"trapped", false, 16 * memory.PageSize, "heap_out_of_bounds"},
		{"clamped", true, 16 * memory.PageSize, "null page"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := testOptions("probe", tc.spectre)
			opts.addr = tc.addr
			out := runMode(t, opts)
			if !strings.Contains(out, tc.want) {
				t.Errorf("output missing %q:\n%s", tc.want, out)
			}
		})
	}
}
