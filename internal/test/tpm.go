// Package test provides attestation test doubles: a software device with
// a real signing key and tamper knobs, plus TPM-simulator plumbing for
// hardware-path tests.
package test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-tpm-tools/simulator"
)

// GetTPM opens a TPM simulator and closes it when the test ends.
func GetTPM(tb testing.TB) io.ReadWriteCloser {
	tb.Helper()
	sim, err := simulator.Get()
	if err != nil {
		tb.Fatalf("opening TPM simulator: %v", err)
	}
	tb.Cleanup(func() {
		if err := sim.Close(); err != nil {
			tb.Errorf("closing TPM simulator: %v", err)
		}
	})
	return sim
}

// WriteFile drops data into a per-test temp dir and returns its path.
func WriteFile(tb testing.TB, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("writing %s: %v", name, err)
	}
	return path
}
