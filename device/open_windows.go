//go:build windows

package device

import (
	"errors"
	"io"

	"github.com/google/go-tpm/legacy/tpm2"
)

// OpenTPM connects to the platform TPM through the TBS.
func OpenTPM(path string) (io.ReadWriteCloser, error) {
	if path != "" {
		return nil, errors.New("TPM device paths do not apply on Windows")
	}
	return tpm2.OpenTPM()
}
