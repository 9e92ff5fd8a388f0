//go:build !windows

package device

import (
	"io"
	"os"

	"github.com/google/go-tpm/legacy/tpm2"
)

// OpenTPM connects to the platform TPM. An empty path tries the kernel
// resource manager first, then the raw device.
func OpenTPM(path string) (io.ReadWriteCloser, error) {
	if path == "" {
		rwc, err := tpm2.OpenTPM("/dev/tpmrm0")
		if os.IsNotExist(err) {
			rwc, err = tpm2.OpenTPM("/dev/tpm0")
		}
		return rwc, err
	}
	return tpm2.OpenTPM(path)
}
