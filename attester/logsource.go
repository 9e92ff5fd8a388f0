package attester

import (
	"os"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// LogSource supplies the raw bytes of one supplementary log.
type LogSource interface {
	Read() ([]byte, error)
}

// FileLog reads a log from a file, typically one of the kernel's
// binary measurement logs under securityfs.
type FileLog struct {
	Path string
}

// Read returns the file's current contents.
func (f FileLog) Read() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// DefaultLogSources maps the well-known log identifiers to their
// platform locations. Non-empty arguments override the defaults.
func DefaultLogSources(imaPath, bootPath string) map[string]LogSource {
	if imaPath == "" {
		imaPath = DefaultIMALogPath
	}
	if bootPath == "" {
		bootPath = DefaultBootLogPath
	}
	return map[string]LogSource{
		wire.LogIMA:     FileLog{Path: imaPath},
		wire.LogTCGBoot: FileLog{Path: bootPath},
	}
}
