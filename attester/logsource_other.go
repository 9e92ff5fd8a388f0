//go:build !linux

package attester

// The kernel measurement logs only exist on Linux. Empty paths make the
// file sources fail their reads, which the responder reports as empty
// log records.
const (
	DefaultIMALogPath  = ""
	DefaultBootLogPath = ""
)
