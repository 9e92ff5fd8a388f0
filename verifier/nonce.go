package verifier

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// GenerateNonce draws a fresh n-byte challenge nonce from r. A nil r
// uses the platform's crypto/rand; callers with a TPM at hand can pass
// its random source instead.
func GenerateNonce(r io.Reader, n int) ([]byte, error) {
	if n <= 0 || n > wire.MaxNonceSize {
		return nil, fmt.Errorf("nonce length %d outside 1..%d", n, wire.MaxNonceSize)
	}
	if r == nil {
		r = rand.Reader
	}
	nonce := make([]byte, n)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("drawing nonce: %w", err)
	}
	return nonce, nil
}
