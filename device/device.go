// Package device adapts a TPM 2.0 connection to the attestation device
// capability: quoting over PCR selections, signing-key handling, and
// hardware entropy.
package device

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/logger"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// MaxFreshness is the largest qualifying-data input a TPM accepts, the
// size of TPMU_HA.
const MaxFreshness = 64

// TPM drives one TPM 2.0 device over rw. Command use is serialized with a
// mutex; the hardware processes one command at a time.
type TPM struct {
	mu  sync.Mutex
	rw  io.ReadWriter
	src KeySource
	log *logger.Logger
}

// Config carries the signing-key source and an optional logger.
type Config struct {
	Source KeySource
	Log    *logger.Logger
}

// New wraps an open TPM connection. The caller keeps ownership of rw and
// closes it after the TPM is no longer used.
func New(rw io.ReadWriter, cfg Config) *TPM {
	return &TPM{rw: rw, src: cfg.Source, log: cfg.Log}
}

// Quote signs the selected registers with freshness as qualifying data.
// It returns the raw attestation structure, its TPMT_SIGNATURE encoding,
// and the signing key's raw public area. The key handle is acquired for
// this call and released on every path.
func (t *TPM) Quote(sel tpm2.PCRSelection, freshness []byte) (attest, sig, pubArea []byte, err error) {
	if len(freshness) > MaxFreshness {
		return nil, nil, nil, fmt.Errorf("qualifying data is %d bytes, device accepts at most %d",
			len(freshness), MaxFreshness)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key, err := t.loadKey()
	if err != nil {
		return nil, nil, nil, err
	}
	defer key.Close()

	attest, tpmSig, err := tpm2.Quote(t.rw, key.handle, "", "", freshness, sel, tpm2.AlgNull)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("quote over %s bank: %w", wire.AlgorithmName(sel.Hash), err)
	}
	sig, err = wire.EncodeSignature(tpmSig)
	if err != nil {
		return nil, nil, nil, err
	}
	pubArea, err = key.pub.Encode()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encoding public area: %w", err)
	}
	t.logf("quoted %d PCRs from the %s bank", len(sel.PCRs), wire.AlgorithmName(sel.Hash))
	return attest, sig, pubArea, nil
}

// MaxFreshnessSize is the device's qualifying-data bound.
func (t *TPM) MaxFreshnessSize() int { return MaxFreshness }

// PublicArea returns the signing key's raw public area without quoting.
func (t *TPM) PublicArea() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, err := t.loadKey()
	if err != nil {
		return nil, err
	}
	defer key.Close()
	return key.pub.Encode()
}

// PublicKey returns the signing key's public half for export.
func (t *TPM) PublicKey() (crypto.PublicKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, err := t.loadKey()
	if err != nil {
		return nil, err
	}
	defer key.Close()
	return key.pub.Key()
}

// Random draws n bytes from the TPM RNG, chunking requests to stay under
// the per-command output limit.
func (t *TPM) Random(n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, 0, n)
	for len(out) < n {
		want := min(n-len(out), 32)
		r, err := tpm2.GetRandom(t.rw, uint16(want))
		if err != nil {
			return nil, fmt.Errorf("TPM GetRandom: %w", err)
		}
		if len(r) == 0 {
			return nil, errors.New("TPM returned no random bytes")
		}
		out = append(out, r...)
	}
	return out[:n], nil
}

// RandReader exposes the TPM RNG as an io.Reader, the shape nonce
// generation consumes.
func (t *TPM) RandReader() io.Reader { return randReader{t} }

type randReader struct{ t *TPM }

func (r randReader) Read(p []byte) (int, error) {
	b, err := r.t.Random(len(p))
	if err != nil {
		return 0, err
	}
	copy(p, b)
	return len(p), nil
}

// ReadPCRValues fetches the selected register values, chunking reads to
// the TPM's eight-register command limit.
func (t *TPM) ReadPCRValues(sel tpm2.PCRSelection) (map[int][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	values := make(map[int][]byte, len(sel.PCRs))
	for i := 0; i < len(sel.PCRs); i += 8 {
		chunk := tpm2.PCRSelection{Hash: sel.Hash, PCRs: sel.PCRs[i:min(i+8, len(sel.PCRs))]}
		m, err := tpm2.ReadPCRs(t.rw, chunk)
		if err != nil {
			return nil, fmt.Errorf("reading PCRs %v: %w", chunk.PCRs, err)
		}
		for pcr, val := range m {
			values[pcr] = val
		}
	}
	return values, nil
}

func (t *TPM) logf(format string, args ...any) {
	if t.log != nil {
		t.log.Infof(format, args...)
	}
}
