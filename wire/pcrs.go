package wire

import (
	"crypto"
	"fmt"

	"github.com/google/go-tpm/legacy/tpm2"
)

var algsByName = map[string]tpm2.Algorithm{
	"sha1":   tpm2.AlgSHA1,
	"sha256": tpm2.AlgSHA256,
	"sha384": tpm2.AlgSHA384,
	"sha512": tpm2.AlgSHA512,
}

// AlgorithmFromName maps a hash algorithm name from operator configuration
// to its TPM algorithm identifier.
func AlgorithmFromName(name string) (tpm2.Algorithm, error) {
	alg, ok := algsByName[name]
	if !ok {
		return tpm2.AlgNull, fmt.Errorf("unknown hash algorithm %q", name)
	}
	return alg, nil
}

// AlgorithmName is the inverse of AlgorithmFromName, for logs and errors.
func AlgorithmName(alg tpm2.Algorithm) string {
	for name, a := range algsByName {
		if a == alg {
			return name
		}
	}
	return fmt.Sprintf("0x%x", uint16(alg))
}

// TPMSelection converts the bank to the device's native selection format.
// Unknown bank identifiers are rejected here, which makes this the
// attester's unsupported-bank gate.
func (s PCRSelection) TPMSelection() (tpm2.PCRSelection, error) {
	if err := s.Validate(); err != nil {
		return tpm2.PCRSelection{}, err
	}
	if _, err := s.Alg.Hash(); err != nil {
		return tpm2.PCRSelection{}, fmt.Errorf("unsupported PCR bank 0x%x", uint16(s.Alg))
	}
	return tpm2.PCRSelection{
		Hash: s.Alg,
		PCRs: append([]int(nil), s.PCRs...),
	}, nil
}

// Equal reports whether two selections name the same bank and registers
// in the same order.
func (s PCRSelection) Equal(o PCRSelection) bool {
	if s.Alg != o.Alg || len(s.PCRs) != len(o.PCRs) {
		return false
	}
	for i := range s.PCRs {
		if s.PCRs[i] != o.PCRs[i] {
			return false
		}
	}
	return true
}

// CompositeDigest hashes the selected register values in ascending index
// order, the way the TPM builds the digest it signs into a quote. values
// must hold an entry for every selected register.
func CompositeDigest(h crypto.Hash, sel PCRSelection, values map[int][]byte) ([]byte, error) {
	if !h.Available() {
		return nil, fmt.Errorf("hash %v not linked into binary", h)
	}
	digest := h.New()
	for _, pcr := range sel.PCRs {
		v, ok := values[pcr]
		if !ok {
			return nil, fmt.Errorf("no value for PCR %d", pcr)
		}
		digest.Write(v)
	}
	return digest.Sum(nil), nil
}
