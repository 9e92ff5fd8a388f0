package test

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// Device is a software stand-in for a TPM: it quotes over in-memory
// register values with a real RSA key. Its knobs, all zero-valued for
// honest behavior, let tests produce the kinds of bad responses a broken
// or hostile attester would.
type Device struct {
	Key  *rsa.PrivateKey
	PCRs map[int][]byte

	Magic             uint32 // 0 means the genuine constant
	FreshnessOverride []byte // embed this instead of the caller's nonce
	DigestOverride    []byte
	CorruptSignature  bool
	QuoteErr          error
}

// NewDevice builds an honest device with distinct deterministic register
// values in one sha256 bank.
func NewDevice(tb testing.TB) *Device {
	tb.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generating device key: %v", err)
	}
	d := &Device{Key: key, PCRs: make(map[int][]byte, wire.NumPCRs)}
	for pcr := 0; pcr < wire.NumPCRs; pcr++ {
		d.PCRs[pcr] = bytes.Repeat([]byte{byte(pcr + 1)}, 32)
	}
	return d
}

// MaxFreshnessSize mirrors the TPM's qualifying-data bound.
func (d *Device) MaxFreshnessSize() int { return 64 }

// Quote builds and signs a quote statement the way a TPM would.
func (d *Device) Quote(sel tpm2.PCRSelection, freshness []byte) (attest, sig, pubArea []byte, err error) {
	if d.QuoteErr != nil {
		return nil, nil, nil, d.QuoteErr
	}
	if len(freshness) > d.MaxFreshnessSize() {
		return nil, nil, nil, fmt.Errorf("qualifying data is %d bytes", len(freshness))
	}
	if sel.Hash != tpm2.AlgSHA256 {
		return nil, nil, nil, fmt.Errorf("device has no 0x%x bank", uint16(sel.Hash))
	}

	digest, err := wire.CompositeDigest(crypto.SHA256,
		wire.PCRSelection{Alg: sel.Hash, PCRs: sel.PCRs}, d.PCRs)
	if err != nil {
		return nil, nil, nil, err
	}
	if d.DigestOverride != nil {
		digest = d.DigestOverride
	}
	embedded := freshness
	if d.FreshnessOverride != nil {
		embedded = d.FreshnessOverride
	}
	magic := wire.QuoteMagic
	if d.Magic != 0 {
		magic = d.Magic
	}

	ad := tpm2.AttestationData{
		Magic: magic,
		Type:  tpm2.TagAttestQuote,
		QualifiedSigner: tpm2.Name{
			Digest: &tpm2.HashValue{Alg: tpm2.AlgSHA256, Value: make([]byte, 32)},
		},
		ExtraData:       tpmutil.U16Bytes(embedded),
		ClockInfo:       tpm2.ClockInfo{Clock: 1000, ResetCount: 1, Safe: 1},
		FirmwareVersion: 1,
		AttestedQuoteInfo: &tpm2.QuoteInfo{
			PCRSelection: tpm2.PCRSelection{Hash: sel.Hash, PCRs: append([]int(nil), sel.PCRs...)},
			PCRDigest:    tpmutil.U16Bytes(digest),
		},
	}
	attest, err = ad.Encode()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encoding attestation data: %w", err)
	}

	h := sha256.Sum256(attest)
	raw, err := rsa.SignPKCS1v15(rand.Reader, d.Key, crypto.SHA256, h[:])
	if err != nil {
		return nil, nil, nil, err
	}
	if d.CorruptSignature {
		raw[0] ^= 0xff
	}
	sig, err = wire.EncodeSignature(&tpm2.Signature{
		Alg: tpm2.AlgRSASSA,
		RSA: &tpm2.SignatureRSA{HashAlg: tpm2.AlgSHA256, Signature: raw},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	pubArea, err = d.PublicArea()
	if err != nil {
		return nil, nil, nil, err
	}
	return attest, sig, pubArea, nil
}

// PublicArea renders the signing key as a raw TPM public area.
func (d *Device) PublicArea() ([]byte, error) {
	pub := tpm2.Public{
		Type:       tpm2.AlgRSA,
		NameAlg:    tpm2.AlgSHA256,
		Attributes: tpm2.FlagSignerDefault,
		RSAParameters: &tpm2.RSAParams{
			Sign:       &tpm2.SigScheme{Alg: tpm2.AlgRSASSA, Hash: tpm2.AlgSHA256},
			KeyBits:    2048,
			ModulusRaw: tpmutil.U16Bytes(d.Key.N.Bytes()),
		},
	}
	return pub.Encode()
}

// ReferenceYAML renders the device's registers as a reference file body
// matching the selection, one snapshot per register.
func (d *Device) ReferenceYAML(sel wire.PCRSelection) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "bank: %s\npcrs:\n", wire.AlgorithmName(sel.Alg))
	for _, pcr := range sel.PCRs {
		fmt.Fprintf(&b, "  - index: %d\n    digests: [\"%x\"]\n", pcr, d.PCRs[pcr])
	}
	return []byte(b.String())
}
