package wire

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/google/go-tpm/legacy/tpm2"
)

// encodeQuoteAttest builds raw TPMS_ATTEST bytes the way a device would.
func encodeQuoteAttest(t *testing.T, magic uint32, nonce []byte, sel tpm2.PCRSelection, digest []byte) []byte {
	t.Helper()
	ad := tpm2.AttestationData{
		Magic: magic,
		Type:  tpm2.TagAttestQuote,
		QualifiedSigner: tpm2.Name{
			Digest: &tpm2.HashValue{Alg: tpm2.AlgSHA256, Value: make([]byte, 32)},
		},
		ExtraData:         nonce,
		ClockInfo:         tpm2.ClockInfo{Clock: 300, ResetCount: 1, RestartCount: 0, Safe: 1},
		FirmwareVersion:   0x20240101,
		AttestedQuoteInfo: &tpm2.QuoteInfo{PCRSelection: sel, PCRDigest: digest},
	}
	raw, err := ad.Encode()
	if err != nil {
		t.Fatalf("encoding attestation data failed: %v", err)
	}
	return raw
}

func TestParseQuoteStatement(t *testing.T) {
	nonce := []byte("01234567890123456789")
	sel := tpm2.PCRSelection{Hash: tpm2.AlgSHA256, PCRs: []int{0, 1, 2, 3, 4, 5, 6, 7, 10}}
	digest := bytes.Repeat([]byte{0x42}, 32)
	raw := encodeQuoteAttest(t, QuoteMagic, nonce, sel, digest)

	st, err := ParseQuoteStatement(raw)
	if err != nil {
		t.Fatalf("ParseQuoteStatement() failed: %v", err)
	}
	if st.Magic != QuoteMagic {
		t.Errorf("magic = 0x%x, want 0x%x", st.Magic, QuoteMagic)
	}
	if !bytes.Equal(st.Freshness, nonce) {
		t.Errorf("freshness = %x, want %x", st.Freshness, nonce)
	}
	if !st.Selection.Equal(PCRSelection{Alg: tpm2.AlgSHA256, PCRs: sel.PCRs}) {
		t.Errorf("selection = %+v, want %+v", st.Selection, sel)
	}
	if !bytes.Equal(st.Digest, digest) {
		t.Errorf("digest = %x, want %x", st.Digest, digest)
	}
	if st.Clock != 300 || st.FirmwareVersion != 0x20240101 {
		t.Errorf("clock/firmware = %d/0x%x, want 300/0x20240101", st.Clock, st.FirmwareVersion)
	}
}

// A wrong magic value is the magic check's business, not the parser's.
func TestParseQuoteStatementKeepsBadMagic(t *testing.T) {
	sel := tpm2.PCRSelection{Hash: tpm2.AlgSHA256, PCRs: []int{0}}
	raw := encodeQuoteAttest(t, 0xdeadbeef, []byte("n"), sel, make([]byte, 32))
	st, err := ParseQuoteStatement(raw)
	if err != nil {
		t.Fatalf("ParseQuoteStatement() rejected a well-formed statement with bad magic: %v", err)
	}
	if st.Magic != 0xdeadbeef {
		t.Errorf("magic = 0x%x, want it preserved for the magic check", st.Magic)
	}
}

func TestParseQuoteStatementRejects(t *testing.T) {
	sel := tpm2.PCRSelection{Hash: tpm2.AlgSHA256, PCRs: []int{0, 1}}
	good := encodeQuoteAttest(t, QuoteMagic, []byte("nonce"), sel, make([]byte, 32))

	t.Run("oversized", func(t *testing.T) {
		if _, err := ParseQuoteStatement(make([]byte, MaxAttestSize+1)); !errors.Is(err, ErrTooLarge) {
			t.Errorf("error = %v, want ErrTooLarge", err)
		}
	})
	t.Run("truncated", func(t *testing.T) {
		if _, err := ParseQuoteStatement(good[:len(good)-5]); err == nil {
			t.Error("truncated statement accepted")
		}
	})
	t.Run("not a quote", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[4], bad[5] = 0x80, 0x17 // retag as TPM_ST_ATTEST_CERTIFY
		if _, err := ParseQuoteStatement(bad); err == nil {
			t.Error("non-quote statement accepted")
		}
	})
	t.Run("empty", func(t *testing.T) {
		if _, err := ParseQuoteStatement(nil); err == nil {
			t.Error("empty statement accepted")
		}
	})
}

func TestEncodeSignatureRSA(t *testing.T) {
	sigBytes := bytes.Repeat([]byte{0x5a}, 256)
	sig := &tpm2.Signature{
		Alg: tpm2.AlgRSASSA,
		RSA: &tpm2.SignatureRSA{HashAlg: tpm2.AlgSHA256, Signature: sigBytes},
	}
	raw, err := EncodeSignature(sig)
	if err != nil {
		t.Fatalf("EncodeSignature() failed: %v", err)
	}
	// TPMT_SIGNATURE: sigAlg(2) | hashAlg(2) | size(2) | bytes.
	want := []byte{0x00, 0x14, 0x00, 0x0b, 0x01, 0x00}
	if !bytes.Equal(raw[:6], want) {
		t.Errorf("header = %x, want %x", raw[:6], want)
	}
	decoded, err := tpm2.DecodeSignature(bytes.NewBuffer(raw))
	if err != nil {
		t.Fatalf("DecodeSignature() rejected our encoding: %v", err)
	}
	if decoded.Alg != tpm2.AlgRSASSA || decoded.RSA.HashAlg != tpm2.AlgSHA256 {
		t.Errorf("decoded scheme = 0x%x/0x%x", uint16(decoded.Alg), uint16(decoded.RSA.HashAlg))
	}
	if !bytes.Equal(decoded.RSA.Signature, sigBytes) {
		t.Error("signature bytes changed across encode/decode")
	}
}

func TestEncodeSignatureECDSA(t *testing.T) {
	sig := &tpm2.Signature{
		Alg: tpm2.AlgECDSA,
		ECC: &tpm2.SignatureECC{
			HashAlg: tpm2.AlgSHA256,
			R:       big.NewInt(0).SetBytes(bytes.Repeat([]byte{0x11}, 32)),
			S:       big.NewInt(0).SetBytes(bytes.Repeat([]byte{0x22}, 32)),
		},
	}
	raw, err := EncodeSignature(sig)
	if err != nil {
		t.Fatalf("EncodeSignature() failed: %v", err)
	}
	decoded, err := tpm2.DecodeSignature(bytes.NewBuffer(raw))
	if err != nil {
		t.Fatalf("DecodeSignature() rejected our encoding: %v", err)
	}
	if decoded.ECC.R.Cmp(sig.ECC.R) != 0 || decoded.ECC.S.Cmp(sig.ECC.S) != 0 {
		t.Error("ECDSA r/s changed across encode/decode")
	}
}

func TestEncodeSignatureRejects(t *testing.T) {
	if _, err := EncodeSignature(&tpm2.Signature{Alg: tpm2.AlgRSASSA}); err == nil {
		t.Error("RSASSA without payload accepted")
	}
	if _, err := EncodeSignature(&tpm2.Signature{Alg: tpm2.AlgNull}); err == nil {
		t.Error("null signature algorithm accepted")
	}
}
