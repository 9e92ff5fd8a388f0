package device_test

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"

	"github.com/trustanchor-io/go-tpm-attest/device"
	"github.com/trustanchor-io/go-tpm-attest/internal/test"
	"github.com/trustanchor-io/go-tpm-attest/wire"
)

var quoteSel = tpm2.PCRSelection{Hash: tpm2.AlgSHA256, PCRs: []int{0, 1, 2, 3, 4, 5, 6, 7, 10}}

func TestQuoteVerifiesAgainstSimulator(t *testing.T) {
	rwc := test.GetTPM(t)
	dev := device.New(rwc, device.Config{})

	nonce := bytes.Repeat([]byte{0x5e}, wire.NonceLength)
	attest, sig, pubArea, err := dev.Quote(quoteSel, nonce)
	if err != nil {
		t.Fatalf("Quote() failed: %v", err)
	}

	st, err := wire.ParseQuoteStatement(attest)
	if err != nil {
		t.Fatalf("quote did not parse: %v", err)
	}
	if st.Magic != wire.QuoteMagic {
		t.Errorf("magic = 0x%x, want 0x%x", st.Magic, wire.QuoteMagic)
	}
	if !bytes.Equal(st.Freshness, nonce) {
		t.Errorf("embedded freshness = %x, want %x", st.Freshness, nonce)
	}
	if !st.Selection.Equal(wire.PCRSelection{Alg: quoteSel.Hash, PCRs: quoteSel.PCRs}) {
		t.Errorf("quoted selection = %+v, want %+v", st.Selection, quoteSel)
	}

	pub, err := tpm2.DecodePublic(pubArea)
	if err != nil {
		t.Fatalf("public area did not decode: %v", err)
	}
	pk, err := pub.Key()
	if err != nil {
		t.Fatalf("extracting public key: %v", err)
	}
	rsaKey, ok := pk.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("signing key is %T, want RSA", pk)
	}
	decoded, err := tpm2.DecodeSignature(bytes.NewBuffer(sig))
	if err != nil {
		t.Fatalf("signature did not decode: %v", err)
	}
	digest := sha256.Sum256(attest)
	if err := rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, digest[:], decoded.RSA.Signature); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}

	values, err := dev.ReadPCRValues(quoteSel)
	if err != nil {
		t.Fatalf("ReadPCRValues() failed: %v", err)
	}
	want, err := wire.CompositeDigest(crypto.SHA256,
		wire.PCRSelection{Alg: quoteSel.Hash, PCRs: quoteSel.PCRs}, values)
	if err != nil {
		t.Fatalf("composing reference digest: %v", err)
	}
	if !bytes.Equal(st.Digest, want) {
		t.Errorf("quoted digest %x does not match register composite %x", st.Digest, want)
	}
}

func TestQuoteReflectsPCRChanges(t *testing.T) {
	rwc := test.GetTPM(t)
	dev := device.New(rwc, device.Config{})
	nonce := bytes.Repeat([]byte{0x11}, wire.NonceLength)

	before, _, _, err := dev.Quote(quoteSel, nonce)
	if err != nil {
		t.Fatalf("Quote() failed: %v", err)
	}
	extension := bytes.Repeat([]byte{0xe1}, 32)
	if err := tpm2.PCRExtend(rwc, tpmutil.Handle(10), tpm2.AlgSHA256, extension, ""); err != nil {
		t.Fatalf("PCRExtend failed: %v", err)
	}
	after, _, _, err := dev.Quote(quoteSel, nonce)
	if err != nil {
		t.Fatalf("Quote() after extend failed: %v", err)
	}

	stBefore, err := wire.ParseQuoteStatement(before)
	if err != nil {
		t.Fatal(err)
	}
	stAfter, err := wire.ParseQuoteStatement(after)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(stBefore.Digest, stAfter.Digest) {
		t.Error("extending PCR 10 did not change the quoted composite")
	}
}

func TestQuoteWithPersistentHandle(t *testing.T) {
	rwc := test.GetTPM(t)

	transient, _, _, _, _, _, err := tpm2.CreatePrimaryEx(rwc, tpm2.HandleOwner,
		tpm2.PCRSelection{}, "", "", device.AttestationKeyTemplateRSA())
	if err != nil {
		t.Fatalf("creating key to persist: %v", err)
	}
	const persistent = tpmutil.Handle(0x81000001)
	if err := tpm2.EvictControl(rwc, "", tpm2.HandleOwner, transient, persistent); err != nil {
		t.Fatalf("persisting key: %v", err)
	}
	if err := tpm2.FlushContext(rwc, transient); err != nil {
		t.Fatalf("flushing transient original: %v", err)
	}

	dev := device.New(rwc, device.Config{Source: device.KeySource{Handle: persistent}})
	nonce := bytes.Repeat([]byte{0x22}, wire.NonceLength)
	if _, _, _, err := dev.Quote(quoteSel, nonce); err != nil {
		t.Fatalf("Quote() via persistent handle failed: %v", err)
	}
	// The provisioned handle must survive the scoped acquire/release.
	if _, _, _, err := tpm2.ReadPublic(rwc, persistent); err != nil {
		t.Errorf("persistent key gone after quote: %v", err)
	}
}

func TestPrimaryKeyIsStable(t *testing.T) {
	rwc := test.GetTPM(t)
	dev := device.New(rwc, device.Config{})

	first, err := dev.PublicArea()
	if err != nil {
		t.Fatalf("PublicArea() failed: %v", err)
	}
	_, _, second, err := dev.Quote(quoteSel, []byte("fresh"))
	if err != nil {
		t.Fatalf("Quote() failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("transient attestation key changed between loads; primary derivation should be stable")
	}
}

func TestQuoteRejectsOversizedFreshness(t *testing.T) {
	// The bound is enforced before the device is touched.
	dev := device.New(nil, device.Config{})
	if _, _, _, err := dev.Quote(quoteSel, make([]byte, device.MaxFreshness+1)); err == nil {
		t.Error("oversized qualifying data accepted")
	}
}

func TestRandom(t *testing.T) {
	rwc := test.GetTPM(t)
	dev := device.New(rwc, device.Config{})

	a, err := dev.Random(75)
	if err != nil {
		t.Fatalf("Random() failed: %v", err)
	}
	if len(a) != 75 {
		t.Fatalf("Random(75) returned %d bytes", len(a))
	}
	b, err := dev.Random(75)
	if err != nil {
		t.Fatalf("Random() failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two RNG draws returned identical bytes")
	}

	nonce := make([]byte, wire.NonceLength)
	if _, err := io.ReadFull(dev.RandReader(), nonce); err != nil {
		t.Fatalf("RandReader read failed: %v", err)
	}
	if bytes.Equal(nonce, make([]byte, wire.NonceLength)) {
		t.Error("RandReader produced all zeros")
	}
}
