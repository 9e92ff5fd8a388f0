package verifier

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/google/go-tpm/legacy/tpm2"
)

// verifyQuoteSignature checks the signature over the attestation
// structure through the TPM quote stack: the raw bytes are decoded as a
// TPMT_SIGNATURE and verified under the hash the signature declares.
//
// RSASSA and ECDSA schemes are supported.
func verifyQuoteSignature(pub crypto.PublicKey, attest, rawSig []byte) error {
	sig, err := tpm2.DecodeSignature(bytes.NewBuffer(rawSig))
	if err != nil {
		return fmt.Errorf("signature decoding failed: %v", err)
	}
	switch key := pub.(type) {
	case *rsa.PublicKey:
		if sig.Alg != tpm2.AlgRSASSA {
			return fmt.Errorf("signature scheme 0x%x is not RSASSA", sig.Alg)
		}
		hash, err := sig.RSA.HashAlg.Hash()
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(key, hash, hashSum(hash, attest), sig.RSA.Signature); err != nil {
			return fmt.Errorf("RSASSA verification failed: %v", err)
		}
	case *ecdsa.PublicKey:
		if sig.Alg != tpm2.AlgECDSA {
			return fmt.Errorf("signature scheme 0x%x is not ECDSA", sig.Alg)
		}
		hash, err := sig.ECC.HashAlg.Hash()
		if err != nil {
			return err
		}
		if !ecdsa.Verify(key, hashSum(hash, attest), sig.ECC.R, sig.ECC.S) {
			return errors.New("ECDSA verification failed")
		}
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
	return nil
}

// verifySoftwareSignature re-verifies the signature independently of
// the TPM stack: the TPMT_SIGNATURE wire bytes are pulled apart by hand
// and the payload is checked with the platform crypto libraries.
// hashOverride picks the digest; zero uses the hash the signature
// declares.
func verifySoftwareSignature(pub crypto.PublicKey, attest, rawSig []byte, hashOverride crypto.Hash) error {
	sig, err := splitSignature(rawSig)
	if err != nil {
		return err
	}
	hash := hashOverride
	if hash == 0 {
		hash, err = sig.hashAlg.Hash()
		if err != nil {
			return err
		}
	}
	digest := hashSum(hash, attest)

	switch key := pub.(type) {
	case *rsa.PublicKey:
		switch sig.sigAlg {
		case tpm2.AlgRSASSA:
			if err := rsa.VerifyPKCS1v15(key, hash, digest, sig.rsa); err != nil {
				return fmt.Errorf("RSASSA verification failed: %v", err)
			}
		case tpm2.AlgRSAPSS:
			opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: hash}
			if err := rsa.VerifyPSS(key, hash, digest, sig.rsa, opts); err != nil {
				return fmt.Errorf("RSAPSS verification failed: %v", err)
			}
		default:
			return fmt.Errorf("signature scheme 0x%x does not fit an RSA key", sig.sigAlg)
		}
	case *ecdsa.PublicKey:
		if sig.sigAlg != tpm2.AlgECDSA {
			return fmt.Errorf("signature scheme 0x%x does not fit an ECC key", sig.sigAlg)
		}
		if !ecdsa.Verify(key, digest, sig.r, sig.s) {
			return errors.New("ECDSA verification failed")
		}
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
	return nil
}

// rawSignature is a hand-decoded TPMT_SIGNATURE.
type rawSignature struct {
	sigAlg  tpm2.Algorithm
	hashAlg tpm2.Algorithm
	rsa     []byte
	r, s    *big.Int
}

// splitSignature decodes the TPMT_SIGNATURE framing: two algorithm
// identifiers followed by the scheme's size-prefixed payload fields.
func splitSignature(raw []byte) (*rawSignature, error) {
	buf := bytes.NewReader(raw)
	var head struct{ Sig, Hash uint16 }
	if err := binary.Read(buf, binary.BigEndian, &head); err != nil {
		return nil, fmt.Errorf("signature header: %v", err)
	}
	sig := &rawSignature{
		sigAlg:  tpm2.Algorithm(head.Sig),
		hashAlg: tpm2.Algorithm(head.Hash),
	}
	switch sig.sigAlg {
	case tpm2.AlgRSASSA, tpm2.AlgRSAPSS:
		b, err := readSized(buf)
		if err != nil {
			return nil, fmt.Errorf("RSA signature payload: %v", err)
		}
		sig.rsa = b
	case tpm2.AlgECDSA:
		r, err := readSized(buf)
		if err != nil {
			return nil, fmt.Errorf("ECDSA R: %v", err)
		}
		s, err := readSized(buf)
		if err != nil {
			return nil, fmt.Errorf("ECDSA S: %v", err)
		}
		sig.r, sig.s = new(big.Int).SetBytes(r), new(big.Int).SetBytes(s)
	default:
		return nil, fmt.Errorf("signature scheme 0x%x not recognized", sig.sigAlg)
	}
	if buf.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after signature payload", buf.Len())
	}
	return sig, nil
}

func readSized(buf *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(buf, b); err != nil {
		return nil, err
	}
	return b, nil
}

func hashSum(h crypto.Hash, data []byte) []byte {
	hh := h.New()
	hh.Write(data)
	return hh.Sum(nil)
}
