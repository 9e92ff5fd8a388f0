package device

import (
	"fmt"
	"io"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

// KeySource says where the signing key comes from. A zero Handle creates a
// transient attestation key for each operation; a nonzero handle names a
// pre-provisioned (typically persistent) key.
type KeySource struct {
	Handle tpmutil.Handle
}

// key is a loaded signing key. Transient keys own their handle and flush
// it on Close; pre-provisioned handles outlive the call and are left alone.
type key struct {
	rw     io.ReadWriter
	handle tpmutil.Handle
	pub    tpm2.Public
	flush  bool
}

func (t *TPM) loadKey() (*key, error) {
	if t.src.Handle != 0 {
		pub, _, _, err := tpm2.ReadPublic(t.rw, t.src.Handle)
		if err != nil {
			return nil, fmt.Errorf("reading key 0x%x: %w", uint32(t.src.Handle), err)
		}
		return &key{rw: t.rw, handle: t.src.Handle, pub: pub}, nil
	}

	handle, pubBlob, _, _, _, _, err := tpm2.CreatePrimaryEx(t.rw, tpm2.HandleOwner,
		tpm2.PCRSelection{}, "", "", AttestationKeyTemplateRSA())
	if err != nil {
		return nil, fmt.Errorf("creating attestation key: %w", err)
	}
	pub, err := tpm2.DecodePublic(pubBlob)
	if err != nil {
		tpm2.FlushContext(t.rw, handle)
		return nil, fmt.Errorf("decoding created public area: %w", err)
	}
	return &key{rw: t.rw, handle: handle, pub: pub, flush: true}, nil
}

func (k *key) Close() error {
	if !k.flush {
		return nil
	}
	return tpm2.FlushContext(k.rw, k.handle)
}
