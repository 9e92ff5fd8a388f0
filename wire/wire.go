// Package wire defines the attestation request and response structures
// exchanged between verifier and attester, their CBOR encoding, and the
// size bounds enforced on untrusted input.
package wire

import (
	"errors"
	"fmt"

	"github.com/google/go-tpm/legacy/tpm2"
)

// ErrTooLarge reports a wire field exceeding its platform maximum.
var ErrTooLarge = errors.New("field exceeds platform maximum")

// Request is an attestation challenge. It encodes as a fixed-shape CBOR
// array, so field order is part of the wire format.
type Request struct {
	_           struct{} `cbor:",toarray"`
	Version     string
	Hello       bool
	KeyID       []byte
	Nonce       []byte
	Selections  []PCRSelection
	LogRequests []LogRequest
}

// Response carries the signed quote and its supplements back to the
// verifier. Attest and Signature are raw TPM structures (TPMS_ATTEST and
// TPMT_SIGNATURE); PublicArea is the raw public area of the signing key
// and may be empty when the verifier holds a pre-provisioned key.
type Response struct {
	_          struct{} `cbor:",toarray"`
	Attest     []byte
	Signature  []byte
	PublicArea []byte
	Logs       []LogEntry
}

// PCRSelection names a register bank and the registers quoted from it.
type PCRSelection struct {
	_    struct{} `cbor:",toarray"`
	Alg  tpm2.Algorithm
	PCRs []int
}

// LogRequest asks the attester for a byte range of a supplementary log.
// Offset is 1-based; offset 0 probes for the log without content, and
// count 0 means everything from the offset.
type LogRequest struct {
	_      struct{} `cbor:",toarray"`
	ID     string
	Offset uint64
	Count  uint64
}

// LogEntry is one supplementary log in a response. Absent or unreadable
// logs travel as entries with empty content rather than errors.
type LogEntry struct {
	_       struct{} `cbor:",toarray"`
	ID      string
	Content []byte
}

// Validate checks the request against the protocol bounds. It must pass
// before the request is acted on; attesters call it on every decoded
// challenge.
func (r *Request) Validate() error {
	if len(r.KeyID) > MaxKeyIDSize {
		return fmt.Errorf("key id is %d bytes: %w", len(r.KeyID), ErrTooLarge)
	}
	if len(r.Nonce) > MaxNonceSize {
		return fmt.Errorf("nonce is %d bytes: %w", len(r.Nonce), ErrTooLarge)
	}
	if !r.Hello && len(r.Selections) == 0 {
		return errors.New("request selects no PCR banks")
	}
	seen := make(map[tpm2.Algorithm]bool, len(r.Selections))
	for _, sel := range r.Selections {
		if seen[sel.Alg] {
			return fmt.Errorf("duplicate PCR bank 0x%x", uint16(sel.Alg))
		}
		seen[sel.Alg] = true
		if err := sel.Validate(); err != nil {
			return err
		}
	}
	for _, lr := range r.LogRequests {
		if len(lr.ID) > MaxLogIDSize {
			return fmt.Errorf("log id is %d bytes: %w", len(lr.ID), ErrTooLarge)
		}
		if lr.ID == "" {
			return errors.New("log request with empty id")
		}
	}
	return nil
}

// Validate checks the response against the platform maxima. Verifiers
// call it on every decoded response before the quote is parsed.
func (r *Response) Validate() error {
	if len(r.Attest) > MaxAttestSize {
		return fmt.Errorf("attestation structure is %d bytes: %w", len(r.Attest), ErrTooLarge)
	}
	if len(r.Signature) > MaxSignatureSize {
		return fmt.Errorf("signature is %d bytes: %w", len(r.Signature), ErrTooLarge)
	}
	if len(r.PublicArea) > MaxPublicAreaSize {
		return fmt.Errorf("public area is %d bytes: %w", len(r.PublicArea), ErrTooLarge)
	}
	if len(r.Logs) > MaxLogEntries {
		return fmt.Errorf("%d log entries: %w", len(r.Logs), ErrTooLarge)
	}
	for _, le := range r.Logs {
		if len(le.ID) > MaxLogIDSize {
			return fmt.Errorf("log id is %d bytes: %w", len(le.ID), ErrTooLarge)
		}
		if len(le.Content) > MaxLogContentSize {
			return fmt.Errorf("log %q content is %d bytes: %w", le.ID, len(le.Content), ErrTooLarge)
		}
	}
	return nil
}

// Validate checks bank shape: a known-width register list with unique,
// ascending indices inside the bank.
func (s PCRSelection) Validate() error {
	if len(s.PCRs) == 0 {
		return errors.New("PCR selection is empty")
	}
	if len(s.PCRs) > NumPCRs {
		return fmt.Errorf("selection of %d PCRs: %w", len(s.PCRs), ErrTooLarge)
	}
	last := -1
	for _, pcr := range s.PCRs {
		if pcr < 0 || pcr >= NumPCRs {
			return fmt.Errorf("PCR index %d out of range", pcr)
		}
		if pcr <= last {
			return fmt.Errorf("PCR indices not unique and ascending at %d", pcr)
		}
		last = pcr
	}
	return nil
}
