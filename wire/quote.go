package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/go-tpm/legacy/tpm2"
)

// QuoteStatement is the decoded TPMS_ATTEST of a quote: the fields the
// verifier's trust checks consume. Freshness is the qualifying data the
// device bound into the signature; Selection and Digest describe the
// register composite that was quoted.
type QuoteStatement struct {
	Magic     uint32
	Freshness []byte
	Selection PCRSelection
	Digest    []byte

	// FirmwareVersion and Clock come along for operator logs; they carry
	// no trust weight here.
	FirmwareVersion uint64
	Clock           uint64
}

// ParseQuoteStatement decodes raw attestation-structure bytes and requires
// them to be a quote. A wrong magic prefix is not a parse failure: the
// observed value is preserved in the statement and judged by the caller.
func ParseQuoteStatement(raw []byte) (*QuoteStatement, error) {
	if len(raw) > MaxAttestSize {
		return nil, fmt.Errorf("attestation structure is %d bytes: %w", len(raw), ErrTooLarge)
	}
	if len(raw) < 4 {
		return nil, errors.New("attestation structure too short")
	}
	// DecodeAttestationData refuses structures without the generated-value
	// prefix, so structures carrying a different magic are decoded through
	// a patched copy and the observed value is restored afterwards.
	magic := binary.BigEndian.Uint32(raw[:4])
	body := raw
	if magic != QuoteMagic {
		body = append([]byte(nil), raw...)
		binary.BigEndian.PutUint32(body[:4], QuoteMagic)
	}
	ad, err := tpm2.DecodeAttestationData(body)
	if err != nil {
		return nil, fmt.Errorf("decode attestation structure: %w", err)
	}
	if ad.Type != tpm2.TagAttestQuote {
		return nil, fmt.Errorf("attestation structure has type 0x%x, not a quote", ad.Type)
	}
	if ad.AttestedQuoteInfo == nil {
		return nil, errors.New("quote statement carries no quote info")
	}
	info := ad.AttestedQuoteInfo
	return &QuoteStatement{
		Magic:     magic,
		Freshness: ad.ExtraData,
		Selection: PCRSelection{
			Alg:  info.PCRSelection.Hash,
			PCRs: append([]int(nil), info.PCRSelection.PCRs...),
		},
		Digest:          info.PCRDigest,
		FirmwareVersion: ad.FirmwareVersion,
		Clock:           ad.ClockInfo.Clock,
	}, nil
}
