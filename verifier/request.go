package verifier

import (
	"errors"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// RequestConfig describes the challenge an appraisal sends.
type RequestConfig struct {
	// KeyID names the attester's signing key. Defaults to
	// wire.DefaultKeyID.
	KeyID []byte
	// Nonce is the freshness challenge. Required; see GenerateNonce.
	Nonce []byte
	// Selection is the PCR bank and registers to quote.
	Selection wire.PCRSelection
	// LogRequests asks for supplementary logs alongside the quote.
	LogRequests []wire.LogRequest
}

// BuildRequest assembles and validates a quote challenge.
func BuildRequest(cfg RequestConfig) (*wire.Request, error) {
	if len(cfg.Nonce) == 0 {
		return nil, errors.New("challenge has no nonce")
	}
	req := &wire.Request{
		Version:     wire.Version,
		KeyID:       cfg.KeyID,
		Nonce:       cfg.Nonce,
		Selections:  []wire.PCRSelection{cfg.Selection},
		LogRequests: cfg.LogRequests,
	}
	if len(req.KeyID) == 0 {
		req.KeyID = []byte(wire.DefaultKeyID)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// BuildHello assembles a probe that asks the attester for its public
// key without quoting anything.
func BuildHello(keyID []byte) (*wire.Request, error) {
	req := &wire.Request{
		Version: wire.Version,
		Hello:   true,
		KeyID:   keyID,
	}
	if len(req.KeyID) == 0 {
		req.KeyID = []byte(wire.DefaultKeyID)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}
