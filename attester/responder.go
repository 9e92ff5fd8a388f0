// Package attester answers verifier challenges with signed TPM quotes.
//
// A Responder owns one attestation device and one provisioned key
// identity. For every well-formed request it produces a quote over the
// requested PCR selection, bound to the verifier's freshness value, and
// packages any supplementary logs the verifier asked for.
package attester

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/logger"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// Failure classes a request can hit. All of them abort the exchange;
// the transport layer reports them to the caller as request errors.
var (
	// ErrInputTooLarge means the freshness value exceeds what the
	// device accepts as qualifying data.
	ErrInputTooLarge = errors.New("freshness value exceeds device input size")
	// ErrUnknownKey means the request names a key this responder does
	// not hold.
	ErrUnknownKey = errors.New("request names an unprovisioned key")
	// ErrSelection means the requested PCR selection cannot be quoted.
	ErrSelection = errors.New("unsupported register selection")
	// ErrDevice wraps faults from the attestation device itself.
	ErrDevice = errors.New("attestation device failure")
)

// Device is the quoting capability a Responder drives. *device.TPM
// implements it against real and simulated TPMs.
type Device interface {
	// Quote signs the current values of the selected PCRs with the
	// attestation key, binding freshness as qualifying data. It returns
	// the marshaled TPMS_ATTEST, the marshaled TPMT_SIGNATURE, and the
	// key's public area.
	Quote(sel tpm2.PCRSelection, freshness []byte) (attest, sig, pubArea []byte, err error)
	// PublicArea returns the attestation key's marshaled public area.
	PublicArea() ([]byte, error)
	// MaxFreshnessSize is the largest qualifying data the device takes.
	MaxFreshnessSize() int
}

// Config holds the optional knobs for NewResponder.
type Config struct {
	// KeyID identifies the provisioned signing key. Defaults to
	// wire.DefaultKeyID.
	KeyID []byte
	// Logs maps supplementary log identifiers to their sources.
	// Requests for identifiers not present here yield empty records.
	Logs map[string]LogSource
	// Log receives per-request diagnostics. May be nil.
	Log *logger.Logger
}

// Responder services attestation requests using a single device.
type Responder struct {
	dev   Device
	keyID []byte
	logs  map[string]LogSource
	log   *logger.Logger
}

// NewResponder wires a device to the request handling logic.
func NewResponder(dev Device, cfg Config) *Responder {
	keyID := cfg.KeyID
	if len(keyID) == 0 {
		keyID = []byte(wire.DefaultKeyID)
	}
	return &Responder{dev: dev, keyID: keyID, logs: cfg.Logs, log: cfg.Log}
}

// Handle decodes one request from the wire, services it and encodes the
// response. It is the transport-facing entry point.
func (r *Responder) Handle(ctx context.Context, raw []byte) ([]byte, error) {
	req, err := wire.UnmarshalRequest(raw)
	if err != nil {
		return nil, err
	}
	res, err := r.ProduceResponse(ctx, req)
	if err != nil {
		return nil, err
	}
	return wire.MarshalResponse(res)
}

// ProduceResponse services one challenge. Hello probes are answered
// with the key's public area alone; everything else gets a fresh quote.
func (r *Responder) ProduceResponse(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if max := r.dev.MaxFreshnessSize(); len(req.Nonce) > max {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrInputTooLarge, len(req.Nonce), max)
	}
	if !bytes.Equal(req.KeyID, r.keyID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, req.KeyID)
	}

	if req.Hello {
		r.logf("answering hello probe with public key")
		pub, err := r.dev.PublicArea()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDevice, err)
		}
		return &wire.Response{PublicArea: pub}, nil
	}

	// Quotes cover exactly one bank. Validate guarantees at least one
	// selection is present.
	if len(req.Selections) != 1 {
		return nil, fmt.Errorf("%w: %d banks requested, quotes cover one", ErrSelection, len(req.Selections))
	}
	sel, err := req.Selections[0].TPMSelection()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSelection, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attest, sig, pubArea, err := r.dev.Quote(sel, req.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	r.logf("quoted %d PCRs of bank %v for nonce %x", len(sel.PCRs), sel.Hash, req.Nonce)

	res := &wire.Response{Attest: attest, Signature: sig, PublicArea: pubArea}
	for _, lr := range req.LogRequests {
		res.Logs = append(res.Logs, r.collectLog(lr))
	}
	return res, nil
}

// collectLog never fails the exchange. Logs that are unknown, absent or
// unreadable travel as empty records so the verifier can still account
// for them.
func (r *Responder) collectLog(lr wire.LogRequest) wire.LogEntry {
	entry := wire.LogEntry{ID: lr.ID}
	src, ok := r.logs[lr.ID]
	if !ok {
		r.warnf("log %q not available on this platform", lr.ID)
		return entry
	}
	if lr.Offset == 0 {
		// Offset zero probes for the log's presence without content.
		return entry
	}
	content, err := src.Read()
	if err != nil {
		r.warnf("reading log %q: %v", lr.ID, err)
		return entry
	}
	entry.Content = sliceLog(content, lr.Offset, lr.Count)
	return entry
}

// sliceLog cuts the requested byte range out of a log. Offsets are
// one-based and a count of zero means everything from the offset on.
// Ranges past the end are clamped.
func sliceLog(content []byte, offset, count uint64) []byte {
	if offset == 0 || offset > uint64(len(content)) {
		return nil
	}
	start := offset - 1
	rest := uint64(len(content)) - start
	if count == 0 || count > rest {
		count = rest
	}
	return content[start : start+count]
}

func (r *Responder) logf(format string, v ...any) {
	if r.log != nil {
		r.log.Infof(format, v...)
	}
}

func (r *Responder) warnf(format string, v ...any) {
	if r.log != nil {
		r.log.Warningf(format, v...)
	}
}
