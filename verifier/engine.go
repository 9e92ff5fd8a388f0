// Package verifier drives the challenge side of an attestation
// exchange: it sends one freshly built quote challenge, appraises the
// response against operator-trusted reference values, and reaches a
// verdict.
//
// An appraisal moves through awaiting-response, parsing and verifying
// before it is done. A response that never arrives times the appraisal
// out; one that cannot be decoded is malformed; one that decodes is put
// through four checks in fixed order (signature, magic, freshness,
// measurement), all of which are evaluated regardless of earlier
// failures.
package verifier

import (
	"context"
	"crypto"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/logger"

	"github.com/trustanchor-io/go-tpm-attest/refpcr"
	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// DefaultTimeout bounds the exchange when the config does not.
const DefaultTimeout = 30 * time.Second

// Exchanger performs one challenge/response round trip with an
// attester. transport.Client implements it over CoAP.
type Exchanger interface {
	Exchange(ctx context.Context, req []byte) ([]byte, error)
}

// ExchangerFunc adapts a function to the Exchanger interface.
type ExchangerFunc func(ctx context.Context, req []byte) ([]byte, error)

// Exchange calls f.
func (f ExchangerFunc) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	return f(ctx, req)
}

// Policy adjusts which findings gate the verdict.
type Policy struct {
	// RequireMagic fails appraisals whose attestation structure does
	// not open with TPM_GENERATED_VALUE. Off by default: the device
	// refuses to sign externally supplied structures that carry the
	// magic, so a verified signature already proves provenance, and the
	// finding is recorded in the verdict either way.
	RequireMagic bool
}

// Config assembles one appraisal.
type Config struct {
	// Request is the challenge to send, see BuildRequest.
	Request *wire.Request
	// Refs holds the golden PCR values the quoted state must match.
	Refs *refpcr.Store
	// PublicKey pins the attestation key. When nil the key presented in
	// the response's public area is trusted instead.
	PublicKey crypto.PublicKey
	// Hash overrides the digest of the software signature path. Zero
	// uses the hash the signature declares.
	Hash crypto.Hash
	// Timeout bounds the exchange. Zero means DefaultTimeout.
	Timeout time.Duration
	Policy  Policy
	// Log receives appraisal diagnostics. May be nil.
	Log *logger.Logger
}

// Engine runs a single appraisal. Engines are not reusable; build a new
// one per challenge so every exchange carries a fresh nonce.
type Engine struct {
	cfg   Config
	raw   []byte
	state State
	done  bool
}

// New validates the configuration and prepares the challenge bytes.
func New(cfg Config) (*Engine, error) {
	if cfg.Request == nil {
		return nil, errors.New("config carries no challenge request")
	}
	if err := cfg.Request.Validate(); err != nil {
		return nil, err
	}
	if cfg.Request.Hello {
		return nil, errors.New("appraisals need a quote challenge, not a hello probe")
	}
	if len(cfg.Request.Nonce) == 0 {
		return nil, errors.New("challenge carries no nonce")
	}
	if len(cfg.Request.Selections) != 1 {
		return nil, fmt.Errorf("appraisals cover one PCR bank, challenge selects %d", len(cfg.Request.Selections))
	}
	if cfg.Refs == nil {
		return nil, errors.New("config carries no reference values")
	}
	if got, want := cfg.Request.Selections[0].Alg, cfg.Refs.Algorithm(); got != want {
		return nil, fmt.Errorf("challenge selects bank %s but references hold %s",
			wire.AlgorithmName(got), wire.AlgorithmName(want))
	}
	raw, err := wire.MarshalRequest(cfg.Request)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, raw: raw, state: StateAwaitingResponse}, nil
}

// Request returns the challenge this engine sends.
func (e *Engine) Request() *wire.Request { return e.cfg.Request }

// State reports where the appraisal currently stands.
func (e *Engine) State() State { return e.state }

// Run sends the challenge through x and appraises what comes back. The
// verdict classifies the appraisal; a non-nil error reports operational
// faults (transport failures other than the deadline) that leave no
// verdict. Each engine runs once.
func (e *Engine) Run(ctx context.Context, x Exchanger) (*Verdict, error) {
	if e.done {
		return nil, errors.New("appraisal already ran")
	}
	e.done = true

	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logf("challenging with nonce %x over %d PCRs", e.cfg.Request.Nonce, len(e.cfg.Request.Selections[0].PCRs))
	raw, err := x.Exchange(ctx, e.raw)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.state = StateDone
			e.warnf("no response within %v", timeout)
			return &Verdict{
				Outcome:  OutcomeTimedOut,
				Failures: &GroupedError{Prefix: "attestation timed out", Errors: []error{err}},
			}, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("exchanging attestation messages: %w", err)
	}

	e.state = StateParsing
	v := e.appraise(raw)
	e.state = StateDone
	return v, nil
}

func (e *Engine) appraise(raw []byte) *Verdict {
	res, err := wire.UnmarshalResponse(raw)
	if err != nil {
		e.warnf("response does not decode: %v", err)
		return &Verdict{
			Outcome:  OutcomeMalformed,
			Failures: &GroupedError{Prefix: "malformed response", Errors: []error{err}},
		}
	}
	quote, err := wire.ParseQuoteStatement(res.Attest)
	if err != nil {
		e.warnf("attestation structure does not parse: %v", err)
		return &Verdict{
			Outcome:  OutcomeMalformed,
			Failures: &GroupedError{Prefix: "malformed response", Errors: []error{err}},
		}
	}

	e.state = StateVerifying
	v := &Verdict{Quote: quote}
	var failures []error
	for _, check := range []func(*Verdict, *wire.Response, *wire.QuoteStatement) error{
		e.checkSignature,
		e.checkMagic,
		e.checkFreshness,
		e.checkMeasurement,
	} {
		if err := check(v, res, quote); err != nil {
			failures = append(failures, err)
		}
	}
	v.Logs = accountLogs(e.cfg.Log, res.Logs)

	if len(failures) == 0 {
		v.Outcome = OutcomePassed
		e.logf("attestation passed")
		return v
	}
	v.Outcome = OutcomeFailed
	v.Failures = &GroupedError{Prefix: "attestation failed", Errors: failures}
	e.warnf("%v", v.Failures)
	return v
}

// checkSignature verifies the quote signature on both paths and demands
// agreement.
func (e *Engine) checkSignature(v *Verdict, res *wire.Response, _ *wire.QuoteStatement) error {
	key := e.cfg.PublicKey
	if key == nil {
		var err error
		key, err = presentedKey(res.PublicArea)
		if err != nil {
			return fmt.Errorf("signature: %v", err)
		}
		e.warnf("no pinned attestation key, trusting the presented public area")
	}

	var errs []string
	if err := verifyQuoteSignature(key, res.Attest, res.Signature); err != nil {
		errs = append(errs, fmt.Sprintf("quote stack: %v", err))
	} else {
		v.SignatureByQuoteStack = true
	}
	if err := verifySoftwareSignature(key, res.Attest, res.Signature, e.cfg.Hash); err != nil {
		errs = append(errs, fmt.Sprintf("software: %v", err))
	} else {
		v.SignatureBySoftware = true
	}
	v.SignatureValid = v.SignatureByQuoteStack && v.SignatureBySoftware

	if v.SignatureByQuoteStack != v.SignatureBySoftware {
		e.warnf("signature paths disagree: quote stack %t, software %t",
			v.SignatureByQuoteStack, v.SignatureBySoftware)
	}
	if len(errs) > 0 {
		return fmt.Errorf("signature: %s", strings.Join(errs, "; "))
	}
	return nil
}

// checkMagic confirms the attestation structure opens with
// TPM_GENERATED_VALUE. Only gating under Policy.RequireMagic.
func (e *Engine) checkMagic(v *Verdict, _ *wire.Response, quote *wire.QuoteStatement) error {
	if quote.Magic == wire.QuoteMagic {
		v.MagicValid = true
		return nil
	}
	err := fmt.Errorf("magic: attestation structure opens with 0x%08x, want 0x%08x", quote.Magic, wire.QuoteMagic)
	if !e.cfg.Policy.RequireMagic {
		e.warnf("%v", err)
		return nil
	}
	return err
}

// checkFreshness confirms the quote echoes the challenge nonce as its
// qualifying data.
func (e *Engine) checkFreshness(v *Verdict, _ *wire.Response, quote *wire.QuoteStatement) error {
	if subtle.ConstantTimeCompare(quote.Freshness, e.cfg.Request.Nonce) == 1 {
		v.NonceValid = true
		return nil
	}
	return fmt.Errorf("freshness: quote qualifies %x, challenge sent %x", quote.Freshness, e.cfg.Request.Nonce)
}

// checkMeasurement confirms the quote covers the challenged selection
// and its composite digest matches a reference snapshot.
func (e *Engine) checkMeasurement(v *Verdict, res *wire.Response, quote *wire.QuoteStatement) error {
	sel := e.cfg.Request.Selections[0]
	if !quote.Selection.Equal(sel) {
		return fmt.Errorf("measurement: quote covers %s:%v, challenge asked %s:%v",
			wire.AlgorithmName(quote.Selection.Alg), quote.Selection.PCRs,
			wire.AlgorithmName(sel.Alg), sel.PCRs)
	}
	// The device composes the quoted digest with the hash of the key's
	// signing scheme, carried in the signature header.
	ok, err := e.cfg.Refs.Matches(sel, quoteSchemeHash(res.Signature, e.cfg.Refs.Hash()), quote.Digest)
	if err != nil {
		return fmt.Errorf("measurement: %v", err)
	}
	if !ok {
		return errors.New("measurement: composite digest matches no reference snapshot")
	}
	v.MeasurementValid = true
	return nil
}

// quoteSchemeHash reads the scheme hash out of a signature header,
// falling back when the header does not parse.
func quoteSchemeHash(rawSig []byte, fallback crypto.Hash) crypto.Hash {
	sig, err := splitSignature(rawSig)
	if err != nil {
		return fallback
	}
	h, err := sig.hashAlg.Hash()
	if err != nil {
		return fallback
	}
	return h
}

// presentedKey extracts the public key from a response's public area.
func presentedKey(area []byte) (crypto.PublicKey, error) {
	if len(area) == 0 {
		return nil, errors.New("response carries no public area")
	}
	pub, err := tpm2.DecodePublic(area)
	if err != nil {
		return nil, fmt.Errorf("decoding public area: %v", err)
	}
	key, err := pub.Key()
	if err != nil {
		return nil, fmt.Errorf("extracting presented key: %v", err)
	}
	return key, nil
}

func (e *Engine) logf(format string, v ...any) {
	if e.cfg.Log != nil {
		e.cfg.Log.Infof(format, v...)
	}
}

func (e *Engine) warnf(format string, v ...any) {
	if e.cfg.Log != nil {
		e.cfg.Log.Warningf(format, v...)
	}
}
