package verifier

import "github.com/trustanchor-io/go-tpm-attest/wire"

// State tracks an appraisal through its lifecycle.
type State int

const (
	// StateAwaitingResponse covers the exchange with the attester.
	StateAwaitingResponse State = iota
	// StateParsing covers decoding and bounds checks on the response.
	StateParsing
	// StateVerifying covers the trust checks on a parsed response.
	StateVerifying
	// StateDone means a verdict has been reached.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateParsing:
		return "parsing"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome classifies a finished appraisal.
type Outcome int

const (
	// OutcomePassed means every gating check succeeded.
	OutcomePassed Outcome = iota
	// OutcomeFailed means the response parsed but a check failed.
	OutcomeFailed
	// OutcomeTimedOut means no response arrived within the deadline.
	OutcomeTimedOut
	// OutcomeMalformed means the response could not be decoded.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Verdict is the complete result of one appraisal. When the response
// parses, all four checks are evaluated and recorded; no failing check
// suppresses the ones after it.
type Verdict struct {
	Outcome Outcome

	// The four checks, in evaluation order.
	SignatureValid   bool
	MagicValid       bool
	NonceValid       bool
	MeasurementValid bool

	// The signature is verified twice, once through the TPM quote stack
	// and once by reassembling the primitives in software.
	// SignatureValid requires agreement of both.
	SignatureByQuoteStack bool
	SignatureBySoftware   bool

	// Quote is the parsed statement, for operator logs. Nil when the
	// response never parsed.
	Quote *wire.QuoteStatement

	// Logs accounts for the supplementary logs the response carried.
	Logs []LogAccount

	// Failures lists why a non-passed verdict was reached. Nil on pass.
	Failures *GroupedError
}

// LogAccount sizes one supplementary log from a response. Logs are
// accounted, never verified.
type LogAccount struct {
	ID    string
	Bytes int
	// Events is the record count for logs in TCG event-log format,
	// zero for logs this verifier does not parse.
	Events int
}
