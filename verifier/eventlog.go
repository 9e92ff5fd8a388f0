package verifier

import (
	"github.com/google/go-attestation/attest"
	"github.com/google/logger"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// accountLogs sizes the supplementary logs a response carried. Logs are
// accounted, never verified: the quoted PCR state either matches the
// references or it does not, regardless of what a log says about how it
// got there.
func accountLogs(log *logger.Logger, entries []wire.LogEntry) []LogAccount {
	if len(entries) == 0 {
		return nil
	}
	accounts := make([]LogAccount, 0, len(entries))
	for _, le := range entries {
		acct := LogAccount{ID: le.ID, Bytes: len(le.Content)}
		if le.ID == wire.LogTCGBoot && len(le.Content) > 0 {
			n, err := CountBootEvents(le.Content)
			if err != nil && log != nil {
				log.Warningf("boot log does not parse: %v", err)
			}
			acct.Events = n
		}
		accounts = append(accounts, acct)
	}
	return accounts
}

// CountBootEvents parses a TCG firmware event log and counts the events
// of its strongest digest bank.
func CountBootEvents(raw []byte) (int, error) {
	el, err := attest.ParseEventLog(raw)
	if err != nil {
		return 0, err
	}
	events := el.Events(attest.HashSHA256)
	if len(events) == 0 {
		events = el.Events(attest.HashSHA1)
	}
	return len(events), nil
}
