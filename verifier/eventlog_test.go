package verifier

import (
	"errors"
	"testing"

	"github.com/trustanchor-io/go-tpm-attest/wire"
)

func TestAccountLogs(t *testing.T) {
	accounts := accountLogs(nil, []wire.LogEntry{
		{ID: wire.LogIMA, Content: []byte("0123456789")},
		{ID: wire.LogTCGBoot},
	})
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(accounts))
	}
	if accounts[0].Bytes != 10 || accounts[0].Events != 0 {
		t.Errorf("ima account = %+v, want 10 bytes and no parsed events", accounts[0])
	}
	if accounts[1].Bytes != 0 {
		t.Errorf("boot account = %+v, want empty", accounts[1])
	}
	if accountLogs(nil, nil) != nil {
		t.Error("accountLogs(nil) should stay nil")
	}
}

func TestAccountLogsUnparsableBootLog(t *testing.T) {
	accounts := accountLogs(nil, []wire.LogEntry{
		{ID: wire.LogTCGBoot, Content: []byte("not a tcg event log")},
	})
	if accounts[0].Bytes == 0 || accounts[0].Events != 0 {
		t.Errorf("account = %+v, want bytes counted and zero events", accounts[0])
	}
}

func TestCountBootEventsRejectsGarbage(t *testing.T) {
	if _, err := CountBootEvents([]byte("no log here")); err == nil {
		t.Error("CountBootEvents() parsed garbage")
	}
}

func TestGroupedError(t *testing.T) {
	sentinel := errors.New("first finding")
	gErr := &GroupedError{Prefix: "attestation failed", Errors: []error{
		sentinel,
		errors.New("second finding"),
	}}
	want := "attestation failed\nfirst finding\nsecond finding"
	if gErr.Error() != want {
		t.Errorf("Error() = %q, want %q", gErr.Error(), want)
	}
	if !errors.Is(gErr, sentinel) {
		t.Error("errors.Is() cannot reach a grouped failure")
	}
}
