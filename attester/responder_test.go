package attester

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-tpm/legacy/tpm2"

	"github.com/trustanchor-io/go-tpm-attest/internal/test"
	"github.com/trustanchor-io/go-tpm-attest/wire"
)

var quoteSel = wire.PCRSelection{Alg: tpm2.AlgSHA256, PCRs: []int{0, 1, 2, 3, 4, 5, 6, 7, 10}}

type staticLog []byte

func (s staticLog) Read() ([]byte, error) { return []byte(s), nil }

type failingLog struct{}

func (failingLog) Read() ([]byte, error) { return nil, errors.New("securityfs not mounted") }

// tinyDevice caps qualifying data below the wire maximum so the device
// bound is reachable through a valid request.
type tinyDevice struct{ *test.Device }

func (tinyDevice) MaxFreshnessSize() int { return 8 }

func challenge() *wire.Request {
	return &wire.Request{
		Version:    wire.Version,
		KeyID:      []byte(wire.DefaultKeyID),
		Nonce:      bytes.Repeat([]byte{0xab}, wire.NonceLength),
		Selections: []wire.PCRSelection{quoteSel},
	}
}

func TestProduceResponse(t *testing.T) {
	dev := test.NewDevice(t)
	r := NewResponder(dev, Config{Logs: map[string]LogSource{
		wire.LogIMA: staticLog("ima-entry-bytes"),
	}})

	req := challenge()
	req.LogRequests = []wire.LogRequest{
		{ID: wire.LogIMA, Offset: 1},
		{ID: wire.LogTCGBoot, Offset: 1},
	}
	res, err := r.ProduceResponse(context.Background(), req)
	if err != nil {
		t.Fatalf("ProduceResponse() = %v", err)
	}
	if len(res.Signature) == 0 || len(res.PublicArea) == 0 {
		t.Error("response is missing signature or public area")
	}

	quote, err := wire.ParseQuoteStatement(res.Attest)
	if err != nil {
		t.Fatalf("ParseQuoteStatement() = %v", err)
	}
	if !bytes.Equal(quote.Freshness, req.Nonce) {
		t.Errorf("quote freshness = %x, want %x", quote.Freshness, req.Nonce)
	}
	if !quote.Selection.Equal(quoteSel) {
		t.Errorf("quote selection = %+v, want %+v", quote.Selection, quoteSel)
	}

	if len(res.Logs) != 2 {
		t.Fatalf("got %d log entries, want 2", len(res.Logs))
	}
	if got := string(res.Logs[0].Content); got != "ima-entry-bytes" {
		t.Errorf("ima log = %q, want full source content", got)
	}
	if res.Logs[1].ID != wire.LogTCGBoot || len(res.Logs[1].Content) != 0 {
		t.Errorf("unavailable log should travel empty, got %+v", res.Logs[1])
	}
}

func TestProduceResponseHello(t *testing.T) {
	dev := test.NewDevice(t)
	// A device fault on Quote proves hello never quotes.
	dev.QuoteErr = errors.New("should not be called")
	r := NewResponder(dev, Config{})

	res, err := r.ProduceResponse(context.Background(), &wire.Request{
		Version: wire.Version,
		Hello:   true,
		KeyID:   []byte(wire.DefaultKeyID),
	})
	if err != nil {
		t.Fatalf("ProduceResponse(hello) = %v", err)
	}
	want, err := dev.PublicArea()
	if err != nil {
		t.Fatalf("PublicArea() = %v", err)
	}
	if !bytes.Equal(res.PublicArea, want) {
		t.Error("hello response does not carry the key's public area")
	}
	if len(res.Attest) != 0 || len(res.Signature) != 0 {
		t.Error("hello response carries quote material")
	}
}

func TestProduceResponseRejects(t *testing.T) {
	dev := test.NewDevice(t)
	for _, tc := range []struct {
		name    string
		dev     Device
		mutate  func(*wire.Request)
		wantErr error
	}{
		{
			name:    "unknown key",
			mutate:  func(r *wire.Request) { r.KeyID = []byte("PK.ECC.default") },
			wantErr: ErrUnknownKey,
		},
		{
			name:    "nonce beyond device capacity",
			dev:     tinyDevice{dev},
			mutate:  func(r *wire.Request) { r.Nonce = bytes.Repeat([]byte{1}, 9) },
			wantErr: ErrInputTooLarge,
		},
		{
			name: "two banks",
			mutate: func(r *wire.Request) {
				r.Selections = append(r.Selections, wire.PCRSelection{Alg: tpm2.AlgSHA1, PCRs: []int{0}})
			},
			wantErr: ErrSelection,
		},
		{
			name: "bank is not a hash algorithm",
			mutate: func(r *wire.Request) {
				r.Selections = []wire.PCRSelection{{Alg: tpm2.AlgRSA, PCRs: []int{0}}}
			},
			wantErr: ErrSelection,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := tc.dev
			if d == nil {
				d = dev
			}
			req := challenge()
			tc.mutate(req)
			_, err := NewResponder(d, Config{}).ProduceResponse(context.Background(), req)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ProduceResponse() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestProduceResponseDeviceFault(t *testing.T) {
	dev := test.NewDevice(t)
	dev.QuoteErr = errors.New("tpm went away")
	_, err := NewResponder(dev, Config{}).ProduceResponse(context.Background(), challenge())
	if !errors.Is(err, ErrDevice) {
		t.Errorf("ProduceResponse() = %v, want %v", err, ErrDevice)
	}
}

func TestProduceResponseValidatesRequest(t *testing.T) {
	req := challenge()
	req.Nonce = bytes.Repeat([]byte{1}, wire.MaxNonceSize+1)
	_, err := NewResponder(test.NewDevice(t), Config{}).ProduceResponse(context.Background(), req)
	if !errors.Is(err, wire.ErrTooLarge) {
		t.Errorf("ProduceResponse() = %v, want %v", err, wire.ErrTooLarge)
	}
}

func TestCollectLogReadFailure(t *testing.T) {
	r := NewResponder(test.NewDevice(t), Config{Logs: map[string]LogSource{
		wire.LogIMA: failingLog{},
	}})
	entry := r.collectLog(wire.LogRequest{ID: wire.LogIMA, Offset: 1})
	if entry.ID != wire.LogIMA || entry.Content != nil {
		t.Errorf("unreadable log should travel empty, got %+v", entry)
	}
}

func TestSliceLog(t *testing.T) {
	content := []byte("0123456789")
	for _, tc := range []struct {
		name          string
		offset, count uint64
		want          string
	}{
		{"probe", 0, 0, ""},
		{"whole log", 1, 0, "0123456789"},
		{"from middle", 5, 0, "456789"},
		{"bounded range", 2, 3, "123"},
		{"count clamped to end", 8, 100, "789"},
		{"offset past end", 11, 1, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := string(sliceLog(content, tc.offset, tc.count)); got != tc.want {
				t.Errorf("sliceLog(%d, %d) = %q, want %q", tc.offset, tc.count, got, tc.want)
			}
		})
	}
}

func TestHandleRoundTrip(t *testing.T) {
	r := NewResponder(test.NewDevice(t), Config{})
	raw, err := wire.MarshalRequest(challenge())
	if err != nil {
		t.Fatalf("MarshalRequest() = %v", err)
	}
	out, err := r.Handle(context.Background(), raw)
	if err != nil {
		t.Fatalf("Handle() = %v", err)
	}
	res, err := wire.UnmarshalResponse(out)
	if err != nil {
		t.Fatalf("UnmarshalResponse() = %v", err)
	}
	if len(res.Attest) == 0 {
		t.Error("handled response carries no attestation structure")
	}
}

func TestHandleRejectsGarbage(t *testing.T) {
	r := NewResponder(test.NewDevice(t), Config{})
	if _, err := r.Handle(context.Background(), []byte("not cbor")); err == nil {
		t.Error("Handle() accepted malformed bytes")
	}
}

func TestDefaultLogSources(t *testing.T) {
	srcs := DefaultLogSources("/tmp/ima", "")
	if got := srcs[wire.LogIMA].(FileLog).Path; got != "/tmp/ima" {
		t.Errorf("ima path = %q, want override", got)
	}
	if got := srcs[wire.LogTCGBoot].(FileLog).Path; got != DefaultBootLogPath {
		t.Errorf("boot path = %q, want platform default", got)
	}
}
