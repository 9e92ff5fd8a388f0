// Package cli holds the flag surfaces and option parsing shared by the
// attester and verifier binaries.
package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/logger"
	"github.com/spf13/pflag"

	"github.com/trustanchor-io/go-tpm-attest/transport"
	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// CommonOptions are the flags both binaries carry.
type CommonOptions struct {
	Verbose     bool
	PSKIdentity string
	PSKKey      string
}

// AddFlags registers the common flags on fs.
func (o *CommonOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&o.Verbose, "verbose", "v", false, "log informational diagnostics")
	fs.StringVar(&o.PSKIdentity, "psk-identity", "",
		"DTLS pre-shared key identity (enables DTLS together with --psk-key)")
	fs.StringVar(&o.PSKKey, "psk-key", "", "hex encoded DTLS pre-shared key")
}

// PSK assembles the DTLS credentials from the flags, nil when unset.
func (o *CommonOptions) PSK() (*transport.PSK, error) {
	if o.PSKIdentity == "" && o.PSKKey == "" {
		return nil, nil
	}
	if o.PSKIdentity == "" || o.PSKKey == "" {
		return nil, errors.New("--psk-identity and --psk-key go together")
	}
	key, err := hex.DecodeString(o.PSKKey)
	if err != nil {
		return nil, fmt.Errorf("--psk-key: %w", err)
	}
	return &transport.PSK{Identity: []byte(o.PSKIdentity), Key: key}, nil
}

// AttesterOptions are the attester binary's flags.
type AttesterOptions struct {
	CommonOptions
	Listen          string
	TPMPath         string
	KeyHandle       string
	KeyID           string
	IMALog          string
	BootLog         string
	ExportPublicKey string
}

// AddFlags registers the attester flags on fs.
func (o *AttesterOptions) AddFlags(fs *pflag.FlagSet) {
	o.CommonOptions.AddFlags(fs)
	fs.StringVar(&o.Listen, "listen", ":5683", "address to serve the attestation resource on")
	fs.StringVar(&o.TPMPath, "tpm-path", "",
		"path to TPM device (defaults to /dev/tpmrm0 then /dev/tpm0)")
	fs.StringVar(&o.KeyHandle, "key-handle", "",
		"hex handle of a persistent attestation key, e.g. 0x81000001 (default creates a transient primary key)")
	fs.StringVar(&o.KeyID, "key-id", wire.DefaultKeyID, "identifier of the attestation key")
	fs.StringVar(&o.IMALog, "ima-log", "", "path of the binary IMA runtime log")
	fs.StringVar(&o.BootLog, "boot-log", "", "path of the binary TCG boot log")
	fs.StringVar(&o.ExportPublicKey, "export-public-key", "",
		"write the attestation public key to this path as PEM, then serve")
}

// VerifierOptions are the verifier binary's flags.
type VerifierOptions struct {
	CommonOptions
	Attester      string
	Timeout       time.Duration
	KeyID         string
	PublicKeyPath string
	ReferencePath string
	Selection     string
	HashAlg       string
	LogRequests   []string
	TPMNonce      bool
	TPMPath       string
	RequireMagic  bool
	Hello         bool
}

// AddFlags registers the verifier flags on fs.
func (o *VerifierOptions) AddFlags(fs *pflag.FlagSet) {
	o.CommonOptions.AddFlags(fs)
	fs.StringVar(&o.Attester, "attester", "", "attester address, host:port")
	fs.DurationVar(&o.Timeout, "timeout", 30*time.Second, "how long to wait for the response")
	fs.StringVar(&o.KeyID, "key-id", wire.DefaultKeyID, "identifier of the attestation key to challenge")
	fs.StringVar(&o.PublicKeyPath, "public-key", "",
		"PEM file pinning the attestation public key (default trusts the presented key)")
	fs.StringVar(&o.ReferencePath, "reference", "", "YAML file with the golden PCR values")
	fs.StringVar(&o.Selection, "pcrs", "sha256:0,1,2,3,4,5,6,7,10",
		"PCR selection to quote, bank:indices or bank:all")
	fs.StringVar(&o.HashAlg, "hash-alg", "",
		"override the software signature path's hash (sha1, sha256, sha384, sha512)")
	fs.StringArrayVar(&o.LogRequests, "request-log", nil,
		"supplementary log to fetch, id[:offset[,count]] with id ima or tcg-boot (repeatable)")
	fs.BoolVar(&o.TPMNonce, "tpm-nonce", false, "draw the challenge nonce from a local TPM")
	fs.StringVar(&o.TPMPath, "tpm-path", "", "path to the local TPM used with --tpm-nonce")
	fs.BoolVar(&o.RequireMagic, "require-magic", false,
		"fail appraisals whose attestation structure lacks TPM_GENERATED_VALUE")
	fs.BoolVar(&o.Hello, "hello", false, "probe the attester for its public key instead of appraising")
}

// NewLogger builds the process logger. Warnings and errors always reach
// stderr; verbose widens that to informational output.
func NewLogger(name string, verbose bool) *logger.Logger {
	return logger.Init(name, verbose, false, io.Discard)
}
