// The verifier challenges a remote attester over CoAP and appraises the
// signed TPM quote it returns against operator-trusted reference PCR
// values. The process exit code carries the verdict.
package main

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/logger"
	"github.com/spf13/cobra"

	"github.com/trustanchor-io/go-tpm-attest/device"
	"github.com/trustanchor-io/go-tpm-attest/internal/cli"
	"github.com/trustanchor-io/go-tpm-attest/refpcr"
	"github.com/trustanchor-io/go-tpm-attest/transport"
	"github.com/trustanchor-io/go-tpm-attest/verifier"
	"github.com/trustanchor-io/go-tpm-attest/wire"
)

// Exit codes, one per outcome; 4 covers operational errors.
const (
	exitPassed    = 0
	exitFailed    = 1
	exitTimedOut  = 2
	exitMalformed = 3
	exitError     = 4
)

var (
	opts     cli.VerifierOptions
	exitCode = exitError
)

var rootCmd = &cobra.Command{
	Use:   "verifier",
	Short: "Appraise a remote attester's TPM quote",
	Long: `Appraise a remote attester's TPM quote

The verifier sends one freshly generated challenge, receives the signed
quote, and checks the signature (through the TPM quote stack and again
in software), the statement magic, the nonce echo, and the quoted PCR
composite against the reference values in --reference.

Exit codes: 0 passed, 1 failed, 2 timed out, 3 malformed response,
4 operational error.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return appraise(cmd.Context())
	},
}

func init() {
	opts.AddFlags(rootCmd.Flags())
}

func appraise(ctx context.Context) error {
	log := cli.NewLogger("verifier", opts.Verbose)
	defer log.Close()

	if opts.Attester == "" {
		return errors.New("--attester is required")
	}
	psk, err := opts.PSK()
	if err != nil {
		return err
	}
	client, err := transport.Dial(transport.ClientConfig{Addr: opts.Attester, PSK: psk, Log: log})
	if err != nil {
		return err
	}
	defer client.Close()

	if opts.Hello {
		if err := hello(ctx, client); err != nil {
			return err
		}
		exitCode = exitPassed
		return nil
	}

	sel, err := cli.ParsePCRSelection(opts.Selection)
	if err != nil {
		return err
	}
	_, hashOverride, err := cli.ParseHashAlgorithm(opts.HashAlg)
	if err != nil {
		return err
	}
	var logReqs []wire.LogRequest
	for _, s := range opts.LogRequests {
		lr, err := cli.ParseLogRequest(s)
		if err != nil {
			return err
		}
		logReqs = append(logReqs, lr)
	}

	if opts.ReferencePath == "" {
		return errors.New("--reference is required")
	}
	refs, err := refpcr.Load(opts.ReferencePath)
	if err != nil {
		return err
	}

	var pinned crypto.PublicKey
	if opts.PublicKeyPath != "" {
		pinned, err = cli.LoadPublicKeyPEM(opts.PublicKeyPath)
		if err != nil {
			return err
		}
	}

	nonce, err := drawNonce(log)
	if err != nil {
		return err
	}
	req, err := verifier.BuildRequest(verifier.RequestConfig{
		KeyID:       []byte(opts.KeyID),
		Nonce:       nonce,
		Selection:   sel,
		LogRequests: logReqs,
	})
	if err != nil {
		return err
	}

	eng, err := verifier.New(verifier.Config{
		Request:   req,
		Refs:      refs,
		PublicKey: pinned,
		Hash:      hashOverride,
		Timeout:   opts.Timeout,
		Policy:    verifier.Policy{RequireMagic: opts.RequireMagic},
		Log:       log,
	})
	if err != nil {
		return err
	}

	v, err := eng.Run(ctx, client)
	if err != nil {
		return err
	}
	report(v)
	exitCode = codeFor(v.Outcome)
	return nil
}

// drawNonce uses the platform entropy source, or the local TPM's RNG
// under --tpm-nonce.
func drawNonce(log *logger.Logger) ([]byte, error) {
	if !opts.TPMNonce {
		return verifier.GenerateNonce(nil, wire.NonceLength)
	}
	rwc, err := device.OpenTPM(opts.TPMPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to TPM for nonce entropy: %w", err)
	}
	defer rwc.Close()
	t := device.New(rwc, device.Config{Log: log})
	return verifier.GenerateNonce(t.RandReader(), wire.NonceLength)
}

// hello asks the attester for its public key and prints it as PEM.
func hello(ctx context.Context, client *transport.Client) error {
	req, err := verifier.BuildHello([]byte(opts.KeyID))
	if err != nil {
		return err
	}
	raw, err := wire.MarshalRequest(req)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	out, err := client.Exchange(ctx, raw)
	if err != nil {
		return err
	}
	res, err := wire.UnmarshalResponse(out)
	if err != nil {
		return err
	}
	pub, err := tpm2.DecodePublic(res.PublicArea)
	if err != nil {
		return fmt.Errorf("decoding presented public area: %v", err)
	}
	key, err := pub.Key()
	if err != nil {
		return err
	}
	pemBytes, err := cli.EncodePublicKeyPEM(key)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(pemBytes)
	return err
}

func report(v *verifier.Verdict) {
	fmt.Printf("verdict: %s\n", v.Outcome)
	if v.Quote != nil {
		fmt.Printf("  signature:   %s (quote stack %s, software %s)\n",
			mark(v.SignatureValid), mark(v.SignatureByQuoteStack), mark(v.SignatureBySoftware))
		fmt.Printf("  magic:       %s\n", mark(v.MagicValid))
		fmt.Printf("  freshness:   %s\n", mark(v.NonceValid))
		fmt.Printf("  measurement: %s\n", mark(v.MeasurementValid))
		for _, acct := range v.Logs {
			if acct.Events > 0 {
				fmt.Printf("  log %s: %d bytes, %d events\n", acct.ID, acct.Bytes, acct.Events)
			} else {
				fmt.Printf("  log %s: %d bytes\n", acct.ID, acct.Bytes)
			}
		}
	}
	if v.Failures != nil {
		fmt.Println(v.Failures)
	}
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}

func codeFor(o verifier.Outcome) int {
	switch o {
	case verifier.OutcomePassed:
		return exitPassed
	case verifier.OutcomeFailed:
		return exitFailed
	case verifier.OutcomeTimedOut:
		return exitTimedOut
	case verifier.OutcomeMalformed:
		return exitMalformed
	default:
		return exitError
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitError)
	}
	os.Exit(exitCode)
}
