// The attester daemon answers remote verifiers with signed TPM quotes
// over CoAP, optionally secured with DTLS-PSK.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trustanchor-io/go-tpm-attest/attester"
	"github.com/trustanchor-io/go-tpm-attest/device"
	"github.com/trustanchor-io/go-tpm-attest/internal/cli"
	"github.com/trustanchor-io/go-tpm-attest/transport"
)

var opts cli.AttesterOptions

var rootCmd = &cobra.Command{
	Use:   "attester",
	Short: "Serve signed TPM quotes to remote verifiers",
	Long: `Serve signed TPM quotes to remote verifiers

The attester binds a CoAP endpoint and answers each challenge with a
quote over the requested PCR selection, signed by the attestation key
and bound to the verifier's nonce. Supplementary measurement logs (IMA,
TCG boot) are packaged on request.

By default a transient primary attestation key is created under the
owner hierarchy; --key-handle points at a pre-provisioned persistent
key instead. --export-public-key writes the key's public half as PEM so
it can be pinned on the verifier side.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	opts.AddFlags(rootCmd.Flags())
}

func serve(ctx context.Context) error {
	log := cli.NewLogger("attester", opts.Verbose)
	defer log.Close()

	psk, err := opts.PSK()
	if err != nil {
		return err
	}
	handle, err := cli.ParseKeyHandle(opts.KeyHandle)
	if err != nil {
		return err
	}

	rwc, err := device.OpenTPM(opts.TPMPath)
	if err != nil {
		return fmt.Errorf("connecting to TPM: %w", err)
	}
	defer rwc.Close()
	dev := device.New(rwc, device.Config{
		Source: device.KeySource{Handle: handle},
		Log:    log,
	})

	if opts.ExportPublicKey != "" {
		pub, err := dev.PublicKey()
		if err != nil {
			return err
		}
		if err := cli.WritePublicKeyPEM(opts.ExportPublicKey, pub); err != nil {
			return err
		}
		log.Infof("wrote attestation public key to %s", opts.ExportPublicKey)
	}

	responder := attester.NewResponder(dev, attester.Config{
		KeyID: []byte(opts.KeyID),
		Logs:  attester.DefaultLogSources(opts.IMALog, opts.BootLog),
		Log:   log,
	})
	srv := transport.NewServer(responder.Handle, transport.ServerConfig{PSK: psk, Log: log})
	return srv.ListenAndServe(ctx, opts.Listen)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
