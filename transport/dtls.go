package transport

import (
	"bytes"
	"errors"
	"fmt"

	piondtls "github.com/pion/dtls/v3"
)

// PSK is a DTLS pre-shared key with the identity it belongs to. Both
// sides of an exchange are provisioned with the same pair.
type PSK struct {
	Identity []byte
	Key      []byte
}

func (p *PSK) validate() error {
	if len(p.Identity) == 0 || len(p.Key) == 0 {
		return errors.New("PSK needs both an identity and a key")
	}
	return nil
}

// clientConfig offers the identity and answers any server hint with the
// key.
func (p *PSK) clientConfig() (*piondtls.Config, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &piondtls.Config{
		PSK:             func([]byte) ([]byte, error) { return p.Key, nil },
		PSKIdentityHint: p.Identity,
		CipherSuites:    []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_CCM_8},
	}, nil
}

// serverConfig hands the key out only for the provisioned identity.
func (p *PSK) serverConfig() (*piondtls.Config, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &piondtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			if !bytes.Equal(hint, p.Identity) {
				return nil, fmt.Errorf("unknown PSK identity %q", hint)
			}
			return p.Key, nil
		},
		PSKIdentityHint: p.Identity,
		CipherSuites:    []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_CCM_8},
	}, nil
}
