package device

import "github.com/google/go-tpm/legacy/tpm2"

// AttestationKeyTemplateRSA is the template used for transient signing
// keys: a restricted RSA-2048 signer with the RSASSA/SHA-256 scheme, so
// quotes carry a fixed, verifier-friendly signature format.
func AttestationKeyTemplateRSA() tpm2.Public {
	return tpm2.Public{
		Type:       tpm2.AlgRSA,
		NameAlg:    tpm2.AlgSHA256,
		Attributes: tpm2.FlagSignerDefault,
		RSAParameters: &tpm2.RSAParams{
			Sign: &tpm2.SigScheme{
				Alg:  tpm2.AlgRSASSA,
				Hash: tpm2.AlgSHA256,
			},
			KeyBits: 2048,
		},
	}
}
