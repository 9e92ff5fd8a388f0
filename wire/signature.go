package wire

import (
	"fmt"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

// EncodeSignature serializes a decoded signature back to TPMT_SIGNATURE
// wire form, the representation responses carry.
func EncodeSignature(sig *tpm2.Signature) ([]byte, error) {
	switch sig.Alg {
	case tpm2.AlgRSASSA, tpm2.AlgRSAPSS:
		if sig.RSA == nil {
			return nil, fmt.Errorf("RSA signature 0x%x without RSA payload", uint16(sig.Alg))
		}
		return tpmutil.Pack(sig.Alg, sig.RSA.HashAlg, sig.RSA.Signature)
	case tpm2.AlgECDSA:
		if sig.ECC == nil {
			return nil, fmt.Errorf("ECDSA signature without ECC payload")
		}
		return tpmutil.Pack(sig.Alg, sig.ECC.HashAlg,
			tpmutil.U16Bytes(sig.ECC.R.Bytes()), tpmutil.U16Bytes(sig.ECC.S.Bytes()))
	default:
		return nil, fmt.Errorf("unsupported signature algorithm 0x%x", uint16(sig.Alg))
	}
}
