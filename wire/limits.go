package wire

// Protocol version carried in every request.
const Version = "1.0"

// NonceLength is the freshness value size drawn by the verifier.
const NonceLength = 20

// QuoteMagic is the TPM_GENERATED_VALUE constant present in every
// TPM-generated attestation structure.
const QuoteMagic uint32 = 0xff544347

// NumPCRs is the number of registers in a PCR bank.
const NumPCRs = 24

// Platform maxima for untrusted wire input. Anything larger is rejected
// before the field is copied or parsed.
const (
	MaxKeyIDSize      = 32
	MaxNonceSize      = 64 // largest digest a TPM accepts as qualifying data
	MaxAttestSize     = 2048
	MaxSignatureSize  = 512
	MaxPublicAreaSize = 1024
	MaxLogEntries     = 16
	MaxLogIDSize      = 64
	MaxLogContentSize = 1 << 20
)

// Well-known supplementary log identifiers.
const (
	LogIMA     = "ima"
	LogTCGBoot = "tcg-boot"
)

// DefaultKeyID is the signing-key identifier both sides assume unless
// provisioned otherwise.
const DefaultKeyID = "PK.RSA.default"
