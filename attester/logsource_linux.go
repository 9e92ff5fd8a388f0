package attester

// Locations of the kernel-exported binary measurement logs.
const (
	DefaultIMALogPath  = "/sys/kernel/security/ima/binary_runtime_measurements"
	DefaultBootLogPath = "/sys/kernel/security/tpm0/binary_bios_measurements"
)
