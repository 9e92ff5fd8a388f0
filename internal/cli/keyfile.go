package cli

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const pemPublicKey = "PUBLIC KEY"

// LoadPublicKeyPEM reads a PKIX public key from a PEM file, the format
// the attester's --export-public-key writes.
func LoadPublicKeyPEM(path string) (crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPublicKey {
		return nil, fmt.Errorf("%s holds no PEM public key", path)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %v", path, err)
	}
	return key, nil
}

// EncodePublicKeyPEM renders pub as PKIX PEM.
func EncodePublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der}), nil
}

// WritePublicKeyPEM writes pub to path as PKIX PEM.
func WritePublicKeyPEM(path string, pub crypto.PublicKey) error {
	data, err := EncodePublicKeyPEM(pub)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
