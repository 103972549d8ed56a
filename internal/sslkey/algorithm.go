package sslkey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"io"
	"strings"
)

const DefaultRSABits = 2048

// KeyAlgorithm generates the key pair a new certificate is bound to.
type KeyAlgorithm interface {
	Name() string
	GenerateKey(rand io.Reader) (crypto.Signer, error)
}

// RSAAlgorithm generates RSA keys with public exponent 65537.
type RSAAlgorithm struct {
	Bits int
}

func (r RSAAlgorithm) Name() string {
	return "RSA"
}

func (r RSAAlgorithm) GenerateKey(rand io.Reader) (crypto.Signer, error) {
	bits := r.Bits
	if bits == 0 {
		bits = DefaultRSABits
	}

	key, err := rsa.GenerateKey(rand, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	if err := (rsaKey{key}).Check(); err != nil {
		return nil, fmt.Errorf("generated RSA key failed its check: %w", err)
	}
	return key, nil
}

// ECAlgorithm generates prime256v1 keys.
type ECAlgorithm struct{}

func (e ECAlgorithm) Name() string {
	return "EC"
}

func (e ECAlgorithm) GenerateKey(rand io.Reader) (crypto.Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate EC key: %w", err)
	}
	if err := (ecKey{key}).Check(); err != nil {
		return nil, fmt.Errorf("generated EC key failed its check: %w", err)
	}
	return key, nil
}

// AlgorithmFor maps a configured key type to its generator.
func AlgorithmFor(keyType string, rsaBits int) (KeyAlgorithm, error) {
	switch strings.ToLower(keyType) {
	case "", "rsa":
		return RSAAlgorithm{Bits: rsaBits}, nil
	case "ec", "ecdsa":
		return ECAlgorithm{}, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", keyType)
	}
}
