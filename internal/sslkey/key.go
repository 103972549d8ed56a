package sslkey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/gtmills/ensuressl/internal/storage"
)

type KeyType string

const (
	KeyTypeRSA          KeyType = "RSA"
	KeyTypeEC           KeyType = "EC"
	KeyTypeUnrecognized KeyType = "unrecognized"
)

// Key is a parsed private key. Each key type knows how to check its own
// internal consistency.
type Key interface {
	Type() KeyType
	Bits() int
	// Check verifies the number-theoretic relationships between the key's
	// components.
	Check() error
	Public() crypto.PublicKey
	Private() crypto.PrivateKey
}

var errEncryptedKey = errors.New("private key is encrypted")

// NewKey wraps a private key from crypto/x509 in the matching Key variant.
func NewKey(k crypto.PrivateKey) Key {
	switch key := k.(type) {
	case *rsa.PrivateKey:
		return rsaKey{key}
	case *ecdsa.PrivateKey:
		return ecKey{key}
	default:
		return unrecognizedKey{k}
	}
}

// ParsePrivateKey decodes a private key block of any of the encodings written
// by OpenSSL or by this package.
func ParsePrivateKey(block *pem.Block) (Key, error) {
	//nolint:staticcheck // legacy encrypted PEM is only detected, never decrypted
	if block.Type == storage.BlockEncryptedPrivateKey || x509.IsEncryptedPEMBlock(block) {
		return nil, errEncryptedKey
	}

	var (
		k   crypto.PrivateKey
		err error
	)
	switch block.Type {
	case storage.BlockRSAPrivateKey:
		k, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case storage.BlockECPrivateKey:
		k, err = x509.ParseECPrivateKey(block.Bytes)
	case storage.BlockPrivateKey:
		k, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, err
	}
	return NewKey(k), nil
}

type rsaKey struct {
	k *rsa.PrivateKey
}

func (r rsaKey) Type() KeyType              { return KeyTypeRSA }
func (r rsaKey) Bits() int                  { return r.k.N.BitLen() }
func (r rsaKey) Public() crypto.PublicKey   { return &r.k.PublicKey }
func (r rsaKey) Private() crypto.PrivateKey { return r.k }

func (r rsaKey) Check() error {
	if len(r.k.Primes) < 2 {
		return errors.New("rsa key is missing its primes")
	}

	n := new(big.Int).Set(bigOne)
	for _, p := range r.k.Primes {
		n.Mul(n, p)
	}
	if n.Cmp(r.k.N) != 0 {
		return errors.New("rsa modulus is not the product of its primes")
	}

	// Validate also covers d*e = 1 mod (p-1) for every prime.
	return r.k.Validate()
}

var bigOne = big.NewInt(1)

type ecKey struct {
	k *ecdsa.PrivateKey
}

func (e ecKey) Type() KeyType              { return KeyTypeEC }
func (e ecKey) Bits() int                  { return e.k.Curve.Params().BitSize }
func (e ecKey) Public() crypto.PublicKey   { return &e.k.PublicKey }
func (e ecKey) Private() crypto.PrivateKey { return e.k }

func (e ecKey) Check() error {
	priv, err := e.k.ECDH()
	if err != nil {
		return fmt.Errorf("ec private key: %w", err)
	}
	pub, err := e.k.PublicKey.ECDH()
	if err != nil {
		return fmt.Errorf("ec public point: %w", err)
	}
	if !priv.PublicKey().Equal(pub) {
		return errors.New("ec public point does not match private scalar")
	}
	return nil
}

type unrecognizedKey struct {
	k crypto.PrivateKey
}

func (u unrecognizedKey) Type() KeyType              { return KeyTypeUnrecognized }
func (u unrecognizedKey) Private() crypto.PrivateKey { return u.k }

func (u unrecognizedKey) Bits() int {
	if _, ok := u.k.(ed25519.PrivateKey); ok {
		return 256
	}
	return 0
}

func (u unrecognizedKey) Public() crypto.PublicKey {
	if s, ok := u.k.(crypto.Signer); ok {
		return s.Public()
	}
	return nil
}

func (u unrecognizedKey) Check() error {
	return fmt.Errorf("unrecognized key type %T", u.k)
}
