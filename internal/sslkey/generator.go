package sslkey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/gtmills/ensuressl/internal/storage"
)

// GenerateCertificate creates a new key pair and a self-signed certificate
// and replaces path with both. Nothing is written unless every step
// succeeds.
func (m *Manager) GenerateCertificate(path string) error {
	if err := m.lib.Acquire(); err != nil {
		return err
	}
	defer m.lib.Release()

	log := m.lib.log
	log.Warnw("Generating new keys", "path", path, "algorithm", m.opts.Algorithm.Name())

	key, err := m.opts.Algorithm.GenerateKey(m.lib.rand)
	if err != nil {
		log.Errorw("Key generation failed", "path", path, "error", err)
		return newError(KindGeneration, path, err)
	}

	log.Warn("Generating x509 Certificate")
	certDER, err := m.selfSign(key)
	if err != nil {
		log.Errorw("Certificate generation failed", "path", path, "error", err)
		return newError(KindGeneration, path, err)
	}

	data, err := storage.EncodeKeyCert(key, certDER)
	if err != nil {
		return newError(KindGeneration, path, err)
	}

	info, err := m.lib.store.WriteFile(path, data)
	if err != nil {
		log.Errorw("Writing key and certificate failed", "path", path, "error", err)
		return newError(KindGeneration, path, err)
	}

	log.Infow("Wrote key and certificate", "path", path, "sha256", info.Hash)
	return nil
}

func (m *Manager) selfSign(key crypto.Signer) ([]byte, error) {
	serial, err := randomSerial(m.lib.rand)
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}

	// Certificates carry second precision.
	notBefore := m.lib.now().UTC().Truncate(time.Second)
	name := m.opts.Subject.Name()

	template := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            name,
		Issuer:             name,
		NotBefore:          notBefore,
		NotAfter:           notBefore.Add(m.opts.Validity),
		SignatureAlgorithm: signatureAlgorithm(key),
	}

	certDER, err := x509.CreateCertificate(m.lib.rand, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parsing generated certificate: %w", err)
	}
	if err := verifySignature(cert, NewKey(key)); err != nil {
		return nil, fmt.Errorf("generated certificate does not verify: %w", err)
	}

	return certDER, nil
}

// randomSerial draws a non-zero 32-bit serial. Repeating serials across
// regenerations makes browsers reject the new certificate.
func randomSerial(rand io.Reader) (*big.Int, error) {
	var buf [4]byte
	for i := 0; i < maxSerialAttempts; i++ {
		if _, err := io.ReadFull(rand, buf[:]); err != nil {
			return nil, err
		}
		if v := binary.BigEndian.Uint32(buf[:]); v != 0 {
			return new(big.Int).SetUint64(uint64(v)), nil
		}
	}
	return nil, errors.New("entropy source keeps returning zero")
}

const maxSerialAttempts = 8

func signatureAlgorithm(key crypto.Signer) x509.SignatureAlgorithm {
	if _, ok := key.(*ecdsa.PrivateKey); ok {
		return x509.ECDSAWithSHA256
	}
	return x509.SHA256WithRSA
}
