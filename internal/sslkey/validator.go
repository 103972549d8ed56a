package sslkey

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/gtmills/ensuressl/internal/storage"
)

var (
	errNoPrivateKey  = errors.New("no private key found")
	errNoCertificate = errors.New("no certificate found after the private key")
	errECNotAccepted = errors.New("EC keys are not accepted")
)

// VerifyKeyCert checks that path holds a private key followed by a
// certificate signed by that key. It returns nil when the pair is valid and
// an *Error describing the first problem otherwise.
func (m *Manager) VerifyKeyCert(path string) error {
	if err := m.lib.Acquire(); err != nil {
		return err
	}
	defer m.lib.Release()

	m.lib.log.Debugw("Checking certs in file", "path", path)

	data, err := m.lib.store.ReadFile(path)
	if err != nil {
		return newError(KindFileAccess, path, err)
	}
	return m.verifyData(path, data)
}

// verifyData runs the checks of VerifyKeyCert on data already read from path.
// The caller holds the Library.
func (m *Manager) verifyData(path string, data []byte) error {
	log := m.lib.log

	key, rest, err := decodeKey(data)
	if err != nil {
		log.Debugw("Error reading private key", "path", path, "error", err)
		return newError(KindParse, path, err)
	}

	if err := m.acceptKey(key); err != nil {
		log.Warnw("Key not valid", "path", path, "type", key.Type(), "error", err)
		return newError(KindKeyInvalid, path, err)
	}

	cert, err := decodeCertificate(rest)
	if err != nil {
		log.Debugw("Error getting x509 cert", "path", path, "error", err)
		return newError(KindParse, path, err)
	}

	if err := verifySignature(cert, key); err != nil {
		log.Warnw("Error in verifying private key signature", "path", path, "error", err)
		return newError(KindCertInvalid, path, err)
	}

	return nil
}

// Valid is VerifyKeyCert reduced to a boolean.
func (m *Manager) Valid(path string) bool {
	return m.VerifyKeyCert(path) == nil
}

// acceptKey applies the per-type consistency check and the EC policy.
func (m *Manager) acceptKey(key Key) error {
	log := m.lib.log

	switch key.Type() {
	case KeyTypeRSA:
		log.Debug("Found an RSA key")
		return key.Check()
	case KeyTypeEC:
		log.Debug("Found an EC key")
		if err := key.Check(); err != nil {
			return err
		}
		if !m.opts.AcceptECKeys {
			// A consistent EC key is still rejected unless explicitly enabled.
			log.Warn("EC key passed its check but EC keys are not accepted")
			return errECNotAccepted
		}
		return nil
	default:
		log.Warnw("Found an unrecognized key type", "type", fmt.Sprintf("%T", key.Private()))
		return key.Check()
	}
}

// decodeKey finds the first private key block and returns the bytes after it.
func decodeKey(data []byte) (Key, []byte, error) {
	block, rest := storage.NextBlock(data, storage.IsPrivateKeyBlock)
	if block == nil {
		return nil, nil, errNoPrivateKey
	}
	key, err := ParsePrivateKey(block)
	if err != nil {
		return nil, nil, err
	}
	return key, rest, nil
}

func decodeCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := storage.NextBlock(data, func(t string) bool { return t == storage.BlockCertificate })
	if block == nil {
		return nil, errNoCertificate
	}
	return x509.ParseCertificate(block.Bytes)
}

// verifySignature checks the certificate's signature with the private key's
// public half, regardless of the public key embedded in the certificate.
func verifySignature(cert *x509.Certificate, key Key) error {
	signer := &x509.Certificate{PublicKey: key.Public()}
	return signer.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature)
}
