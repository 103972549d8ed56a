package storage

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

const (
	BlockPrivateKey          = "PRIVATE KEY"
	BlockRSAPrivateKey       = "RSA PRIVATE KEY"
	BlockECPrivateKey        = "EC PRIVATE KEY"
	BlockEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	BlockCertificate         = "CERTIFICATE"
)

// EncodeKeyCert produces the on-disk layout: the unencrypted PKCS#8 private
// key followed by the certificate.
func EncodeKeyCert(key crypto.PrivateKey, certDER []byte) ([]byte, error) {
	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: BlockPrivateKey, Bytes: keyBytes}); err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	if err := pem.Encode(&buf, &pem.Block{Type: BlockCertificate, Bytes: certDER}); err != nil {
		return nil, fmt.Errorf("failed to encode certificate: %w", err)
	}
	return buf.Bytes(), nil
}

// IsPrivateKeyBlock reports whether a PEM block type carries a private key
// of any encoding.
func IsPrivateKeyBlock(blockType string) bool {
	return strings.HasSuffix(blockType, BlockPrivateKey)
}

// NextBlock returns the first block in data whose type satisfies match,
// skipping any others, together with the bytes following it.
func NextBlock(data []byte, match func(string) bool) (*pem.Block, []byte) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, rest
		}
		if match(block.Type) {
			return block, rest
		}
	}
}
