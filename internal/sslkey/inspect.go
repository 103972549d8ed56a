package sslkey

import (
	"crypto/x509"
	"errors"
	"time"
)

// Report describes the content of a PEM file without changing it.
type Report struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	KeyType   KeyType   `json:"key_type,omitempty"`
	KeyBits   int       `json:"key_bits,omitempty"`
	KeyCheck  string    `json:"key_check,omitempty"`
	Serial    string    `json:"serial,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	NotBefore time.Time `json:"not_before,omitempty"`
	NotAfter  time.Time `json:"not_after,omitempty"`
	SigAlg    string    `json:"signature_algorithm,omitempty"`
	Valid     bool      `json:"valid"`
	Kind      string    `json:"failure_kind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Inspect reports what path holds. The file is read once, so the hash and the
// verdict always describe the same bytes. Only an unreadable file or a failed
// library initialization is returned as an error; every other problem is
// recorded in the report.
func (m *Manager) Inspect(path string) (*Report, error) {
	if err := m.lib.Acquire(); err != nil {
		return nil, err
	}
	defer m.lib.Release()

	info, data, err := m.lib.store.Snapshot(path)
	if err != nil {
		return nil, newError(KindFileAccess, path, err)
	}

	report := &Report{
		Path:   path,
		Size:   info.Size,
		SHA256: info.Hash,
	}

	if key, rest, err := decodeKey(data); err == nil {
		report.KeyType = key.Type()
		report.KeyBits = key.Bits()
		report.KeyCheck = "ok"
		if err := key.Check(); err != nil {
			report.KeyCheck = err.Error()
		}
		if cert, err := decodeCertificate(rest); err == nil {
			describeCertificate(report, cert)
		}
	}

	if err := m.verifyData(path, data); err != nil {
		report.Kind = KindOf(err).String()
		var e *Error
		if errors.As(err, &e) && e.Err != nil {
			report.Reason = e.Err.Error()
		} else {
			report.Reason = err.Error()
		}
		return report, nil
	}
	report.Valid = true
	return report, nil
}

func describeCertificate(r *Report, cert *x509.Certificate) {
	r.Serial = cert.SerialNumber.String()
	r.Subject = cert.Subject.String()
	r.Issuer = cert.Issuer.String()
	r.NotBefore = cert.NotBefore.UTC()
	r.NotAfter = cert.NotAfter.UTC()
	r.SigAlg = cert.SignatureAlgorithm.String()
}
