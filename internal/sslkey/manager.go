// Package sslkey keeps a PEM file holding a private key and a self-signed
// certificate valid, regenerating both when the pair on disk does not check
// out.
package sslkey

import (
	"crypto/x509/pkix"
	"time"
)

// DefaultValidity is ten 365-day years.
const DefaultValidity = 10 * 365 * 24 * time.Hour

// Subject is the identity written into generated certificates. The issuer
// is always the same name.
type Subject struct {
	Country      string `json:"country" yaml:"country"`
	Organization string `json:"organization" yaml:"organization"`
	CommonName   string `json:"common_name" yaml:"common_name"`
}

func DefaultSubject() Subject {
	return Subject{
		Country:      "US",
		Organization: "Intel BMC",
		CommonName:   "testhost",
	}
}

// Name converts the subject to an X.509 distinguished name.
func (s Subject) Name() pkix.Name {
	name := pkix.Name{CommonName: s.CommonName}
	if s.Country != "" {
		name.Country = []string{s.Country}
	}
	if s.Organization != "" {
		name.Organization = []string{s.Organization}
	}
	return name
}

type Options struct {
	Subject   Subject
	Algorithm KeyAlgorithm
	Validity  time.Duration
	// AcceptECKeys lets a consistent EC key pass validation. Off by default:
	// files holding EC keys are rejected and regenerated with RSA.
	AcceptECKeys bool
}

// Manager verifies, generates and ensures PEM files through a Library.
type Manager struct {
	lib  *Library
	opts Options
}

func NewManager(lib *Library, opts Options) *Manager {
	if opts.Subject == (Subject{}) {
		opts.Subject = DefaultSubject()
	}
	if opts.Algorithm == nil {
		opts.Algorithm = RSAAlgorithm{Bits: DefaultRSABits}
	}
	if opts.Validity <= 0 {
		opts.Validity = DefaultValidity
	}
	return &Manager{lib: lib, opts: opts}
}

func (m *Manager) Options() Options {
	return m.opts
}

func (m *Manager) Library() *Library {
	return m.lib
}
