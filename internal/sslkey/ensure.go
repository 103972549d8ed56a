package sslkey

import "errors"

// EnsureKeyPresentAndValid leaves a valid file untouched and otherwise
// regenerates it. The returned error is non-nil only when regeneration
// failed or the library could not be initialized.
func (m *Manager) EnsureKeyPresentAndValid(path string) error {
	err := m.VerifyKeyCert(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInit) {
		return err
	}

	m.lib.log.Warnw("Error in verifying signature, regenerating", "path", path, "reason", err, "kind", KindOf(err).String())
	return m.GenerateCertificate(path)
}
