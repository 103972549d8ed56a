package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gtmills/ensuressl/internal/sslkey"
)

const pemPath = "/etc/ssl/certs/https/server.pem"

func newTestServer(t *testing.T) (*Server, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return newTestServerOn(t, fs), fs
}

func newTestServerOn(t *testing.T, fs afero.Fs, opts ...sslkey.LibraryOption) *Server {
	t.Helper()
	lib := sslkey.NewLibrary(append([]sslkey.LibraryOption{sslkey.WithFs(fs)}, opts...)...)
	srv, err := NewServer(sslkey.NewManager(lib, sslkey.Options{}), pemPath, "127.0.0.1:0")
	require.NoError(t, err)
	return srv
}

func getReport(t *testing.T, srv *Server, method, path string) *sslkey.Report {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var report sslkey.Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	return &report
}

func servedSerial(t *testing.T, srv *Server) string {
	t.Helper()
	cert, err := srv.getCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.SerialNumber.String()
}

func TestNewServerCreatesMissingFile(t *testing.T) {
	srv, fs := newTestServer(t)

	exists, err := afero.Exists(fs, pemPath)
	require.NoError(t, err)
	assert.True(t, exists)

	report := getReport(t, srv, "GET", "/api/v1/certificate")
	assert.True(t, report.Valid)
	assert.Equal(t, servedSerial(t, srv), report.Serial)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set(requestIDHeader, "fixed-id")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fixed-id", w.Header().Get(requestIDHeader))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRegenerateReloadsServedCertificate(t *testing.T) {
	srv, _ := newTestServer(t)
	before := servedSerial(t, srv)

	report := getReport(t, srv, "POST", "/api/v1/certificate/regenerate")
	assert.True(t, report.Valid)
	assert.NotEqual(t, before, report.Serial)
	assert.Equal(t, report.Serial, servedSerial(t, srv))
}

func TestRegenerateRequiresPost(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/certificate/regenerate", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServesEnsuredCertificateOverTLS(t *testing.T) {
	srv, _ := newTestServer(t)

	ts := httptest.NewUnstartedServer(srv.Handler())
	ts.TLS = srv.TLSConfig()
	ts.StartTLS()
	defer ts.Close()

	client := &http.Client{Transport: &http.Transport{
		// SNI makes the listener ask GetCertificate instead of using its
		// built-in test certificate.
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true, ServerName: "testhost"},
		DisableKeepAlives: true,
	}}

	resp, err := client.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.TLS.PeerCertificates)
	peer := resp.TLS.PeerCertificates[0]
	assert.Equal(t, "testhost", peer.Subject.CommonName)
	assert.Equal(t, servedSerial(t, srv), peer.SerialNumber.String())
}

// seedForeignPublicKey writes key a followed by a certificate signed by a but
// carrying b's public key.
func seedForeignPublicKey(t *testing.T, fs afero.Fs) []byte {
	t.Helper()
	a, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	b, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	name := sslkey.DefaultSubject().Name()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      name,
		Issuer:       name,
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &b.PublicKey, a)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(a)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, afero.WriteFile(fs, pemPath, buf.Bytes(), 0600))
	return buf.Bytes()
}

func TestNewServerRegeneratesUnservableFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	seeded := seedForeignPublicKey(t, fs)

	core, logs := observer.New(zapcore.DebugLevel)
	srv := newTestServerOn(t, fs, sslkey.WithLogger(zap.New(core).Sugar()))

	data, err := afero.ReadFile(fs, pemPath)
	require.NoError(t, err)
	assert.NotEqual(t, seeded, data)
	assert.NotEqual(t, "42", servedSerial(t, srv))
	assert.Equal(t, 1, logs.FilterMessage("Verified file cannot be served, regenerating").Len())

	report := getReport(t, srv, "GET", "/api/v1/certificate")
	assert.True(t, report.Valid)
}

// unreadableFs fails every Open of pemPath once broken is set. Writes go
// through a temp file and rename, so regeneration still succeeds.
type unreadableFs struct {
	afero.Fs
	broken atomic.Bool
}

func (u *unreadableFs) Open(name string) (afero.File, error) {
	if name == pemPath && u.broken.Load() {
		return nil, errors.New("read failure")
	}
	return u.Fs.Open(name)
}

func TestRegenerateReloadFailureKeepsServedCertificate(t *testing.T) {
	fs := &unreadableFs{Fs: afero.NewMemMapFs()}
	core, logs := observer.New(zapcore.DebugLevel)
	srv := newTestServerOn(t, fs, sslkey.WithLogger(zap.New(core).Sugar()))
	before := servedSerial(t, srv)
	fs.broken.Store(true)

	req := httptest.NewRequest("POST", "/api/v1/certificate/regenerate", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, before, servedSerial(t, srv))
	failures := logs.FilterMessage("Regenerated file could not be loaded, still serving the previous certificate")
	require.Equal(t, 1, failures.Len())
	assert.Equal(t, zapcore.ErrorLevel, failures.All()[0].Level)
}
