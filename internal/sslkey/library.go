package sslkey

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/gtmills/ensuressl/internal/storage"
)

// selfTestBytes is how much entropy Acquire reads before handing out the
// library for the first time.
const selfTestBytes = 32

// Library is the crypto context shared by validation and generation. It owns
// the entropy source, the clock and the PEM store. Callers pair every
// Acquire with a Release; the entropy self-test only runs when the
// reference count goes from zero to one.
type Library struct {
	mu    sync.Mutex
	refs  int
	rand  io.Reader
	now   func() time.Time
	log   *zap.SugaredLogger
	store *storage.FileStorage
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithRand replaces crypto/rand.Reader as the entropy source.
func WithRand(r io.Reader) LibraryOption {
	return func(l *Library) { l.rand = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LibraryOption {
	return func(l *Library) { l.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.SugaredLogger) LibraryOption {
	return func(l *Library) { l.log = log }
}

// WithFs sets the filesystem PEM files are read from and written to.
func WithFs(fs afero.Fs) LibraryOption {
	return func(l *Library) { l.store = storage.NewFileStorage(fs) }
}

func NewLibrary(opts ...LibraryOption) *Library {
	l := &Library{
		rand: rand.Reader,
		now:  time.Now,
		log:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = storage.NewFileStorage(afero.NewOsFs())
	}
	return l
}

// Acquire takes a reference on the library. The first reference checks that
// the entropy source is readable.
func (l *Library) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		buf := make([]byte, selfTestBytes)
		if _, err := io.ReadFull(l.rand, buf); err != nil {
			return newError(KindInit, "", fmt.Errorf("reading entropy source: %w", err))
		}
		l.log.Debug("Crypto library initialized")
	}
	l.refs++
	return nil
}

// Release drops a reference taken by Acquire.
func (l *Library) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		return
	}
	l.refs--
	if l.refs == 0 {
		l.log.Debug("Crypto library released")
	}
}

// Refs reports the number of outstanding references.
func (l *Library) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

// Logger returns the logger the library was built with.
func (l *Library) Logger() *zap.SugaredLogger {
	return l.log
}

// Storage returns the PEM store.
func (l *Library) Storage() *storage.FileStorage {
	return l.store
}
