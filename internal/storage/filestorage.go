package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	// FileMode is applied to every PEM file written; it holds a private key.
	FileMode os.FileMode = 0600
	// DirMode is used when parent directories have to be created.
	DirMode os.FileMode = 0755
)

// FileStorage reads and atomically replaces PEM files on an afero.Fs and
// remembers what it last wrote to each path.
type FileStorage struct {
	fs    afero.Fs
	mu    sync.RWMutex
	files map[string]*FileInfo
}

type FileInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Hash      string    `json:"sha256"`
	ModTime   time.Time `json:"mod_time"`
	WrittenAt time.Time `json:"written_at,omitempty"`
}

func NewFileStorage(fs afero.Fs) *FileStorage {
	return &FileStorage{
		fs:    fs,
		files: make(map[string]*FileInfo),
	}
}

// Fs exposes the underlying filesystem.
func (s *FileStorage) Fs() afero.Fs {
	return s.fs
}

// ReadFile returns the whole content of path.
func (s *FileStorage) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(s.fs, path)
}

// Stat hashes the file currently at path.
func (s *FileStorage) Stat(path string) (*FileInfo, error) {
	info, _, err := s.Snapshot(path)
	return info, err
}

// Snapshot reads path once and returns its content together with the
// FileInfo describing exactly those bytes.
func (s *FileStorage) Snapshot(path string) (*FileInfo, []byte, error) {
	st, err := s.fs.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, nil, err
	}
	sum := sha256.Sum256(data)

	info := &FileInfo{
		Path:    path,
		Size:    int64(len(data)),
		Hash:    hex.EncodeToString(sum[:]),
		ModTime: st.ModTime(),
	}

	s.mu.RLock()
	if last, ok := s.files[path]; ok && last.Hash == info.Hash {
		info.WrittenAt = last.WrittenAt
	}
	s.mu.RUnlock()

	return info, data, nil
}

// LastWrite returns what this storage last wrote to path, if anything.
func (s *FileStorage) LastWrite(path string) (*FileInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.files[path]
	return info, ok
}

// AtomicWriter writes to a temp file next to the destination and renames it
// into place on Close. Abort discards the temp file.
type AtomicWriter struct {
	file      afero.File
	hash      hash.Hash
	size      int64
	storage   *FileStorage
	tempPath  string
	finalPath string
	done      bool
}

func (s *FileStorage) CreateAtomicWriter(path string) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := s.fs.Chmod(file.Name(), FileMode); err != nil {
		file.Close()
		s.fs.Remove(file.Name())
		return nil, fmt.Errorf("failed to set file mode: %w", err)
	}

	return &AtomicWriter{
		file:      file,
		hash:      sha256.New(),
		storage:   s,
		tempPath:  file.Name(),
		finalPath: path,
	}, nil
}

func (w *AtomicWriter) Write(p []byte) (n int, err error) {
	n, err = w.file.Write(p)
	if err != nil {
		return n, err
	}

	w.hash.Write(p[:n])
	w.size += int64(n)
	return n, nil
}

// Close moves the temp file over the destination.
func (w *AtomicWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.file.Close(); err != nil {
		w.storage.fs.Remove(w.tempPath)
		return err
	}

	if err := w.storage.fs.Rename(w.tempPath, w.finalPath); err != nil {
		w.storage.fs.Remove(w.tempPath)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	now := time.Now()
	info := &FileInfo{
		Path:      w.finalPath,
		Size:      w.size,
		Hash:      hex.EncodeToString(w.hash.Sum(nil)),
		ModTime:   now,
		WrittenAt: now,
	}

	w.storage.mu.Lock()
	w.storage.files[w.finalPath] = info
	w.storage.mu.Unlock()

	return nil
}

// Abort removes the temp file and leaves the destination untouched.
func (w *AtomicWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()
	w.storage.fs.Remove(w.tempPath)
}

// WriteFile atomically replaces path with data.
func (s *FileStorage) WriteFile(path string, data []byte) (*FileInfo, error) {
	w, err := s.CreateAtomicWriter(path)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	info, _ := s.LastWrite(path)
	return info, nil
}
