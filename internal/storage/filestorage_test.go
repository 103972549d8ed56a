package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileCreatesDirectoriesAndHashes(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStorage(fs)

	info, err := s.WriteFile("/var/lib/ssl/server.pem", []byte("hello"))
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(sum[:]), info.Hash)
	assert.Equal(t, int64(5), info.Size)

	data, err := s.ReadFile("/var/lib/ssl/server.pem")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	st, err := fs.Stat("/var/lib/ssl/server.pem")
	require.NoError(t, err)
	assert.Equal(t, FileMode, st.Mode().Perm())

	stat, err := s.Stat("/var/lib/ssl/server.pem")
	require.NoError(t, err)
	assert.Equal(t, info.Hash, stat.Hash)
	assert.False(t, stat.WrittenAt.IsZero())
}

func TestWriteFileReplacesContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStorage(fs)

	_, err := s.WriteFile("/ssl/server.pem", []byte("first"))
	require.NoError(t, err)
	_, err = s.WriteFile("/ssl/server.pem", []byte("second"))
	require.NoError(t, err)

	data, err := s.ReadFile("/ssl/server.pem")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := afero.ReadDir(fs, "/ssl")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestAbortKeepsDestination(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStorage(fs)
	require.NoError(t, afero.WriteFile(fs, "/ssl/server.pem", []byte("keep"), 0600))

	w, err := s.CreateAtomicWriter("/ssl/server.pem")
	require.NoError(t, err)
	_, err = w.Write([]byte("discard"))
	require.NoError(t, err)
	w.Abort()
	require.NoError(t, w.Close())

	data, err := s.ReadFile("/ssl/server.pem")
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	_, ok := s.LastWrite("/ssl/server.pem")
	assert.False(t, ok)

	entries, err := afero.ReadDir(fs, "/ssl")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStatMissingFile(t *testing.T) {
	s := NewFileStorage(afero.NewMemMapFs())
	_, err := s.Stat("/nope.pem")
	assert.Error(t, err)
}

func TestNextBlockSkipsUnmatched(t *testing.T) {
	data := append(pem.EncodeToMemory(&pem.Block{Type: "DH PARAMETERS", Bytes: []byte{1}}),
		pem.EncodeToMemory(&pem.Block{Type: BlockRSAPrivateKey, Bytes: []byte{2}})...)
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: BlockCertificate, Bytes: []byte{3}})...)

	block, rest := NextBlock(data, IsPrivateKeyBlock)
	require.NotNil(t, block)
	assert.Equal(t, BlockRSAPrivateKey, block.Type)

	block, _ = NextBlock(rest, func(t string) bool { return t == BlockCertificate })
	require.NotNil(t, block)
	assert.Equal(t, []byte{3}, block.Bytes)

	block, _ = NextBlock([]byte("no pem here"), IsPrivateKeyBlock)
	assert.Nil(t, block)
}

func TestIsPrivateKeyBlock(t *testing.T) {
	assert.True(t, IsPrivateKeyBlock(BlockPrivateKey))
	assert.True(t, IsPrivateKeyBlock(BlockECPrivateKey))
	assert.True(t, IsPrivateKeyBlock(BlockEncryptedPrivateKey))
	assert.False(t, IsPrivateKeyBlock(BlockCertificate))
	assert.False(t, IsPrivateKeyBlock("PUBLIC KEY"))
}

func TestSnapshotDescribesReturnedBytes(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStorage(fs)
	require.NoError(t, afero.WriteFile(fs, "/ssl/server.pem", []byte("snapshot"), 0600))

	info, data, err := s.Snapshot("/ssl/server.pem")
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, "snapshot", string(data))
	assert.Equal(t, hex.EncodeToString(sum[:]), info.Hash)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.True(t, info.WrittenAt.IsZero())
}
