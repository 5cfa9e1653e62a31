package transfer

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshmcp-project/sshmcp/pkg/config"
)

func newTestManager(algo config.HashAlgorithm) *Manager {
	settings := config.Default()
	settings.HashAlgorithm = algo
	return NewManager(settings, nil)
}

func TestNewDigests(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		assert.Nil(t, newTestManager(config.HashMD5).newDigests(false))
	})

	t.Run("md5", func(t *testing.T) {
		d := newTestManager(config.HashMD5).newDigests(true)
		require.NotNil(t, d)
		assert.NotNil(t, d.md5h)
		assert.Nil(t, d.sha256h)
	})

	t.Run("sha256", func(t *testing.T) {
		d := newTestManager(config.HashSHA256).newDigests(true)
		assert.Nil(t, d.md5h)
		assert.NotNil(t, d.sha256h)
	})

	t.Run("both", func(t *testing.T) {
		d := newTestManager(config.HashBoth).newDigests(true)
		assert.NotNil(t, d.md5h)
		assert.NotNil(t, d.sha256h)
	})
}

func TestCopyChunksHashesAndCounts(t *testing.T) {
	payload := []byte(strings.Repeat("transfer payload ", 1000))
	d := newTestManager(config.HashBoth).newDigests(true)

	var dst bytes.Buffer
	var transferred int64
	var lastProgress int64
	err := copyChunks(&dst, bytes.NewReader(payload), 256, d,
		int64(len(payload)), &transferred,
		func(done, total int64) { lastProgress = done })
	require.NoError(t, err)

	assert.Equal(t, payload, dst.Bytes())
	assert.Equal(t, int64(len(payload)), transferred)
	assert.Equal(t, transferred, lastProgress)

	wantMD5 := md5.Sum(payload)
	wantSHA := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(wantMD5[:]), hex.EncodeToString(d.md5h.Sum(nil)))
	assert.Equal(t, hex.EncodeToString(wantSHA[:]), hex.EncodeToString(d.sha256h.Sum(nil)))
}

func TestCopyChunksWithoutDigests(t *testing.T) {
	payload := []byte("small")

	var dst bytes.Buffer
	var transferred int64
	err := copyChunks(&dst, bytes.NewReader(payload), 2, nil,
		int64(len(payload)), &transferred, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, dst.Bytes())
	assert.Equal(t, int64(len(payload)), transferred)
}

func TestChunkSizeFallback(t *testing.T) {
	m := newTestManager(config.HashMD5)

	assert.Equal(t, 1024, m.chunkSize(1024))
	assert.Equal(t, m.settings.DefaultChunkSize, m.chunkSize(0))

	m.settings.DefaultChunkSize = 0
	assert.Equal(t, 8192, m.chunkSize(0))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "'/var/log/app.log'", shellQuote("/var/log/app.log"))
	assert.Equal(t, `'a'\''b'`, shellQuote("a'b"))
}
