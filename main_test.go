package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadImagePlain(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 10, 26, 0, 0, 0}

	path := filepath.Join(t.TempDir(), "plain.bc")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	block, err := readImage(path)
	require.NoError(t, err)
	assert.Equal(t, raw, block)
}

func TestReadImageZstd(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 5, 42, 0, 0, 0, 26}

	encoder, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := encoder.EncodeAll(raw, nil)
	require.NoError(t, encoder.Close())

	path := filepath.Join(t.TempDir(), "compressed.bc")
	require.NoError(t, os.WriteFile(path, compressed, 0o644))

	block, err := readImage(path)
	require.NoError(t, err)
	assert.Equal(t, raw, block)
}

func TestReadImageMissing(t *testing.T) {
	_, err := readImage(filepath.Join(t.TempDir(), "absent.bc"))
	require.Error(t, err)
}
