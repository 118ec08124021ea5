package pipeline

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-nexus-rag/pkg/apperr"
)

func TestHasherSHA256(t *testing.T) {
	h, err := NewHasher("sha256")
	require.NoError(t, err)

	sum, err := h.Sum(bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
	assert.Equal(t, sum, h.SumBytes([]byte("abc")))
}

func TestHasherBlake2b(t *testing.T) {
	h, err := NewHasher("blake2b")
	require.NoError(t, err)

	a := h.SumBytes([]byte("bylaws v1"))
	b := h.SumBytes([]byte("bylaws v2"))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, h.SumBytes([]byte("bylaws v1")))
}

func TestHasherUnknownAlgorithm(t *testing.T) {
	_, err := NewHasher("md5")
	assert.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestHasherReadErrorIsExtraction(t *testing.T) {
	h, err := NewHasher("")
	require.NoError(t, err)

	_, err = h.Sum(failingReader{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExtraction, apperr.KindOf(err))
}
