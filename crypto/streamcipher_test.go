package crypto

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestStreamCipher_RoundTrip_SmallPayload(t *testing.T) {
	sc, err := NewStreamCipher(newKey(t))
	require.NoError(t, err)

	var out bytes.Buffer
	w, err := sc.Encrypt(nopWriteCloser{&out})
	require.NoError(t, err)
	_, err = w.Write([]byte("hello leo"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := sc.Decrypt(io.NopCloser(bytes.NewReader(out.Bytes())))
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello leo", string(plain))
}

func TestStreamCipher_RoundTrip_MultiChunkPayload(t *testing.T) {
	sc, err := NewStreamCipher(newKey(t))
	require.NoError(t, err)

	payload := make([]byte, chunkSize*3+17)
	_, err = rand.Read(payload)
	require.NoError(t, err)

	var out bytes.Buffer
	w, err := sc.Encrypt(nopWriteCloser{&out})
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := sc.Decrypt(io.NopCloser(bytes.NewReader(out.Bytes())))
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, plain))
}

func TestStreamCipher_TamperedCiphertext_FailsAuthentication(t *testing.T) {
	sc, err := NewStreamCipher(newKey(t))
	require.NoError(t, err)

	var out bytes.Buffer
	w, err := sc.Encrypt(nopWriteCloser{&out})
	require.NoError(t, err)
	_, err = w.Write([]byte("do not tamper"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	tampered := out.Bytes()
	tampered[len(tampered)-1] ^= 0xFF

	r, err := sc.Decrypt(io.NopCloser(bytes.NewReader(tampered)))
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.Error(t, err)
}

func TestStreamCipher_DifferentKeys_ProduceDifferentCiphertext(t *testing.T) {
	sc1, err := NewStreamCipher(newKey(t))
	require.NoError(t, err)
	sc2, err := NewStreamCipher(newKey(t))
	require.NoError(t, err)

	var out1, out2 bytes.Buffer
	w1, err := sc1.Encrypt(nopWriteCloser{&out1})
	require.NoError(t, err)
	_, _ = w1.Write([]byte("same plaintext"))
	require.NoError(t, w1.Close())

	w2, err := sc2.Encrypt(nopWriteCloser{&out2})
	require.NoError(t, err)
	_, _ = w2.Write([]byte("same plaintext"))
	require.NoError(t, w2.Close())

	assert.False(t, bytes.Equal(out1.Bytes(), out2.Bytes()))
}
