package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// chunkSize is the plaintext size per sealed frame. Framing the stream
// lets StreamCipher encrypt/decrypt blobs of arbitrary length without
// holding the whole payload in memory.
const chunkSize = 4096

// StreamCipher is a chunked-AEAD Encryptor built on XChaCha20-Poly1305.
// Each chunk is sealed with a nonce derived from a random per-stream base
// nonce and a monotonically increasing chunk counter; the final chunk is
// sealed with "final" as associated data so a truncated ciphertext stream
// is rejected at Close/EOF rather than silently accepted as complete.
type StreamCipher struct {
	aead cipherAEAD
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// NewStreamCipher builds a StreamCipher from a raw 32-byte key. Key
// management is out of scope for Leo; callers supply a key they already
// manage.
func NewStreamCipher(key []byte) (*StreamCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key: %w", err)
	}
	return &StreamCipher{aead: aead}, nil
}

func deriveNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= ctr[i]
	}
	return nonce
}

func chunkAD(final bool) []byte {
	if final {
		return []byte("final")
	}
	return []byte("chunk")
}

type encryptWriter struct {
	sc      *StreamCipher
	w       io.WriteCloser
	baseNce []byte
	counter uint64
	buf     bytes.Buffer
}

func (sc *StreamCipher) Encrypt(w io.WriteCloser) (io.WriteCloser, error) {
	base := make([]byte, sc.aead.NonceSize())
	if _, err := rand.Read(base); err != nil {
		return nil, err
	}
	if _, err := w.Write(base); err != nil {
		return nil, err
	}
	return &encryptWriter{sc: sc, w: w, baseNce: base}, nil
}

func (ew *encryptWriter) Write(p []byte) (int, error) {
	total := len(p)
	ew.buf.Write(p)
	for ew.buf.Len() >= chunkSize {
		if err := ew.sealChunk(ew.buf.Next(chunkSize), false); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (ew *encryptWriter) sealChunk(plain []byte, final bool) error {
	nonce := deriveNonce(ew.baseNce, ew.counter)
	ew.counter++
	sealed := ew.sc.aead.Seal(nil, nonce, plain, chunkAD(final))

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(sealed)))
	if _, err := ew.w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := ew.w.Write(sealed)
	return err
}

func (ew *encryptWriter) Close() error {
	remaining := ew.buf.Bytes()
	if err := ew.sealChunk(remaining, true); err != nil {
		return err
	}
	return ew.w.Close()
}

type decryptReader struct {
	sc      *StreamCipher
	r       io.ReadCloser
	baseNce []byte
	counter uint64
	buf     bytes.Buffer
	done    bool
}

func (sc *StreamCipher) Decrypt(r io.ReadCloser) (io.ReadCloser, error) {
	base := make([]byte, sc.aead.NonceSize())
	if _, err := io.ReadFull(r, base); err != nil {
		return nil, fmt.Errorf("crypto: reading stream header: %w", err)
	}
	return &decryptReader{sc: sc, r: r, baseNce: base}, nil
}

func (dr *decryptReader) Read(p []byte) (int, error) {
	for dr.buf.Len() == 0 {
		if dr.done {
			return 0, io.EOF
		}
		if err := dr.readChunk(); err != nil {
			return 0, err
		}
	}
	return dr.buf.Read(p)
}

func (dr *decryptReader) readChunk() error {
	var lenPrefix [4]byte
	_, err := io.ReadFull(dr.r, lenPrefix[:])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("crypto: stream truncated before final chunk")
	}
	if err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lenPrefix[:])
	sealed := make([]byte, n)
	if _, err := io.ReadFull(dr.r, sealed); err != nil {
		return fmt.Errorf("crypto: reading chunk body: %w", err)
	}

	nonce := deriveNonce(dr.baseNce, dr.counter)
	dr.counter++

	plain, err := dr.sc.aead.Open(nil, nonce, sealed, chunkAD(false))
	if err != nil {
		// Retry as the final chunk; only the last frame uses "final" as AD.
		plain, err = dr.sc.aead.Open(nil, nonce, sealed, chunkAD(true))
		if err != nil {
			return fmt.Errorf("crypto: authentication failed: %w", err)
		}
		dr.done = true
	}
	dr.buf.Write(plain)
	return nil
}

func (dr *decryptReader) Close() error {
	return dr.r.Close()
}
