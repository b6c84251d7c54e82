// Package crypto implements the streaming transforms the Secure Store
// inserts between caller bytes and the backend adapter: optional
// compression and optional authenticated encryption. Key management and
// the concrete cipher selection are the caller's concern (spec §1); this
// package supplies one concrete, in-scope implementation of each.
package crypto

import "io"

// Encryptor wraps the write and read sides of a blob with a streaming
// authenticated transform. May be absent on SecureStore; when absent,
// bytes pass through unchanged.
type Encryptor interface {
	// Encrypt returns a WriteCloser that encrypts everything written to
	// it and forwards ciphertext to w. Closing it flushes the final
	// authentication tag and closes w.
	Encrypt(w io.WriteCloser) (io.WriteCloser, error)

	// Decrypt returns a ReadCloser that decrypts everything read from r.
	Decrypt(r io.ReadCloser) (io.ReadCloser, error)
}

// Compressor wraps the write and read sides of a blob with a streaming
// compression transform. SecureStore only applies it when the backend
// advertises CanCompress and the caller requested it.
type Compressor interface {
	Compress(w io.WriteCloser) (io.WriteCloser, error)
	Decompress(r io.ReadCloser) (io.ReadCloser, error)
}
