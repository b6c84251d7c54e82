package crypto

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor is the concrete Compressor used when a backend advertises
// CanCompress and the caller opts in via SecureStoreOptions.Compress.
type ZstdCompressor struct {
	level zstd.EncoderLevel
}

// NewZstdCompressor builds a compressor at the given level. A zero value
// defaults to zstd.SpeedDefault.
func NewZstdCompressor(level zstd.EncoderLevel) *ZstdCompressor {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return &ZstdCompressor{level: level}
}

type zstdWriteCloser struct {
	enc *zstd.Encoder
	w   io.WriteCloser
}

func (z *ZstdCompressor) Compress(w io.WriteCloser) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return nil, err
	}
	return &zstdWriteCloser{enc: enc, w: w}, nil
}

func (z *zstdWriteCloser) Write(p []byte) (int, error) {
	return z.enc.Write(p)
}

func (z *zstdWriteCloser) Close() error {
	if err := z.enc.Close(); err != nil {
		return err
	}
	return z.w.Close()
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	r   io.ReadCloser
}

func (z *ZstdCompressor) Decompress(r io.ReadCloser) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &zstdReadCloser{dec: dec, r: r}, nil
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.r.Close()
}
