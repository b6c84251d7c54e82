package crypto

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZstdCompressor_RoundTrip(t *testing.T) {
	c := NewZstdCompressor(0)

	var out bytes.Buffer
	w, err := c.Compress(nopWriteCloser{&out})
	require.NoError(t, err)
	payload := strings.Repeat("leo object storage ", 1000)
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Less(t, out.Len(), len(payload))

	r, err := c.Decompress(io.NopCloser(bytes.NewReader(out.Bytes())))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, payload, string(got))
}
