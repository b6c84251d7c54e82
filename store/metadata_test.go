package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_Sanitize_StripsInternalKeys(t *testing.T) {
	m := NewMetadata()
	m.SetContentLength(1024)
	m.SetInternalStoreVersion("2.0")

	out := m.Sanitize()
	assert.Equal(t, "1024", out[KeyContentLength])
	_, hasVersion := out[keyStoreVersion]
	assert.False(t, hasVersion)
}

func TestMetadata_Clone_IsIndependent(t *testing.T) {
	m := NewMetadata()
	m["k"] = "v"
	c := m.Clone()
	c["k"] = "changed"
	assert.Equal(t, "v", m["k"])
}

func TestMetadata_ContentLengthRoundTrip(t *testing.T) {
	m := NewMetadata()
	m.SetContentLength(7340032)
	n, ok := m.ContentLength()
	require.True(t, ok)
	assert.Equal(t, int64(7340032), n)
}

func TestMetadata_SoftDeleted(t *testing.T) {
	m := NewMetadata()
	assert.False(t, m.IsSoftDeleted())
	m.SetSoftDeleted(1234)
	assert.True(t, m.IsSoftDeleted())
	assert.Equal(t, "1234", m[KeyLeoDeleted])
}

func TestMetadata_Reindex(t *testing.T) {
	m := NewMetadata()
	assert.False(t, m.IsReindex())
	m.SetReindex(true)
	assert.True(t, m.IsReindex())
	m.SetReindex(false)
	assert.False(t, m.IsReindex())
	_, ok := m[KeyReindex]
	assert.False(t, ok)
}

func TestLocation_String(t *testing.T) {
	l := NewLocation("kalixtest", "tests/A.dat")
	assert.Equal(t, "kalixtest:tests/A.dat", l.String())
}
