package partition

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/backend"
	"github.com/Lupando/Kalix.Leo/backend/memblob"
	"github.com/Lupando/Kalix.Leo/crypto"
	"github.com/Lupando/Kalix.Leo/securestore"
	"github.com/Lupando/Kalix.Leo/store"
)

func factoryOver(b backend.Store) StoreFactory {
	return func(enc crypto.Encryptor) *securestore.SecureStore {
		if enc == nil {
			return securestore.New(zap.NewNop(), b)
		}
		return securestore.New(zap.NewNop(), b, securestore.WithEncryptor(enc))
	}
}

func TestDocumentPartition_SaveAndGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := memblob.New(zap.NewNop())
	p := NewDocumentPartition(zap.NewNop(), "kalixtest", ItemConfiguration{BasePath: "docs"}, nil, factoryOver(b))

	_, err := p.Save(ctx, "a/doc1.json", store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte(`{"x":1}`)))
	require.NoError(t, err)

	dw, err := p.Get(ctx, "a/doc1.json", "")
	require.NoError(t, err)
	got, err := io.ReadAll(dw.Data)
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(got))
}

func TestDocumentPartition_EncryptorResolvedOnce(t *testing.T) {
	ctx := context.Background()
	b := memblob.New(zap.NewNop())
	calls := 0
	resolver := func() (crypto.Encryptor, error) {
		calls++
		return crypto.NewStreamCipher(bytes.Repeat([]byte{0x11}, 32))
	}
	p := NewDocumentPartition(zap.NewNop(), "kalixtest", ItemConfiguration{BasePath: "docs"}, resolver, factoryOver(b))

	_, err := p.Save(ctx, "one", store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	_, err = p.Save(ctx, "two", store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte("y")))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestDocumentPartition_Save_DefaultsContentTypeFromExtension(t *testing.T) {
	ctx := context.Background()
	b := memblob.New(zap.NewNop())
	p := NewDocumentPartition(zap.NewNop(), "kalixtest", ItemConfiguration{BasePath: "docs"}, nil, factoryOver(b))

	result, err := p.Save(ctx, "a/doc1.json", store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, "application/json", result.ContentType())
}

func TestDocumentPartition_Save_KeepsExplicitContentType(t *testing.T) {
	ctx := context.Background()
	b := memblob.New(zap.NewNop())
	p := NewDocumentPartition(zap.NewNop(), "kalixtest", ItemConfiguration{BasePath: "docs"}, nil, factoryOver(b))

	m := store.NewMetadata()
	m.SetContentType("application/custom")
	result, err := p.Save(ctx, "a/doc1.json", m, backend.AuditInfo{}, bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, "application/custom", result.ContentType())
}

func TestObjectPartition_ZeroPaddedIDs_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := memblob.New(zap.NewNop())
	p := NewObjectPartition(zap.NewNop(), "kalixtest", ItemConfiguration{BasePath: "objs"}, 0, nil, factoryOver(b))

	_, err := p.Save(ctx, 42, store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte("obj42")))
	require.NoError(t, err)

	assert.Equal(t, "objs/0000000000000000042", p.location(42).BasePath)

	dw, err := p.Get(ctx, 42, "")
	require.NoError(t, err)
	got, err := io.ReadAll(dw.Data)
	require.NoError(t, err)
	assert.Equal(t, "obj42", string(got))
}
