package securestore

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
	"github.com/Lupando/Kalix.Leo/store"
)

func newTestKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSecureStore_SaveAndLoad_PlainRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := memblob.New(zap.NewNop())
	s := New(zap.NewNop(), b)
	loc := store.NewLocation("kalixtest", "tests/A.dat")

	m := store.NewMetadata()
	m["metadata1"] = "somemetadata"
	payload := bytes.Repeat([]byte("A"), 1024)

	result, err := s.SaveData(ctx, loc, m, backend.AuditInfo{Actor: "tester"}, bytes.NewReader(payload), None)
	require.NoError(t, err)
	n, ok := result.ContentLength()
	require.True(t, ok)
	assert.Equal(t, int64(1024), n)

	got, err := s.GetMetadata(ctx, loc, "")
	require.NoError(t, err)
	assert.Equal(t, "somemetadata", got["metadata1"])
	_, hasInternal := got["LeoCompression"]
	assert.False(t, hasInternal, "internal compression marker must not leak")

	dw, err := s.LoadData(ctx, loc, "")
	require.NoError(t, err)
	data, err := io.ReadAll(dw.Data)
	require.NoError(t, err)
	require.NoError(t, dw.Close())
	assert.Equal(t, payload, data)
}

func TestSecureStore_SaveAndLoad_EncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := memblob.New(zap.NewNop())
	sc, err := crypto.NewStreamCipher(newTestKey())
	require.NoError(t, err)
	s := New(zap.NewNop(), b, WithEncryptor(sc))
	loc := store.NewLocation("kalixtest", "tests/B.dat")

	payload := []byte("top secret leo payload")
	_, err = s.SaveData(ctx, loc, store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader(payload), None)
	require.NoError(t, err)

	dw, err := s.LoadData(ctx, loc, "")
	require.NoError(t, err)
	got, err := io.ReadAll(dw.Data)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSecureStore_SaveAndLoad_CompressedRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := memblob.New(zap.NewNop())
	s := New(zap.NewNop(), b, WithCompression(crypto.NewZstdCompressor(0)))
	loc := store.NewLocation("kalixtest", "tests/C.dat")

	payload := bytes.Repeat([]byte("leo object storage "), 2000)
	_, err := s.SaveData(ctx, loc, store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader(payload), Compress)
	require.NoError(t, err)

	dw, err := s.LoadData(ctx, loc, "")
	require.NoError(t, err)
	got, err := io.ReadAll(dw.Data)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSecureStore_TryOptimisticWrite_CreateOnlyThenConflict(t *testing.T) {
	ctx := context.Background()
	s := New(zap.NewNop(), memblob.New(zap.NewNop()))
	loc := store.NewLocation("kalixtest", "tests/D.dat")

	ok, _, err := s.TryOptimisticWrite(ctx, loc, store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte("first")), None)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = s.TryOptimisticWrite(ctx, loc, store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte("second")), None)
	require.NoError(t, err)
	assert.False(t, ok)

	dw, err := s.LoadData(ctx, loc, "")
	require.NoError(t, err)
	got, _ := io.ReadAll(dw.Data)
	assert.Equal(t, "first", string(got))
}

func TestSecureStore_OverwriteDoesNotMergeMetadata(t *testing.T) {
	ctx := context.Background()
	s := New(zap.NewNop(), memblob.New(zap.NewNop()))
	loc := store.NewLocation("kalixtest", "tests/E.dat")

	m1 := store.NewMetadata()
	m1["metadata1"] = "x"
	_, err := s.SaveData(ctx, loc, m1, backend.AuditInfo{}, bytes.NewReader([]byte("a")), None)
	require.NoError(t, err)

	m2 := store.NewMetadata()
	m2["metadata2"] = "y"
	_, err = s.SaveData(ctx, loc, m2, backend.AuditInfo{}, bytes.NewReader([]byte("b")), None)
	require.NoError(t, err)

	got, err := s.GetMetadata(ctx, loc, "")
	require.NoError(t, err)
	assert.Equal(t, "y", got["metadata2"])
	_, hasOld := got["metadata1"]
	assert.False(t, hasOld)
}

func TestSecureStore_SoftDelete_HidesCurrentKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New(zap.NewNop(), memblob.New(zap.NewNop()))
	loc := store.NewLocation("kalixtest", "tests/F.dat")

	result, err := s.SaveData(ctx, loc, store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte("keep me")), None)
	require.NoError(t, err)
	snapshot := result.Snapshot()
	require.NotEmpty(t, snapshot)

	require.NoError(t, s.Delete(ctx, loc, KeepDeletes))

	dw, err := s.LoadData(ctx, loc, "")
	require.NoError(t, err)
	assert.Nil(t, dw)

	dw, err = s.LoadData(ctx, loc, snapshot)
	require.NoError(t, err)
	require.NotNil(t, dw)
	got, _ := io.ReadAll(dw.Data)
	assert.Equal(t, "keep me", string(got))
}

func TestSecureStore_Delete_WithoutKeepDeletes_IsPermanent(t *testing.T) {
	ctx := context.Background()
	s := New(zap.NewNop(), memblob.New(zap.NewNop()))
	loc := store.NewLocation("kalixtest", "tests/G.dat")

	result, err := s.SaveData(ctx, loc, store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte("gone")), None)
	require.NoError(t, err)
	snapshot := result.Snapshot()

	require.NoError(t, s.Delete(ctx, loc, None))

	dw, err := s.LoadData(ctx, loc, snapshot)
	require.NoError(t, err)
	assert.Nil(t, dw)
}

func TestSecureStore_MustLock_ReturnsLockConflictWhenHeld(t *testing.T) {
	ctx := context.Background()
	s := New(zap.NewNop(), memblob.New(zap.NewNop()))
	loc := store.NewLocation("kalixtest", "tests/lock")

	lease, err := s.MustLock(ctx, loc)
	require.NoError(t, err)
	require.NotNil(t, lease)

	_, err = s.MustLock(ctx, loc)
	require.Error(t, err)
	var conflict *backend.LockConflict
	assert.ErrorAs(t, err, &conflict)

	require.NoError(t, lease.Release(ctx))
	lease2, err := s.MustLock(ctx, loc)
	require.NoError(t, err)
	require.NotNil(t, lease2)
	require.NoError(t, lease2.Release(ctx))
}

func TestSecureStore_ReIndexAll_MarksReindexAndSkipsSoftDeleted(t *testing.T) {
	ctx := context.Background()
	b := memblob.New(zap.NewNop())
	q := newRecordingQueue()
	s := New(zap.NewNop(), b, WithIndexQueue(q))

	liveLoc := store.NewLocation("kalixtest", "tests/live.dat")
	deadLoc := store.NewLocation("kalixtest", "tests/dead.dat")

	_, err := s.SaveData(ctx, liveLoc, store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte("x")), None)
	require.NoError(t, err)
	_, err = s.SaveData(ctx, deadLoc, store.NewMetadata(), backend.AuditInfo{}, bytes.NewReader([]byte("y")), None)
	require.NoError(t, err)
	require.NoError(t, s.SoftDelete(ctx, deadLoc))

	q.reset()
	require.NoError(t, s.ReIndexAll(ctx, "kalixtest", "tests", None))

	assert.Len(t, q.sent, 1)
	assert.Equal(t, "tests/live.dat", q.sent[0].BasePath)
	assert.True(t, q.sent[0].Reindex)
	assert.Equal(t, "true", q.sent[0].Metadata[store.KeyReindex])
}
