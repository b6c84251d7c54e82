// Package partition provides thin façades mapping application-level
// (partitionId, path) or (partitionId, id) pairs onto store.Location and
// relaying every call to a securestore.SecureStore.
package partition

import (
	"path"
	"sync"

	"github.com/Lupando/Kalix.Leo/crypto"
	"github.com/Lupando/Kalix.Leo/securestore"
	"github.com/Lupando/Kalix.Leo/store"
)

// ItemConfiguration carries the per-partition retention and encoding
// defaults applied to every item the façade writes.
type ItemConfiguration struct {
	BasePath    string
	KeepDeletes bool
	Compress    bool
}

func (c ItemConfiguration) options() securestore.SecureStoreOptions {
	opts := securestore.None
	if c.KeepDeletes {
		opts |= securestore.KeepDeletes
	}
	if c.Compress {
		opts |= securestore.Compress
	}
	return opts
}

// EncryptorResolver builds the crypto.Encryptor a partition should use.
// It runs at most once per partition instance (e.g. a key-management
// lookup); a nil return is a valid "no encryption" outcome.
type EncryptorResolver func() (crypto.Encryptor, error)

// StoreFactory builds the SecureStore a partition delegates to, given the
// encryptor EncryptorResolver resolved. Most callers share one backend
// across partitions and vary only the encryptor, which is why this is a
// factory rather than a fixed *securestore.SecureStore.
type StoreFactory func(encryptor crypto.Encryptor) *securestore.SecureStore

// lazyStore resolves its encryptor and builds its SecureStore exactly
// once, on first use, per the "lazy IEncryptor" contract.
type lazyStore struct {
	resolve EncryptorResolver
	build   StoreFactory

	once  sync.Once
	store *securestore.SecureStore
	err   error
}

func (l *lazyStore) get() (*securestore.SecureStore, error) {
	l.once.Do(func() {
		var enc crypto.Encryptor
		if l.resolve != nil {
			enc, l.err = l.resolve()
			if l.err != nil {
				return
			}
		}
		l.store = l.build(enc)
	})
	return l.store, l.err
}

func joinBasePath(base, rel string) string {
	if base == "" {
		return rel
	}
	return path.Join(base, rel)
}

// withDefaultContentType fills in ContentType from loc's extension when
// the caller didn't set one explicitly, per SPEC_FULL.md's partition Save
// contract. metadata may be nil.
func withDefaultContentType(metadata store.Metadata, loc store.Location) store.Metadata {
	if metadata != nil && metadata.ContentType() != "" {
		return metadata
	}
	m := metadata.Clone()
	if m == nil {
		m = store.NewMetadata()
	}
	m.SetContentType(store.ContentTypeFromExtension(loc.BasePath))
	return m
}
