package store

import "strconv"

// Reserved metadata keys. See spec §3.
const (
	KeyContentLength = "ContentLength"
	KeyModified      = "Modified"
	KeyContentType   = "ContentType"
	KeySnapshot      = "Snapshot"
	KeyETag          = "ETag"
	KeyLeoDeleted    = "LeoDeleted"
	KeyType          = "Type"
	KeyReindex       = "Reindex"

	// keyStoreVersion is adapter-private and must never leak through
	// GetMetadata/LoadData.
	keyStoreVersion = "StoreVersion"

	// keyCompression records which codec, if any, compressed the stored
	// bytes, so a later read knows whether to decompress. It is Leo's
	// own bookkeeping, not a backend concern, but it is stripped from
	// outbound metadata the same way keyStoreVersion is: compression is
	// an implementation detail of the write path, not user data.
	keyCompression = "LeoCompression"
)

// internalKeys are stripped from metadata crossing the outbound boundary
// (GetMetadata, LoadData, index events). ETag and Snapshot are backend-
// assigned but are not internal: callers need them to build the next
// optimistic write.
var internalKeys = map[string]struct{}{
	keyStoreVersion: {},
	keyCompression:  {},
}

// Metadata is a named bag of string attributes carried with every blob.
// The zero value (nil) can be read but not written: the Set* methods
// panic on it, so build writable values with NewMetadata.
type Metadata map[string]string

// NewMetadata returns an empty, non-nil Metadata.
func NewMetadata() Metadata {
	return Metadata{}
}

// Clone returns a defensive copy. SaveData/SaveMetadata must not let a
// caller's map alias internal state once it has been handed to a backend.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Sanitize returns a copy with internal-only keys stripped. Backend
// adapters apply it to the metadata GetMetadata, FindSnapshots and
// FindFiles return; LoadData's metadata comes back unsanitized from the
// adapters and SecureStore.LoadData sanitizes it after reading the
// compression marker.
func (m Metadata) Sanitize() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if _, internal := internalKeys[k]; internal {
			continue
		}
		out[k] = v
	}
	return out
}

func (m Metadata) ContentLength() (int64, bool) {
	v, ok := m[KeyContentLength]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func (m Metadata) SetContentLength(n int64) {
	m[KeyContentLength] = strconv.FormatInt(n, 10)
}

func (m Metadata) Modified() (int64, bool) {
	v, ok := m[KeyModified]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func (m Metadata) SetModified(ticks int64) {
	m[KeyModified] = strconv.FormatInt(ticks, 10)
}

func (m Metadata) ContentType() string {
	return m[KeyContentType]
}

func (m Metadata) SetContentType(v string) {
	if v == "" {
		return
	}
	m[KeyContentType] = v
}

func (m Metadata) Snapshot() string {
	return m[KeySnapshot]
}

func (m Metadata) ETag() (string, bool) {
	v, ok := m[KeyETag]
	return v, ok
}

// IsSoftDeleted reports whether LeoDeleted is present.
func (m Metadata) IsSoftDeleted() bool {
	_, ok := m[KeyLeoDeleted]
	return ok
}

// SetSoftDeleted records the tick at which the soft-delete occurred.
func (m Metadata) SetSoftDeleted(ticks int64) {
	m[KeyLeoDeleted] = strconv.FormatInt(ticks, 10)
}

func (m Metadata) Type() string {
	return m[KeyType]
}

func (m Metadata) IsReindex() bool {
	return m[KeyReindex] == "true"
}

func (m Metadata) SetReindex(v bool) {
	if v {
		m[KeyReindex] = "true"
	} else {
		delete(m, KeyReindex)
	}
}

// storeVersion/setStoreVersion are adapter-private; exported only to
// sibling packages under backend via the internal marker key, never to
// callers.
func (m Metadata) storeVersion() string {
	return m[keyStoreVersion]
}

func (m Metadata) setStoreVersion(v string) {
	m[keyStoreVersion] = v
}

// SetInternalStoreVersion is used by backend implementations to stamp
// their private version marker. It is exported (backend is a sibling
// package, not store) but the key it writes is stripped by Sanitize.
func (m Metadata) SetInternalStoreVersion(v string) {
	m.setStoreVersion(v)
}

// InternalStoreVersion reads the adapter-private marker back, for
// implementations that want to branch on it internally.
func (m Metadata) InternalStoreVersion() string {
	return m.storeVersion()
}

// SetInternalCompression and InternalCompression record/read which codec
// compressed the stored bytes, if any. Used by securestore to decide
// whether LoadData needs to run the data back through a Compressor; never
// exposed past Sanitize.
func (m Metadata) SetInternalCompression(codec string) {
	if codec == "" {
		delete(m, keyCompression)
		return
	}
	m[keyCompression] = codec
}

func (m Metadata) InternalCompression() string {
	return m[keyCompression]
}
