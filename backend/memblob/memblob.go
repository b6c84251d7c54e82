// Package memblob is an in-process implementation of backend.Store, used
// for unit tests and local development. It plays the role the teacher's
// FilesystemStorage plays for the content-tree domain: a zero-dependency
// stand-in with the same contract as the network-backed adapters.
//
// memblob is a list-versions backend: it keeps every version of a key in a
// slice, newest first, and derives "current" the same way backend/s3 does.
package memblob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/backend"
	"github.com/Lupando/Kalix.Leo/store"
)

const leaseDuration = time.Minute

type version struct {
	id       string
	modified int64
	etag     string
	metadata store.Metadata
	data     []byte
}

type lease struct {
	mu       sync.Mutex
	holder   string
	expiry   time.Time
	released bool
	cancel   context.CancelFunc
}

// Backend is an in-memory backend.Store.
type Backend struct {
	l *zap.Logger

	mu       sync.RWMutex
	versions map[string][]*version // key -> newest first
	leases   map[string]*lease
	clock    int64 // monotonic nanosecond counter, see nextTick

	containers map[string]struct{}
}

// New returns an empty in-memory backend.
func New(l *zap.Logger) *Backend {
	return &Backend{
		l:          l.Named("memblob"),
		versions:   map[string][]*version{},
		leases:     map[string]*lease{},
		clock:      time.Now().UnixNano(),
		containers: map[string]struct{}{},
	}
}

func keyOf(loc store.Location) string {
	return loc.Container + "\x00" + loc.BasePath
}

func (b *Backend) nextTick() int64 {
	// mu must already be held by the caller (write path always holds it).
	b.clock++
	return b.clock
}

// Name identifies this adapter for metrics labeling.
func (b *Backend) Name() string { return "memblob" }

func (b *Backend) CanCompress() bool { return true }

func (b *Backend) Close() error { return nil }

func (b *Backend) CreateContainerIfNotExists(_ context.Context, container string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.containers[container] = struct{}{}
	return nil
}

func (b *Backend) SaveData(_ context.Context, loc store.Location, metadata store.Metadata, _ backend.AuditInfo, write backend.WriteFunc) (store.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveLocked(loc, metadata, write)
}

func (b *Backend) TryOptimisticWrite(_ context.Context, loc store.Location, metadata store.Metadata, _ backend.AuditInfo, write backend.WriteFunc) (bool, store.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := keyOf(loc)
	existing := b.versions[key]
	etag, hasETag := metadata.ETag()

	switch {
	case !hasETag:
		if len(existing) > 0 {
			return false, nil, nil
		}
	case etag == "*":
		// unconditional
	default:
		if len(existing) == 0 || existing[0].etag != etag {
			return false, nil, nil
		}
	}

	result, err := b.saveLocked(loc, metadata, write)
	if err != nil {
		return false, nil, err
	}
	return true, result, nil
}

func (b *Backend) saveLocked(loc store.Location, metadata store.Metadata, write backend.WriteFunc) (store.Metadata, error) {
	var buf bytes.Buffer
	n, err := write(&buf)
	if err != nil {
		return nil, &backend.StorageError{Location: loc, Op: "SaveData", Cause: err}
	}

	m := metadata.Clone()
	if m == nil {
		m = store.NewMetadata()
	}
	delete(m, store.KeyETag)
	delete(m, store.KeySnapshot)
	m.SetContentLength(n)
	tick := b.nextTick()
	m.SetModified(tick)

	v := &version{
		id:       uuid.NewString(),
		modified: tick,
		etag:     uuid.NewString(),
		metadata: m,
		data:     buf.Bytes(),
	}
	m[store.KeySnapshot] = v.id
	m[store.KeyETag] = v.etag

	key := keyOf(loc)
	b.versions[key] = append([]*version{v}, b.versions[key]...)
	return m.Sanitize(), nil
}

func (b *Backend) SaveMetadata(_ context.Context, loc store.Location, metadata store.Metadata) (store.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := keyOf(loc)
	existing := b.versions[key]
	var priorData []byte
	if len(existing) > 0 {
		priorData = existing[0].data
	}

	m := metadata.Clone()
	if m == nil {
		m = store.NewMetadata()
	}
	delete(m, store.KeyETag)
	delete(m, store.KeySnapshot)
	m.SetContentLength(int64(len(priorData)))
	tick := b.nextTick()
	m.SetModified(tick)

	v := &version{
		id:       uuid.NewString(),
		modified: tick,
		etag:     uuid.NewString(),
		metadata: m,
		data:     priorData,
	}
	m[store.KeySnapshot] = v.id
	m[store.KeyETag] = v.etag

	b.versions[key] = append([]*version{v}, b.versions[key]...)
	return m.Sanitize(), nil
}

func (b *Backend) GetMetadata(_ context.Context, loc store.Location, snapshot string) (store.Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	versions := b.versions[keyOf(loc)]
	if len(versions) == 0 {
		return nil, nil
	}
	if snapshot == "" {
		return versions[0].metadata.Sanitize(), nil
	}
	for _, v := range versions {
		if v.id == snapshot {
			return v.metadata.Sanitize(), nil
		}
	}
	return nil, nil
}

func (b *Backend) LoadData(_ context.Context, loc store.Location, snapshot string) (*store.DataWithMetadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	versions := b.versions[keyOf(loc)]
	if len(versions) == 0 {
		return nil, nil
	}

	var v *version
	if snapshot == "" {
		if versions[0].metadata.IsSoftDeleted() {
			return nil, nil
		}
		v = versions[0]
	} else {
		for _, candidate := range versions {
			if candidate.id == snapshot {
				v = candidate
				break
			}
		}
		if v == nil {
			return nil, nil
		}
	}

	data := make([]byte, len(v.data))
	copy(data, v.data)
	return &store.DataWithMetadata{
		Data: io.NopCloser(bytes.NewReader(data)),
		// Unsanitized: SecureStore.LoadData needs InternalCompression to
		// decide whether to decompress before it does its own Sanitize.
		Metadata: v.metadata.Clone(),
	}, nil
}

func (b *Backend) SoftDelete(_ context.Context, loc store.Location) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := keyOf(loc)
	versions := b.versions[key]
	if len(versions) == 0 {
		return nil
	}

	m := versions[0].metadata.Clone()
	delete(m, store.KeyETag)
	delete(m, store.KeySnapshot)
	tick := b.nextTick()
	m.SetModified(tick)
	m.SetSoftDeleted(tick)
	m.SetContentLength(0)

	v := &version{
		id:       uuid.NewString(),
		modified: tick,
		etag:     uuid.NewString(),
		metadata: m,
		data:     nil,
	}
	m[store.KeySnapshot] = v.id
	m[store.KeyETag] = v.etag

	b.versions[key] = append([]*version{v}, versions...)
	return nil
}

func (b *Backend) PermanentDelete(_ context.Context, loc store.Location) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.versions, keyOf(loc))
	return nil
}

type snapshotIterator struct {
	versions []*version
	idx      int
}

func (it *snapshotIterator) Next(_ context.Context) (store.Snapshot, error) {
	if it.idx >= len(it.versions) {
		return store.Snapshot{}, io.EOF
	}
	v := it.versions[it.idx]
	it.idx++
	return store.Snapshot{ID: v.id, Modified: v.modified, Metadata: v.metadata.Sanitize()}, nil
}

func (b *Backend) FindSnapshots(_ context.Context, loc store.Location) (backend.SnapshotIterator, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	versions := b.versions[keyOf(loc)]
	cp := make([]*version, len(versions))
	copy(cp, versions)
	return &snapshotIterator{versions: cp}, nil
}

type fileIterator struct {
	entries []backend.FileEntry
	idx     int
}

func (it *fileIterator) Next(_ context.Context) (backend.FileEntry, error) {
	if it.idx >= len(it.entries) {
		return backend.FileEntry{}, io.EOF
	}
	e := it.entries[it.idx]
	it.idx++
	return e, nil
}

func (b *Backend) FindFiles(_ context.Context, container string, prefix string) (backend.FileIterator, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for k := range b.versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var entries []backend.FileEntry
	for _, k := range keys {
		versions := b.versions[k]
		if len(versions) == 0 {
			continue
		}
		loc := locationFromKey(k)
		if loc.Container != container {
			continue
		}
		if prefix != "" && !hasPrefix(loc.BasePath, prefix) {
			continue
		}
		entries = append(entries, backend.FileEntry{Location: loc, Metadata: versions[0].metadata.Sanitize()})
	}
	return &fileIterator{entries: entries}, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func locationFromKey(k string) store.Location {
	for i := 0; i < len(k); i++ {
		if k[i] == 0 {
			return store.Location{Container: k[:i], BasePath: k[i+1:]}
		}
	}
	return store.Location{}
}

func (b *Backend) Lock(ctx context.Context, loc store.Location) (backend.Lease, error) {
	key := keyOf(loc)
	b.mu.Lock()
	existing, ok := b.leases[key]
	if ok {
		existing.mu.Lock()
		held := !existing.released && time.Now().Before(existing.expiry)
		existing.mu.Unlock()
		if held {
			b.mu.Unlock()
			return nil, nil
		}
	}

	holder := uuid.NewString()
	renewCtx, cancel := context.WithCancel(context.Background())
	l := &lease{holder: holder, expiry: time.Now().Add(leaseDuration), cancel: cancel}
	b.leases[key] = l
	b.mu.Unlock()

	go b.renewLoop(renewCtx, key, l)

	return &memLease{backend: b, key: key, lease: l}, nil
}

func (b *Backend) renewLoop(ctx context.Context, key string, l *lease) {
	ticker := time.NewTicker(leaseDuration / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			if l.released {
				l.mu.Unlock()
				return
			}
			l.expiry = time.Now().Add(leaseDuration)
			l.mu.Unlock()
		}
	}
}

type memLease struct {
	backend *Backend
	key     string
	lease   *lease
}

func (ml *memLease) Release(_ context.Context) error {
	ml.lease.mu.Lock()
	if ml.lease.released {
		ml.lease.mu.Unlock()
		return nil
	}
	ml.lease.released = true
	ml.lease.cancel()
	ml.lease.mu.Unlock()

	ml.backend.mu.Lock()
	if cur, ok := ml.backend.leases[ml.key]; ok && cur == ml.lease {
		delete(ml.backend.leases, ml.key)
	}
	ml.backend.mu.Unlock()
	return nil
}
