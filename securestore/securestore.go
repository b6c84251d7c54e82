// Package securestore implements the engine façade: the encrypt/compress
// write pipeline in front of a backend.Store, plus index/backup event
// emission. It is the one type callers (partition façades, cmd/reindex)
// talk to; nothing above it ever touches a backend.Store directly.
package securestore

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/backend"
	"github.com/Lupando/Kalix.Leo/crypto"
	"github.com/Lupando/Kalix.Leo/metrics"
	"github.com/Lupando/Kalix.Leo/queue"
	"github.com/Lupando/Kalix.Leo/store"
)

const zstdCodec = "zstd"

// Stats holds in-process operation counters, read via SecureStore.Stats.
type Stats struct {
	Writes           int64
	Reads            int64
	SoftDeletes      int64
	PermanentDeletes int64
	LockAcquired     int64
	LockConflicts    int64
}

// SecureStore is the engine façade of spec §4.2.
type SecureStore struct {
	l          *zap.Logger
	backend    backend.Store
	encryptor  crypto.Encryptor
	compressor crypto.Compressor

	indexQueue  queue.Queue
	backupQueue queue.Queue

	stats Stats
}

// Option configures a SecureStore, following the repo.Option /
// history.HistoryOption functional-options convention.
type Option func(*SecureStore)

func WithEncryptor(e crypto.Encryptor) Option {
	return func(s *SecureStore) { s.encryptor = e }
}

func WithCompression(c crypto.Compressor) Option {
	return func(s *SecureStore) { s.compressor = c }
}

func WithIndexQueue(q queue.Queue) Option {
	return func(s *SecureStore) { s.indexQueue = q }
}

func WithBackupQueue(q queue.Queue) Option {
	return func(s *SecureStore) { s.backupQueue = q }
}

// New builds a SecureStore over a backend.Store.
func New(l *zap.Logger, b backend.Store, opts ...Option) *SecureStore {
	s := &SecureStore{l: l.Named("securestore"), backend: b}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// trackOp records a completed backend operation under the StoreOpCounter /
// StoreOpDuration vectors, labeled by the concrete backend adapter so the
// same op name ("SaveData", "Lock", ...) can be compared across backends.
func (s *SecureStore) trackOp(op string, start time.Time, outcome string) {
	backendName := s.backend.Name()
	metrics.StoreOpCounter.WithLabelValues(op, backendName, outcome).Inc()
	metrics.StoreOpDuration.WithLabelValues(op, backendName).Observe(time.Since(start).Seconds())
}

// Stats returns a snapshot of the in-process counters.
func (s *SecureStore) Stats() Stats {
	return Stats{
		Writes:           atomic.LoadInt64(&s.stats.Writes),
		Reads:            atomic.LoadInt64(&s.stats.Reads),
		SoftDeletes:      atomic.LoadInt64(&s.stats.SoftDeletes),
		PermanentDeletes: atomic.LoadInt64(&s.stats.PermanentDeletes),
		LockAcquired:     atomic.LoadInt64(&s.stats.LockAcquired),
		LockConflicts:    atomic.LoadInt64(&s.stats.LockConflicts),
	}
}

// Close releases the backend and both queues.
func (s *SecureStore) Close() error {
	var firstErr error
	if err := s.backend.Close(); err != nil {
		firstErr = err
	}
	if s.indexQueue != nil {
		if err := s.indexQueue.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.backupQueue != nil {
		if err := s.backupQueue.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// nopWriteCloser adapts a plain io.Writer (the backend's write-side
// stream) into an io.WriteCloser so crypto.Encryptor/Compressor can wrap
// it; Close is a no-op because the backend owns that writer's lifecycle.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// countingReader counts bytes read from the wrapped reader, i.e. the
// logical (pre-compression, pre-encryption) payload length.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// shouldCompress reports whether this write should run through the
// configured Compressor: the caller asked for it, a Compressor is wired,
// and the backend advertises that it benefits from receiving pre-
// compressed bytes (some backends compress internally and would rather
// not receive already-dense data).
func (s *SecureStore) shouldCompress(opts SecureStoreOptions) bool {
	return opts.has(Compress) && s.compressor != nil && s.backend.CanCompress()
}

// buildWriteFunc wires caller bytes through compression (if useCompress)
// and encryption (if configured) on their way to the backend's raw
// writer. It returns the WriteFunc to hand the backend plus a pointer
// that receives the logical byte count once the callback has run.
func (s *SecureStore) buildWriteFunc(r io.Reader, useCompress bool) (backend.WriteFunc, *int64) {
	logicalN := new(int64)

	return func(w io.Writer) (int64, error) {
		var target io.WriteCloser = nopWriteCloser{w}
		var err error

		if s.encryptor != nil {
			target, err = s.encryptor.Encrypt(target)
			if err != nil {
				return 0, errors.Wrap(err, "building encryption writer")
			}
		}

		if useCompress {
			target, err = s.compressor.Compress(target)
			if err != nil {
				return 0, errors.Wrap(err, "building compression writer")
			}
		}

		cr := &countingReader{r: r}
		if _, err := io.Copy(target, cr); err != nil {
			return 0, errors.Wrap(err, "streaming payload through pipeline")
		}
		if err := target.Close(); err != nil {
			return 0, errors.Wrap(err, "closing pipeline writer")
		}
		*logicalN = cr.n
		return cr.n, nil
	}, logicalN
}

func (s *SecureStore) prepareMetadata(m store.Metadata) store.Metadata {
	if m == nil {
		m = store.NewMetadata()
	}
	return m.Clone()
}

// SaveData writes r as the logical payload at loc, running it through the
// configured compression/encryption pipeline. GenerateIndexEvent is
// implied regardless of opts.
func (s *SecureStore) SaveData(ctx context.Context, loc store.Location, metadata store.Metadata, audit backend.AuditInfo, r io.Reader, opts SecureStoreOptions) (store.Metadata, error) {
	start := time.Now()
	effective := s.prepareMetadata(metadata)
	useCompress := s.shouldCompress(opts)
	if useCompress {
		effective.SetInternalCompression(zstdCodec)
	}
	writeFn, logicalN := s.buildWriteFunc(r, useCompress)

	result, err := s.backend.SaveData(ctx, loc, effective, audit, writeFn)
	if err != nil {
		s.trackOp("SaveData", start, "failed")
		return nil, err
	}
	result.SetContentLength(*logicalN)
	atomic.AddInt64(&s.stats.Writes, 1)
	s.trackOp("SaveData", start, "ok")

	s.emitEvents(ctx, loc, result, opts|GenerateIndexEvent)
	return result, nil
}

// TryOptimisticWrite is SaveData conditioned on metadata.ETag.
func (s *SecureStore) TryOptimisticWrite(ctx context.Context, loc store.Location, metadata store.Metadata, audit backend.AuditInfo, r io.Reader, opts SecureStoreOptions) (bool, store.Metadata, error) {
	start := time.Now()
	effective := s.prepareMetadata(metadata)
	useCompress := s.shouldCompress(opts)
	if useCompress {
		effective.SetInternalCompression(zstdCodec)
	}
	writeFn, logicalN := s.buildWriteFunc(r, useCompress)

	ok, result, err := s.backend.TryOptimisticWrite(ctx, loc, effective, audit, writeFn)
	if err != nil {
		s.trackOp("TryOptimisticWrite", start, "failed")
		return ok, result, err
	}
	if !ok {
		s.trackOp("TryOptimisticWrite", start, "conflict")
		return ok, result, err
	}
	result.SetContentLength(*logicalN)
	atomic.AddInt64(&s.stats.Writes, 1)
	s.trackOp("TryOptimisticWrite", start, "ok")

	s.emitEvents(ctx, loc, result, opts|GenerateIndexEvent)
	return true, result, nil
}

// SaveMetadata updates only metadata, preserving content.
func (s *SecureStore) SaveMetadata(ctx context.Context, loc store.Location, metadata store.Metadata, opts SecureStoreOptions) (store.Metadata, error) {
	start := time.Now()
	effective := s.prepareMetadata(metadata)
	result, err := s.backend.SaveMetadata(ctx, loc, effective)
	if err != nil {
		s.trackOp("SaveMetadata", start, "failed")
		return nil, err
	}
	atomic.AddInt64(&s.stats.Writes, 1)
	s.trackOp("SaveMetadata", start, "ok")

	s.emitEvents(ctx, loc, result, opts|GenerateIndexEvent)
	return result, nil
}

func (s *SecureStore) emitEvents(ctx context.Context, loc store.Location, m store.Metadata, opts SecureStoreOptions) {
	sanitized := m.Sanitize()
	details := queue.StoreDataDetails{
		Container: loc.Container,
		BasePath:  loc.BasePath,
		Metadata:  sanitized,
	}

	if opts.has(GenerateIndexEvent) && s.indexQueue != nil {
		if err := s.indexQueue.SendMessage(ctx, details); err != nil {
			s.l.Error("failed to push index event", zap.String("location", loc.String()), zap.Error(err))
		}
	}
	if opts.has(Backup) && s.backupQueue != nil {
		if err := s.backupQueue.SendMessage(ctx, details); err != nil {
			s.l.Error("failed to push backup event", zap.String("location", loc.String()), zap.Error(err))
		}
	}
}

// GetMetadata returns nil, nil if loc does not exist.
func (s *SecureStore) GetMetadata(ctx context.Context, loc store.Location, snapshot string) (store.Metadata, error) {
	start := time.Now()
	m, err := s.backend.GetMetadata(ctx, loc, snapshot)
	if err != nil {
		s.trackOp("GetMetadata", start, "failed")
		return m, err
	}
	s.trackOp("GetMetadata", start, "ok")
	if m == nil {
		return nil, nil
	}
	return m.Sanitize(), nil
}

// LoadData returns nil, nil if missing or (snapshot=="") soft-deleted.
// The returned stream runs backend bytes back through decryption then
// decompression before handing them to the caller.
func (s *SecureStore) LoadData(ctx context.Context, loc store.Location, snapshot string) (*store.DataWithMetadata, error) {
	start := time.Now()
	dw, err := s.backend.LoadData(ctx, loc, snapshot)
	if err != nil {
		s.trackOp("LoadData", start, "failed")
		return dw, err
	}
	if dw == nil {
		s.trackOp("LoadData", start, "ok")
		return nil, nil
	}

	var r io.ReadCloser = dw.Data
	if s.encryptor != nil {
		r, err = s.encryptor.Decrypt(r)
		if err != nil {
			dw.Data.Close()
			s.trackOp("LoadData", start, "failed")
			return nil, errors.Wrap(err, "building decryption reader")
		}
	}
	if dw.Metadata.InternalCompression() == zstdCodec && s.compressor != nil {
		r, err = s.compressor.Decompress(r)
		if err != nil {
			r.Close()
			s.trackOp("LoadData", start, "failed")
			return nil, errors.Wrap(err, "building decompression reader")
		}
	}

	atomic.AddInt64(&s.stats.Reads, 1)
	s.trackOp("LoadData", start, "ok")
	return &store.DataWithMetadata{Data: r, Metadata: dw.Metadata.Sanitize()}, nil
}

// Delete dispatches to SoftDelete or PermanentDelete depending on
// KeepDeletes.
func (s *SecureStore) Delete(ctx context.Context, loc store.Location, opts SecureStoreOptions) error {
	if opts.has(KeepDeletes) {
		return s.SoftDelete(ctx, loc)
	}
	return s.PermanentDelete(ctx, loc)
}

func (s *SecureStore) SoftDelete(ctx context.Context, loc store.Location) error {
	start := time.Now()
	if err := s.backend.SoftDelete(ctx, loc); err != nil {
		s.trackOp("SoftDelete", start, "failed")
		return err
	}
	atomic.AddInt64(&s.stats.SoftDeletes, 1)
	s.trackOp("SoftDelete", start, "ok")
	return nil
}

func (s *SecureStore) PermanentDelete(ctx context.Context, loc store.Location) error {
	start := time.Now()
	if err := s.backend.PermanentDelete(ctx, loc); err != nil {
		s.trackOp("PermanentDelete", start, "failed")
		return err
	}
	atomic.AddInt64(&s.stats.PermanentDeletes, 1)
	s.trackOp("PermanentDelete", start, "ok")
	return nil
}

// FindSnapshots and FindFiles pass straight through without a further
// Sanitize here: the backend adapters already strip internal keys from
// each item's metadata.
func (s *SecureStore) FindSnapshots(ctx context.Context, loc store.Location) (backend.SnapshotIterator, error) {
	return s.backend.FindSnapshots(ctx, loc)
}

func (s *SecureStore) FindFiles(ctx context.Context, container, prefix string) (backend.FileIterator, error) {
	return s.backend.FindFiles(ctx, container, prefix)
}

func (s *SecureStore) CreateContainerIfNotExists(ctx context.Context, container string) error {
	return s.backend.CreateContainerIfNotExists(ctx, container)
}

// Lock forwards to the adapter and returns a releasable handle, or nil if
// already held elsewhere.
func (s *SecureStore) Lock(ctx context.Context, loc store.Location) (backend.Lease, error) {
	start := time.Now()
	backendName := s.backend.Name()

	lease, err := s.backend.Lock(ctx, loc)
	if err != nil {
		s.trackOp("Lock", start, "failed")
		return nil, err
	}
	if lease == nil {
		atomic.AddInt64(&s.stats.LockConflicts, 1)
		metrics.LockConflictCounter.WithLabelValues(backendName).Inc()
		s.trackOp("Lock", start, "conflict")
		return nil, nil
	}
	atomic.AddInt64(&s.stats.LockAcquired, 1)
	metrics.LockAcquiredCounter.WithLabelValues(backendName).Inc()
	s.trackOp("Lock", start, "ok")
	return lease, nil
}

// MustLock is Lock for callers that treat a nil lease as an error rather
// than a legitimate "someone else holds it" outcome.
func (s *SecureStore) MustLock(ctx context.Context, loc store.Location) (backend.Lease, error) {
	lease, err := s.Lock(ctx, loc)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, &backend.LockConflict{Location: loc}
	}
	return lease, nil
}

// ReIndexAll walks every current file under container/prefix and re-emits
// it to the index queue carrying Reindex=true.
func (s *SecureStore) ReIndexAll(ctx context.Context, container, prefix string, opts SecureStoreOptions) error {
	return s.walkAndEmit(ctx, container, prefix, opts, s.indexQueue, true)
}

// BackupAll is the symmetric operation against the backup queue, without
// the Reindex marker.
func (s *SecureStore) BackupAll(ctx context.Context, container, prefix string, opts SecureStoreOptions) error {
	return s.walkAndEmit(ctx, container, prefix, opts, s.backupQueue, false)
}

func (s *SecureStore) walkAndEmit(ctx context.Context, container, prefix string, opts SecureStoreOptions, q queue.Queue, reindex bool) error {
	if q == nil {
		return errors.New("securestore: no queue configured for this walk")
	}

	it, err := s.backend.FindFiles(ctx, container, prefix)
	if err != nil {
		return err
	}

	for {
		entry, err := it.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if entry.Metadata.IsSoftDeleted() && !opts.has(KeepDeletes) {
			continue
		}

		details := queue.StoreDataDetails{
			Container: entry.Location.Container,
			BasePath:  entry.Location.BasePath,
			Metadata:  entry.Metadata.Sanitize(),
			Reindex:   reindex,
		}
		if reindex {
			details.Metadata = store.Metadata(details.Metadata).Clone()
			store.Metadata(details.Metadata).SetReindex(true)
		}
		if err := q.SendMessage(ctx, details); err != nil {
			s.l.Error("failed to push walk event",
				zap.String("container", container),
				zap.String("basePath", entry.Location.BasePath),
				zap.Bool("reindex", reindex),
				zap.Error(err))
		}
	}
}

