// Package s3 is the list-versions Backend Store Adapter implementation.
// Unlike Azure Blob Storage, S3 has no native lease primitive and its
// ListObjectVersions call does not return user metadata per version, so
// this adapter resolves "current" from the highest-modified version of the
// exact key and derives a lock from a dedicated, conditionally-written
// lease object (spec §4.1, §9 open question (a)).
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/backend"
	"github.com/Lupando/Kalix.Leo/backend/internal/retry"
	"github.com/Lupando/Kalix.Leo/store"
)

const leaseDuration = time.Minute

func lockKey(basePath string) string {
	return ".leo-lock/" + basePath
}

// Backend is a backend.Store implementation over an S3-compatible bucket.
type Backend struct {
	l      *zap.Logger
	client *s3.Client
}

// New wraps an already-constructed s3.Client.
func New(l *zap.Logger, client *s3.Client) *Backend {
	return &Backend{l: l.Named("s3"), client: client}
}

// Name identifies this adapter for metrics labeling.
func (b *Backend) Name() string { return "s3" }

func (b *Backend) CanCompress() bool { return true }

func (b *Backend) Close() error { return nil }

func (b *Backend) CreateContainerIfNotExists(ctx context.Context, bucket string) error {
	_, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return &backend.StorageError{Location: store.Location{Container: bucket}, Op: "CreateContainerIfNotExists", Cause: err}
}

func (b *Backend) SaveData(ctx context.Context, loc store.Location, metadata store.Metadata, _ backend.AuditInfo, write backend.WriteFunc) (store.Metadata, error) {
	return b.put(ctx, loc, metadata, write, nil, nil)
}

func (b *Backend) TryOptimisticWrite(ctx context.Context, loc store.Location, metadata store.Metadata, _ backend.AuditInfo, write backend.WriteFunc) (bool, store.Metadata, error) {
	etag, hasETag := metadata.ETag()
	var ifMatch, ifNoneMatch *string
	switch {
	case !hasETag:
		ifNoneMatch = aws.String("*")
	case etag == "*":
		// unconditional
	default:
		ifMatch = aws.String(quoteETag(etag))
	}

	result, err := b.put(ctx, loc, metadata, write, ifMatch, ifNoneMatch)
	if err != nil {
		if isPreconditionFailed(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, result, nil
}

func (b *Backend) put(ctx context.Context, loc store.Location, metadata store.Metadata, write backend.WriteFunc, ifMatch, ifNoneMatch *string) (store.Metadata, error) {
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
	m.SetModified(time.Now().UnixNano())

	var out *s3.PutObjectOutput
	err = retry.Once(ctx, isTransient, func() error {
		var putErr error
		out, putErr = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(loc.Container),
			Key:         aws.String(loc.BasePath),
			Body:        bytes.NewReader(buf.Bytes()),
			ContentType: aws.String(m.ContentType()),
			Metadata:    m,
			IfMatch:     ifMatch,
			IfNoneMatch: ifNoneMatch,
		})
		return putErr
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return nil, err
		}
		return nil, classify(loc, "SaveData", err)
	}

	if out.ETag != nil {
		m[store.KeyETag] = unquoteETag(*out.ETag)
	}
	if out.VersionId != nil {
		m[store.KeySnapshot] = *out.VersionId
	}
	return m.Sanitize(), nil
}

func (b *Backend) SaveMetadata(ctx context.Context, loc store.Location, metadata store.Metadata) (store.Metadata, error) {
	existing, err := b.GetMetadata(ctx, loc, "")
	if err != nil {
		return nil, err
	}

	var prior []byte
	if existing != nil {
		dwm, loadErr := b.LoadData(ctx, loc, existing.Snapshot())
		if loadErr != nil {
			return nil, loadErr
		}
		if dwm != nil {
			defer dwm.Close()
			prior, err = io.ReadAll(dwm.Data)
			if err != nil {
				return nil, &backend.StorageError{Location: loc, Op: "SaveMetadata", Cause: err}
			}
		}
	}

	return b.put(ctx, loc, metadata, func(w io.Writer) (int64, error) {
		n, err := w.Write(prior)
		return int64(n), err
	}, nil, nil)
}

func (b *Backend) GetMetadata(ctx context.Context, loc store.Location, snapshot string) (store.Metadata, error) {
	var versionID *string
	if snapshot != "" {
		versionID = aws.String(snapshot)
	}

	var out *s3.HeadObjectOutput
	err := retry.Once(ctx, isTransient, func() error {
		var headErr error
		out, headErr = b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket:    aws.String(loc.Container),
			Key:       aws.String(loc.BasePath),
			VersionId: versionID,
		})
		return headErr
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(loc, "GetMetadata", err)
	}

	return headToMetadata(out).Sanitize(), nil
}

func headToMetadata(out *s3.HeadObjectOutput) store.Metadata {
	m := store.NewMetadata()
	for k, v := range out.Metadata {
		m[k] = v
	}
	if out.ContentLength != nil {
		m.SetContentLength(*out.ContentLength)
	}
	if out.LastModified != nil {
		m.SetModified(out.LastModified.UnixNano())
	}
	if out.ContentType != nil {
		m.SetContentType(*out.ContentType)
	}
	if out.ETag != nil {
		m[store.KeyETag] = unquoteETag(*out.ETag)
	}
	if out.VersionId != nil {
		m[store.KeySnapshot] = *out.VersionId
	}
	return m
}

func (b *Backend) LoadData(ctx context.Context, loc store.Location, snapshot string) (*store.DataWithMetadata, error) {
	var versionID *string
	if snapshot != "" {
		versionID = aws.String(snapshot)
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:    aws.String(loc.Container),
		Key:       aws.String(loc.BasePath),
		VersionId: versionID,
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(loc, "LoadData", err)
	}

	m := store.NewMetadata()
	for k, v := range out.Metadata {
		m[k] = v
	}
	if out.ContentLength != nil {
		m.SetContentLength(*out.ContentLength)
	}
	if out.LastModified != nil {
		m.SetModified(out.LastModified.UnixNano())
	}
	if out.ContentType != nil {
		m.SetContentType(*out.ContentType)
	}
	if out.ETag != nil {
		m[store.KeyETag] = unquoteETag(*out.ETag)
	}
	if out.VersionId != nil {
		m[store.KeySnapshot] = *out.VersionId
	}

	if snapshot == "" && m.IsSoftDeleted() {
		_ = out.Body.Close()
		return nil, nil
	}

	// Unsanitized: SecureStore.LoadData needs InternalCompression to
	// decide whether to decompress before it does its own Sanitize.
	return &store.DataWithMetadata{Data: out.Body, Metadata: m}, nil
}

func (b *Backend) SoftDelete(ctx context.Context, loc store.Location) error {
	existing, err := b.GetMetadata(ctx, loc, "")
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	m := existing.Clone()
	m.SetSoftDeleted(time.Now().UnixNano())
	_, err = b.put(ctx, loc, m, func(w io.Writer) (int64, error) { return 0, nil }, nil, nil)
	return err
}

func (b *Backend) PermanentDelete(ctx context.Context, loc store.Location) error {
	versions, err := b.listVersions(ctx, loc.Container, loc.BasePath, true)
	if err != nil {
		return classify(loc, "PermanentDelete", err)
	}
	for _, v := range versions {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket:    aws.String(loc.Container),
			Key:       aws.String(loc.BasePath),
			VersionId: v.VersionId,
		})
		if err != nil && !isNotFound(err) {
			return classify(loc, "PermanentDelete", err)
		}
	}
	return nil
}

// listVersions returns every version whose key equals exactly `key`
// (exactOnly=true), newest-first, or every version under the prefix
// (exactOnly=false).
func (b *Backend) listVersions(ctx context.Context, bucket, key string, exactOnly bool) ([]types.ObjectVersion, error) {
	var out []types.ObjectVersion
	var keyMarker, versionIDMarker *string
	for {
		resp, err := b.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(bucket),
			Prefix:          aws.String(key),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionIDMarker,
		})
		if err != nil {
			return nil, err
		}
		for _, v := range resp.Versions {
			if exactOnly && (v.Key == nil || *v.Key != key) {
				continue
			}
			out = append(out, v)
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		keyMarker = resp.NextKeyMarker
		versionIDMarker = resp.NextVersionIdMarker
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].LastModified, out[j].LastModified
		if ti == nil || tj == nil {
			return false
		}
		return ti.After(*tj)
	})
	return out, nil
}

type snapshotIterator struct {
	b        *Backend
	loc      store.Location
	versions []types.ObjectVersion
	idx      int
}

func (it *snapshotIterator) Next(ctx context.Context) (store.Snapshot, error) {
	if it.idx >= len(it.versions) {
		return store.Snapshot{}, io.EOF
	}
	v := it.versions[it.idx]
	it.idx++

	var versionID string
	if v.VersionId != nil {
		versionID = *v.VersionId
	}
	m, err := it.b.GetMetadata(ctx, it.loc, versionID)
	if err != nil {
		return store.Snapshot{}, err
	}
	var modified int64
	if v.LastModified != nil {
		modified = v.LastModified.UnixNano()
	}
	return store.Snapshot{ID: versionID, Modified: modified, Metadata: m}, nil
}

func (b *Backend) FindSnapshots(ctx context.Context, loc store.Location) (backend.SnapshotIterator, error) {
	versions, err := b.listVersions(ctx, loc.Container, loc.BasePath, true)
	if err != nil {
		return nil, classify(loc, "FindSnapshots", err)
	}
	return &snapshotIterator{b: b, loc: loc, versions: versions}, nil
}

type fileIterator struct {
	b         *Backend
	container string
	entries   []string
	idx       int
}

func (it *fileIterator) Next(ctx context.Context) (backend.FileEntry, error) {
	if it.idx >= len(it.entries) {
		return backend.FileEntry{}, io.EOF
	}
	key := it.entries[it.idx]
	it.idx++
	loc := store.NewLocation(it.container, key)
	m, err := it.b.GetMetadata(ctx, loc, "")
	if err != nil {
		return backend.FileEntry{}, err
	}
	return backend.FileEntry{Location: loc, Metadata: m}, nil
}

func (b *Backend) FindFiles(ctx context.Context, bucket string, prefix string) (backend.FileIterator, error) {
	var entries []string
	var continuationToken *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, classify(store.Location{Container: bucket}, "FindFiles", err)
		}
		for _, o := range resp.Contents {
			if o.Key == nil || strings.HasPrefix(*o.Key, ".leo-lock/") {
				continue
			}
			entries = append(entries, *o.Key)
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		continuationToken = resp.NextContinuationToken
	}
	return &fileIterator{b: b, container: bucket, entries: entries}, nil
}

type s3Lease struct {
	b      *Backend
	loc    store.Location
	holder string
	cancel context.CancelFunc
}

func (l *s3Lease) Release(ctx context.Context) error {
	l.cancel()
	_, err := l.b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(l.loc.Container),
		Key:    aws.String(lockKey(l.loc.BasePath)),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Lock implements the lease-based mutual exclusion primitive on top of a
// dedicated lock object, conditionally written with If-None-Match so only
// one caller can create it, and periodically re-written (unconditionally,
// with no If-Match check) to refresh the LastModified time lockExpired
// reads, simulating lease renewal (S3 has no native lease API).
func (b *Backend) Lock(ctx context.Context, loc store.Location) (backend.Lease, error) {
	holder := uuid.NewString()
	key := lockKey(loc.BasePath)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(loc.Container),
		Key:         aws.String(key),
		Body:        strings.NewReader(holder),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			expired, checkErr := b.lockExpired(ctx, loc.Container, key)
			if checkErr != nil {
				return nil, classify(loc, "Lock", checkErr)
			}
			if !expired {
				return nil, nil
			}
			return b.Lock(ctx, loc)
		}
		return nil, classify(loc, "Lock", err)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	go b.renewLoop(renewCtx, loc.Container, key)

	return &s3Lease{b: b, loc: loc, holder: holder, cancel: cancel}, nil
}

func (b *Backend) lockExpired(ctx context.Context, bucket, key string) (bool, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if isNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if out.LastModified == nil {
		return false, nil
	}
	return time.Since(*out.LastModified) > leaseDuration, nil
}

func (b *Backend) renewLoop(ctx context.Context, bucket, key string) {
	ticker := time.NewTicker(leaseDuration / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = b.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
				Body:   strings.NewReader("renewed"),
			})
		}
	}
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}

func unquoteETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "412":
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if isNotFound(err) || isPreconditionFailed(err) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "Throttling":
			return true
		}
		return false
	}
	return true
}

func classify(loc store.Location, op string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return nil
	}
	if isTransient(err) {
		return &backend.TransientError{Location: loc, Op: op, Cause: err}
	}
	return &backend.StorageError{Location: loc, Op: op, Cause: err}
}
