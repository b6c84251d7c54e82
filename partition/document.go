package partition

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/backend"
	"github.com/Lupando/Kalix.Leo/store"
)

// DocumentPartition maps a string path within one container to a store
// Location, for callers whose natural key is a document path.
type DocumentPartition struct {
	l         *zap.Logger
	container string
	cfg       ItemConfiguration
	lazy      *lazyStore
}

// NewDocumentPartition builds a façade over container, backed by the
// SecureStore that build produces once resolve has run.
func NewDocumentPartition(l *zap.Logger, container string, cfg ItemConfiguration, resolve EncryptorResolver, build StoreFactory) *DocumentPartition {
	return &DocumentPartition{
		l:         l.Named("partition.document"),
		container: container,
		cfg:       cfg,
		lazy:      &lazyStore{resolve: resolve, build: build},
	}
}

func (p *DocumentPartition) location(relPath string) store.Location {
	return store.NewLocation(p.container, joinBasePath(p.cfg.BasePath, relPath))
}

func (p *DocumentPartition) Save(ctx context.Context, relPath string, metadata store.Metadata, audit backend.AuditInfo, r io.Reader) (store.Metadata, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	loc := p.location(relPath)
	return s.SaveData(ctx, loc, withDefaultContentType(metadata, loc), audit, r, p.cfg.options())
}

func (p *DocumentPartition) Get(ctx context.Context, relPath, snapshot string) (*store.DataWithMetadata, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	return s.LoadData(ctx, p.location(relPath), snapshot)
}

func (p *DocumentPartition) GetMetadata(ctx context.Context, relPath, snapshot string) (store.Metadata, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	return s.GetMetadata(ctx, p.location(relPath), snapshot)
}

func (p *DocumentPartition) Delete(ctx context.Context, relPath string) error {
	s, err := p.lazy.get()
	if err != nil {
		return err
	}
	return s.Delete(ctx, p.location(relPath), p.cfg.options())
}

func (p *DocumentPartition) Lock(ctx context.Context, relPath string) (backend.Lease, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	return s.Lock(ctx, p.location(relPath))
}

func (p *DocumentPartition) FindFiles(ctx context.Context, prefix string) (backend.FileIterator, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	return s.FindFiles(ctx, p.container, joinBasePath(p.cfg.BasePath, prefix))
}
