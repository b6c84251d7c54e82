package partition

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/backend"
	"github.com/Lupando/Kalix.Leo/store"
)

// defaultIDWidth zero-pads numeric ids wide enough to cover any int64 and
// still sort lexicographically in the same order as numerically.
const defaultIDWidth = 19

// ObjectPartition maps a numeric id within one container to a store
// Location, encoding the id as a fixed-width zero-padded path segment so
// FindFiles enumerates items in numeric order.
type ObjectPartition struct {
	l         *zap.Logger
	container string
	cfg       ItemConfiguration
	idWidth   int
	lazy      *lazyStore
}

// NewObjectPartition builds a façade over container. idWidth of 0 defaults
// to defaultIDWidth.
func NewObjectPartition(l *zap.Logger, container string, cfg ItemConfiguration, idWidth int, resolve EncryptorResolver, build StoreFactory) *ObjectPartition {
	if idWidth <= 0 {
		idWidth = defaultIDWidth
	}
	return &ObjectPartition{
		l:         l.Named("partition.object"),
		container: container,
		cfg:       cfg,
		idWidth:   idWidth,
		lazy:      &lazyStore{resolve: resolve, build: build},
	}
}

func (p *ObjectPartition) encodeID(id int64) string {
	return fmt.Sprintf("%0*d", p.idWidth, id)
}

func (p *ObjectPartition) location(id int64) store.Location {
	return store.NewLocation(p.container, joinBasePath(p.cfg.BasePath, p.encodeID(id)))
}

func (p *ObjectPartition) Save(ctx context.Context, id int64, metadata store.Metadata, audit backend.AuditInfo, r io.Reader) (store.Metadata, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	loc := p.location(id)
	return s.SaveData(ctx, loc, withDefaultContentType(metadata, loc), audit, r, p.cfg.options())
}

func (p *ObjectPartition) Get(ctx context.Context, id int64, snapshot string) (*store.DataWithMetadata, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	return s.LoadData(ctx, p.location(id), snapshot)
}

func (p *ObjectPartition) GetMetadata(ctx context.Context, id int64, snapshot string) (store.Metadata, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	return s.GetMetadata(ctx, p.location(id), snapshot)
}

func (p *ObjectPartition) Delete(ctx context.Context, id int64) error {
	s, err := p.lazy.get()
	if err != nil {
		return err
	}
	return s.Delete(ctx, p.location(id), p.cfg.options())
}

func (p *ObjectPartition) Lock(ctx context.Context, id int64) (backend.Lease, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	return s.Lock(ctx, p.location(id))
}

func (p *ObjectPartition) FindFiles(ctx context.Context) (backend.FileIterator, error) {
	s, err := p.lazy.get()
	if err != nil {
		return nil, err
	}
	return s.FindFiles(ctx, p.container, p.cfg.BasePath)
}
