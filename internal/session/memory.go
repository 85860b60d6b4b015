package session

import (
	"context"
	"sort"
	"sync"

	"github.com/amoylab/wuhost/internal/common/cnst"

	"go.uber.org/zap"
)

// MemoryDirectory implements Directory in process memory
type MemoryDirectory struct {
	logger *zap.Logger
	mu     sync.RWMutex
	metas  map[uint32]*Meta
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates a new in-memory session directory
func NewMemoryDirectory(logger *zap.Logger) *MemoryDirectory {
	return &MemoryDirectory{
		logger: logger.Named("session.directory.memory"),
		metas:  make(map[uint32]*Meta),
	}
}

// Register implements Directory.Register. A record for an existing id is replaced.
func (d *MemoryDirectory) Register(_ context.Context, meta *Meta) error {
	cp := *meta

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.metas[meta.ID]; exists {
		d.logger.Warn("replacing session record", zap.Uint32("id", meta.ID))
	}
	d.metas[meta.ID] = &cp
	return nil
}

// Unregister implements Directory.Unregister
func (d *MemoryDirectory) Unregister(_ context.Context, id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.metas[id]; !ok {
		return cnst.ErrSessionNotFound
	}
	delete(d.metas, id)
	return nil
}

// Get implements Directory.Get
func (d *MemoryDirectory) Get(_ context.Context, id uint32) (*Meta, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	meta, ok := d.metas[id]
	if !ok {
		return nil, cnst.ErrSessionNotFound
	}
	cp := *meta
	return &cp, nil
}

// List implements Directory.List
func (d *MemoryDirectory) List(_ context.Context) ([]*Meta, error) {
	d.mu.RLock()
	metas := make([]*Meta, 0, len(d.metas))
	for _, meta := range d.metas {
		cp := *meta
		metas = append(metas, &cp)
	}
	d.mu.RUnlock()

	sortMetas(metas)
	return metas, nil
}

// Close implements Directory.Close
func (d *MemoryDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metas = make(map[uint32]*Meta)
	return nil
}

func sortMetas(metas []*Meta) {
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
}
