package session

import (
	"context"
	"fmt"
	"time"

	"github.com/amoylab/wuhost/internal/common/cnst"
	"github.com/amoylab/wuhost/internal/common/config"

	"go.uber.org/zap"
)

// Meta is the directory record of a live session.
type Meta struct {
	ID       uint32    `json:"id"`        // Public session id
	HostID   string    `json:"host_id"`   // Process that owns the session
	Address  string    `json:"address"`   // Remote dotted-quad address
	Port     uint16    `json:"port"`      // Remote port
	JoinedAt time.Time `json:"joined_at"` // Time the join was observed
}

// Directory is an observable listing of live sessions. It mirrors the
// registry for other readers and is never consulted by the drain loop.
type Directory interface {
	// Register records a joined session.
	Register(ctx context.Context, meta *Meta) error

	// Unregister drops a session record.
	Unregister(ctx context.Context, id uint32) error

	// Get returns the record for id.
	Get(ctx context.Context, id uint32) (*Meta, error)

	// List returns every record, ordered by id.
	List(ctx context.Context) ([]*Meta, error)

	// Close releases backend resources.
	Close() error
}

// NewDirectory creates a session directory based on configuration
func NewDirectory(logger *zap.Logger, cfg *config.SessionConfig) (Directory, error) {
	logger.Info("Initializing session directory", zap.String("type", cfg.Type))
	switch cnst.StoreType(cfg.Type) {
	case cnst.StoreTypeMemory, "":
		return NewMemoryDirectory(logger), nil
	case cnst.StoreTypeRedis:
		return NewRedisDirectory(logger, cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: %s", cnst.ErrUnsupportedStore, cfg.Type)
	}
}
