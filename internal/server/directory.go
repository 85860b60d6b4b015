package server

import (
	"context"
	"errors"
	"time"

	"github.com/amoylab/wuhost/internal/common/cnst"
	"github.com/amoylab/wuhost/internal/host"
	"github.com/amoylab/wuhost/internal/session"

	"go.uber.org/zap"
)

type directoryUpdate struct {
	action cnst.ActionType
	meta   session.Meta
}

// publish queues a directory write without blocking the host goroutine.
func (s *Server) publish(action cnst.ActionType, p host.Peer) {
	if s.directory == nil {
		return
	}
	u := directoryUpdate{
		action: action,
		meta: session.Meta{
			ID:       p.ID,
			HostID:   s.hostID,
			Address:  p.Address,
			Port:     p.Port,
			JoinedAt: time.Now().UTC(),
		},
	}
	select {
	case s.updates <- u:
	default:
		s.logger.Warn("directory queue full, dropping update",
			zap.String("action", string(action)),
			zap.Uint32("id", p.ID))
	}
}

// runDirectory applies queued updates until ctx is done.
func (s *Server) runDirectory(ctx context.Context) {
	if s.directory == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.updates:
			s.apply(u)
		}
	}
}

func (s *Server) apply(u directoryUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
	defer cancel()

	var err error
	switch u.action {
	case cnst.ActionCreate:
		err = s.directory.Register(ctx, &u.meta)
	case cnst.ActionDelete:
		err = s.directory.Unregister(ctx, u.meta.ID)
		if errors.Is(err, cnst.ErrSessionNotFound) {
			err = nil
		}
	}
	if err != nil {
		s.logger.Error("failed to update session directory",
			zap.String("action", string(u.action)),
			zap.Uint32("id", u.meta.ID),
			zap.Error(err))
	}
}
