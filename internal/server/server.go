package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/amoylab/wuhost/internal/common/cnst"
	"github.com/amoylab/wuhost/internal/common/config"
	"github.com/amoylab/wuhost/internal/engine"
	"github.com/amoylab/wuhost/internal/host"
	"github.com/amoylab/wuhost/internal/session"
	"github.com/amoylab/wuhost/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// taskQueueSize bounds work waiting for the host goroutine
	taskQueueSize = 1024
	// directoryQueueSize bounds pending directory writes
	directoryQueueSize = 1024
	// directoryTimeout bounds a single directory write
	directoryTimeout = 5 * time.Second
)

// task runs on the host goroutine
type task func(h *host.Host)

// packetWriter is the outbound half of the UDP socket
type packetWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Server embeds a session host in a process: it owns the UDP socket, funnels
// every call into the host through one goroutine, mirrors sessions into the
// directory and serves HTTP signaling and admin.
type Server struct {
	logger    *zap.Logger
	cfg       *config.WuHostConfig
	hostID    string
	host      *host.Host
	directory session.Directory
	metrics   *metrics.Metrics
	router    *gin.Engine

	tasks   chan task
	updates chan directoryUpdate
	done    chan struct{}
	writer  packetWriter
}

// New creates the host with factory and prepares the HTTP routes. dir and m may be nil.
func New(logger *zap.Logger, cfg *config.WuHostConfig, factory engine.Factory, dir session.Directory, m *metrics.Metrics) (*Server, error) {
	s := &Server{
		logger:    logger.Named("server"),
		cfg:       cfg,
		hostID:    uuid.NewString(),
		directory: dir,
		metrics:   m,
		tasks:     make(chan task, taskQueueSize),
		updates:   make(chan directoryUpdate, directoryQueueSize),
		done:      make(chan struct{}),
	}

	opts := []host.Option{host.WithLogger(logger)}
	if cfg.Host.PermissiveAddress {
		opts = append(opts, host.WithPermissiveAddress())
	}
	if m != nil {
		opts = append(opts, host.WithRecorder(m))
	}
	h, err := host.New(host.Config{
		BindAddress: cfg.Host.BindAddress,
		BindPort:    cfg.Host.BindPort,
		MaxSessions: cfg.Host.MaxSessions,
	}, factory, opts...)
	if err != nil {
		return nil, err
	}
	s.host = h
	s.installCallbacks()
	s.router = s.newRouter()
	return s, nil
}

// HostID identifies this process in directory records.
func (s *Server) HostID() string {
	return s.hostID
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) installCallbacks() {
	s.host.OnJoin(func(p host.Peer) {
		s.logger.Info("session joined", zap.Uint32("id", p.ID), zap.String("address", p.Address), zap.Uint16("port", p.Port))
		s.publish(cnst.ActionCreate, p)
	})
	s.host.OnLeave(func(p host.Peer) {
		s.logger.Info("session left", zap.Uint32("id", p.ID), zap.String("address", p.Address), zap.Uint16("port", p.Port))
		if p.ID != 0 {
			s.publish(cnst.ActionDelete, p)
		}
	})
	s.host.OnText(func(p host.Peer, text string) {
		s.logger.Debug("text received", zap.Uint32("id", p.ID), zap.Int("size", len(text)))
		if s.cfg.Host.Echo {
			_ = s.host.SendText(p.ID, text)
		}
	})
	s.host.OnBinary(func(p host.Peer, data []byte) {
		s.logger.Debug("binary received", zap.Uint32("id", p.ID), zap.Int("size", len(data)))
		if s.cfg.Host.Echo {
			_ = s.host.SendBinary(p.ID, data)
		}
	})
	s.host.OnDatagram(s.writeDatagram)
}

// do runs fn on the host goroutine and waits for it to finish.
func (s *Server) do(ctx context.Context, fn func(h *host.Host)) error {
	finished := make(chan struct{})
	t := func(h *host.Host) {
		defer close(finished)
		fn(h)
	}
	select {
	case s.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return cnst.ErrHostClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return cnst.ErrHostClosed
		}
	}
}

// loop owns the host until ctx is cancelled, then closes it.
func (s *Server) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Host.ServeInterval)
	defer ticker.Stop()
	defer close(s.done)
	defer func() {
		if err := s.host.Close(); err != nil {
			s.logger.Error("failed to close host", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-s.tasks:
			s.run(t)
		case <-ticker.C:
			s.host.Serve()
		}
	}
}

func (s *Server) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("host task panicked", zap.Any("panic", r))
		}
	}()
	t(s.host)
}

// Run serves until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	conn, err := s.listenUDP()
	if err != nil {
		return err
	}
	s.writer = conn

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Signaling.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx) })
	g.Go(func() error { return s.readUDP(ctx, conn) })
	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		s.runDirectory(ctx)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("signaling server started", zap.String("addr", httpServer.Addr), zap.String("host_id", s.hostID))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("signaling server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Signaling.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	s.logger.Info("server stopped")
	return err
}
