package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/amoylab/wuhost/internal/host"
	"github.com/amoylab/wuhost/pkg/addr"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

const (
	// maxDatagramSize is the largest UDP payload
	maxDatagramSize = 65535
	// minReadBackoff and maxReadBackoff bound the pause after a failed read
	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

// batchReader is the inbound half of the UDP socket
type batchReader interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}

func (s *Server) listenUDP() (*net.UDPConn, error) {
	address := net.JoinHostPort(s.cfg.Host.BindAddress, s.cfg.Host.BindPort)
	udpAddr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	if n := s.cfg.Host.ReadBufferSize; n > 0 {
		if err := conn.SetReadBuffer(n); err != nil {
			s.logger.Warn("failed to set read buffer size", zap.Error(err))
		}
	}
	if n := s.cfg.Host.WriteBufferSize; n > 0 {
		if err := conn.SetWriteBuffer(n); err != nil {
			s.logger.Warn("failed to set write buffer size", zap.Error(err))
		}
	}

	s.logger.Info("UDP socket bound",
		zap.String("address", conn.LocalAddr().String()),
		zap.Int("read_batch", s.cfg.Host.ReadBatch))
	return conn, nil
}

// readUDP reads datagrams in batches and hands each to the host goroutine.
// It returns once the socket is closed.
func (s *Server) readUDP(ctx context.Context, conn *net.UDPConn) error {
	return s.readBatches(ctx, ipv4.NewPacketConn(conn))
}

func (s *Server) readBatches(ctx context.Context, pc batchReader) error {
	msgs := make([]ipv4.Message, max(s.cfg.Host.ReadBatch, 1))
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, maxDatagramSize)}
	}

	var backoff time.Duration
	for {
		n, err := pc.ReadBatch(msgs, 0)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextReadBackoff(backoff)
			s.logger.Error("failed to read UDP batch", zap.Error(err), zap.Duration("retry_in", backoff))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		backoff = 0
		for i := 0; i < n; i++ {
			if !s.dispatchDatagram(ctx, msgs[i]) {
				return nil
			}
		}
	}
}

// nextReadBackoff doubles the previous pause up to maxReadBackoff.
func nextReadBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return minReadBackoff
	}
	return min(2*prev, maxReadBackoff)
}

// dispatchDatagram queues one datagram for routing. It reports false once ctx is done.
func (s *Server) dispatchDatagram(ctx context.Context, msg ipv4.Message) bool {
	udpAddr, _ := msg.Addr.(*net.UDPAddr)
	from, ok := addr.FromUDPAddr(udpAddr)
	if !ok || msg.N == 0 {
		return true
	}
	payload := make([]byte, msg.N)
	copy(payload, msg.Buffers[0][:msg.N])
	if s.metrics != nil {
		s.metrics.Datagram("in")
	}

	t := func(h *host.Host) {
		if err := h.RouteAddr(payload, from); err != nil {
			s.logger.Debug("datagram rejected", zap.Stringer("from", from), zap.Error(err))
		}
	}
	select {
	case s.tasks <- t:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeDatagram is the host's outbound sink. It runs on the host goroutine.
func (s *Server) writeDatagram(payload []byte, to addr.Endpoint) {
	if s.writer == nil {
		return
	}
	ip, err := addr.Decode(to.Address)
	if err != nil {
		s.logger.Warn("dropping datagram with invalid destination", zap.String("address", to.Address))
		return
	}
	dst := addr.Address{Host: ip, Port: to.Port}
	if _, err := s.writer.WriteToUDP(payload, dst.UDPAddr()); err != nil {
		s.logger.Debug("failed to write datagram", zap.Stringer("to", dst), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.Datagram("out")
	}
}
