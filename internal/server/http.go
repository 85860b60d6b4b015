package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/amoylab/wuhost/internal/auth/jwt"
	"github.com/amoylab/wuhost/internal/common/cnst"
	"github.com/amoylab/wuhost/internal/host"
	"github.com/amoylab/wuhost/internal/session"
	"github.com/amoylab/wuhost/pkg/trace"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(s.recoveryMiddleware())
	r.Use(s.loggerMiddleware())
	if s.cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(s.cfg.Tracing.ServiceName))
	}
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
		r.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/health_check", s.handleHealth)

	signaling := r.Group("")
	if cors := s.cfg.Signaling.CORS; cors != nil {
		mw := corsMiddleware(cors)
		r.OPTIONS(s.cfg.Signaling.Path, mw)
		signaling.Use(mw)
	}
	signaling.POST(s.cfg.Signaling.Path, s.handleNegotiate)

	api := r.Group("/api")
	if s.cfg.Admin.JWT.SecretKey != "" {
		svc, err := jwt.NewService(s.cfg.Admin.JWT)
		if err != nil {
			// Validate rejects weak keys, so this only trips on hand-built configs.
			s.logger.Error("admin API disabled: invalid JWT configuration", zap.Error(err))
			return r
		}
		api.Use(jwtAuthMiddleware(svc))
	} else {
		s.logger.Warn("admin API is not protected; set admin.jwt.secret_key to enable auth")
	}
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.DELETE("/sessions/:id", s.handleRemoveSession)
	api.POST("/sessions/:id/text", s.handleSendText)
	api.POST("/sessions/:id/binary", s.handleSendBinary)
	api.GET("/directory", s.handleDirectory)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Health check passed.",
		"host_id": s.hostID,
	})
}

// errorStatus maps host errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, cnst.ErrInvalidArgument), errors.Is(err, cnst.ErrNegotiationFailed):
		return http.StatusBadRequest
	case errors.Is(err, cnst.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, cnst.ErrHostClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, scope *trace.SpanScope, err error) {
	scope.Fail(err)
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func (s *Server) handleNegotiate(c *gin.Context) {
	scope := trace.Tracer(cnst.TraceServer).Start(c.Request.Context(), cnst.SpanNegotiate).
		WithAttrs(attribute.String(cnst.AttrClientAddr, c.ClientIP()))
	defer scope.End()

	offer, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Signaling.MaxOfferSize))
	if err != nil {
		s.fail(c, scope, errors.Join(cnst.ErrInvalidArgument, err))
		return
	}
	scope.WithAttrs(attribute.Int(cnst.AttrPayloadSize, len(offer)))

	var answer []byte
	var negErr error
	if err := s.do(scope.Ctx, func(h *host.Host) { answer, negErr = h.Negotiate(offer) }); err != nil {
		s.fail(c, scope, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Negotiated(negErr == nil)
	}
	if negErr != nil {
		s.logger.Info("negotiation failed", zap.String("client", c.ClientIP()), zap.Error(negErr))
		scope.WithAttrs(attribute.String(cnst.AttrErrorReason, negErr.Error()))
		s.fail(c, scope, negErr)
		return
	}
	c.Data(http.StatusOK, "application/json", answer)
}

// sessionID parses the :id path parameter
func sessionID(c *gin.Context) (uint32, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.Join(cnst.ErrInvalidArgument, errors.New("session id must be a positive 32-bit integer"))
	}
	return uint32(id), nil
}

func (s *Server) handleListSessions(c *gin.Context) {
	scope := trace.Tracer(cnst.TraceServer).Start(c.Request.Context(), cnst.SpanAdminSessions)
	defer scope.End()

	var peers []host.Peer
	if err := s.do(scope.Ctx, func(h *host.Host) { peers = h.Sessions() }); err != nil {
		s.fail(c, scope, err)
		return
	}
	if peers == nil {
		peers = []host.Peer{}
	}
	c.JSON(http.StatusOK, gin.H{"host_id": s.hostID, "sessions": peers})
}

func (s *Server) handleGetSession(c *gin.Context) {
	scope := trace.Tracer(cnst.TraceServer).Start(c.Request.Context(), cnst.SpanAdminSessions)
	defer scope.End()

	id, err := sessionID(c)
	if err != nil {
		s.fail(c, scope, err)
		return
	}
	var peer host.Peer
	var ok bool
	if err := s.do(scope.Ctx, func(h *host.Host) { peer, ok = h.Session(id) }); err != nil {
		s.fail(c, scope, err)
		return
	}
	if !ok {
		s.fail(c, scope, cnst.ErrSessionNotFound)
		return
	}
	c.JSON(http.StatusOK, peer)
}

func (s *Server) handleRemoveSession(c *gin.Context) {
	scope := trace.Tracer(cnst.TraceServer).Start(c.Request.Context(), cnst.SpanAdminRemove)
	defer scope.End()

	id, err := sessionID(c)
	if err != nil {
		s.fail(c, scope, err)
		return
	}
	scope.WithAttrs(attribute.Int64(cnst.AttrSessionID, int64(id)))

	var peer host.Peer
	var removed bool
	if err := s.do(scope.Ctx, func(h *host.Host) {
		peer, _ = h.Session(id)
		removed = h.Remove(id)
	}); err != nil {
		s.fail(c, scope, err)
		return
	}
	if !removed {
		s.fail(c, scope, cnst.ErrSessionNotFound)
		return
	}
	s.logger.Info("session removed by admin", zap.Uint32("id", id))
	s.publish(cnst.ActionDelete, peer)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSendText(c *gin.Context) {
	s.handleSend(c, func(h *host.Host, id uint32, body []byte) error {
		if !utf8.Valid(body) {
			return errors.Join(cnst.ErrInvalidArgument, errors.New("text is not valid UTF-8"))
		}
		return h.SendText(id, string(body))
	})
}

func (s *Server) handleSendBinary(c *gin.Context) {
	s.handleSend(c, func(h *host.Host, id uint32, body []byte) error {
		return h.SendBinary(id, body)
	})
}

// handleSend reads the request body and sends it to the session. Unlike the
// host send path, the admin API reports unknown ids.
func (s *Server) handleSend(c *gin.Context, send func(h *host.Host, id uint32, body []byte) error) {
	scope := trace.Tracer(cnst.TraceServer).Start(c.Request.Context(), cnst.SpanAdminSend)
	defer scope.End()

	id, err := sessionID(c)
	if err != nil {
		s.fail(c, scope, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDatagramSize))
	if err != nil {
		s.fail(c, scope, errors.Join(cnst.ErrInvalidArgument, err))
		return
	}
	scope.WithAttrs(
		attribute.Int64(cnst.AttrSessionID, int64(id)),
		attribute.Int(cnst.AttrPayloadSize, len(body)),
	)

	var sendErr error
	if err := s.do(scope.Ctx, func(h *host.Host) {
		if _, ok := h.Session(id); !ok {
			sendErr = cnst.ErrSessionNotFound
			return
		}
		sendErr = send(h, id, body)
	}); err != nil {
		s.fail(c, scope, err)
		return
	}
	if sendErr != nil {
		s.fail(c, scope, sendErr)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleDirectory(c *gin.Context) {
	if s.directory == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []*session.Meta{}})
		return
	}
	metas, err := s.directory.List(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list session directory", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": metas})
}
