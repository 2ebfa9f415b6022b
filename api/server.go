// Package api is the ops HTTP surface: health, Prometheus metrics, the
// account and strategy views and alert acknowledgement.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/alerts"
	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/obs"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/store"
	"github.com/rustyeddy/tradeguard/strategies"
	"github.com/rustyeddy/tradeguard/stress"
)

// Server holds the collaborators the handlers read. Alerts and Book are
// required; the other views answer 404 when their source is nil.
type Server struct {
	Alerts  *alerts.Manager
	Book    *portfolio.Book
	Catalog *strategies.Catalog
	KV      store.KV
	Metrics *obs.Metrics
	Log     *zap.Logger
}

// Router builds the gin engine. mode is a gin mode; empty means release.
func (s *Server) Router(mode string) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	log := logger.OrNop(s.Log)

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })
	r.GET("/ready", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "READY"}) })
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/accounts", s.listAccounts)
		v1.GET("/accounts/:id", s.getAccount)
		v1.GET("/accounts/:id/positions", s.listPositions)
		v1.GET("/accounts/:id/risk", s.getRisk)
		v1.GET("/accounts/:id/stress", s.getStress)
		v1.GET("/strategies", s.listStrategies)
		v1.GET("/alerts", s.listAlerts)
		v1.GET("/alerts/:id", s.getAlert)
		v1.POST("/alerts/:id/ack", s.ackAlert)
		v1.POST("/alerts/:id/resolve", s.resolveAlert)
	}
	return r
}

// Serve runs the router on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr, mode string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(mode),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (s *Server) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, s.Book.Accounts())
}

func (s *Server) getAccount(c *gin.Context) {
	a, err := s.Book.Account(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) listPositions(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.Book.Account(id); err != nil {
		fail(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.Book.OpenPositions(id))
}

func (s *Server) getRisk(c *gin.Context) {
	var m portfolio.RiskMetrics
	s.cached(c, store.MetricsKey(c.Param("id")), &m)
}

func (s *Server) getStress(c *gin.Context) {
	var rs []stress.Result
	s.cached(c, store.StressKey(c.Param("id")), &rs)
}

// cached answers with the latest value the engine wrote under key.
func (s *Server) cached(c *gin.Context, key string, dest any) {
	if s.KV == nil {
		fail(c, http.StatusNotFound, "no store configured")
		return
	}
	err := store.GetJSON(c.Request.Context(), s.KV, key, dest)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "not computed yet")
	case err != nil:
		logger.OrNop(s.Log).Warn("read cached view", zap.String("key", key), zap.Error(err))
		fail(c, http.StatusBadGateway, err.Error())
	default:
		c.JSON(http.StatusOK, dest)
	}
}

func (s *Server) listStrategies(c *gin.Context) {
	if s.Catalog == nil {
		fail(c, http.StatusNotFound, "no catalog configured")
		return
	}
	if active, _ := strconv.ParseBool(c.Query("active")); active {
		c.JSON(http.StatusOK, s.Catalog.Active())
		return
	}
	c.JSON(http.StatusOK, s.Catalog.List())
}

func (s *Server) listAlerts(c *gin.Context) {
	all := false
	if v := c.Query("include_resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid include_resolved")
			return
		}
		all = b
	}
	c.JSON(http.StatusOK, s.Alerts.List(c.Query("account_id"), all))
}

func (s *Server) getAlert(c *gin.Context) {
	a, err := s.Alerts.Get(c.Param("id"))
	if err != nil {
		s.alertError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) ackAlert(c *gin.Context) {
	s.transition(c, s.Alerts.Acknowledge)
}

func (s *Server) resolveAlert(c *gin.Context) {
	s.transition(c, s.Alerts.Resolve)
}

func (s *Server) transition(c *gin.Context, fn func(context.Context, string) (alerts.Alert, error)) {
	a, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil && a.ID == "" {
		s.alertError(c, err)
		return
	}
	if err != nil {
		// the state change stuck; only persistence or publishing failed
		logger.OrNop(s.Log).Warn("alert sinks failed", zap.String("alert_id", a.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) alertError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, alerts.ErrUnknownAlert):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrValidation):
		fail(c, http.StatusConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}
