// Package admin serves the read-only HTTP surface next to the frame stream:
// health, readiness, Prometheus metrics, session status and the preview feed.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/observability"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/preview"
	"github.com/lorcan2440/Mario-Kart-Controller/internal/stream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	Version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

// StatusSource is the stream server view the admin routes read from.
type StatusSource interface {
	Status() stream.ServerStatus
	RecentSessions(limit int) []stream.Result
}

type Config struct {
	Addr        string
	CORSOrigins []string
}

type Server struct {
	cfg     Config
	source  StatusSource
	hub     *preview.Hub
	log     zerolog.Logger
	router  *gin.Engine
	started time.Time
}

// New builds the router. hub may be nil, in which case the preview routes
// answer 404.
func New(cfg Config, source StatusSource, hub *preview.Hub, log zerolog.Logger) *Server {
	observability.RegisterMetrics()
	origins := normalizeOrigins(cfg.CORSOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(corsConfig(origins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if hub != nil {
		hub.SetCheckOrigin(originChecker(origins))
	}
	s := &Server{
		cfg:     cfg,
		source:  source,
		hub:     hub,
		log:     log,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.source.Status()
		status := http.StatusOK
		if !st.Listening {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   st.Listening,
			"addr":    st.Addr,
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/sessions", func(c *gin.Context) {
		limit := 0
		if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		st := s.source.Status()
		c.JSON(http.StatusOK, gin.H{
			"listening":         st.Listening,
			"sessions_accepted": st.SessionsAccepted,
			"current":           st.Current,
			"sessions":          s.source.RecentSessions(limit),
		})
	})

	s.router.GET("/sessions/current", func(c *gin.Context) {
		cur := s.source.Status().Current
		if cur == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
			return
		}
		c.JSON(http.StatusOK, cur)
	})

	s.router.GET("/preview", func(c *gin.Context) {
		if s.hub == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview disabled"})
			return
		}
		s.hub.ServeHTTP(c.Writer, c.Request)
	})

	s.router.GET("/preview/latest.png", func(c *gin.Context) {
		if s.hub == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview disabled"})
			return
		}
		img, ok := s.hub.LatestPNG()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no frame yet"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", img)
	})
}

// ListenAndServe binds cfg.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln and shuts it down gracefully once ctx is
// done. Open preview sockets are hijacked and not covered by Shutdown; the
// hub closes those.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin: serve: %w", err)
	case <-ctx.Done():
	}

	if s.hub != nil {
		_ = s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	s.log.Info().Msg("admin server stopped")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// originChecker admits same-host upgrades and any configured CORS origin.
func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin) {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
