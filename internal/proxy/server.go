// Package proxy serves the reader's assets through the offline cache, the
// way the browser's service worker intercepts every fetch.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sarthi-app/sarthi/internal/offline"
)

// Response headers added by the proxy.
const (
	HeaderVersion = "X-Sarthi-Cache-Version"
	HeaderCache   = "X-Sarthi-Cache"
)

// InternalPrefix is reserved for the proxy's own endpoints.
const InternalPrefix = "/__sarthi"

const maxRequestBody = 8 << 20

// Config configures a Server.
type Config struct {
	Listen string

	// AllowedOrigins lists the origins allowed by CORS; empty allows any.
	AllowedOrigins []string

	Debug bool
}

// Server is the local HTTP front of an offline.Manager.
type Server struct {
	manager    atomic.Pointer[offline.Manager]
	engine     *gin.Engine
	httpServer *http.Server
}

// New creates a server for m.
func New(cfg Config, m *offline.Manager) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{}
	s.manager.Store(m)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(func(c *gin.Context) {
		c.Header(HeaderVersion, s.Manager().Version())
		c.Next()
	})

	internal := r.Group(InternalPrefix)
	internal.GET("/version", s.handleVersion)
	internal.GET("/status", s.handleStatus)
	internal.POST("/update", s.handleUpdate)

	r.NoRoute(s.handleFetch)

	s.engine = r
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Manager returns the manager currently serving requests.
func (s *Server) Manager() *offline.Manager {
	return s.manager.Load()
}

// Swap makes m serve all following requests, like a newly activated
// service worker taking control of open pages.
func (s *Server) Swap(m *offline.Manager) {
	old := s.manager.Swap(m)
	log.Info("cache version switched", "from", old.Version(), "to", m.Version())
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens until Stop is called.
func (s *Server) Start() error {
	log.Info("Starting HTTP server", "addr", s.httpServer.Addr, "version", s.Manager().Version())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleVersion(c *gin.Context) {
	st, err := s.Manager().Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":   st.Version,
		"installed": st.Installed,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.Manager().Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleUpdate(c *gin.Context) {
	m := s.Manager()
	deleted, err := m.Update(c.Request.Context())
	if err != nil {
		log.Error("update failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"version": m.Version(), "deleted": deleted})
}

func (s *Server) handleFetch(c *gin.Context) {
	req, err := toOfflineRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.Manager().Serve(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, offline.ErrUnavailable) {
			log.Warn("resource unavailable", "url", req.URL, "error", err)
			c.String(http.StatusGatewayTimeout, "offline: %s is not cached", req.URL)
			return
		}
		log.Error("fetch failed", "url", req.URL, "error", err)
		c.String(http.StatusBadGateway, err.Error())
		return
	}

	for k, vs := range resp.Header {
		if skipHeader(k) {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	if resp.FromCache {
		c.Header(HeaderCache, "hit")
	} else {
		c.Header(HeaderCache, "miss")
	}

	if c.Request.Method == http.MethodHead {
		c.Status(resp.Status)
		return
	}
	c.Data(resp.Status, resp.Header.Get("Content-Type"), resp.Body)
}

func toOfflineRequest(r *http.Request) (*offline.Request, error) {
	req := &offline.Request{
		Method: r.Method,
		URL:    r.URL.RequestURI(),
		Header: make(http.Header),
	}
	for k, vs := range r.Header {
		if skipHeader(k) || http.CanonicalHeaderKey(k) == "Accept-Encoding" {
			continue
		}
		req.Header[k] = append([]string(nil), vs...)
	}

	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if len(body) > maxRequestBody {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
		}
		req.Body = body
	}
	return req, nil
}

var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
	"Host":                true,
}

func skipHeader(k string) bool {
	return hopHeaders[http.CanonicalHeaderKey(k)]
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Range", "Cache-Control"},
		ExposeHeaders: []string{"Content-Type", "Content-Length", HeaderVersion, HeaderCache},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
