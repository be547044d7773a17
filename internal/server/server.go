// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes harvests over HTTP with gin.
//
//	GET /healthz
//	GET /v1/providers
//	GET /v1/search?q=...&provider=plos&provider=arxiv&page=1&page=2
//
// Search requests are limited per client IP with a token bucket.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/harvest"
	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/search"
	"github.com/pdiddy/research-harvester/pkg/types"
)

// Harvester runs harvests and describes providers. *harvest.Engine
// implements it.
type Harvester interface {
	Harvest(ctx context.Context, req harvest.Request) (*harvest.Run, error)
	ProviderInfos() []harvest.ProviderInfo
}

// Server serves the HTTP API.
type Server struct {
	harvester Harvester
	cfg       types.ServeConfig
	limits    *clientLimits
	log       *logrus.Entry
	router    *gin.Engine
}

// New builds the router.
func New(h Harvester, cfg types.ServeConfig, log *logrus.Entry) *Server {
	s := &Server{
		harvester: h,
		cfg:       cfg,
		limits:    newClientLimits(cfg.RequestsPerSecond, cfg.Burst),
		log:       logging.OrDiscard(log),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.logRequests())
	r.GET("/healthz", s.health)
	v1 := r.Group("/v1")
	v1.GET("/providers", s.providers)
	v1.GET("/search", s.limitClients(), s.search)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.limits.janitor(ctx, 2*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"client":     c.ClientIP(),
			"latency":    time.Since(start),
		}).Info("request")
	}
}

func (s *Server) limitClients() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limits.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) providers(c *gin.Context) {
	c.JSON(http.StatusOK, s.harvester.ProviderInfos())
}

// SearchResponse is the body of a successful /v1/search call.
type SearchResponse struct {
	RunID      string                  `json:"run_id"`
	Query      string                  `json:"query"`
	Providers  []string                `json:"providers"`
	Pages      []int                   `json:"pages"`
	Results    search.AggregatedResult `json:"results"`
	Records    []types.Record          `json:"records"`
	Duplicates int                     `json:"duplicates"`
	Errors     []string                `json:"errors,omitempty"`
}

func (s *Server) search(c *gin.Context) {
	req, err := parseSearch(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	run, err := s.harvester.Harvest(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	records, dups := search.Deduplicate(run.Result.Records())
	if records == nil {
		records = []types.Record{}
	}
	c.JSON(http.StatusOK, SearchResponse{
		RunID:      run.ID,
		Query:      run.Request.Query,
		Providers:  run.Providers,
		Pages:      run.Request.Pages,
		Results:    run.Result,
		Records:    records,
		Duplicates: dups,
		Errors:     run.Result.Errors(),
	})
}

// parseSearch reads repeated or comma-separated provider and page values.
func parseSearch(c *gin.Context) (harvest.Request, error) {
	req := harvest.Request{
		Query:     strings.TrimSpace(c.Query("q")),
		Providers: splitValues(c.QueryArray("provider")),
	}
	for _, p := range splitValues(c.QueryArray("page")) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return req, errors.New("page must be an integer, got " + strconv.Quote(p))
		}
		req.Pages = append(req.Pages, n)
	}
	if v := c.Query("rpp"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, errors.New("rpp must be a positive integer")
		}
		req.RecordsPerPage = n
	}
	if v := c.Query("stop_early"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, errors.New("stop_early must be a boolean")
		}
		req.StopEarly = b
	}
	return req, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
