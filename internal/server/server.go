// Package server exposes the bulk CRM client over HTTP with gin.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/batch"
	"github.com/Sternrassler/crm-bulk-client/pkg/config"
	"github.com/Sternrassler/crm-bulk-client/pkg/crm"
	"github.com/Sternrassler/crm-bulk-client/pkg/dispatcher"
	"github.com/Sternrassler/crm-bulk-client/pkg/metrics"
	"github.com/Sternrassler/crm-bulk-client/pkg/pagination"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Routes served by the HTTP front.
const (
	PathHealth          = "/health"
	PathMetrics         = "/metrics"
	PathLookup          = "/v1/modules/:module/lookup"
	PathRecords         = "/v1/modules/:module/records"
	PathSearch          = "/v1/modules/:module/search"
	PathCompileCriteria = "/v1/criteria/compile"
)

// Server is the HTTP front of one crm.Client.
type Server struct {
	client     *crm.Client
	scan       pagination.Options
	engine     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
}

// New builds the router and the http.Server. scan supplies the default page
// size and lane count for list and search requests.
func New(rootCtx context.Context, client *crm.Client, cfg config.ServerConfig, scan pagination.Options) *Server {
	s := &Server{
		client: client,
		scan:   scan,
		logger: log.With().Str("component", "server").Logger(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET(PathHealth, s.health)
	engine.GET(PathMetrics, gin.WrapH(metrics.Handler()))
	engine.POST(PathLookup, s.lookup)
	engine.PUT(PathRecords, s.update)
	engine.GET(PathRecords, s.list)
	engine.POST(PathSearch, s.search)
	engine.POST(PathCompileCriteria, s.compileCriteria)

	s.engine = engine
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Handler:      engine,
		BaseContext: func(net.Listener) context.Context {
			return rootCtx
		},
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves in the background until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("address", ln.Addr().String()).Msg("HTTP server listening")

	go func() {
		err := s.httpServer.Serve(ln)
		s.logger.Info().Err(err).Msg("HTTP server closed")
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
	}
}

type lookupRequest struct {
	IDs    []string `json:"ids" binding:"required"`
	Fields []string `json:"fields"`
}

type recordsRequest struct {
	Data []json.RawMessage `json:"data" binding:"required"`
}

type searchRequest struct {
	// Criteria runs one search.
	Criteria string `json:"criteria"`

	// Template with Records runs one search per planned chunk.
	Template string            `json:"template"`
	Records  []json.RawMessage `json:"records"`

	PerPage int `json:"per_page"`
	Lanes   int `json:"lanes"`
}

type compileRequest struct {
	Template string            `json:"template" binding:"required"`
	Records  []json.RawMessage `json:"records" binding:"required"`
}

type resultResponse struct {
	Success []api.Outcome `json:"success"`
	Fail    []api.Outcome `json:"fail"`
	Errors  []string      `json:"errors,omitempty"`
	Total   int           `json:"total"`
}

type compileResponse struct {
	Chunks      [][]string `json:"chunks"`
	Expressions []string   `json:"expressions"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"dispatcher": s.client.Stats(),
	})
}

func (s *Server) lookup(c *gin.Context) {
	var req lookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}

	var opts batch.LookupOptions
	if len(req.Fields) > 0 {
		opts.Params = url.Values{"fields": {strings.Join(req.Fields, ",")}}
	}

	res, err := s.client.Lookup(c.Request.Context(), c.Param("module"), req.IDs, opts, nil)
	s.respond(c, res, err)
}

func (s *Server) update(c *gin.Context) {
	var req recordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}
	records, err := decodeRecords(req.Data)
	if err != nil {
		invalidRequestForError(c, err)
		return
	}

	res, err := s.client.Update(c.Request.Context(), c.Param("module"), records, nil)
	s.respond(c, res, err)
}

func (s *Server) list(c *gin.Context) {
	opts := s.scan
	if v := c.Query("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			invalidRequestForError(c, err)
			return
		}
		opts.PerPage = n
	}
	if v := c.Query("lanes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			invalidRequestForError(c, err)
			return
		}
		opts.Lanes = n
	}
	if since := c.GetHeader("If-Modified-Since"); since != "" {
		opts.Headers = http.Header{"If-Modified-Since": []string{since}}
	}

	res, err := s.client.Scan(c.Request.Context(), c.Param("module"), opts, nil)
	s.respond(c, res, err)
}

func (s *Server) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}

	opts := s.scan
	if req.PerPage > 0 {
		opts.PerPage = req.PerPage
	}
	if req.Lanes > 0 {
		opts.Lanes = req.Lanes
	}

	module := c.Param("module")
	switch {
	case req.Criteria != "":
		res, err := s.client.Search(c.Request.Context(), module, req.Criteria, opts, nil)
		s.respond(c, res, err)
	case req.Template != "":
		records, err := decodeRecords(req.Records)
		if err != nil {
			invalidRequestForError(c, err)
			return
		}
		res, err := s.client.SearchEach(c.Request.Context(), module, records, req.Template, opts, nil)
		s.respond(c, res, err)
	default:
		invalidRequestForError(c, api.Validationf("criteria or template is required"))
	}
}

func (s *Server) compileCriteria(c *gin.Context) {
	var req compileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}
	records, err := decodeRecords(req.Records)
	if err != nil {
		invalidRequestForError(c, err)
		return
	}

	plan, err := s.client.CompileCriteria(records, req.Template)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, compileResponse{Chunks: plan, Expressions: plan.Expressions()})
}

func (s *Server) respond(c *gin.Context, res api.Result, err error) {
	if err != nil {
		s.respondError(c, err)
		return
	}

	out := resultResponse{
		Success: res.Success,
		Fail:    res.Fail,
		Total:   res.Total(),
	}
	if out.Success == nil {
		out.Success = []api.Outcome{}
	}
	if out.Fail == nil {
		out.Fail = []api.Outcome{}
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, api.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, dispatcher.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, errorResponse{Detail: err.Error()})
}

func decodeRecords(raw []json.RawMessage) ([]api.Record, error) {
	records := make([]api.Record, len(raw))
	for i, r := range raw {
		rec, err := api.DecodeRecord(r)
		if err != nil {
			return nil, api.Validationf("record %d: %v", i, err)
		}
		records[i] = rec
	}
	return records, nil
}

func invalidRequestSchema(c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorResponse{Detail: "invalid request schema"})
}

func invalidRequestForError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
}
