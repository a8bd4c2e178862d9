package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kruthik-b-s/portfolio/internal/logger"
	"github.com/kruthik-b-s/portfolio/pkg/catalog"
	"github.com/kruthik-b-s/portfolio/pkg/export"
	"github.com/kruthik-b-s/portfolio/pkg/source"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	SQL string `json:"sql"`
}

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	QueryID  string           `json:"query_id"`
	Table    string           `json:"table"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// TableInfo describes one table in GET /tables.
type TableInfo struct {
	Name         string   `json:"name"`
	Columns      []string `json:"columns"`
	Rows         int      `json:"rows"`
	DefaultQuery string   `json:"default_query"`
}

var kindStatus = map[error]int{
	sql.ErrSyntaxInvalid:     http.StatusBadRequest,
	sql.ErrUnknownTable:      http.StatusBadRequest,
	sql.ErrUnknownColumn:     http.StatusBadRequest,
	sql.ErrMissingFromClause: http.StatusBadRequest,
	sql.ErrDuplicateAlias:    http.StatusBadRequest,
	sql.ErrUnsupported:       http.StatusBadRequest,
	sql.ErrMutationRejected:  http.StatusForbidden,
	sql.ErrEmptyResult:       http.StatusNotFound,
	sql.ErrSourceUnavailable: http.StatusBadGateway,
	sql.ErrMultiStatement:    http.StatusUnprocessableEntity,
}

// statusFor maps a query error to its HTTP status.
func statusFor(err error) int {
	var qe *sql.QueryError
	if errors.As(err, &qe) {
		if status, ok := kindStatus[qe.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "kind": "bad_request"})
		return
	}
	if req.SQL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sql is required", "kind": "bad_request"})
		return
	}

	res, err := s.execute(c.Request.Context(), req.SQL)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, QueryResponse{
		QueryID:  res.QueryID,
		Table:    res.PrimaryTable,
		Columns:  res.Columns,
		Rows:     res.Maps(),
		RowCount: len(res.Rows),
	})
}

func (s *Server) handleQueryCSV(c *gin.Context) {
	text := c.Query("sql")
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sql is required", "kind": "bad_request"})
		return
	}

	res, err := s.execute(c.Request.Context(), text)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(res, export.FormatCSV)))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("X-Query-ID", res.QueryID)
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, res); err != nil {
		s.logger.Warnw("csv write failed", logger.KeyQueryID, res.QueryID, "error", err)
	}
}

func (s *Server) handleTables(c *gin.Context) {
	registry := s.engine.Registry()
	tables := registry.Tables()

	counts, err := source.CountAll(c.Request.Context(), s.engine.Store(), tables)
	if err != nil {
		s.logger.Warnw("table count failed", "error", err)
	}

	out := make([]TableInfo, 0, len(tables))
	for _, name := range tables {
		cols, _ := registry.Columns(name)
		out = append(out, TableInfo{
			Name:         name,
			Columns:      cols,
			Rows:         counts[name],
			DefaultQuery: catalog.DefaultQuery(name),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tables": out})
}

func (s *Server) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queries": s.history.Entries()})
}

// execute runs text with the configured timeout and records it in history.
func (s *Server) execute(ctx context.Context, text string) (*sql.Result, error) {
	s.history.Add(text)
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}
	return s.engine.Execute(ctx, text)
}

func (s *Server) writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
		"kind":  sql.KindName(err),
	})
}
