package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/internal/application/orchestrator"
	"github.com/aescanero/tenderflow/internal/application/workers"
	"github.com/aescanero/tenderflow/internal/knowledge"
	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// SubmitResponse represents an invocation submission response
type SubmitResponse struct {
	InvocationID string                 `json:"invocation_id"`
	WorkflowType string                 `json:"workflow_type"`
	Status       domain.ExecutionStatus `json:"status"`
	SubmittedAt  time.Time              `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ScanRequest selects the knowledge base to scan
type ScanRequest struct {
	Root string `json:"root"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":             "healthy",
		"timestamp":          time.Now().UTC(),
		"active_invocations": s.orchestrator.ActiveCount(),
	}
	if s.health != nil {
		pool := s.health.GetStatus()
		body["workers"] = pool
		if !pool.Healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
	}
	c.JSON(status, body)
}

// handleSubmit handles invocation submission
func (s *Server) handleSubmit(c *gin.Context) {
	var req orchestrator.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is required")
		}
		s.logger.Warn("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	record, err := s.orchestrator.Submit(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{
		InvocationID: record.ID,
		WorkflowType: record.WorkflowType,
		Status:       record.Status,
		SubmittedAt:  record.SubmittedAt,
	})
}

// handleList handles listing invocations
func (s *Server) handleList(c *gin.Context) {
	records, err := s.orchestrator.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invocations": records,
		"total":       len(records),
	})
}

// handleGet handles getting invocation details
func (s *Server) handleGet(c *gin.Context) {
	record, err := s.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleResult handles getting the result of a completed invocation
func (s *Server) handleResult(c *gin.Context) {
	id := c.Param("id")
	result, err := s.orchestrator.Result(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invocation_id": id,
		"result":        result,
	})
}

// handleReport renders the report of a completed invocation
func (s *Server) handleReport(c *gin.Context) {
	id := c.Param("id")
	title, sections, err := s.orchestrator.Report(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	body, err := s.renderer.Render(title, sections)
	if err != nil {
		s.writeError(c, fmt.Errorf("failed to render report: %w", err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".md"))
	c.Data(http.StatusOK, s.renderer.ContentType(), body)
}

// handleCancel handles invocation cancellation
func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")
	if err := s.orchestrator.Cancel(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invocation_id": id,
		"status":        domain.ExecutionStatusCancelled,
		"cancelled_at":  time.Now().UTC(),
	})
}

// handleKnowledgeScan refreshes a knowledge base index
func (s *Server) handleKnowledgeScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}
	res, err := s.knowledge.Scan(c.Request.Context(), req.Root)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleKnowledgeDocuments lists indexed documents
func (s *Server) handleKnowledgeDocuments(c *gin.Context) {
	root, docs, err := s.knowledge.Documents(c.Query("root"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"root":      root,
		"documents": docs,
		"total":     len(docs),
	})
}

// handleKnowledgeSearch runs a keyword search
func (s *Server) handleKnowledgeSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "query parameter q is required",
			},
		})
		return
	}
	topK := knowledge.DefaultTopK
	if raw := c.Query("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{
					Code:    "INVALID_REQUEST",
					Message: fmt.Sprintf("top_k must be a non-negative integer, got %q", raw),
				},
			})
			return
		}
		topK = n
	}

	results, err := s.knowledge.Search(c.Query("root"), query, topK)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": results,
	})
}

// handleKnowledgeClear drops a knowledge base index
func (s *Server) handleKnowledgeClear(c *gin.Context) {
	if err := s.knowledge.Clear(c.Query("root")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps service errors to HTTP responses
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, ports.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, orchestrator.ErrNotCompleted):
		status, code = http.StatusConflict, "NOT_COMPLETED"
	case errors.Is(err, orchestrator.ErrAlreadyTerminal):
		status, code = http.StatusConflict, "ALREADY_TERMINAL"
	case errors.Is(err, orchestrator.ErrNotLocal):
		status, code = http.StatusConflict, "NOT_LOCAL"
	case errors.Is(err, workers.ErrQueueFull):
		status, code = http.StatusServiceUnavailable, "QUEUE_FULL"
	case errors.Is(err, workers.ErrPoolClosed):
		status, code = http.StatusServiceUnavailable, "SHUTTING_DOWN"
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}
