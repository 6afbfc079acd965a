package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Veraticus/factorflow/internal/common"
	"github.com/Veraticus/factorflow/internal/service"
	"github.com/gin-gonic/gin"
)

type createBatchRequest struct {
	Scope            string `json:"scope"`
	Selector         string `json:"selector"`
	Source           string `json:"source"`
	ConcurrencyLimit int    `json:"concurrencyLimit"`
}

// CreateBatch runs a batch for one account and returns its summary.
// The status is 200 when every record succeeded and 207 otherwise.
func (s *Server) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: malformed request body", common.ErrInvalidInput))
		return
	}

	scope := strings.TrimSpace(req.Scope)
	if scope == "" {
		AbortWithError(c, fmt.Errorf("%w: scope is required", common.ErrInvalidInput))
		return
	}
	if req.ConcurrencyLimit < 0 {
		AbortWithError(c, fmt.Errorf("%w: concurrencyLimit must not be negative", common.ErrInvalidInput))
		return
	}
	kind, err := service.ParseSelectorKind(req.Selector)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	run, err := s.runner.RunBatch(c.Request.Context(), service.RecordSelector{
		AccountID: scope,
		Source:    strings.TrimSpace(req.Source),
		Kind:      kind,
	}, req.ConcurrencyLimit)
	if err != nil {
		s.logger.Error("batch aborted", "scope", scope, "error", err)
		AbortWithError(c, err)
		return
	}

	run.SortDetails()
	status := http.StatusOK
	if run.Failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, run)
}
