package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	runrepo "github.com/yungbote/price-summarizer/internal/data/repos/runs"
	"github.com/yungbote/price-summarizer/internal/http/response"
	"github.com/yungbote/price-summarizer/internal/pkg/dbctx"
	"github.com/yungbote/price-summarizer/internal/platform/apierr"
)

var errLedgerDisabled = errors.New("run ledger is not configured")

// RunHandler serves the conversion run ledger. A nil repo answers 404.
type RunHandler struct {
	runs runrepo.RunRepo
}

func NewRunHandler(runs runrepo.RunRepo) *RunHandler {
	return &RunHandler{runs: runs}
}

// GET /api/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	if h.runs == nil {
		response.RespondAPIError(c, apierr.NotFound("ledger_disabled", errLedgerDisabled))
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid_run_id", err))
		return
	}
	run, err := h.runs.GetByID(dbctx.New(c.Request.Context()), id)
	if errors.Is(err, runrepo.ErrRunNotFound) {
		response.RespondAPIError(c, apierr.NotFound("run_not_found", err))
		return
	}
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

// GET /api/runs?limit=
func (h *RunHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		response.RespondAPIError(c, apierr.NotFound("ledger_disabled", errLedgerDisabled))
		return
	}
	limit := runrepo.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.RespondAPIError(c, apierr.BadRequest("invalid_limit", errors.New("limit must be a positive integer")))
			return
		}
		limit = n
	}
	list, err := h.runs.ListRecent(dbctx.New(c.Request.Context()), limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"runs": list})
}
