package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/price-summarizer/internal/convert"
	"github.com/yungbote/price-summarizer/internal/events"
	"github.com/yungbote/price-summarizer/internal/http/response"
	"github.com/yungbote/price-summarizer/internal/platform/apierr"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

// Converter is the part of *convert.Converter the handlers need.
type Converter interface {
	Convert(ctx context.Context, ref events.ObjectRef) (*convert.Outcome, error)
}

type EventHandler struct {
	log  *logger.Logger
	conv Converter
}

func NewEventHandler(log *logger.Logger, conv Converter) *EventHandler {
	return &EventHandler{
		log:  log.With("handler", "EventHandler"),
		conv: conv,
	}
}

// POST /events
// POST /api/convert
func (h *EventHandler) Convert(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondAPIError(c, apierr.New(http.StatusRequestEntityTooLarge, "body_too_large", err))
			return
		}
		response.RespondAPIError(c, apierr.BadRequest("read_body_failed", err))
		return
	}

	ref, err := events.Decode(body)
	if err != nil {
		status, code := convert.Classify(err)
		h.log.Warn("rejected notification", "code", code, "error", err)
		response.RespondAPIError(c, apierr.New(status, code, err))
		return
	}

	out, err := h.conv.Convert(c.Request.Context(), ref)
	if out == nil {
		response.RespondAPIError(c, err)
		return
	}
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(out.StatusCode, out)
}
