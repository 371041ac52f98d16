package convert

import (
	"context"
	"errors"
	"net/http"

	"github.com/yungbote/price-summarizer/internal/aggregate"
	"github.com/yungbote/price-summarizer/internal/events"
	"github.com/yungbote/price-summarizer/internal/platform/gcp"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

const successBody = "File processed successfully"

// Outcome is the handler result: a status code and body, plus what was done.
type Outcome struct {
	StatusCode int               `json:"statusCode"`
	Body       string            `json:"body"`
	Status     Status            `json:"status"`
	Code       string            `json:"code,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
	Input      events.ObjectRef  `json:"input"`
	Output     *events.ObjectRef `json:"output,omitempty"`
	ChartKey   string            `json:"chart_key,omitempty"`
	Stats      *aggregate.Stats  `json:"stats,omitempty"`
}

// Permanent reports a failure that retrying the same object cannot fix.
func (o *Outcome) Permanent() bool {
	return o != nil && o.StatusCode >= 400 && o.StatusCode < 500
}

// Classify maps a conversion error to an HTTP status and a stable error code.
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, aggregate.ErrMissingColumn):
		return http.StatusBadRequest, "missing_column"
	case errors.Is(err, aggregate.ErrUnreadable):
		return http.StatusBadRequest, "unreadable_input"
	case errors.Is(err, events.ErrUnsupportedEvent):
		return http.StatusBadRequest, "unsupported_event"
	case errors.Is(err, events.ErrMissingObject):
		return http.StatusBadRequest, "missing_object"
	case errors.Is(err, gcp.ErrObjectNotFound):
		return http.StatusNotFound, "object_not_found"
	case errors.Is(err, ErrOutputBucketUnresolved):
		return http.StatusInternalServerError, "output_bucket_unresolved"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "conversion_failed"
	}
}

func failedOutcome(ref events.ObjectRef, err error) *Outcome {
	code, errCode := Classify(err)
	return &Outcome{
		StatusCode: code,
		Body:       err.Error(),
		Status:     StatusFailed,
		Code:       errCode,
		Input:      ref,
	}
}
