package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/price-summarizer/internal/aggregate"
	"github.com/yungbote/price-summarizer/internal/convert"
	runrepo "github.com/yungbote/price-summarizer/internal/data/repos/runs"
	"github.com/yungbote/price-summarizer/internal/data/repos/testutil"
	"github.com/yungbote/price-summarizer/internal/domain/runs"
	"github.com/yungbote/price-summarizer/internal/events"
	"github.com/yungbote/price-summarizer/internal/http/response"
	"github.com/yungbote/price-summarizer/internal/pkg/dbctx"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

type stubConverter struct {
	got []events.ObjectRef
	out *convert.Outcome
	err error
}

func (s *stubConverter) Convert(_ context.Context, ref events.ObjectRef) (*convert.Outcome, error) {
	s.got = append(s.got, ref)
	if s.out == nil {
		return nil, s.err
	}
	out := *s.out
	out.Input = ref
	return &out, s.err
}

func eventRouter(conv Converter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewEventHandler(logger.Nop(), conv)
	r.POST("/events", h.Convert)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestEventHandlerSuccess(t *testing.T) {
	conv := &stubConverter{out: &convert.Outcome{
		StatusCode: http.StatusOK,
		Body:       "File processed successfully",
		Status:     convert.StatusSucceeded,
	}}
	rec := post(eventRouter(conv), "/events",
		`{"Records":[{"s3":{"bucket":{"name":"prices-input-dev"},"object":{"key":"2024/q1.csv"}}}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, conv.got, 1)
	assert.Equal(t, "prices-input-dev", conv.got[0].Bucket)
	assert.Equal(t, "2024/q1.csv", conv.got[0].Key)

	var out convert.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, "File processed successfully", out.Body)
}

func TestEventHandlerPassesFailureStatus(t *testing.T) {
	cause := fmt.Errorf("header: %w", aggregate.ErrMissingColumn)
	conv := &stubConverter{
		out: &convert.Outcome{StatusCode: http.StatusBadRequest, Body: cause.Error(), Status: convert.StatusFailed, Code: "missing_column"},
		err: cause,
	}
	rec := post(eventRouter(conv), "/events", `{"bucket":"prices-input-dev","key":"bad.csv"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"missing_column"`)
}

func TestEventHandlerRejectsUndecodableBody(t *testing.T) {
	conv := &stubConverter{}
	for _, body := range []string{"", "not json", `{"hello":"world"}`, `{"bucket":"b"}`} {
		rec := post(eventRouter(conv), "/events", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: want=%d got=%d", body, http.StatusBadRequest, rec.Code)
		}
		var env response.ErrorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("body %q: envelope: %v", body, err)
		}
		if env.Error.Code == "" {
			t.Fatalf("body %q: missing error code", body)
		}
	}
	if len(conv.got) != 0 {
		t.Fatalf("converter called for invalid bodies: %v", conv.got)
	}
}

func TestEventHandlerNilOutcome(t *testing.T) {
	conv := &stubConverter{err: errors.New("boom")}
	rec := post(eventRouter(conv), "/events", `{"bucket":"b","key":"k.csv"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: want=500 got=%d", rec.Code)
	}
}

func runRouter(repo runrepo.RunRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewRunHandler(repo)
	r.GET("/api/runs", h.ListRuns)
	r.GET("/api/runs/:id", h.GetRun)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRunHandlerLedgerDisabled(t *testing.T) {
	r := runRouter(nil)
	for _, p := range []string{"/api/runs", "/api/runs/" + uuid.NewString()} {
		if rec := get(r, p); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: want=404 got=%d", p, rec.Code)
		}
	}
}

func TestRunHandlerLookups(t *testing.T) {
	repo := runrepo.NewRunRepo(testutil.DB(t), testutil.Logger(t))
	dbc := dbctx.New(context.Background())
	run, err := repo.Create(dbc, &runs.ConversionRun{InputBucket: "prices-input-dev", InputKey: "a.csv", Source: "direct"})
	require.NoError(t, err)
	require.NoError(t, repo.MarkSucceeded(dbc, run.ID, runrepo.RunResult{OutputBucket: "prices-output-dev", OutputKey: "a.json", RowsRead: 3, RowsUsed: 3, Groups: 2}))

	r := runRouter(repo)

	rec := get(r, "/api/runs/"+run.ID.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var one struct {
		Run runs.ConversionRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, run.ID, one.Run.ID)
	assert.Equal(t, runs.RunStatusSucceeded, one.Run.Status)
	assert.Equal(t, "a.json", one.Run.OutputKey)

	rec = get(r, "/api/runs?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []runs.ConversionRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 1)

	assert.Equal(t, http.StatusNotFound, get(r, "/api/runs/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/runs/not-a-uuid").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/runs?limit=-1").Code)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler(map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"database": func(context.Context) error { return errors.New("down") },
	})
	r := gin.New()
	r.GET("/healthcheck", h.HealthCheck)
	r.GET("/readyz", h.Ready)

	rec := get(r, "/healthcheck")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthcheck: want=200 ok got=%d %q", rec.Code, rec.Body.String())
	}
	rec = get(r, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: want=503 got=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"database":"down"`) {
		t.Fatalf("readyz body: got=%s", rec.Body.String())
	}
}
