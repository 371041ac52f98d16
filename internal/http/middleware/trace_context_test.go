package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/price-summarizer/internal/platform/ctxutil"
)

func TestAttachTraceContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/x", func(c *gin.Context) {
		td := ctxutil.GetTraceData(c.Request.Context())
		c.String(http.StatusOK, td.TraceID)
	})

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"explicit", map[string]string{headerTraceID: "abc", headerCloudTraceID: "zzz/1;o=1"}, "abc"},
		{"cloud trace", map[string]string{headerCloudTraceID: "105445aa7843bc8bf206b12000100000/1;o=1"}, "105445aa7843bc8bf206b12000100000"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Body.String() != tc.want {
			t.Fatalf("%s: want=%q got=%q", tc.name, tc.want, rec.Body.String())
		}
		if rec.Header().Get(headerTraceID) != tc.want {
			t.Fatalf("%s: response header: got=%q", tc.name, rec.Header().Get(headerTraceID))
		}
		if rec.Header().Get(headerRequestID) == "" {
			t.Fatalf("%s: missing request id header", tc.name)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if len(rec.Body.String()) != 36 {
		t.Fatalf("generated trace id: want uuid got=%q", rec.Body.String())
	}
}
