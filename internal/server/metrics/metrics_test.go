package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"netsparrow/pkg/model"
)

func TestDetectionOutcomes(t *testing.T) {
	m := New()
	m.Detection(&model.Detection{Pushed: true})
	m.Detection(&model.Detection{Pushed: true})
	m.Detection(&model.Detection{Exempt: true})
	m.Detection(&model.Detection{})

	if v := testutil.ToFloat64(m.detections.WithLabelValues("pushed")); v != 2 {
		t.Errorf("pushed=%v", v)
	}
	if v := testutil.ToFloat64(m.detections.WithLabelValues("exempt")); v != 1 {
		t.Errorf("exempt=%v", v)
	}
	if v := testutil.ToFloat64(m.detections.WithLabelValues("flagged")); v != 1 {
		t.Errorf("flagged=%v", v)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if v := testutil.ToFloat64(m.requests.WithLabelValues("/ping", "204")); v != 3 {
		t.Errorf("ping=%v", v)
	}
	if v := testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "404")); v != 1 {
		t.Errorf("unmatched=%v", v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), `netsparrow_http_requests_total{code="204",route="/ping"} 3`) {
		t.Fatalf("metrics body:\n%s", body)
	}
}
