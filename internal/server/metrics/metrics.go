package metrics

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netsparrow/pkg/model"
)

// Metrics 使用独立的 Registry，同一进程里可以创建多个（测试里每个 router 一个）。
type Metrics struct {
	reg        *prometheus.Registry
	requests   *prometheus.CounterVec
	detections *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netsparrow",
			Name:      "http_requests_total",
			Help:      "按路由和状态码统计的 HTTP 请求数。",
		}, []string{"route", "code"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netsparrow",
			Name:      "detections_stored_total",
			Help:      "写入数据库的检测记录数。",
		}, []string{"outcome"}),
	}
	m.reg.MustRegister(m.requests, m.detections)
	return m
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Detection 记录一条已入库的检测。
func (m *Metrics) Detection(d *model.Detection) {
	outcome := "flagged"
	switch {
	case d.Exempt:
		outcome = "exempt"
	case d.Pushed:
		outcome = "pushed"
	}
	m.detections.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
