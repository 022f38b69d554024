package client

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/diegose/limitd-go/common"
)

// Client-side counters, exposable via metrics.WritePrometheus.
var (
	metricConnects    = metrics.NewCounter("limitd_client_connects_total")
	metricDisconnects = metrics.NewCounter("limitd_client_disconnects_total")
	metricTimeouts    = metrics.NewCounter("limitd_client_request_timeouts_total")
)

// metricRequests counts submitted requests per method
func metricRequests(m common.Method) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`limitd_client_requests_total{method=%q}`, m.String()))
}
