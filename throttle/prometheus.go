package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Target SLO thresholds the usage signal is computed against.
const (
	targetCPU       = 0.70
	targetLatencyMs = 500.0
	targetErrorRate = 0.01
)

// PrometheusUsageSource queries CPU, P95 latency, and error-rate from a
// Prometheus server and folds them into a single 0..100 usage signal: the
// worst-case ratio of observed-to-target across the three metrics, scaled to
// a percentage.
type PrometheusUsageSource struct {
	client v1.API
}

// NewPrometheusUsageSource dials the given Prometheus server address.
func NewPrometheusUsageSource(address string) (*PrometheusUsageSource, error) {
	c, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("ratelimitcore: prometheus client: %w", err)
	}
	return &PrometheusUsageSource{client: v1.NewAPI(c)}, nil
}

func (p *PrometheusUsageSource) query(ctx context.Context, promQL string) (float64, error) {
	result, _, err := p.client.Query(ctx, promQL, time.Now())
	if err != nil {
		return 0, fmt.Errorf("ratelimitcore: prometheus query %q: %w", promQL, err)
	}
	if v, ok := result.(model.Vector); ok && len(v) > 0 {
		return float64(v[0].Value), nil
	}
	return 0, nil
}

const (
	cpuQuery     = `1 - avg(rate(node_cpu_seconds_total{mode="idle"}[5m]))`
	latencyQuery = `histogram_quantile(0.95, rate(http_request_duration_seconds_bucket[5m]))`
	errorQuery   = `sum(rate(http_requests_total{status_code=~"5.."}[5m])) / sum(rate(http_requests_total[5m]))`
)

// Usage implements UsageSource.
func (p *PrometheusUsageSource) Usage(ctx context.Context) (float64, error) {
	cpu, err := p.query(ctx, cpuQuery)
	if err != nil {
		return 0, err
	}
	latencySec, err := p.query(ctx, latencyQuery)
	if err != nil {
		return 0, err
	}
	errRate, err := p.query(ctx, errorQuery)
	if err != nil {
		return 0, err
	}

	latencyMs := latencySec * 1000.0
	ratios := []float64{
		cpu / targetCPU,
		latencyMs / targetLatencyMs,
		errRate / targetErrorRate,
	}

	worst := ratios[0]
	for _, r := range ratios[1:] {
		if r > worst {
			worst = r
		}
	}
	return clampUsage(worst * 100), nil
}
