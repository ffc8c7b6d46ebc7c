// pkg/metrics/prometheus.go
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/types"
)

const queryTimeout = 10 * time.Second

// PrometheusProvider builds deployment snapshots from PromQL queries, one per
// configured metric name. Snapshots are cached briefly so the rollout engine
// and trigger monitor polling the same deployment do not double-query.
type PrometheusProvider struct {
	api     v1.API
	queries map[string]string
	cache   *cache.Cache
	logger  *zap.Logger
}

func NewPrometheusProvider(cfg *config.PrometheusConfig, logger *zap.Logger) (*PrometheusProvider, error) {
	client, err := api.NewClient(api.Config{Address: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}

	return &PrometheusProvider{
		api:     v1.NewAPI(client),
		queries: cfg.Queries,
		cache:   cache.New(ttl, 2*ttl),
		logger:  logger,
	}, nil
}

func (p *PrometheusProvider) FetchMetrics(ctx context.Context, deploymentID string) (*types.DeploymentMetrics, error) {
	if cached, found := p.cache.Get(deploymentID); found {
		return cached.(*types.DeploymentMetrics), nil
	}

	snapshot := &types.DeploymentMetrics{
		DeploymentID: deploymentID,
		CollectedAt:  time.Now(),
		Custom:       make(map[string]float64),
	}

	for name, template := range p.queries {
		query := strings.ReplaceAll(template, "{{deployment}}", deploymentID)
		value, err := p.queryScalar(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", name, err)
		}
		setMetric(snapshot, name, value)
	}

	p.cache.Set(deploymentID, snapshot, cache.DefaultExpiration)
	return snapshot, nil
}

func (p *PrometheusProvider) queryScalar(ctx context.Context, query string) (float64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, warnings, err := p.api.Query(queryCtx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("prometheus query failed: %w", err)
	}
	if len(warnings) > 0 {
		p.logger.Warn("prometheus query warnings", zap.String("query", query), zap.Strings("warnings", warnings))
	}

	switch result.Type() {
	case model.ValVector:
		vector := result.(model.Vector)
		if len(vector) == 0 {
			return 0, fmt.Errorf("no data returned for query: %s", query)
		}
		return float64(vector[0].Value), nil
	case model.ValScalar:
		scalar := result.(*model.Scalar)
		return float64(scalar.Value), nil
	default:
		return 0, fmt.Errorf("unsupported result type: %s", result.Type())
	}
}

func setMetric(snapshot *types.DeploymentMetrics, name string, value float64) {
	switch name {
	case "error_rate":
		snapshot.ErrorRate = value
	case "response_time":
		snapshot.ResponseTime = value
	case "throughput":
		snapshot.Throughput = value
	case "availability":
		snapshot.Availability = value
	case "conversion_rate":
		snapshot.Business.ConversionRate = value
	case "user_satisfaction":
		snapshot.Business.UserSatisfaction = value
	case "p50_latency":
		snapshot.Performance.P50Latency = value
	case "p95_latency":
		snapshot.Performance.P95Latency = value
	case "p99_latency":
		snapshot.Performance.P99Latency = value
	case "cpu_utilization":
		snapshot.Performance.CPUUtilization = value
	case "memory_utilization":
		snapshot.Performance.MemoryUtilization = value
	default:
		snapshot.Custom[name] = value
	}
}
