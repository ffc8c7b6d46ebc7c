// pkg/metrics/provider.go
package metrics

import (
	"context"

	"github.com/releasegate/releasegate/pkg/types"
)

// Provider supplies point-in-time deployment health snapshots. FetchMetrics
// must be cheap enough to call on every poll cycle and idempotent; callers
// always bound it with a timeout.
type Provider interface {
	FetchMetrics(ctx context.Context, deploymentID string) (*types.DeploymentMetrics, error)
}
