// pkg/metrics/static.go
package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/releasegate/releasegate/pkg/types"
)

// StaticProvider serves scripted snapshots. Used by tests and the dev config
// profile; Queue lets a test play a sequence of snapshots, with the last one
// sticking.
type StaticProvider struct {
	mu      sync.Mutex
	current map[string]*types.DeploymentMetrics
	queues  map[string][]*types.DeploymentMetrics
	errs    map[string]error
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		current: make(map[string]*types.DeploymentMetrics),
		queues:  make(map[string][]*types.DeploymentMetrics),
		errs:    make(map[string]error),
	}
}

// Set pins the snapshot returned for a deployment.
func (p *StaticProvider) Set(deploymentID string, m *types.DeploymentMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current[deploymentID] = m
	delete(p.errs, deploymentID)
}

// Queue appends snapshots to be returned one per fetch, in order. When the
// queue drains the last snapshot sticks.
func (p *StaticProvider) Queue(deploymentID string, snapshots ...*types.DeploymentMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[deploymentID] = append(p.queues[deploymentID], snapshots...)
	delete(p.errs, deploymentID)
}

// Fail makes every fetch for the deployment return err until Set or Queue is
// called again.
func (p *StaticProvider) Fail(deploymentID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[deploymentID] = err
}

func (p *StaticProvider) FetchMetrics(_ context.Context, deploymentID string) (*types.DeploymentMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.errs[deploymentID]; ok {
		return nil, err
	}
	if queue := p.queues[deploymentID]; len(queue) > 0 {
		next := queue[0]
		p.queues[deploymentID] = queue[1:]
		p.current[deploymentID] = next
		return next, nil
	}
	if m, ok := p.current[deploymentID]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("no metrics configured for deployment %s", deploymentID)
}
