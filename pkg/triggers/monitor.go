// pkg/triggers/monitor.go
package triggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/events"
	"github.com/releasegate/releasegate/pkg/metrics"
	"github.com/releasegate/releasegate/pkg/monitoring"
	"github.com/releasegate/releasegate/pkg/scheduler"
	"github.com/releasegate/releasegate/pkg/storage"
	"github.com/releasegate/releasegate/pkg/types"
)

// RollbackFunc starts a rollback for a deployment. Injected by the
// orchestrator so the monitor never depends on the executor directly.
type RollbackFunc func(ctx context.Context, deploymentID, reason string) error

type compiledTrigger struct {
	def   types.RollbackTrigger
	check conditionFunc
}

type watch struct {
	triggers []compiledTrigger
	states   map[string]*types.TriggerState
}

// Monitor polls deployment metrics against the configured rollback triggers.
// A violation must hold for the trigger's full duration window before the
// trigger trips; a single healthy poll in between clears the window. Each
// trigger trips at most once per attachment, and a trip stops polling for
// the deployment until Reset.
type Monitor struct {
	cfg        config.TriggersConfig
	automation config.AutomationConfig
	provider   metrics.Provider
	store      storage.Store
	sched      *scheduler.Scheduler
	bus        *events.Bus
	metrics    *monitoring.Metrics
	logger     *zap.Logger

	compiled     []compiledTrigger
	fetchTimeout time.Duration

	mu       sync.Mutex
	watches  map[string]*watch
	rollback RollbackFunc

	now func() time.Time
}

func NewMonitor(
	cfg config.TriggersConfig,
	automation config.AutomationConfig,
	fetchTimeout time.Duration,
	provider metrics.Provider,
	store storage.Store,
	sched *scheduler.Scheduler,
	bus *events.Bus,
	selfMetrics *monitoring.Metrics,
	logger *zap.Logger,
) (*Monitor, error) {
	var compiled []compiledTrigger
	for _, def := range cfg.Definitions {
		if !def.Enabled {
			continue
		}
		check, err := compileCondition(def)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger configuration: %w", err)
		}
		compiled = append(compiled, compiledTrigger{def: def, check: check})
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Monitor{
		cfg:          cfg,
		automation:   automation,
		provider:     provider,
		store:        store,
		sched:        sched,
		bus:          bus,
		metrics:      selfMetrics,
		logger:       logger,
		compiled:     compiled,
		fetchTimeout: fetchTimeout,
		watches:      make(map[string]*watch),
		now:          time.Now,
	}, nil
}

// SetRollbackFunc wires the rollback callback. Must be called before any
// trigger can trip automatically.
func (m *Monitor) SetRollbackFunc(fn RollbackFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollback = fn
}

// ApplyConfig rebinds the trigger definitions and automation settings on a
// hot reload. Existing violation windows are kept for triggers that survive
// the reload; triggers removed from the config stop being evaluated, and new
// ones start from a clean state. Tripped deployments stay tripped.
func (m *Monitor) ApplyConfig(ctx context.Context, cfg config.TriggersConfig, automation config.AutomationConfig) error {
	var compiled []compiledTrigger
	for _, def := range cfg.Definitions {
		if !def.Enabled {
			continue
		}
		check, err := compileCondition(def)
		if err != nil {
			return fmt.Errorf("invalid trigger configuration: %w", err)
		}
		compiled = append(compiled, compiledTrigger{def: def, check: check})
	}

	m.mu.Lock()
	m.cfg = cfg
	m.automation = automation
	m.compiled = compiled

	var added []*types.TriggerState
	reschedule := make([]string, 0, len(m.watches))
	for deploymentID, w := range m.watches {
		states := make(map[string]*types.TriggerState, len(compiled))
		tripped := false
		for _, ct := range compiled {
			st, exists := w.states[ct.def.Name]
			if !exists {
				st = &types.TriggerState{
					TriggerName:  ct.def.Name,
					DeploymentID: deploymentID,
				}
				cp := *st
				added = append(added, &cp)
			}
			if st.Triggered {
				tripped = true
			}
			states[ct.def.Name] = st
		}
		w.triggers = compiled
		w.states = states
		if !tripped {
			reschedule = append(reschedule, deploymentID)
		}
	}
	m.mu.Unlock()

	for _, st := range added {
		if err := m.store.SaveTriggerState(ctx, st); err != nil {
			return fmt.Errorf("failed to persist trigger state: %w", err)
		}
	}
	for _, deploymentID := range reschedule {
		m.schedule(deploymentID)
	}
	m.logger.Info("trigger configuration reloaded",
		zap.Int("triggers", len(compiled)),
		zap.Int("watched_deployments", len(reschedule)))
	return nil
}

// Attach starts trigger polling for a deployment. Persisted trigger states
// from a previous run are rehydrated, so attaching after a restart resumes
// partially accumulated violation windows. Attaching an already watched
// deployment is a no-op.
func (m *Monitor) Attach(ctx context.Context, deploymentID string) error {
	m.mu.Lock()
	if _, exists := m.watches[deploymentID]; exists {
		m.mu.Unlock()
		return nil
	}
	compiled := m.compiled
	m.mu.Unlock()

	persisted, err := m.store.ListTriggerStates(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("failed to load trigger states: %w", err)
	}
	byName := make(map[string]*types.TriggerState, len(persisted))
	for _, st := range persisted {
		byName[st.TriggerName] = st
	}

	w := &watch{
		triggers: compiled,
		states:   make(map[string]*types.TriggerState, len(compiled)),
	}
	tripped := false
	for _, ct := range compiled {
		st, exists := byName[ct.def.Name]
		if !exists {
			st = &types.TriggerState{
				TriggerName:  ct.def.Name,
				DeploymentID: deploymentID,
			}
			if err := m.store.SaveTriggerState(ctx, st); err != nil {
				return fmt.Errorf("failed to persist trigger state: %w", err)
			}
		}
		if st.Triggered {
			tripped = true
		}
		w.states[ct.def.Name] = st
	}

	m.mu.Lock()
	m.watches[deploymentID] = w
	m.mu.Unlock()

	if !tripped {
		m.schedule(deploymentID)
	}
	m.logger.Info("triggers attached",
		zap.String("deployment_id", deploymentID),
		zap.Int("triggers", len(compiled)),
		zap.Bool("already_tripped", tripped))
	return nil
}

// Detach stops polling and discards the deployment's trigger states.
func (m *Monitor) Detach(ctx context.Context, deploymentID string) error {
	m.mu.Lock()
	_, exists := m.watches[deploymentID]
	delete(m.watches, deploymentID)
	m.mu.Unlock()
	if !exists {
		return nil
	}

	m.sched.Cancel(taskID(deploymentID))
	if err := m.store.DeleteTriggerStates(ctx, deploymentID); err != nil {
		return fmt.Errorf("failed to delete trigger states: %w", err)
	}
	m.logger.Info("triggers detached", zap.String("deployment_id", deploymentID))
	return nil
}

// Reset clears every trigger state for the deployment and resumes polling.
// Called after a successful rollback so the deployment is watched again.
func (m *Monitor) Reset(ctx context.Context, deploymentID string) error {
	m.mu.Lock()
	w, exists := m.watches[deploymentID]
	if !exists {
		m.mu.Unlock()
		return storage.ErrNotFound
	}
	snapshots := make([]*types.TriggerState, 0, len(w.states))
	for _, st := range w.states {
		st.Triggered = false
		st.FirstViolation = nil
		st.ViolationCount = 0
		cp := *st
		snapshots = append(snapshots, &cp)
	}
	m.mu.Unlock()

	for _, st := range snapshots {
		if err := m.store.SaveTriggerState(ctx, st); err != nil {
			return fmt.Errorf("failed to persist trigger state: %w", err)
		}
	}
	m.schedule(deploymentID)
	m.logger.Info("triggers reset", zap.String("deployment_id", deploymentID))
	return nil
}

// Status returns copies of the deployment's trigger states, in configured
// trigger order.
func (m *Monitor) Status(deploymentID string) ([]types.TriggerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, exists := m.watches[deploymentID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := make([]types.TriggerState, 0, len(w.triggers))
	for _, ct := range w.triggers {
		if st, ok := w.states[ct.def.Name]; ok {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (m *Monitor) schedule(deploymentID string) {
	m.mu.Lock()
	interval := m.cfg.PollInterval
	m.mu.Unlock()
	m.sched.Schedule(taskID(deploymentID), interval, func(ctx context.Context) {
		m.pollOne(ctx, deploymentID)
	})
}

// pollOne runs one evaluation cycle for a deployment. A metrics fetch
// failure skips the cycle entirely without clearing accumulated violation
// windows; absence of data is not evidence of health.
func (m *Monitor) pollOne(ctx context.Context, deploymentID string) {
	m.mu.Lock()
	_, exists := m.watches[deploymentID]
	m.mu.Unlock()
	if !exists {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	snapshot, err := m.provider.FetchMetrics(fetchCtx, deploymentID)
	cancel()
	if err != nil {
		m.metrics.RecordMetricsFetchError("triggers")
		m.logger.Warn("metrics fetch failed, skipping trigger poll",
			zap.String("deployment_id", deploymentID),
			zap.Error(err))
		return
	}

	now := m.now()

	m.mu.Lock()
	w, exists := m.watches[deploymentID]
	if !exists {
		m.mu.Unlock()
		return
	}

	var changed []*types.TriggerState
	var tripped []compiledTrigger
	var trippedValues []float64
	for _, ct := range w.triggers {
		st := w.states[ct.def.Name]
		if st == nil || st.Triggered {
			continue
		}
		m.metrics.RecordTriggerPoll(ct.def.Name)

		violated, value, err := ct.check(snapshot)
		if err != nil {
			m.logger.Warn("trigger condition evaluation failed",
				zap.String("deployment_id", deploymentID),
				zap.String("trigger", ct.def.Name),
				zap.Error(err))
			continue
		}

		st.LastValue = value
		st.LastChecked = now

		if !violated {
			st.FirstViolation = nil
			st.ViolationCount = 0
		} else {
			if st.FirstViolation == nil {
				first := now
				st.FirstViolation = &first
				st.ViolationCount = 1
			} else {
				st.ViolationCount++
			}
			m.metrics.RecordTriggerViolation(ct.def.Name)

			if now.Sub(*st.FirstViolation) >= ct.def.Duration {
				st.Triggered = true
				tripped = append(tripped, ct)
				trippedValues = append(trippedValues, value)
			}
		}
		cp := *st
		changed = append(changed, &cp)
	}
	m.mu.Unlock()

	for _, st := range changed {
		if err := m.store.SaveTriggerState(ctx, st); err != nil {
			m.logger.Error("failed to persist trigger state",
				zap.String("deployment_id", deploymentID),
				zap.String("trigger", st.TriggerName),
				zap.Error(err))
		}
	}

	if len(tripped) == 0 {
		return
	}

	// Cancelling the task also cancels the context this callback runs
	// under, so the post-trip work needs one that outlives the task.
	handoff := context.WithoutCancel(ctx)
	m.sched.Cancel(taskID(deploymentID))
	for i, ct := range tripped {
		m.metrics.RecordTriggerTrip(ct.def.Name)
		m.bus.Emit(events.Event{
			Type:         events.TypeTriggerActivated,
			DeploymentID: deploymentID,
			Metadata: map[string]interface{}{
				"trigger":   ct.def.Name,
				"type":      ct.def.Type,
				"value":     trippedValues[i],
				"threshold": ct.def.Threshold,
			},
		})
		m.logger.Warn("rollback trigger activated",
			zap.String("deployment_id", deploymentID),
			zap.String("trigger", ct.def.Name),
			zap.Float64("value", trippedValues[i]),
			zap.Float64("threshold", ct.def.Threshold))
	}

	reason := "trigger:" + tripped[0].def.Name

	m.mu.Lock()
	rollback := m.rollback
	automation := m.automation
	m.mu.Unlock()

	if automation.Enabled && !automation.ApprovalRequired && rollback != nil {
		if err := rollback(handoff, deploymentID, reason); err != nil {
			m.logger.Error("automatic rollback failed",
				zap.String("deployment_id", deploymentID),
				zap.String("reason", reason),
				zap.Error(err))
		}
		return
	}

	m.bus.Emit(events.Event{
		Type:         events.TypeManualInterventionRequired,
		DeploymentID: deploymentID,
		Metadata: map[string]interface{}{
			"reason": reason,
		},
	})
	m.logger.Warn("manual intervention required",
		zap.String("deployment_id", deploymentID),
		zap.String("reason", reason))
}

func taskID(deploymentID string) string {
	return "triggers/" + deploymentID
}
