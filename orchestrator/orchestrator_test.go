// orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/actions"
	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/events"
	"github.com/releasegate/releasegate/pkg/metrics"
	"github.com/releasegate/releasegate/pkg/storage"
	"github.com/releasegate/releasegate/pkg/types"
)

type controllerFixture struct {
	ctrl     *Controller
	store    storage.Store
	provider *metrics.StaticProvider
	runner   *actions.RecordingExecutor
	actuator *actions.RecordingActuator
	bus      *events.Bus
	sink     *events.MemorySink
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: "0"},
		Logging: config.LoggingConfig{Level: "info", Path: "stderr"},
		Storage: config.StorageConfig{Type: "memory"},
		Metrics: config.MetricsConfig{Provider: "static", FetchTimeout: 2 * time.Second},
		Rollout: config.RolloutConfig{
			InitialPercentage: 5,
			IncrementInterval: time.Hour,
			Criteria: types.SuccessCriteria{
				MaxErrorRate:        5,
				MaxResponseTime:     500,
				MinConversionRate:   1,
				MinUserSatisfaction: 3,
			},
		},
		Triggers: config.TriggersConfig{
			PollInterval: 20 * time.Millisecond,
			Definitions: []types.RollbackTrigger{{
				Name:      "high-error-rate",
				Type:      types.TriggerTypeErrorRate,
				Threshold: 5,
				Enabled:   true,
			}},
		},
		Automation: config.AutomationConfig{Enabled: true, MaxAttempts: 2},
		Rollback: config.RollbackConfig{
			Strategy:    types.StrategyImmediate,
			Steps:       []types.RollbackStep{{Name: "restore_traffic", Action: "restore_traffic"}},
			StepTimeout: time.Minute,
		},
		Actions: config.ActionsConfig{Timeout: time.Second},
		Events:  config.EventsConfig{BufferSize: 64},
	}
}

func newControllerFixture(t *testing.T, cfg *config.Config) *controllerFixture {
	t.Helper()
	logger := zap.NewNop()
	f := &controllerFixture{
		store:    storage.NewMemoryStore(),
		provider: metrics.NewStaticProvider(),
		runner:   actions.NewRecordingExecutor(),
		actuator: actions.NewRecordingActuator(),
		sink:     events.NewMemorySink(),
	}
	f.bus = events.NewBus(64, logger, f.sink)

	ctrl, err := New(cfg, f.store, f.provider, f.runner, f.actuator, f.bus, nil, logger)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(func() { ctrl.sched.Stop() })

	f.ctrl = ctrl
	return f
}

func TestRegisterDeploymentCreatesRolloutAndWatches(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	ctx := context.Background()
	f.provider.Set("dep-1", &types.DeploymentMetrics{ErrorRate: 0.1})

	dep := &types.Deployment{ID: "dep-1", App: "checkout", Version: "v2", FlagKeys: []string{"checkout-v2"}}
	require.NoError(t, f.ctrl.RegisterDeployment(ctx, dep))

	got, err := f.ctrl.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusActive, got.Status)
	assert.NotEmpty(t, got.Events)

	state, err := f.ctrl.RolloutStatusByFlag("checkout-v2")
	require.NoError(t, err)
	assert.Equal(t, types.RolloutStatusActive, state.Status)
	assert.Equal(t, 5.0, state.CurrentPercentage)

	states, err := f.ctrl.TriggerStatus("dep-1")
	require.NoError(t, err)
	assert.Len(t, states, 1)

	require.Error(t, f.ctrl.RegisterDeployment(ctx, dep), "duplicate ids are rejected")
}

func TestTrippedTriggerRollsBackAndResets(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	ctx := context.Background()

	// First poll sees the violation; everything after the rollback is healthy.
	f.provider.Queue("dep-1",
		&types.DeploymentMetrics{ErrorRate: 20},
		&types.DeploymentMetrics{ErrorRate: 0.1})

	dep := &types.Deployment{ID: "dep-1", App: "checkout", Version: "v2", FlagKeys: []string{"checkout-v2"}}
	require.NoError(t, f.ctrl.RegisterDeployment(ctx, dep))

	require.Eventually(t, func() bool {
		got, err := f.ctrl.GetDeployment(ctx, "dep-1")
		return err == nil && got.Status == types.DeploymentStatusRolledBack
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"restore_traffic"}, f.runner.Calls())

	// The rollout was reverted and the flag fully disabled.
	state, err := f.ctrl.RolloutStatusByFlag("checkout-v2")
	require.NoError(t, err)
	assert.Equal(t, types.RolloutStatusReverted, state.Status)
	assert.Equal(t, 0.0, state.CurrentPercentage)

	flag, err := f.ctrl.GetFlag("checkout-v2")
	require.NoError(t, err)
	assert.Equal(t, 0.0, flag.RolloutPercentage)

	// Triggers were reset and are polling again.
	require.Eventually(t, func() bool {
		states, err := f.ctrl.TriggerStatus("dep-1")
		return err == nil && len(states) == 1 && !states[0].Triggered
	}, 5*time.Second, 10*time.Millisecond)

	execs, err := f.ctrl.RollbackHistory(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, types.ExecutionStatusCompleted, execs[0].Status)
	assert.Equal(t, "trigger:high-error-rate", execs[0].Reason)
}

func TestManualRollback(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	ctx := context.Background()
	f.provider.Set("dep-1", &types.DeploymentMetrics{ErrorRate: 0.1})

	dep := &types.Deployment{ID: "dep-1", App: "checkout", Version: "v2"}
	require.NoError(t, f.ctrl.RegisterDeployment(ctx, dep))

	exec, err := f.ctrl.TriggerRollback(ctx, "dep-1", "")
	require.NoError(t, err)
	assert.Equal(t, "manual", exec.Reason)
	assert.Equal(t, types.ExecutionStatusCompleted, exec.Status)

	got, err := f.ctrl.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStatusRolledBack, got.Status)
}

func TestFlagLifecycleThroughController(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	ctx := context.Background()

	flag := &types.FeatureFlag{
		Key:  "standalone",
		Name: "Standalone flag",
		Variations: []types.Variation{
			{Key: "on", Value: true},
			{Key: "off", Value: false},
		},
		Fallthrough:      types.Fallthrough{Variation: "on"},
		DefaultVariation: "off",
	}
	require.NoError(t, f.ctrl.CreateFlag(ctx, flag))

	result, err := f.ctrl.EvaluateFlag("standalone", &types.EvalContext{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "on", result.Variation)

	assert.Len(t, f.ctrl.ListFlags(), 1)
	require.NoError(t, f.ctrl.DeleteFlag(ctx, "standalone"))
	_, err = f.ctrl.GetFlag("standalone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStartFailsOverInterruptedRollbacks(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveDeployment(ctx, &types.Deployment{
		ID: "dep-1", App: "checkout", Version: "v2", Status: types.DeploymentStatusActive,
	}))
	require.NoError(t, store.SaveExecution(ctx, &types.RollbackExecution{
		ID: "e1", DeploymentID: "dep-1", Status: types.ExecutionStatusInProgress,
	}))

	logger := zap.NewNop()
	sink := events.NewMemorySink()
	bus := events.NewBus(64, logger, sink)
	ctrl, err := New(testConfig(), store, metrics.NewStaticProvider(),
		actions.NewRecordingExecutor(), actions.NewRecordingActuator(), bus, nil, logger)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))
	t.Cleanup(ctrl.sched.Stop)

	exec, err := store.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, exec.Status)
	assert.NotNil(t, exec.EndTime)

	require.NoError(t, bus.Close())
	assert.Len(t, sink.ByType(events.TypeManualInterventionRequired), 1)
}
