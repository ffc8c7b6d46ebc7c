// pkg/actions/webhook.go
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/config"
)

// WebhookExecutor POSTs rollback actions to an external executor endpoint.
// Calls run behind a circuit breaker so a dead collaborator fails fast
// instead of burning the step retry budget on connection timeouts.
type WebhookExecutor struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewWebhookExecutor(cfg *config.ActionsConfig, logger *zap.Logger) *WebhookExecutor {
	return &WebhookExecutor{
		url:     cfg.ExecutorURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker("action-executor"),
		logger:  logger,
	}
}

func (e *WebhookExecutor) RunAction(ctx context.Context, action string, timeout time.Duration) error {
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"action": action})
	if err != nil {
		return fmt.Errorf("failed to marshal action payload: %w", err)
	}

	_, err = e.breaker.Execute(func() (interface{}, error) {
		return nil, postJSON(actionCtx, e.client, e.url, payload)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Action: action, Timeout: timeout}
		}
		return fmt.Errorf("action %s failed: %w", action, err)
	}

	e.logger.Info("action executed", zap.String("action", action))
	return nil
}

// WebhookActuator POSTs traffic weight changes to the load balancer / CDN
// integration endpoint.
type WebhookActuator struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewWebhookActuator(cfg *config.ActionsConfig, logger *zap.Logger) *WebhookActuator {
	return &WebhookActuator{
		url:     cfg.ActuatorURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker("traffic-actuator"),
		logger:  logger,
	}
}

func (a *WebhookActuator) ShiftTraffic(ctx context.Context, deploymentID string, percentage float64) error {
	payload, err := json.Marshal(map[string]interface{}{
		"deploymentId": deploymentID,
		"percentage":   percentage,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal traffic payload: %w", err)
	}

	_, err = a.breaker.Execute(func() (interface{}, error) {
		return nil, postJSON(ctx, a.client, a.url, payload)
	})
	if err != nil {
		return fmt.Errorf("traffic shift to %.0f%% failed for %s: %w", percentage, deploymentID, err)
	}

	a.logger.Info("traffic shifted",
		zap.String("deployment_id", deploymentID),
		zap.Float64("percentage", percentage))
	return nil
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
