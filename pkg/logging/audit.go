// pkg/logging/audit.go
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/events"
)

// AuditLogger is an event sink that appends every lifecycle event to a JSONL
// audit file and mirrors it to the structured logger. When audit is disabled
// only the structured log line is written.
type AuditLogger struct {
	logger  *zap.Logger
	file    *os.File
	enabled bool
	mu      sync.Mutex
}

func NewAuditLogger(cfg *config.AuditConfig, logger *zap.Logger) (*AuditLogger, error) {
	auditLogger := &AuditLogger{
		logger:  logger,
		enabled: cfg.Enabled,
	}

	if cfg.Enabled && cfg.Path != "" {
		file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		auditLogger.file = file
	}

	return auditLogger, nil
}

// Publish implements events.Sink.
func (al *AuditLogger) Publish(_ context.Context, evt events.Event) error {
	al.logger.Info("audit event",
		zap.String("event_type", evt.Type),
		zap.String("deployment_id", evt.DeploymentID),
		zap.String("flag_key", evt.FlagKey),
		zap.Time("event_time", evt.Timestamp))

	if al.file == nil {
		return nil
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	if _, err := al.file.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

func (al *AuditLogger) Close() error {
	if al.file != nil {
		return al.file.Close()
	}
	return nil
}
