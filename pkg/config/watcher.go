// pkg/config/watcher.go
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher reloads the config file on change and hands validated snapshots to
// the registered callback. Rewrites that do not alter the file contents are
// skipped via a checksum compare, so editors that touch the file without
// changing it do not cause spurious rebinds.
type Watcher struct {
	path     string
	logger   *zap.Logger
	onChange func(*Config)

	mu       sync.Mutex
	checksum string
}

func NewWatcher(path string, logger *zap.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger,
		onChange: onChange,
	}
}

// Start begins watching the config file. It returns immediately; reloads are
// delivered on viper's watch goroutine.
func (w *Watcher) Start() error {
	sum, err := w.fileChecksum()
	if err != nil {
		return err
	}
	w.checksum = sum

	v := viper.New()
	v.SetConfigFile(w.path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		w.handleChange()
	})
	v.WatchConfig()

	w.logger.Info("config watcher started", zap.String("path", w.path))
	return nil
}

func (w *Watcher) handleChange() {
	sum, err := w.fileChecksum()
	if err != nil {
		w.logger.Error("failed to checksum config file", zap.Error(err))
		return
	}

	w.mu.Lock()
	if sum == w.checksum {
		w.mu.Unlock()
		return
	}
	w.checksum = sum
	w.mu.Unlock()

	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Error("config change rejected", zap.Error(err))
		return
	}

	w.logger.Info("config change detected", zap.String("checksum", sum))
	w.onChange(cfg)
}

func (w *Watcher) fileChecksum() (string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
