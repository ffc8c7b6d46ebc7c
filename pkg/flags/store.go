// pkg/flags/store.go
package flags

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/storage"
	"github.com/releasegate/releasegate/pkg/types"
)

// The two variations a rollout flag carries: "enabled" exposes the release,
// "control" holds users back.
const (
	VariationEnabled = "enabled"
	VariationControl = "control"
)

// Store is the in-memory flag arena backed by the durable state store.
// Reads are served from memory with copy-out semantics; writes go to the
// backing store first.
type Store struct {
	mu      sync.RWMutex
	flags   map[string]*types.FeatureFlag
	backing storage.Store
	logger  *zap.Logger
}

func NewStore(backing storage.Store, logger *zap.Logger) *Store {
	return &Store{
		flags:   make(map[string]*types.FeatureFlag),
		backing: backing,
		logger:  logger,
	}
}

// Load hydrates the arena from the backing store.
func (s *Store) Load(ctx context.Context) error {
	flags, err := s.backing.ListFlags(ctx)
	if err != nil {
		return fmt.Errorf("failed to load flags: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, flag := range flags {
		s.flags[flag.Key] = flag
	}
	s.logger.Info("flag store loaded", zap.Int("flags", len(flags)))
	return nil
}

// Create stores a new flag. It fails when the key already exists.
func (s *Store) Create(ctx context.Context, flag *types.FeatureFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flags[flag.Key]; exists {
		return fmt.Errorf("flag %s already exists", flag.Key)
	}
	now := time.Now()
	flag.CreatedAt = now
	flag.UpdatedAt = now
	if err := s.backing.SaveFlag(ctx, flag); err != nil {
		return err
	}
	s.flags[flag.Key] = copyFlag(flag)
	return nil
}

// Get returns a copy of the flag.
func (s *Store) Get(key string) (*types.FeatureFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flag, exists := s.flags[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyFlag(flag), nil
}

// List returns copies of all flags.
func (s *Store) List() []*types.FeatureFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*types.FeatureFlag
	for _, flag := range s.flags {
		result = append(result, copyFlag(flag))
	}
	return result
}

// Update applies mutate to the flag under the store lock, then persists.
// The whole read-modify-write is atomic with respect to other updates.
func (s *Store) Update(ctx context.Context, key string, mutate func(*types.FeatureFlag) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag, exists := s.flags[key]
	if !exists {
		return storage.ErrNotFound
	}
	updated := copyFlag(flag)
	if err := mutate(updated); err != nil {
		return err
	}
	updated.UpdatedAt = time.Now()
	if err := s.backing.SaveFlag(ctx, updated); err != nil {
		return err
	}
	s.flags[key] = updated
	return nil
}

// Delete removes the flag from the arena and the backing store.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flags[key]; !exists {
		return storage.ErrNotFound
	}
	if err := s.backing.DeleteFlag(ctx, key); err != nil {
		return err
	}
	delete(s.flags, key)
	return nil
}

// SetRolloutPercentage atomically rewrites the flag's fallthrough weights to
// expose pct percent of traffic on the enabled variation.
func (s *Store) SetRolloutPercentage(ctx context.Context, key string, pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("rollout percentage %v out of range", pct)
	}
	return s.Update(ctx, key, func(flag *types.FeatureFlag) error {
		flag.RolloutPercentage = pct
		flag.Fallthrough.Rollout = &types.WeightedRollout{
			Variations: []types.WeightedVariation{
				{Variation: VariationEnabled, Weight: pct},
				{Variation: VariationControl, Weight: 100 - pct},
			},
		}
		return nil
	})
}

// Evaluate resolves a flag for the given context.
func (s *Store) Evaluate(key string, evalCtx *types.EvalContext) (Result, error) {
	s.mu.RLock()
	flag, exists := s.flags[key]
	s.mu.RUnlock()
	if !exists {
		return Result{}, storage.ErrNotFound
	}
	return Evaluate(flag, evalCtx), nil
}

// NewRolloutFlag builds the canonical two-variation flag a progressive
// rollout drives, starting at initialPct exposure.
func NewRolloutFlag(key, name, environment string, initialPct float64) *types.FeatureFlag {
	return &types.FeatureFlag{
		Key:  key,
		Name: name,
		Variations: []types.Variation{
			{Key: VariationEnabled, Value: true},
			{Key: VariationControl, Value: false},
		},
		Fallthrough: types.Fallthrough{
			Rollout: &types.WeightedRollout{
				Variations: []types.WeightedVariation{
					{Variation: VariationEnabled, Weight: initialPct},
					{Variation: VariationControl, Weight: 100 - initialPct},
				},
			},
		},
		DefaultVariation:  VariationControl,
		RolloutPercentage: initialPct,
		Environment:       environment,
	}
}

func copyFlag(flag *types.FeatureFlag) *types.FeatureFlag {
	flagCopy := *flag
	flagCopy.Variations = make([]types.Variation, len(flag.Variations))
	copy(flagCopy.Variations, flag.Variations)
	flagCopy.Rules = make([]types.TargetingRule, len(flag.Rules))
	copy(flagCopy.Rules, flag.Rules)
	if flag.Fallthrough.Rollout != nil {
		rollout := types.WeightedRollout{
			Variations: make([]types.WeightedVariation, len(flag.Fallthrough.Rollout.Variations)),
		}
		copy(rollout.Variations, flag.Fallthrough.Rollout.Variations)
		flagCopy.Fallthrough.Rollout = &rollout
	}
	return &flagCopy
}
