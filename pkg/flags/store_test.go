// pkg/flags/store_test.go
package flags

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/storage"
	"github.com/releasegate/releasegate/pkg/types"
)

func newTestStore(t *testing.T) (*Store, storage.Store) {
	t.Helper()
	backing := storage.NewMemoryStore()
	return NewStore(backing, zap.NewNop()), backing
}

func TestStoreCreateAndGet(t *testing.T) {
	store, backing := newTestStore(t)
	ctx := context.Background()

	flag := NewRolloutFlag("checkout-v2", "Checkout v2", "prod", 5)
	require.NoError(t, store.Create(ctx, flag))

	got, err := store.Get("checkout-v2")
	require.NoError(t, err)
	assert.Equal(t, "checkout-v2", got.Key)
	assert.Equal(t, 5.0, got.RolloutPercentage)
	assert.False(t, got.CreatedAt.IsZero())

	// The flag is persisted, not just cached.
	persisted, err := backing.GetFlag(ctx, "checkout-v2")
	require.NoError(t, err)
	assert.Equal(t, "checkout-v2", persisted.Key)

	err = store.Create(ctx, NewRolloutFlag("checkout-v2", "dup", "prod", 5))
	assert.Error(t, err)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, NewRolloutFlag("f", "F", "prod", 5)))

	got, err := store.Get("f")
	require.NoError(t, err)
	got.Name = "mutated"
	got.Fallthrough.Rollout.Variations[0].Weight = 99

	again, err := store.Get("f")
	require.NoError(t, err)
	assert.Equal(t, "F", again.Name)
	assert.Equal(t, 5.0, again.Fallthrough.Rollout.Variations[0].Weight)
}

func TestStoreSetRolloutPercentage(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, NewRolloutFlag("f", "F", "prod", 5)))

	require.NoError(t, store.SetRolloutPercentage(ctx, "f", 25))

	got, err := store.Get("f")
	require.NoError(t, err)
	assert.Equal(t, 25.0, got.RolloutPercentage)
	require.Len(t, got.Fallthrough.Rollout.Variations, 2)
	assert.Equal(t, 25.0, got.Fallthrough.Rollout.Variations[0].Weight)
	assert.Equal(t, 75.0, got.Fallthrough.Rollout.Variations[1].Weight)

	assert.Error(t, store.SetRolloutPercentage(ctx, "f", 101))
	assert.ErrorIs(t, store.SetRolloutPercentage(ctx, "missing", 25), storage.ErrNotFound)
}

func TestStoreLoadHydratesFromBacking(t *testing.T) {
	backing := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, backing.SaveFlag(ctx, NewRolloutFlag("persisted", "P", "prod", 10)))

	store := NewStore(backing, zap.NewNop())
	require.NoError(t, store.Load(ctx))

	got, err := store.Get("persisted")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.RolloutPercentage)
}

func TestStoreDelete(t *testing.T) {
	store, backing := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, NewRolloutFlag("f", "F", "prod", 5)))

	require.NoError(t, store.Delete(ctx, "f"))
	_, err := store.Get("f")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = backing.GetFlag(ctx, "f")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "f"), storage.ErrNotFound)
}

func TestStoreEvaluate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, NewRolloutFlag("f", "F", "prod", 100)))

	result, err := store.Evaluate("f", &types.EvalContext{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, VariationEnabled, result.Variation)

	_, err = store.Evaluate("missing", &types.EvalContext{UserID: "u1"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
