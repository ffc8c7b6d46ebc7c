// pkg/storage/mongodb.go
package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/types"
)

// MongoStore persists controller state to MongoDB, one collection per entity.
// Writes are upserts keyed by _id, so Save doubles as create and update.
type MongoStore struct {
	client      *mongo.Client
	flags       *mongo.Collection
	rollouts    *mongo.Collection
	triggers    *mongo.Collection
	executions  *mongo.Collection
	deployments *mongo.Collection
	logger      *zap.Logger
}

func NewMongoStore(cfg *config.MongoDBConfig, logger *zap.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	return &MongoStore{
		client:      client,
		flags:       db.Collection("flags"),
		rollouts:    db.Collection("rollouts"),
		triggers:    db.Collection("trigger_states"),
		executions:  db.Collection("rollback_executions"),
		deployments: db.Collection("deployments"),
		logger:      logger,
	}, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) upsert(ctx context.Context, coll *mongo.Collection, id interface{}, doc interface{}) error {
	filter := bson.M{"_id": id}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	if _, err := coll.UpdateOne(ctx, filter, update, opts); err != nil {
		m.logger.Error("failed to save record",
			zap.String("collection", coll.Name()),
			zap.Any("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to save %s record: %w", coll.Name(), err)
	}
	return nil
}

func (m *MongoStore) SaveFlag(ctx context.Context, flag *types.FeatureFlag) error {
	return m.upsert(ctx, m.flags, flag.Key, flag)
}

func (m *MongoStore) GetFlag(ctx context.Context, key string) (*types.FeatureFlag, error) {
	var flag types.FeatureFlag
	err := m.flags.FindOne(ctx, bson.M{"_id": key}).Decode(&flag)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flag: %w", err)
	}
	return &flag, nil
}

func (m *MongoStore) DeleteFlag(ctx context.Context, key string) error {
	result, err := m.flags.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("failed to delete flag: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) ListFlags(ctx context.Context) ([]*types.FeatureFlag, error) {
	cursor, err := m.flags.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}
	defer cursor.Close(ctx)

	var flags []*types.FeatureFlag
	for cursor.Next(ctx) {
		var flag types.FeatureFlag
		if err := cursor.Decode(&flag); err != nil {
			m.logger.Error("failed to decode flag", zap.Error(err))
			continue
		}
		flags = append(flags, &flag)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return flags, nil
}

func (m *MongoStore) SaveRollout(ctx context.Context, state *types.RolloutState) error {
	return m.upsert(ctx, m.rollouts, state.ID, state)
}

func (m *MongoStore) GetRollout(ctx context.Context, id string) (*types.RolloutState, error) {
	var state types.RolloutState
	err := m.rollouts.FindOne(ctx, bson.M{"_id": id}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rollout: %w", err)
	}
	return &state, nil
}

func (m *MongoStore) ListRollouts(ctx context.Context, status string) ([]*types.RolloutState, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	cursor, err := m.rollouts.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollouts: %w", err)
	}
	defer cursor.Close(ctx)

	var states []*types.RolloutState
	for cursor.Next(ctx) {
		var state types.RolloutState
		if err := cursor.Decode(&state); err != nil {
			m.logger.Error("failed to decode rollout", zap.Error(err))
			continue
		}
		states = append(states, &state)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return states, nil
}

func (m *MongoStore) SaveTriggerState(ctx context.Context, state *types.TriggerState) error {
	return m.upsert(ctx, m.triggers, triggerKey(state.DeploymentID, state.TriggerName), state)
}

func (m *MongoStore) ListTriggerStates(ctx context.Context, deploymentID string) ([]*types.TriggerState, error) {
	cursor, err := m.triggers.Find(ctx, bson.M{"deployment_id": deploymentID})
	if err != nil {
		return nil, fmt.Errorf("failed to list trigger states: %w", err)
	}
	defer cursor.Close(ctx)

	var states []*types.TriggerState
	for cursor.Next(ctx) {
		var state types.TriggerState
		if err := cursor.Decode(&state); err != nil {
			m.logger.Error("failed to decode trigger state", zap.Error(err))
			continue
		}
		states = append(states, &state)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return states, nil
}

func (m *MongoStore) DeleteTriggerStates(ctx context.Context, deploymentID string) error {
	if _, err := m.triggers.DeleteMany(ctx, bson.M{"deployment_id": deploymentID}); err != nil {
		return fmt.Errorf("failed to delete trigger states: %w", err)
	}
	return nil
}

func (m *MongoStore) SaveExecution(ctx context.Context, exec *types.RollbackExecution) error {
	return m.upsert(ctx, m.executions, exec.ID, exec)
}

func (m *MongoStore) GetExecution(ctx context.Context, id string) (*types.RollbackExecution, error) {
	var exec types.RollbackExecution
	err := m.executions.FindOne(ctx, bson.M{"_id": id}).Decode(&exec)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &exec, nil
}

func (m *MongoStore) ListExecutions(ctx context.Context, deploymentID string) ([]*types.RollbackExecution, error) {
	filter := bson.M{}
	if deploymentID != "" {
		filter["deployment_id"] = deploymentID
	}
	cursor, err := m.executions.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer cursor.Close(ctx)

	var executions []*types.RollbackExecution
	for cursor.Next(ctx) {
		var exec types.RollbackExecution
		if err := cursor.Decode(&exec); err != nil {
			m.logger.Error("failed to decode execution", zap.Error(err))
			continue
		}
		executions = append(executions, &exec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return executions, nil
}

func (m *MongoStore) SaveDeployment(ctx context.Context, dep *types.Deployment) error {
	return m.upsert(ctx, m.deployments, dep.ID, dep)
}

func (m *MongoStore) GetDeployment(ctx context.Context, id string) (*types.Deployment, error) {
	var dep types.Deployment
	err := m.deployments.FindOne(ctx, bson.M{"_id": id}).Decode(&dep)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return &dep, nil
}

func (m *MongoStore) ListDeployments(ctx context.Context) ([]*types.Deployment, error) {
	cursor, err := m.deployments.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer cursor.Close(ctx)

	var deployments []*types.Deployment
	for cursor.Next(ctx) {
		var dep types.Deployment
		if err := cursor.Decode(&dep); err != nil {
			m.logger.Error("failed to decode deployment", zap.Error(err))
			continue
		}
		deployments = append(deployments, &dep)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return deployments, nil
}
