package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kill-switch dimensions. A switch disables autonomous response for every
// unit matching its dimension and value.
const (
	KillSwitchGlobal        = "global"
	KillSwitchTenant        = "tenant"
	KillSwitchPattern       = "pattern"
	KillSwitchDatasource    = "datasource"
	KillSwitchAlertCategory = "alert_category"
	KillSwitchDetectionRule = "detection_rule"
)

// GlobalValue is the value used with the global dimension.
const GlobalValue = "all"

// KillSwitchState is what Activate stores alongside the switch.
type KillSwitchState struct {
	Reason      string    `json:"reason"`
	ActivatedBy string    `json:"activated_by"`
	ActivatedAt time.Time `json:"activated_at"`
}

// KillSwitchStore holds autonomy kill-switches in Redis. Reads fail closed:
// if Redis is unreachable the switch is reported active, because running
// autonomous response blind is worse than pausing it.
type KillSwitchStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewKillSwitchStore creates the store.
func NewKillSwitchStore(client *redis.Client, logger *zap.Logger) *KillSwitchStore {
	return &KillSwitchStore{
		client: client,
		logger: logger.Named("killswitch"),
	}
}

func killSwitchKey(dimension, value string) string {
	return fmt.Sprintf("killswitch:%s:%s", dimension, value)
}

// Activate sets a switch. Switches have no TTL; they stay until an operator
// deactivates them.
func (s *KillSwitchStore) Activate(ctx context.Context, dimension, value, reason, actor string) error {
	payload, err := json.Marshal(KillSwitchState{
		Reason:      reason,
		ActivatedBy: actor,
		ActivatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling kill switch state: %w", err)
	}

	if err := s.client.Set(ctx, killSwitchKey(dimension, value), payload, 0).Err(); err != nil {
		return fmt.Errorf("activating kill switch %s:%s: %w", dimension, value, err)
	}
	s.logger.Warn("kill switch activated",
		zap.String("dimension", dimension),
		zap.String("value", value),
		zap.String("reason", reason),
		zap.String("actor", actor))
	return nil
}

// Deactivate clears a switch.
func (s *KillSwitchStore) Deactivate(ctx context.Context, dimension, value string) error {
	if err := s.client.Del(ctx, killSwitchKey(dimension, value)).Err(); err != nil {
		return fmt.Errorf("deactivating kill switch %s:%s: %w", dimension, value, err)
	}
	s.logger.Info("kill switch deactivated",
		zap.String("dimension", dimension),
		zap.String("value", value))
	return nil
}

// IsActive reports whether the switch is set. Errors report active.
func (s *KillSwitchStore) IsActive(ctx context.Context, dimension, value string) bool {
	err := s.client.Get(ctx, killSwitchKey(dimension, value)).Err()
	if err == nil {
		return true
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	s.logger.Error("kill switch read failed, reporting active",
		zap.String("dimension", dimension),
		zap.String("value", value),
		zap.Error(err))
	return true
}

// AnyActive checks the global switch plus the given dimension/value pairs,
// in order. The first active match wins.
func (s *KillSwitchStore) AnyActive(ctx context.Context, pairs ...[2]string) (bool, string) {
	if s.IsActive(ctx, KillSwitchGlobal, GlobalValue) {
		return true, KillSwitchGlobal
	}
	for _, p := range pairs {
		if s.IsActive(ctx, p[0], p[1]) {
			return true, p[0]
		}
	}
	return false, ""
}
