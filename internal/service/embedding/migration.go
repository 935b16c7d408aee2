package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/vector"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// Embedder produces a vector for one point's payload.
type Embedder interface {
	Embed(ctx context.Context, payload map[string]interface{}) ([]float32, error)
}

// Checkpoint is the migration's resume state. Offset is the vector store's
// scroll cursor; LastPointID and Count are for operators reading the table.
type Checkpoint struct {
	Collection  string    `json:"collection"`
	Offset      string    `json:"offset"`
	LastPointID string    `json:"last_point_id"`
	Count       int64     `json:"count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CheckpointStore persists migration progress.
type CheckpointStore interface {
	Load(ctx context.Context, collection string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
}

// Migrator is the backfill phase of the four-phase embedding model
// migration (dual-write, backfill, verify, cleanup). It re-embeds every
// point still carrying the old model and upserts in place. Upserts keyed by
// point ID make re-runs idempotent, so a crash between checkpoints only
// costs duplicate work, never duplicate points.
type Migrator struct {
	store      vector.Store
	embedder   Embedder
	checkpoint CheckpointStore
	limiter    *rate.Limiter
	cfg        config.Migration
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewMigrator creates the migrator.
func NewMigrator(
	store vector.Store,
	embedder Embedder,
	checkpoint CheckpointStore,
	cfg config.Migration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Migrator {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	return &Migrator{
		store:      store,
		embedder:   embedder,
		checkpoint: checkpoint,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		cfg:        cfg,
		metrics:    m,
		logger:     logger.Named("embedding_migration"),
		now:        time.Now,
	}
}

// WithClock overrides the version-stamp clock. Test hook.
func (m *Migrator) WithClock(now func() time.Time) *Migrator {
	m.now = now
	return m
}

// Run migrates one collection. resumeOffset, when non-empty, overrides the
// persisted checkpoint; pass "" to resume from the checkpoint (or the
// beginning if none exists). Cancellation checkpoints before returning.
func (m *Migrator) Run(ctx context.Context, collection, resumeOffset string) (*Checkpoint, error) {
	cp := &Checkpoint{Collection: collection}
	if resumeOffset != "" {
		cp.Offset = resumeOffset
	} else if saved, err := m.checkpoint.Load(ctx, collection); err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	} else if saved != nil {
		cp = saved
	}

	version := m.now().UTC().Format("2006-01")
	pageSize := m.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 256
	}
	batchSize := int64(m.cfg.BatchSize)
	if batchSize <= 0 {
		batchSize = 100
	}

	m.logger.Info("migration starting",
		zap.String("collection", collection),
		zap.String("offset", cp.Offset),
		zap.Int64("migrated_so_far", cp.Count),
		zap.String("old_model", m.cfg.OldModelID),
		zap.String("new_model", m.cfg.NewModelID))

	sinceCheckpoint := int64(0)
	for {
		page, err := m.store.Scroll(ctx, collection, cp.Offset, pageSize)
		if err != nil {
			return cp, fmt.Errorf("scrolling %s: %w", collection, err)
		}

		for _, point := range page.Points {
			if err := m.limiter.Wait(ctx); err != nil {
				m.saveCheckpoint(cp)
				return cp, err
			}

			migrated, err := m.migratePoint(ctx, collection, point, version)
			if err != nil {
				m.saveCheckpoint(cp)
				return cp, fmt.Errorf("migrating point %s: %w", point.ID, err)
			}
			cp.LastPointID = point.ID
			if !migrated {
				continue
			}

			cp.Count++
			sinceCheckpoint++
			if m.metrics != nil {
				m.metrics.MigrationPoints.Inc()
			}
			if sinceCheckpoint >= batchSize {
				m.saveCheckpoint(cp)
				sinceCheckpoint = 0
			}
		}

		cp.Offset = page.NextOffset
		if page.NextOffset == "" {
			break
		}
	}

	// Final checkpoint marks completion.
	m.saveCheckpoint(cp)
	m.logger.Info("migration complete",
		zap.String("collection", collection),
		zap.Int64("migrated", cp.Count))
	return cp, nil
}

// migratePoint re-embeds one point if it still carries the old model.
// Returns false when the point was skipped.
func (m *Migrator) migratePoint(ctx context.Context, collection string, point *vector.Point, version string) (bool, error) {
	modelID, _ := point.Payload["embedding_model_id"].(string)
	if modelID == m.cfg.NewModelID {
		return false, nil
	}
	if m.cfg.OldModelID != "" && modelID != "" && modelID != m.cfg.OldModelID {
		return false, nil
	}

	newVector, err := m.embedder.Embed(ctx, point.Payload)
	if err != nil {
		return false, err
	}

	payload := make(map[string]interface{}, len(point.Payload)+2)
	for k, v := range point.Payload {
		payload[k] = v
	}
	payload["embedding_model_id"] = m.cfg.NewModelID
	payload["embedding_version"] = version

	err = m.store.Upsert(ctx, collection, []*vector.Point{{
		ID:      point.ID,
		Vector:  newVector,
		Payload: payload,
	}})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Migrator) saveCheckpoint(cp *Checkpoint) {
	cp.UpdatedAt = m.now().UTC()

	// Checkpoint persistence uses its own context so cancellation of the
	// migration still records progress.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.checkpoint.Save(ctx, cp); err != nil {
		m.logger.Error("failed to persist checkpoint",
			zap.String("collection", cp.Collection),
			zap.Error(err))
		return
	}
	if m.metrics != nil {
		m.metrics.MigrationCheckpoint.Set(float64(cp.Count))
	}
}
