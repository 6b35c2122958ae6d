package facts

import (
	"context"
	"database/sql"
	"time"

	"sigetidwh/internal/warehouse"
	"sigetidwh/pkg/errors"
)

// MetaSchema holds the small operational state of the pipeline: watermarks
// and per-mart freshness. Nothing else is persisted outside the targets.
const MetaSchema = "dwh_meta"

const watermarkTable = "refresh_watermarks"

// WatermarkStore persists, per fact, the highest source updated_at seen by
// the previous refresh. Incremental fact loads read only rows newer than it.
type WatermarkStore struct {
	target *warehouse.Service
}

// NewWatermarkStore creates a watermark store.
func NewWatermarkStore(target *warehouse.Service) *WatermarkStore {
	return &WatermarkStore{target: target}
}

// Ensure creates the meta schema and watermark table.
func (s *WatermarkStore) Ensure(ctx context.Context) error {
	return s.target.ExecuteSQL(ctx,
		"CREATE SCHEMA IF NOT EXISTS "+MetaSchema,
		`CREATE TABLE IF NOT EXISTS `+MetaSchema+`.`+watermarkTable+` (
			fact_name TEXT PRIMARY KEY,
			watermark TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	)
}

// Get returns the recorded watermark for a fact, if any.
func (s *WatermarkStore) Get(ctx context.Context, fact string) (time.Time, bool, error) {
	var watermark time.Time
	err := s.target.QueryRowContext(ctx,
		"SELECT watermark FROM "+MetaSchema+"."+watermarkTable+" WHERE fact_name = $1",
		fact).Scan(&watermark)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.SQLError("failed to read watermark", fact, err)
	}
	return watermark, true, nil
}

// Set upserts the watermark for a fact.
func (s *WatermarkStore) Set(ctx context.Context, fact string, watermark time.Time) error {
	return s.target.ExecTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+MetaSchema+`.`+watermarkTable+` (fact_name, watermark, updated_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (fact_name) DO UPDATE SET watermark = EXCLUDED.watermark, updated_at = now()`,
			fact, watermark)
		if err != nil {
			return errors.SQLError("failed to persist watermark", fact, err)
		}
		return nil
	})
}
