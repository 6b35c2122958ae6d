package marts

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"sigetidwh/internal/facts"
	"sigetidwh/internal/logger"
	"sigetidwh/internal/source"
	"sigetidwh/internal/warehouse"
	"sigetidwh/pkg/errors"
	"sigetidwh/pkg/models"
)

// One target schema per dashboard domain.
const (
	SchemaFinancial    = "dwh_marts_financier"
	SchemaOccupation   = "dwh_marts_occupation"
	SchemaClients      = "dwh_marts_clients"
	SchemaOperational  = "dwh_marts_operationnel"
	SchemaHR           = "dwh_marts_rh"
	SchemaCompliance   = "dwh_marts_compliance"
	SchemaImplantation = "dwh_marts_implantation"
)

// Serving table names.
const (
	TableFinancial    = "mart_performance_financiere"
	TableOccupation   = "mart_occupation_zones"
	TableClients      = "mart_portefeuille_clients"
	TableOperational  = "mart_kpi_operationnels"
	TableAgents       = "mart_productivite_agents"
	TableCompliance   = "mart_conformite"
	TableImplantation = "mart_implantations"
)

const freshnessTable = "refresh_log"

// Builder materializes the serving tables. Marts are always rebuilt from
// facts in full: their grains admit retroactive updates (a late payment
// changes an old month), so incremental mart loads are not attempted.
type Builder struct {
	adapter *source.Adapter
	target  *warehouse.Service
}

// NewBuilder creates a mart builder.
func NewBuilder(adapter *source.Adapter, target *warehouse.Service) *Builder {
	return &Builder{adapter: adapter, target: target}
}

// EnsureSchemas creates every mart schema plus the freshness log.
func (b *Builder) EnsureSchemas(ctx context.Context) error {
	for _, schema := range []string{
		SchemaFinancial, SchemaOccupation, SchemaClients, SchemaOperational,
		SchemaHR, SchemaCompliance, SchemaImplantation,
	} {
		if err := b.target.EnsureSchema(ctx, schema); err != nil {
			return err
		}
	}
	return b.target.ExecuteSQL(ctx,
		"CREATE SCHEMA IF NOT EXISTS "+facts.MetaSchema,
		`CREATE TABLE IF NOT EXISTS `+facts.MetaSchema+`.`+freshnessTable+` (
			schema_name  TEXT NOT NULL,
			table_name   TEXT NOT NULL,
			refreshed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (schema_name, table_name)
		)`,
	)
}

// materialize swaps one mart and records its freshness timestamp. Readers
// keep the previous version until the swap commits.
func (b *Builder) materialize(ctx context.Context, schema, table, buildSQL string) (models.BuildStats, error) {
	if err := b.target.SwapTable(ctx, schema, table, buildSQL); err != nil {
		return models.BuildStats{}, err
	}
	if err := b.recordFreshness(ctx, schema, table); err != nil {
		return models.BuildStats{}, err
	}

	count, err := b.target.RowCount(ctx, schema, table)
	if err != nil {
		return models.BuildStats{}, err
	}
	logger.Debug("mart built",
		zap.String("table", schema+"."+table), zap.Int64("rows", count))
	return models.BuildStats{RowsWritten: count}, nil
}

func (b *Builder) recordFreshness(ctx context.Context, schema, table string) error {
	return b.target.ExecTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+facts.MetaSchema+`.`+freshnessTable+` (schema_name, table_name, refreshed_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (schema_name, table_name) DO UPDATE SET refreshed_at = now()`,
			schema, table)
		if err != nil {
			return errors.SQLError("failed to record mart freshness", table, err)
		}
		return nil
	})
}
