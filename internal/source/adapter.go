package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sigetidwh/internal/logger"
	"sigetidwh/internal/warehouse"
	"sigetidwh/pkg/errors"
)

// Adapter is the read-only semantic view over the OLTP schema. Every
// downstream builder reads the source exclusively through its SELECTs, so a
// physical rename only ever touches the contract.
type Adapter struct {
	wh       *warehouse.Service
	contract Contract
}

// NewAdapter creates an adapter over a connected source service.
func NewAdapter(wh *warehouse.Service, contract Contract) *Adapter {
	return &Adapter{wh: wh, contract: contract}
}

// Contract exposes the active mapping.
func (a *Adapter) Contract() Contract {
	return a.contract
}

// Select returns the staging SELECT for one entity.
func (a *Adapter) Select(entity string) (string, error) {
	return a.contract.SelectSQL(entity)
}

// Table returns the qualified physical table for one entity.
func (a *Adapter) Table(entity string) (string, error) {
	return a.contract.QualifiedTable(entity)
}

// Verify checks every projection against information_schema. Any missing
// table or column is fatal and aborts the refresh before downstream work.
func (a *Adapter) Verify(ctx context.Context) error {
	available, err := a.loadColumns(ctx)
	if err != nil {
		return err
	}

	for _, entity := range a.contract.Entities() {
		proj := a.contract[entity]
		key := proj.Schema + "." + proj.Table

		columns, ok := available[key]
		if !ok {
			return errors.ContractError(entity, "table "+key, nil)
		}
		for _, column := range proj.Columns {
			if !columns[column] {
				return errors.ContractError(entity,
					fmt.Sprintf("column %s.%s", key, column), nil)
			}
		}
		logger.Debug("source projection verified",
			zap.String("entity", entity), zap.String("table", key))
	}
	return nil
}

// loadColumns fetches the full column inventory of the projected schemas in
// one round-trip.
func (a *Adapter) loadColumns(ctx context.Context) (map[string]map[string]bool, error) {
	query := `
		SELECT table_schema, table_name, column_name
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')`

	rows, err := a.wh.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSourceContract,
			"failed to read information_schema from source").
			WithSeverity(errors.SeverityCritical)
	}
	defer rows.Close()

	available := make(map[string]map[string]bool)
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSourceContract,
				"failed to scan information_schema row").
				WithSeverity(errors.SeverityCritical)
		}
		key := schema + "." + table
		if available[key] == nil {
			available[key] = make(map[string]bool)
		}
		available[key][column] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSourceContract,
			"failed to iterate information_schema").
			WithSeverity(errors.SeverityCritical)
	}
	return available, nil
}
