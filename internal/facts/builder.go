package facts

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/logger"
	"sigetidwh/internal/source"
	"sigetidwh/internal/warehouse"
	"sigetidwh/pkg/errors"
	"sigetidwh/pkg/models"
)

// Schema is the target schema for all fact tables.
const Schema = "dwh_facts"

// Target table names. The request/lot bridge is the only carrier of the
// request-to-lot multiplicity; every mart that consumes it must aggregate
// with DISTINCT lot ids or existence tests.
const (
	TableInvoices    = "fait_factures"
	TableCollections = "fait_recouvrements"
	TableRequests    = "fait_demandes_attribution"
	TableRequestLots = "fait_demande_lots"
)

// Builder materializes the fact tables. Full builds swap the whole table;
// incremental builds replace only rows newer than the recorded watermark.
type Builder struct {
	adapter    *source.Adapter
	target     *warehouse.Service
	watermarks *WatermarkStore
}

// NewBuilder creates a fact builder.
func NewBuilder(adapter *source.Adapter, target *warehouse.Service, watermarks *WatermarkStore) *Builder {
	return &Builder{adapter: adapter, target: target, watermarks: watermarks}
}

// EnsureSchema creates the fact schema and the watermark table.
func (b *Builder) EnsureSchema(ctx context.Context) error {
	if err := b.target.EnsureSchema(ctx, Schema); err != nil {
		return err
	}
	return b.watermarks.Ensure(ctx)
}

// invoiceSelect is the projection shared by full and incremental invoice
// loads. Orphans (no enterprise dimension row) are dropped by the inner
// join and counted separately; a payment recorded before creation is a
// data-quality error mapped to delay 0.
func (b *Builder) invoiceSelect(where string) (string, error) {
	invoices, err := b.adapter.Table(source.EntityInvoices)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`
		SELECT
			f.id                       AS facture_id,
			f.entreprise_id,
			f.recouvrement_id,
			f.demande_attribution_id,
			tc.date_key                AS date_creation_key,
			tp.date_key                AS date_paiement_key,
			f.montant_total,
			(f.date_paiement IS NOT NULL) AS est_payee,
			CASE
				WHEN f.date_paiement IS NULL THEN NULL
				ELSE GREATEST(0, f.date_paiement - f.date_creation)
			END                        AS delai_paiement_jours,
			f.updated_at
		FROM %s f
		JOIN %s.%s e  ON e.id = f.entreprise_id
		JOIN %s.%s tc ON tc.date_complete = f.date_creation
		LEFT JOIN %s.%s tp ON tp.date_complete = f.date_paiement
		%s
		ORDER BY f.id`,
		invoices,
		dimensions.Schema, dimensions.TableEnterprise,
		dimensions.Schema, dimensions.TableTime,
		dimensions.Schema, dimensions.TableTime,
		where), nil
}

// BuildInvoices materializes the invoice fact.
func (b *Builder) BuildInvoices(ctx context.Context, policy models.RefreshPolicy) (models.BuildStats, error) {
	if policy == models.PolicyIncremental {
		return b.buildInvoicesIncremental(ctx)
	}

	buildSQL, err := b.invoiceSelect("")
	if err != nil {
		return models.BuildStats{}, err
	}
	if err := b.target.SwapTable(ctx, Schema, TableInvoices, buildSQL); err != nil {
		return models.BuildStats{}, err
	}

	stats, err := b.invoiceStats(ctx)
	if err != nil {
		return stats, err
	}
	return stats, b.advanceWatermark(ctx, TableInvoices, source.EntityInvoices)
}

func (b *Builder) buildInvoicesIncremental(ctx context.Context) (models.BuildStats, error) {
	watermark, found, err := b.watermarks.Get(ctx, TableInvoices)
	if err != nil {
		return models.BuildStats{}, err
	}
	if !found {
		// No previous refresh: incremental degenerates to full.
		return b.BuildInvoices(ctx, models.PolicyFull)
	}

	invoices, err := b.adapter.Table(source.EntityInvoices)
	if err != nil {
		return models.BuildStats{}, err
	}
	insertSQL, err := b.invoiceSelect("WHERE f.updated_at > $1")
	if err != nil {
		return models.BuildStats{}, err
	}

	var inserted int64
	err = b.target.ExecTx(ctx, func(tx *sql.Tx) error {
		deleteSQL := fmt.Sprintf(
			"DELETE FROM %s.%s WHERE facture_id IN (SELECT id FROM %s WHERE updated_at > $1)",
			Schema, TableInvoices, invoices)
		if _, err := tx.ExecContext(ctx, deleteSQL, watermark); err != nil {
			return errors.SQLError("failed to delete superseded invoice facts", deleteSQL, err)
		}

		result, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s.%s %s", Schema, TableInvoices, insertSQL), watermark)
		if err != nil {
			return errors.SQLError("failed to insert incremental invoice facts", insertSQL, err)
		}
		inserted, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return models.BuildStats{}, err
	}

	stats, err := b.invoiceStats(ctx)
	if err != nil {
		return stats, err
	}
	stats.RowsWritten = inserted
	logger.Info("incremental invoice load",
		zap.Int64("rows", inserted), zap.Time("watermark", watermark))
	return stats, b.advanceWatermark(ctx, TableInvoices, source.EntityInvoices)
}

// invoiceStats counts the source-integrity incidents of the invoice load.
func (b *Builder) invoiceStats(ctx context.Context) (models.BuildStats, error) {
	invoices, err := b.adapter.Table(source.EntityInvoices)
	if err != nil {
		return models.BuildStats{}, err
	}

	stats := models.BuildStats{}
	if stats.RowsWritten, err = b.target.RowCount(ctx, Schema, TableInvoices); err != nil {
		return stats, err
	}

	orphanSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s f WHERE NOT EXISTS (SELECT 1 FROM %s.%s e WHERE e.id = f.entreprise_id)",
		invoices, dimensions.Schema, dimensions.TableEnterprise)
	if err := b.target.QueryRowContext(ctx, orphanSQL).Scan(&stats.Quality.OrphanFactRows); err != nil {
		return stats, errors.SQLError("failed to count orphan invoices", orphanSQL, err)
	}

	rangeSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s f WHERE NOT EXISTS (SELECT 1 FROM %s.%s t WHERE t.date_complete = f.date_creation)"+
			" OR (f.date_paiement IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s.%s t WHERE t.date_complete = f.date_paiement))",
		invoices,
		dimensions.Schema, dimensions.TableTime,
		dimensions.Schema, dimensions.TableTime)
	if err := b.target.QueryRowContext(ctx, rangeSQL).Scan(&stats.Quality.DatesOutOfRange); err != nil {
		return stats, errors.SQLError("failed to count out-of-range invoice dates", rangeSQL, err)
	}

	negativeSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE date_paiement IS NOT NULL AND date_paiement < date_creation",
		invoices)
	if err := b.target.QueryRowContext(ctx, negativeSQL).Scan(&stats.Quality.NegativeDelays); err != nil {
		return stats, errors.SQLError("failed to count negative payment delays", negativeSQL, err)
	}

	stats.RowsRejected = stats.Quality.OrphanFactRows
	if stats.Quality.OrphanFactRows > 0 {
		logger.Warn("orphan invoices dropped",
			zap.Int64("rows", stats.Quality.OrphanFactRows))
	}
	if stats.Quality.DatesOutOfRange > 0 {
		logger.Warn("invoice dates missing from the calendar",
			zap.Int64("rows", stats.Quality.DatesOutOfRange))
	}
	if stats.Quality.NegativeDelays > 0 {
		logger.Warn("payment dates before creation, delay forced to 0",
			zap.Int64("rows", stats.Quality.NegativeDelays))
	}
	return stats, nil
}

// collectionSelect is the projection shared by full and incremental
// collection loads.
func (b *Builder) collectionSelect(where string) (string, error) {
	collections, err := b.adapter.Table(source.EntityCollections)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`
		SELECT
			c.id                  AS recouvrement_id,
			c.entreprise_id,
			c.zone_id,
			c.agent_id,
			td.date_key           AS date_debut_key,
			tf.date_key           AS date_fin_key,
			c.montant_a_recouvrer,
			c.montant_recouvre,
			CASE LOWER(c.statut)
				WHEN 'cloture' THEN 'cloture'
				WHEN 'annule'  THEN 'annule'
				ELSE 'en_cours'
			END                   AS statut,
			c.updated_at
		FROM %s c
		JOIN %s.%s e  ON e.id = c.entreprise_id
		LEFT JOIN %s.%s td ON td.date_complete = c.date_debut
		LEFT JOIN %s.%s tf ON tf.date_complete = c.date_fin
		%s
		ORDER BY c.id`,
		collections,
		dimensions.Schema, dimensions.TableEnterprise,
		dimensions.Schema, dimensions.TableTime,
		dimensions.Schema, dimensions.TableTime,
		where), nil
}

// BuildCollections materializes the recovery-collection fact.
func (b *Builder) BuildCollections(ctx context.Context, policy models.RefreshPolicy) (models.BuildStats, error) {
	if policy == models.PolicyIncremental {
		return b.buildCollectionsIncremental(ctx)
	}

	buildSQL, err := b.collectionSelect("")
	if err != nil {
		return models.BuildStats{}, err
	}
	if err := b.target.SwapTable(ctx, Schema, TableCollections, buildSQL); err != nil {
		return models.BuildStats{}, err
	}
	return b.collectionStats(ctx)
}

func (b *Builder) buildCollectionsIncremental(ctx context.Context) (models.BuildStats, error) {
	watermark, found, err := b.watermarks.Get(ctx, TableCollections)
	if err != nil {
		return models.BuildStats{}, err
	}
	if !found {
		return b.BuildCollections(ctx, models.PolicyFull)
	}

	collections, err := b.adapter.Table(source.EntityCollections)
	if err != nil {
		return models.BuildStats{}, err
	}
	insertSQL, err := b.collectionSelect("WHERE c.updated_at > $1")
	if err != nil {
		return models.BuildStats{}, err
	}

	var inserted int64
	err = b.target.ExecTx(ctx, func(tx *sql.Tx) error {
		deleteSQL := fmt.Sprintf(
			"DELETE FROM %s.%s WHERE recouvrement_id IN (SELECT id FROM %s WHERE updated_at > $1)",
			Schema, TableCollections, collections)
		if _, err := tx.ExecContext(ctx, deleteSQL, watermark); err != nil {
			return errors.SQLError("failed to delete superseded collection facts", deleteSQL, err)
		}

		result, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s.%s %s", Schema, TableCollections, insertSQL), watermark)
		if err != nil {
			return errors.SQLError("failed to insert incremental collection facts", insertSQL, err)
		}
		inserted, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return models.BuildStats{}, err
	}

	stats, err := b.collectionStats(ctx)
	if err != nil {
		return stats, err
	}
	stats.RowsWritten = inserted
	logger.Info("incremental collection load",
		zap.Int64("rows", inserted), zap.Time("watermark", watermark))
	return stats, nil
}

func (b *Builder) collectionStats(ctx context.Context) (models.BuildStats, error) {
	collections, err := b.adapter.Table(source.EntityCollections)
	if err != nil {
		return models.BuildStats{}, err
	}

	stats := models.BuildStats{}
	if stats.RowsWritten, err = b.target.RowCount(ctx, Schema, TableCollections); err != nil {
		return stats, err
	}

	orphanSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s c WHERE NOT EXISTS (SELECT 1 FROM %s.%s e WHERE e.id = c.entreprise_id)",
		collections, dimensions.Schema, dimensions.TableEnterprise)
	if err := b.target.QueryRowContext(ctx, orphanSQL).Scan(&stats.Quality.OrphanFactRows); err != nil {
		return stats, errors.SQLError("failed to count orphan collections", orphanSQL, err)
	}
	rangeSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s c WHERE (c.date_debut IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s.%s t WHERE t.date_complete = c.date_debut))"+
			" OR (c.date_fin IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s.%s t WHERE t.date_complete = c.date_fin))",
		collections,
		dimensions.Schema, dimensions.TableTime,
		dimensions.Schema, dimensions.TableTime)
	if err := b.target.QueryRowContext(ctx, rangeSQL).Scan(&stats.Quality.DatesOutOfRange); err != nil {
		return stats, errors.SQLError("failed to count out-of-range collection dates", rangeSQL, err)
	}

	stats.RowsRejected = stats.Quality.OrphanFactRows
	if stats.Quality.OrphanFactRows > 0 {
		logger.Warn("orphan collections dropped",
			zap.Int64("rows", stats.Quality.OrphanFactRows))
	}
	if stats.Quality.DatesOutOfRange > 0 {
		logger.Warn("collection dates missing from the calendar",
			zap.Int64("rows", stats.Quality.DatesOutOfRange))
	}

	return stats, b.advanceWatermark(ctx, TableCollections, source.EntityCollections)
}

// BuildRequests materializes the attribution-request fact and its lot bridge.
// The bridge carries no updated_at, so the request/bridge pair always swaps
// in full regardless of policy.
func (b *Builder) BuildRequests(ctx context.Context, policy models.RefreshPolicy) (models.BuildStats, error) {
	requests, err := b.adapter.Table(source.EntityAttributionRequests)
	if err != nil {
		return models.BuildStats{}, err
	}
	requestLots, err := b.adapter.Table(source.EntityRequestLots)
	if err != nil {
		return models.BuildStats{}, err
	}

	requestSQL := fmt.Sprintf(`
		SELECT
			d.id            AS demande_id,
			d.entreprise_id,
			t.date_key      AS date_creation_key,
			CASE LOWER(d.statut)
				WHEN 'validee' THEN 'validee'
				WHEN 'rejetee' THEN 'rejetee'
				ELSE 'en_attente'
			END             AS statut,
			d.updated_at
		FROM %s d
		JOIN %s.%s e ON e.id = d.entreprise_id
		LEFT JOIN %s.%s t ON t.date_complete = d.date_creation
		ORDER BY d.id`,
		requests,
		dimensions.Schema, dimensions.TableEnterprise,
		dimensions.Schema, dimensions.TableTime)

	if err := b.target.SwapTable(ctx, Schema, TableRequests, requestSQL); err != nil {
		return models.BuildStats{}, err
	}

	bridgeSQL := fmt.Sprintf(`
		SELECT dl.demande_id, dl.lot_id
		FROM %s dl
		JOIN %s d ON d.id = dl.demande_id
		ORDER BY dl.demande_id, dl.lot_id`,
		requestLots, requests)

	if err := b.target.SwapTable(ctx, Schema, TableRequestLots, bridgeSQL); err != nil {
		return models.BuildStats{}, err
	}

	stats, err := b.requestStats(ctx)
	if err != nil {
		return stats, err
	}
	return stats, b.advanceWatermark(ctx, TableRequests, source.EntityAttributionRequests)
}

func (b *Builder) requestStats(ctx context.Context) (models.BuildStats, error) {
	requests, err := b.adapter.Table(source.EntityAttributionRequests)
	if err != nil {
		return models.BuildStats{}, err
	}

	stats := models.BuildStats{}
	if stats.RowsWritten, err = b.target.RowCount(ctx, Schema, TableRequests); err != nil {
		return stats, err
	}
	bridgeCount, err := b.target.RowCount(ctx, Schema, TableRequestLots)
	if err != nil {
		return stats, err
	}
	stats.RowsWritten += bridgeCount

	orphanSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s d WHERE NOT EXISTS (SELECT 1 FROM %s.%s e WHERE e.id = d.entreprise_id)",
		requests, dimensions.Schema, dimensions.TableEnterprise)
	if err := b.target.QueryRowContext(ctx, orphanSQL).Scan(&stats.Quality.OrphanFactRows); err != nil {
		return stats, errors.SQLError("failed to count orphan requests", orphanSQL, err)
	}

	rangeSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s d WHERE d.date_creation IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s.%s t WHERE t.date_complete = d.date_creation)",
		requests, dimensions.Schema, dimensions.TableTime)
	if err := b.target.QueryRowContext(ctx, rangeSQL).Scan(&stats.Quality.DatesOutOfRange); err != nil {
		return stats, errors.SQLError("failed to count out-of-range request dates", rangeSQL, err)
	}

	stats.RowsRejected = stats.Quality.OrphanFactRows
	if stats.Quality.OrphanFactRows > 0 {
		logger.Warn("orphan requests dropped",
			zap.Int64("rows", stats.Quality.OrphanFactRows))
	}
	if stats.Quality.DatesOutOfRange > 0 {
		logger.Warn("request dates missing from the calendar",
			zap.Int64("rows", stats.Quality.DatesOutOfRange))
	}
	return stats, nil
}

// advanceWatermark records the highest source updated_at for the next
// incremental run.
func (b *Builder) advanceWatermark(ctx context.Context, fact, entity string) error {
	table, err := b.adapter.Table(entity)
	if err != nil {
		return err
	}

	var watermark sql.NullTime
	query := "SELECT MAX(updated_at) FROM " + table
	if err := b.target.QueryRowContext(ctx, query).Scan(&watermark); err != nil {
		return errors.SQLError("failed to read source watermark", query, err)
	}
	if !watermark.Valid {
		// Empty source table: keep whatever was recorded before.
		return nil
	}
	return b.watermarks.Set(ctx, fact, watermark.Time.UTC())
}
