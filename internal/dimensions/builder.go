package dimensions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sigetidwh/internal/logger"
	"sigetidwh/internal/source"
	"sigetidwh/internal/warehouse"
	"sigetidwh/pkg/models"
)

// Schema is the target schema for all conformed dimensions.
const Schema = "dwh_dimensions"

// Target table names.
const (
	TableTime           = "dim_temps"
	TableEnterprise     = "dim_entreprise"
	TableZone           = "dim_zone"
	TableActivityDomain = "dim_domaine_activite"
)

// Builder materializes the conformed dimensions. Every build is a full
// rebuild swapped atomically; dimensions are cheap relative to facts and
// marts and rebuilding keeps them exactly consistent with the source.
type Builder struct {
	adapter *source.Adapter
	target  *warehouse.Service
}

// NewBuilder creates a dimension builder.
func NewBuilder(adapter *source.Adapter, target *warehouse.Service) *Builder {
	return &Builder{adapter: adapter, target: target}
}

// EnsureSchema creates the dimension schema.
func (b *Builder) EnsureSchema(ctx context.Context) error {
	return b.target.EnsureSchema(ctx, Schema)
}

// BuildTime materializes the calendar dimension. The range covers
// [min(fact date), max(fact date, today)] so every fact date resolves to a
// key; the key is the YYYYMMDD integer.
func (b *Builder) BuildTime(ctx context.Context) (models.BuildStats, error) {
	invoices, err := b.adapter.Table(source.EntityInvoices)
	if err != nil {
		return models.BuildStats{}, err
	}
	collections, err := b.adapter.Table(source.EntityCollections)
	if err != nil {
		return models.BuildStats{}, err
	}
	requests, err := b.adapter.Table(source.EntityAttributionRequests)
	if err != nil {
		return models.BuildStats{}, err
	}

	// Attribution requests routinely predate the first invoice, so their
	// creation dates bound the range too.
	buildSQL := fmt.Sprintf(`
		WITH bornes AS (
			SELECT
				LEAST(
					COALESCE((SELECT MIN(date_creation) FROM %s), CURRENT_DATE),
					COALESCE((SELECT MIN(date_debut) FROM %s), CURRENT_DATE),
					COALESCE((SELECT MIN(date_creation) FROM %s), CURRENT_DATE)
				) AS debut,
				GREATEST(
					CURRENT_DATE,
					COALESCE((SELECT MAX(date_paiement) FROM %s), CURRENT_DATE),
					COALESCE((SELECT MAX(date_fin) FROM %s), CURRENT_DATE),
					COALESCE((SELECT MAX(date_creation) FROM %s), CURRENT_DATE)
				) AS fin
			)
		SELECT
			(EXTRACT(YEAR FROM d)::int * 10000
				+ EXTRACT(MONTH FROM d)::int * 100
				+ EXTRACT(DAY FROM d)::int)       AS date_key,
			d::date                               AS date_complete,
			EXTRACT(YEAR FROM d)::int             AS annee,
			EXTRACT(QUARTER FROM d)::int          AS trimestre,
			EXTRACT(MONTH FROM d)::int            AS mois,
			TO_CHAR(d, 'TMMonth')                 AS libelle_mois,
			EXTRACT(WEEK FROM d)::int             AS semaine_iso,
			EXTRACT(DAY FROM d)::int              AS jour,
			EXTRACT(ISODOW FROM d)::int           AS jour_semaine
		FROM bornes, generate_series(bornes.debut, bornes.fin, INTERVAL '1 day') AS d
		ORDER BY date_key`,
		invoices, collections, requests, invoices, collections, requests)

	if err := b.target.SwapTable(ctx, Schema, TableTime, buildSQL); err != nil {
		return models.BuildStats{}, err
	}
	return b.stats(ctx, TableTime)
}

// BuildEnterprises materializes the enterprise dimension, deduplicated on the
// source primary key. Hard-deleted source enterprises disappear here; their
// orphaned facts are dropped by the fact builder and counted in the report.
func (b *Builder) BuildEnterprises(ctx context.Context) (models.BuildStats, error) {
	enterprises, err := b.adapter.Table(source.EntityEnterprises)
	if err != nil {
		return models.BuildStats{}, err
	}

	buildSQL := fmt.Sprintf(`
		SELECT DISTINCT ON (id)
			id,
			raison_sociale,
			forme_juridique,
			domaine_activite_id,
			a_risque
		FROM %s
		ORDER BY id`, enterprises)

	if err := b.target.SwapTable(ctx, Schema, TableEnterprise, buildSQL); err != nil {
		return models.BuildStats{}, err
	}
	return b.stats(ctx, TableEnterprise)
}

// BuildZones materializes the industrial-zone dimension.
func (b *Builder) BuildZones(ctx context.Context) (models.BuildStats, error) {
	zones, err := b.adapter.Table(source.EntityZones)
	if err != nil {
		return models.BuildStats{}, err
	}

	buildSQL := fmt.Sprintf(`
		SELECT DISTINCT ON (id)
			id,
			libelle,
			superficie_totale,
			latitude,
			longitude
		FROM %s
		ORDER BY id`, zones)

	if err := b.target.SwapTable(ctx, Schema, TableZone, buildSQL); err != nil {
		return models.BuildStats{}, err
	}
	return b.stats(ctx, TableZone)
}

// BuildActivityDomains materializes the categorical activity-domain dimension.
func (b *Builder) BuildActivityDomains(ctx context.Context) (models.BuildStats, error) {
	domains, err := b.adapter.Table(source.EntityActivityDomains)
	if err != nil {
		return models.BuildStats{}, err
	}

	buildSQL := fmt.Sprintf(`
		SELECT DISTINCT ON (id)
			id,
			libelle
		FROM %s
		ORDER BY id`, domains)

	if err := b.target.SwapTable(ctx, Schema, TableActivityDomain, buildSQL); err != nil {
		return models.BuildStats{}, err
	}
	return b.stats(ctx, TableActivityDomain)
}

func (b *Builder) stats(ctx context.Context, table string) (models.BuildStats, error) {
	count, err := b.target.RowCount(ctx, Schema, table)
	if err != nil {
		return models.BuildStats{}, err
	}
	logger.Debug("dimension built",
		zap.String("table", Schema+"."+table), zap.Int64("rows", count))
	return models.BuildStats{RowsWritten: count}, nil
}
