package marts

import (
	"context"
	"fmt"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/facts"
	"sigetidwh/internal/source"
	"sigetidwh/pkg/models"
)

// BuildOccupation materializes the zone occupation mart at grain zone.
//
// Every lot falls into exactly one of {attribue, disponible, reserve}. The
// attribution test is an EXISTS against the validated requests: several
// validated requests can reference the same lot, and a join would count it
// once per request.
func (b *Builder) BuildOccupation(ctx context.Context) (models.BuildStats, error) {
	lots, err := b.adapter.Table(source.EntityLots)
	if err != nil {
		return models.BuildStats{}, err
	}

	buildSQL := fmt.Sprintf(`
		WITH lot_classe AS (
			SELECT l.id, l.zone_id, l.superficie, l.valeur,
			       CASE
			           WHEN EXISTS (
			               SELECT 1
			               FROM %[1]s.%[2]s dl
			               JOIN %[1]s.%[3]s d ON d.demande_id = dl.demande_id
			               WHERE dl.lot_id = l.id AND d.statut = 'validee'
			           ) THEN 'attribue'
			           WHEN LOWER(l.statut_operationnel) = 'disponible' THEN 'disponible'
			           ELSE 'reserve'
			       END AS etat
			FROM %[4]s l
		)
		SELECT
			z.id                                                            AS zone_id,
			z.libelle                                                       AS zone,
			COUNT(lc.id)                                                    AS nb_lots_total,
			COUNT(*) FILTER (WHERE lc.etat = 'attribue')                    AS nb_lots_attribues,
			COUNT(*) FILTER (WHERE lc.etat = 'disponible')                  AS nb_lots_disponibles,
			COUNT(*) FILTER (WHERE lc.etat = 'reserve')                     AS nb_lots_reserves,
			COALESCE(SUM(lc.superficie), 0)                                 AS superficie_totale,
			COALESCE(SUM(lc.superficie) FILTER (WHERE lc.etat = 'attribue'), 0)   AS superficie_attribuee,
			COALESCE(SUM(lc.superficie) FILTER (WHERE lc.etat = 'disponible'), 0) AS superficie_disponible,
			CASE WHEN COUNT(lc.id) > 0
			     THEN ROUND(COUNT(*) FILTER (WHERE lc.etat = 'attribue') * 100.0 / COUNT(lc.id), 2)
			     ELSE 0 END                                                 AS taux_occupation,
			COALESCE(SUM(lc.valeur), 0)                                     AS valeur_totale_lots
		FROM %[5]s.%[6]s z
		LEFT JOIN lot_classe lc ON lc.zone_id = z.id
		GROUP BY z.id, z.libelle
		ORDER BY z.id`,
		facts.Schema, facts.TableRequestLots, facts.TableRequests,
		lots,
		dimensions.Schema, dimensions.TableZone)

	return b.materialize(ctx, SchemaOccupation, TableOccupation, buildSQL)
}
