package marts

import (
	"context"
	"fmt"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/facts"
	"sigetidwh/internal/source"
	"sigetidwh/pkg/models"
)

// BuildImplantation materializes the implantation history mart at grain
// (annee, zone): how many distinct lots were granted to enterprises each year
// and the surface they cover. A lot referenced by two validated requests the
// same year is one implantation.
func (b *Builder) BuildImplantation(ctx context.Context) (models.BuildStats, error) {
	lots, err := b.adapter.Table(source.EntityLots)
	if err != nil {
		return models.BuildStats{}, err
	}

	buildSQL := fmt.Sprintf(`
		WITH implantations AS (
			SELECT DISTINCT t.annee, l.zone_id, dl.lot_id, l.superficie
			FROM %[1]s.%[2]s d
			JOIN %[1]s.%[3]s dl ON dl.demande_id = d.demande_id
			JOIN %[4]s l        ON l.id = dl.lot_id
			JOIN %[5]s.%[6]s t  ON t.date_key = d.date_creation_key
			WHERE d.statut = 'validee'
		)
		SELECT
			i.annee,
			z.id                           AS zone_id,
			z.libelle                      AS zone,
			COUNT(*)                       AS nb_implantations,
			COALESCE(SUM(i.superficie), 0) AS superficie_implantee
		FROM implantations i
		JOIN %[5]s.%[7]s z ON z.id = i.zone_id
		GROUP BY i.annee, z.id, z.libelle
		ORDER BY i.annee, z.id`,
		facts.Schema, facts.TableRequests, facts.TableRequestLots,
		lots,
		dimensions.Schema, dimensions.TableTime, dimensions.TableZone)

	return b.materialize(ctx, SchemaImplantation, TableImplantation, buildSQL)
}
