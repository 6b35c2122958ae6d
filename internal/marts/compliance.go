package marts

import (
	"context"
	"fmt"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/source"
	"sigetidwh/pkg/models"
)

// BuildCompliance materializes the compliance mart at grain
// (enterprise, annee): per-period counters of conventions by status, plus the
// enterprise risk flag carried straight from the source.
func (b *Builder) BuildCompliance(ctx context.Context) (models.BuildStats, error) {
	conventions, err := b.adapter.Table(source.EntityConventions)
	if err != nil {
		return models.BuildStats{}, err
	}

	buildSQL := fmt.Sprintf(`
		SELECT
			e.id                                                    AS entreprise_id,
			e.raison_sociale,
			EXTRACT(YEAR FROM c.date_debut)::int                    AS annee,
			COUNT(*)                                                AS nb_conventions,
			COUNT(*) FILTER (WHERE LOWER(c.statut) = 'active')      AS nb_conventions_actives,
			COUNT(*) FILTER (WHERE LOWER(c.statut) = 'expiree')     AS nb_conventions_expirees,
			COUNT(*) FILTER (WHERE LOWER(c.statut) = 'resiliee')    AS nb_conventions_resiliees,
			COUNT(*) FILTER (WHERE LOWER(c.statut) NOT IN ('active', 'expiree', 'resiliee')) AS nb_conventions_autres,
			BOOL_OR(e.a_risque)                                     AS entreprise_a_risque
		FROM %[1]s c
		JOIN %[2]s.%[3]s e ON e.id = c.entreprise_id
		GROUP BY e.id, e.raison_sociale, EXTRACT(YEAR FROM c.date_debut)
		ORDER BY e.id, annee`,
		conventions,
		dimensions.Schema, dimensions.TableEnterprise)

	return b.materialize(ctx, SchemaCompliance, TableCompliance, buildSQL)
}
