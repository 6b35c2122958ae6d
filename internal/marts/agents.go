package marts

import (
	"context"
	"fmt"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/facts"
	"sigetidwh/internal/source"
	"sigetidwh/pkg/models"
)

// BuildAgents materializes the agent productivity mart at grain agent.
// The global rank orders by amount recovered descending, with ties broken on
// collection count and then agent id so reruns produce the same ranking.
func (b *Builder) BuildAgents(ctx context.Context) (models.BuildStats, error) {
	agents, err := b.adapter.Table(source.EntityAgents)
	if err != nil {
		return models.BuildStats{}, err
	}

	buildSQL := fmt.Sprintf(`
		WITH productivite AS (
			SELECT c.agent_id,
			       COUNT(*)                AS nb_recouvrements,
			       SUM(c.montant_recouvre) AS montant_recouvre,
			       AVG(CASE WHEN c.montant_a_recouvrer > 0
			                THEN c.montant_recouvre * 100.0 / c.montant_a_recouvrer
			                ELSE 0 END)    AS taux_recouvrement_moyen,
			       AVG(tf.date_complete - td.date_complete) AS delai_traitement_moyen
			FROM %[1]s.%[2]s c
			JOIN %[4]s.%[5]s td      ON td.date_key = c.date_debut_key
			LEFT JOIN %[4]s.%[5]s tf ON tf.date_key = c.date_fin_key
			WHERE c.agent_id IS NOT NULL
			GROUP BY c.agent_id
		)
		SELECT
			a.id                                AS agent_id,
			a.nom,
			a.prenom,
			COALESCE(p.nb_recouvrements, 0)     AS nb_recouvrements,
			COALESCE(p.montant_recouvre, 0)     AS montant_recouvre,
			ROUND(COALESCE(p.taux_recouvrement_moyen, 0), 2) AS taux_recouvrement_moyen,
			p.delai_traitement_moyen            AS delai_traitement_moyen,
			RANK() OVER (ORDER BY COALESCE(p.montant_recouvre, 0) DESC,
			                      COALESCE(p.nb_recouvrements, 0) DESC,
			                      a.id)         AS rang_productivite
		FROM %[3]s a
		LEFT JOIN productivite p ON p.agent_id = a.id
		ORDER BY rang_productivite, a.id`,
		facts.Schema, facts.TableCollections,
		agents,
		dimensions.Schema, dimensions.TableTime)

	return b.materialize(ctx, SchemaHR, TableAgents, buildSQL)
}
