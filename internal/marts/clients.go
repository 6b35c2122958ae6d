package marts

import (
	"context"
	"fmt"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/facts"
	"sigetidwh/internal/source"
	"sigetidwh/pkg/models"
)

// BuildClients materializes the client portfolio mart at grain enterprise.
//
// Lot counts and surfaces go through the request/lot bridge with DISTINCT lot
// ids: an enterprise filing two validated requests for the same lot still
// holds it once.
func (b *Builder) BuildClients(ctx context.Context) (models.BuildStats, error) {
	lots, err := b.adapter.Table(source.EntityLots)
	if err != nil {
		return models.BuildStats{}, err
	}

	buildSQL := fmt.Sprintf(`
		WITH facturation AS (
			SELECT f.entreprise_id,
			       SUM(f.montant_total)                                       AS chiffre_affaires,
			       SUM(CASE WHEN f.est_payee THEN f.montant_total ELSE 0 END) AS total_paye,
			       SUM(CASE WHEN f.est_payee THEN 0 ELSE f.montant_total END) AS total_impaye,
			       AVG(f.delai_paiement_jours)                                AS delai_paiement_moyen
			FROM %[1]s.%[2]s f
			GROUP BY f.entreprise_id
		),
		lots_attribues AS (
			SELECT da.entreprise_id,
			       COUNT(*)                       AS nb_lots_attribues,
			       COALESCE(SUM(l.superficie), 0) AS superficie_attribuee
			FROM (
				SELECT DISTINCT d.entreprise_id, dl.lot_id
				FROM %[1]s.%[3]s d
				JOIN %[1]s.%[4]s dl ON dl.demande_id = d.demande_id
				WHERE d.statut = 'validee'
			) da
			JOIN %[5]s l ON l.id = da.lot_id
			GROUP BY da.entreprise_id
		)
		SELECT
			e.id                                  AS entreprise_id,
			e.raison_sociale,
			e.domaine_activite_id,
			COALESCE(fa.chiffre_affaires, 0)      AS chiffre_affaires,
			COALESCE(fa.total_paye, 0)            AS total_paye,
			COALESCE(fa.total_impaye, 0)          AS total_impaye,
			CASE WHEN COALESCE(fa.chiffre_affaires, 0) > 0
			     THEN ROUND(fa.total_paye * 100.0 / fa.chiffre_affaires, 2)
			     ELSE 0 END                       AS taux_paiement,
			fa.delai_paiement_moyen               AS delai_paiement_moyen,
			COALESCE(la.nb_lots_attribues, 0)     AS nb_lots_attribues,
			COALESCE(la.superficie_attribuee, 0)  AS superficie_attribuee,
			CASE
				WHEN COALESCE(fa.chiffre_affaires, 0) = 0 THEN 'sans_activite'
				WHEN fa.total_paye * 100.0 / fa.chiffre_affaires >= 90 THEN 'excellent'
				WHEN fa.total_paye * 100.0 / fa.chiffre_affaires >= 70 THEN 'bon'
				WHEN fa.total_paye * 100.0 / fa.chiffre_affaires >= 50 THEN 'moyen'
				WHEN fa.total_paye * 100.0 / fa.chiffre_affaires >= 25 THEN 'faible'
				ELSE 'mauvais'
			END                                   AS segment_risque
		FROM %[6]s.%[7]s e
		LEFT JOIN facturation fa    ON fa.entreprise_id = e.id
		LEFT JOIN lots_attribues la ON la.entreprise_id = e.id
		ORDER BY e.id`,
		facts.Schema, facts.TableInvoices, facts.TableRequests, facts.TableRequestLots,
		lots,
		dimensions.Schema, dimensions.TableEnterprise)

	return b.materialize(ctx, SchemaClients, TableClients, buildSQL)
}
