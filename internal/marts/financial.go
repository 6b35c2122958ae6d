package marts

import (
	"context"
	"fmt"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/facts"
	"sigetidwh/internal/source"
	"sigetidwh/pkg/models"
)

// BuildFinancial materializes the financial performance mart at grain
// (annee, trimestre, mois, entreprise, domaine, zone).
//
// Billing and collection measures come from two separate aggregations joined
// on the grain key. Joining the invoice and collection facts before grouping
// multiplies invoice amounts by the number of matched collections (and
// collection amounts by the month-count of the quarter); each fact is
// therefore aggregated to the target grain on its own first.
func (b *Builder) BuildFinancial(ctx context.Context) (models.BuildStats, error) {
	lots, err := b.adapter.Table(source.EntityLots)
	if err != nil {
		return models.BuildStats{}, err
	}

	buildSQL := fmt.Sprintf(`
		WITH zone_facture AS (
			SELECT f.facture_id,
			       (SELECT MIN(l.zone_id)
			          FROM %[1]s.%[2]s dl
			          JOIN %[3]s l ON l.id = dl.lot_id
			         WHERE dl.demande_id = f.demande_attribution_id) AS zone_id
			FROM %[1]s.%[4]s f
		),
		facturation AS (
			SELECT t.annee, t.trimestre, t.mois,
			       f.entreprise_id,
			       e.domaine_activite_id,
			       zf.zone_id,
			       COUNT(*)                                                   AS nb_factures,
			       SUM(f.montant_total)                                       AS total_facture,
			       SUM(CASE WHEN f.est_payee THEN f.montant_total ELSE 0 END) AS total_paye,
			       SUM(CASE WHEN f.est_payee THEN 0 ELSE f.montant_total END) AS total_impaye,
			       AVG(f.delai_paiement_jours)                                AS delai_paiement_moyen
			FROM %[1]s.%[4]s f
			JOIN %[5]s.%[6]s t ON t.date_key = f.date_creation_key
			JOIN %[5]s.%[7]s e ON e.id = f.entreprise_id
			LEFT JOIN zone_facture zf ON zf.facture_id = f.facture_id
			GROUP BY t.annee, t.trimestre, t.mois, f.entreprise_id, e.domaine_activite_id, zf.zone_id
		),
		mois_calendrier AS (
			SELECT annee, trimestre, mois,
			       MIN(date_complete) AS debut_mois,
			       MAX(date_complete) AS fin_mois
			FROM %[5]s.%[6]s
			GROUP BY annee, trimestre, mois
		),
		recouvrement AS (
			SELECT m.annee, m.trimestre, m.mois,
			       c.entreprise_id,
			       e.domaine_activite_id,
			       c.zone_id,
			       SUM(c.montant_recouvre)           AS montant_recouvre,
			       SUM(c.montant_a_recouvrer)        AS total_a_recouvrer,
			       COUNT(DISTINCT c.recouvrement_id) AS nb_recouvrements
			FROM %[1]s.%[8]s c
			JOIN %[5]s.%[7]s e ON e.id = c.entreprise_id
			JOIN %[5]s.%[6]s td ON td.date_key = c.date_debut_key
			LEFT JOIN %[5]s.%[6]s tf ON tf.date_key = c.date_fin_key
			JOIN mois_calendrier m
			  ON m.fin_mois   >= td.date_complete
			 AND m.debut_mois <= COALESCE(tf.date_complete, td.date_complete)
			GROUP BY m.annee, m.trimestre, m.mois, c.entreprise_id, e.domaine_activite_id, c.zone_id
		)
		SELECT
			COALESCE(fa.annee, r.annee)                             AS annee,
			COALESCE(fa.trimestre, r.trimestre)                     AS trimestre,
			COALESCE(fa.mois, r.mois)                               AS mois,
			COALESCE(fa.entreprise_id, r.entreprise_id)             AS entreprise_id,
			COALESCE(fa.domaine_activite_id, r.domaine_activite_id) AS domaine_activite_id,
			COALESCE(fa.zone_id, r.zone_id)                         AS zone_id,
			COALESCE(fa.nb_factures, 0)                             AS nb_factures,
			COALESCE(fa.total_facture, 0)                           AS total_facture,
			COALESCE(fa.total_paye, 0)                              AS total_paye,
			COALESCE(fa.total_impaye, 0)                            AS total_impaye,
			fa.delai_paiement_moyen                                 AS delai_paiement_moyen,
			CASE WHEN COALESCE(fa.total_facture, 0) > 0
			     THEN ROUND(fa.total_paye * 100.0 / fa.total_facture, 2)
			     ELSE 0 END                                         AS taux_paiement,
			COALESCE(r.montant_recouvre, 0)                         AS montant_recouvre,
			COALESCE(r.nb_recouvrements, 0)                         AS nb_recouvrements,
			COALESCE(r.total_a_recouvrer, 0)                        AS total_a_recouvrer
		FROM facturation fa
		FULL OUTER JOIN recouvrement r
		  ON  r.annee = fa.annee
		 AND r.trimestre = fa.trimestre
		 AND r.mois = fa.mois
		 AND r.entreprise_id = fa.entreprise_id
		 AND COALESCE(r.domaine_activite_id, -1) = COALESCE(fa.domaine_activite_id, -1)
		 AND COALESCE(r.zone_id, -1) = COALESCE(fa.zone_id, -1)
		ORDER BY 1, 2, 3, 4, 5, 6`,
		facts.Schema, facts.TableRequestLots,
		lots,
		facts.TableInvoices,
		dimensions.Schema, dimensions.TableTime, dimensions.TableEnterprise,
		facts.TableCollections)

	stats, err := b.materialize(ctx, SchemaFinancial, TableFinancial, buildSQL)
	if err != nil {
		return stats, err
	}

	// Known imprecision: an invoice tied to a request spanning several zones
	// has no single zone; the smallest zone id is kept.
	err = b.target.CommentOnColumn(ctx, SchemaFinancial, TableFinancial, "zone_id",
		"Zone resolue via demande d'attribution -> lot; lorsque la demande couvre plusieurs zones, la plus petite (MIN) est retenue arbitrairement")
	return stats, err
}
