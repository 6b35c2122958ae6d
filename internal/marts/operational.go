package marts

import (
	"context"
	"fmt"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/facts"
	"sigetidwh/pkg/models"
)

// BuildOperational materializes the operational KPI mart at grain
// (annee, trimestre). The period spine comes from the time dimension so that
// quarters without any activity still get a row of zeros.
func (b *Builder) BuildOperational(ctx context.Context) (models.BuildStats, error) {
	buildSQL := fmt.Sprintf(`
		WITH periodes AS (
			SELECT DISTINCT annee, trimestre FROM %[1]s.%[2]s
		),
		recouvrements AS (
			SELECT t.annee, t.trimestre,
			       COUNT(*)                                        AS nb_recouvrements,
			       COUNT(*) FILTER (WHERE c.statut = 'cloture')    AS nb_recouvrements_clotures,
			       COUNT(*) FILTER (WHERE c.statut = 'en_cours')   AS nb_recouvrements_en_cours,
			       SUM(c.montant_recouvre)                         AS montant_recouvre,
			       SUM(c.montant_a_recouvrer)                      AS montant_a_recouvrer
			FROM %[3]s.%[4]s c
			JOIN %[1]s.%[2]s t ON t.date_key = c.date_debut_key
			GROUP BY t.annee, t.trimestre
		),
		demandes AS (
			SELECT t.annee, t.trimestre,
			       COUNT(*)                                        AS nb_demandes,
			       COUNT(*) FILTER (WHERE d.statut = 'validee')    AS nb_demandes_validees,
			       COUNT(*) FILTER (WHERE d.statut = 'rejetee')    AS nb_demandes_rejetees,
			       COUNT(*) FILTER (WHERE d.statut = 'en_attente') AS nb_demandes_en_attente
			FROM %[3]s.%[5]s d
			JOIN %[1]s.%[2]s t ON t.date_key = d.date_creation_key
			GROUP BY t.annee, t.trimestre
		),
		factures AS (
			SELECT t.annee, t.trimestre, COUNT(*) AS nb_factures_emises
			FROM %[3]s.%[6]s f
			JOIN %[1]s.%[2]s t ON t.date_key = f.date_creation_key
			GROUP BY t.annee, t.trimestre
		)
		SELECT
			p.annee, p.trimestre,
			COALESCE(r.nb_recouvrements, 0)          AS nb_recouvrements,
			COALESCE(r.nb_recouvrements_clotures, 0) AS nb_recouvrements_clotures,
			COALESCE(r.nb_recouvrements_en_cours, 0) AS nb_recouvrements_en_cours,
			COALESCE(d.nb_demandes, 0)               AS nb_demandes,
			COALESCE(d.nb_demandes_validees, 0)      AS nb_demandes_validees,
			COALESCE(d.nb_demandes_rejetees, 0)      AS nb_demandes_rejetees,
			COALESCE(d.nb_demandes_en_attente, 0)    AS nb_demandes_en_attente,
			CASE WHEN COALESCE(r.montant_a_recouvrer, 0) > 0
			     THEN ROUND(r.montant_recouvre * 100.0 / r.montant_a_recouvrer, 2)
			     ELSE 0 END                          AS taux_recouvrement_global,
			COALESCE(f.nb_factures_emises, 0)        AS nb_factures_emises
		FROM periodes p
		LEFT JOIN recouvrements r ON r.annee = p.annee AND r.trimestre = p.trimestre
		LEFT JOIN demandes d      ON d.annee = p.annee AND d.trimestre = p.trimestre
		LEFT JOIN factures f      ON f.annee = p.annee AND f.trimestre = p.trimestre
		ORDER BY p.annee, p.trimestre`,
		dimensions.Schema, dimensions.TableTime,
		facts.Schema, facts.TableCollections, facts.TableRequests, facts.TableInvoices)

	return b.materialize(ctx, SchemaOperational, TableOperational, buildSQL)
}
