package serving

import (
	"fmt"
	"sort"

	"sigetidwh/internal/marts"
	"sigetidwh/pkg/errors"
)

// Measure is one summable column of a mart. NativeGrain, when set, names the
// columns identifying the measure's true grain; it is coarser than the mart's
// row grain, and summation must first collapse rows to one representative per
// native-grain group.
type Measure struct {
	Column      string
	NativeGrain []string
}

// Rate is a percentage derived from two summable measures.
type Rate struct {
	Numerator   string
	Denominator string
}

// Mart describes one serving table: where it lives, which filters apply and
// which measures it carries.
type Mart struct {
	Schema   string
	Table    string
	Filters  map[string]string
	Measures map[string]Measure
	Rates    map[string]Rate
}

// financialNativeQuarter is the native grain of collection measures on the
// financial mart: a collection value repeats on every month of its quarter.
var financialNativeQuarter = []string{"annee", "trimestre", "entreprise_id", "domaine_activite_id", "zone_id"}

// Registry returns the built-in mart catalog, keyed by short mart name.
func Registry() map[string]Mart {
	return map[string]Mart{
		"financier": {
			Schema: marts.SchemaFinancial,
			Table:  marts.TableFinancial,
			Filters: map[string]string{
				"year": "annee", "quarter": "trimestre", "month": "mois",
				"zone": "zone_id", "enterprise": "entreprise_id",
			},
			Measures: map[string]Measure{
				"nb_factures":       {Column: "nb_factures"},
				"total_facture":     {Column: "total_facture"},
				"total_paye":        {Column: "total_paye"},
				"total_impaye":      {Column: "total_impaye"},
				"montant_recouvre":  {Column: "montant_recouvre", NativeGrain: financialNativeQuarter},
				"nb_recouvrements":  {Column: "nb_recouvrements", NativeGrain: financialNativeQuarter},
				"total_a_recouvrer": {Column: "total_a_recouvrer", NativeGrain: financialNativeQuarter},
			},
			Rates: map[string]Rate{
				"taux_paiement":     {Numerator: "total_paye", Denominator: "total_facture"},
				"taux_recouvrement": {Numerator: "montant_recouvre", Denominator: "total_a_recouvrer"},
			},
		},
		"occupation": {
			Schema:  marts.SchemaOccupation,
			Table:   marts.TableOccupation,
			Filters: map[string]string{"zone": "zone_id"},
			Measures: map[string]Measure{
				"nb_lots_total":         {Column: "nb_lots_total"},
				"nb_lots_attribues":     {Column: "nb_lots_attribues"},
				"nb_lots_disponibles":   {Column: "nb_lots_disponibles"},
				"nb_lots_reserves":      {Column: "nb_lots_reserves"},
				"superficie_totale":     {Column: "superficie_totale"},
				"superficie_attribuee":  {Column: "superficie_attribuee"},
				"superficie_disponible": {Column: "superficie_disponible"},
				"valeur_totale_lots":    {Column: "valeur_totale_lots"},
			},
			Rates: map[string]Rate{
				"taux_occupation": {Numerator: "nb_lots_attribues", Denominator: "nb_lots_total"},
			},
		},
		"clients": {
			Schema:  marts.SchemaClients,
			Table:   marts.TableClients,
			Filters: map[string]string{"enterprise": "entreprise_id"},
			Measures: map[string]Measure{
				"chiffre_affaires":     {Column: "chiffre_affaires"},
				"total_paye":           {Column: "total_paye"},
				"total_impaye":         {Column: "total_impaye"},
				"nb_lots_attribues":    {Column: "nb_lots_attribues"},
				"superficie_attribuee": {Column: "superficie_attribuee"},
			},
			Rates: map[string]Rate{
				"taux_paiement": {Numerator: "total_paye", Denominator: "chiffre_affaires"},
			},
		},
		"operationnel": {
			Schema:  marts.SchemaOperational,
			Table:   marts.TableOperational,
			Filters: map[string]string{"year": "annee", "quarter": "trimestre"},
			Measures: map[string]Measure{
				"nb_recouvrements":          {Column: "nb_recouvrements"},
				"nb_recouvrements_clotures": {Column: "nb_recouvrements_clotures"},
				"nb_recouvrements_en_cours": {Column: "nb_recouvrements_en_cours"},
				"nb_demandes":               {Column: "nb_demandes"},
				"nb_demandes_validees":      {Column: "nb_demandes_validees"},
				"nb_demandes_rejetees":      {Column: "nb_demandes_rejetees"},
				"nb_demandes_en_attente":    {Column: "nb_demandes_en_attente"},
				"nb_factures_emises":        {Column: "nb_factures_emises"},
			},
		},
		"rh": {
			Schema:  marts.SchemaHR,
			Table:   marts.TableAgents,
			Filters: map[string]string{},
			Measures: map[string]Measure{
				"nb_recouvrements": {Column: "nb_recouvrements"},
				"montant_recouvre": {Column: "montant_recouvre"},
			},
		},
		"compliance": {
			Schema:  marts.SchemaCompliance,
			Table:   marts.TableCompliance,
			Filters: map[string]string{"year": "annee", "enterprise": "entreprise_id"},
			Measures: map[string]Measure{
				"nb_conventions":           {Column: "nb_conventions"},
				"nb_conventions_actives":   {Column: "nb_conventions_actives"},
				"nb_conventions_expirees":  {Column: "nb_conventions_expirees"},
				"nb_conventions_resiliees": {Column: "nb_conventions_resiliees"},
			},
		},
		"implantation": {
			Schema:  marts.SchemaImplantation,
			Table:   marts.TableImplantation,
			Filters: map[string]string{"year": "annee", "zone": "zone_id"},
			Measures: map[string]Measure{
				"nb_implantations":     {Column: "nb_implantations"},
				"superficie_implantee": {Column: "superficie_implantee"},
			},
		},
	}
}

// Filters holds the optional dashboard slicers. A key unsupported by the
// queried mart is a serving error, not a silent no-op.
type Filters map[string]int

// where renders the filter predicate and its ordered args for one mart.
func (f Filters) where(mart Mart) (string, []interface{}, error) {
	if len(f) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clause := ""
	args := make([]interface{}, 0, len(keys))
	for i, key := range keys {
		column, ok := mart.Filters[key]
		if !ok {
			return "", nil, errors.ServingError(errors.ErrCodeBadFilter,
				fmt.Sprintf("filter %q does not apply to mart %s.%s", key, mart.Schema, mart.Table))
		}
		if i == 0 {
			clause = " WHERE "
		} else {
			clause += " AND "
		}
		clause += fmt.Sprintf("%s = $%d", column, i+1)
		args = append(args, f[key])
	}
	return clause, args, nil
}
