package source

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"sigetidwh/pkg/errors"
)

// Entity names the logical entities the marts are built from. The contract
// below is the only place that knows their physical layout.
const (
	EntityZones               = "zones"
	EntityLots                = "lots"
	EntityEnterprises         = "enterprises"
	EntityActivityDomains     = "activity_domains"
	EntityInvoices            = "invoices"
	EntityCollections         = "collections"
	EntityAttributionRequests = "attribution_requests"
	EntityRequestLots         = "attribution_request_lots"
	EntityPayments            = "payments"
	EntityAgents              = "agents"
	EntityConventions         = "conventions"
)

// Projection maps one logical entity to a physical table and the columns the
// pipeline is allowed to read. Surface-only OLTP fields never appear here.
type Projection struct {
	Schema  string   `yaml:"schema"`
	Table   string   `yaml:"table"`
	Columns []string `yaml:"columns"`
}

// Contract is the full logical-to-physical mapping of the source database.
type Contract map[string]Projection

// DefaultContract returns the mapping for the SIGETI OLTP schema.
func DefaultContract() Contract {
	return Contract{
		EntityZones: {
			Schema:  "public",
			Table:   "zone_industrielle",
			Columns: []string{"id", "libelle", "superficie_totale", "latitude", "longitude", "updated_at"},
		},
		EntityLots: {
			Schema:  "public",
			Table:   "lot",
			Columns: []string{"id", "zone_id", "superficie", "statut_operationnel", "valeur", "updated_at"},
		},
		EntityEnterprises: {
			Schema:  "public",
			Table:   "entreprise",
			Columns: []string{"id", "raison_sociale", "forme_juridique", "domaine_activite_id", "a_risque", "updated_at"},
		},
		EntityActivityDomains: {
			Schema:  "public",
			Table:   "domaine_activite",
			Columns: []string{"id", "libelle"},
		},
		EntityInvoices: {
			Schema:  "public",
			Table:   "facture",
			Columns: []string{"id", "entreprise_id", "recouvrement_id", "demande_attribution_id", "date_creation", "date_paiement", "montant_total", "updated_at"},
		},
		EntityCollections: {
			Schema:  "public",
			Table:   "recouvrement",
			Columns: []string{"id", "entreprise_id", "zone_id", "agent_id", "date_debut", "date_fin", "montant_a_recouvrer", "montant_recouvre", "statut", "updated_at"},
		},
		EntityAttributionRequests: {
			Schema:  "public",
			Table:   "demande_attribution",
			Columns: []string{"id", "entreprise_id", "date_creation", "statut", "updated_at"},
		},
		EntityRequestLots: {
			Schema:  "public",
			Table:   "demande_attribution_lot",
			Columns: []string{"demande_id", "lot_id"},
		},
		EntityPayments: {
			Schema:  "public",
			Table:   "paiement",
			Columns: []string{"id", "facture_id", "date_paiement", "montant", "updated_at"},
		},
		EntityAgents: {
			Schema:  "public",
			Table:   "agent",
			Columns: []string{"id", "nom", "prenom", "updated_at"},
		},
		EntityConventions: {
			Schema:  "public",
			Table:   "convention",
			Columns: []string{"id", "entreprise_id", "statut", "date_debut", "date_fin", "updated_at"},
		},
	}
}

// LoadOverrides applies a YAML mapping file on top of the default contract,
// for deployments where physical tables were renamed. Only the entities named
// in the file are replaced.
func LoadOverrides(contract Contract, path string) (Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to read mapping file %s", path)).
			WithSeverity(errors.SeverityCritical)
	}

	overrides := Contract{}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse mapping file %s", path)).
			WithSeverity(errors.SeverityCritical)
	}

	merged := Contract{}
	for name, proj := range contract {
		merged[name] = proj
	}
	for name, proj := range overrides {
		base, ok := merged[name]
		if !ok {
			return nil, errors.ConfigError(
				fmt.Sprintf("mapping file overrides unknown entity %q", name), "mapping_file")
		}
		if proj.Schema == "" {
			proj.Schema = base.Schema
		}
		if proj.Table == "" {
			proj.Table = base.Table
		}
		if len(proj.Columns) == 0 {
			proj.Columns = base.Columns
		}
		merged[name] = proj
	}
	return merged, nil
}

// Entities returns the entity names in deterministic order.
func (c Contract) Entities() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectSQL returns the stable staging SELECT for one entity.
func (c Contract) SelectSQL(entity string) (string, error) {
	proj, ok := c[entity]
	if !ok {
		return "", errors.New(errors.ErrCodeSourceContract,
			fmt.Sprintf("unknown source entity %q", entity)).
			WithSeverity(errors.SeverityCritical)
	}
	return fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(proj.Columns, ", "), proj.Schema, proj.Table), nil
}

// QualifiedTable returns schema.table for one entity.
func (c Contract) QualifiedTable(entity string) (string, error) {
	proj, ok := c[entity]
	if !ok {
		return "", errors.New(errors.ErrCodeSourceContract,
			fmt.Sprintf("unknown source entity %q", entity)).
			WithSeverity(errors.SeverityCritical)
	}
	return proj.Schema + "." + proj.Table, nil
}
