package refresh

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigetidwh/internal/dimensions"
	"sigetidwh/internal/facts"
	"sigetidwh/internal/marts"
	"sigetidwh/internal/serving"
	"sigetidwh/internal/source"
	"sigetidwh/internal/testutil"
	"sigetidwh/internal/warehouse"
	"sigetidwh/pkg/models"
)

// sourceFixture rebuilds the OLTP schema with a small deterministic dataset:
// one zone of twelve lots (six attributed through a validated request, three
// available, three reserved), one enterprise, one invoice paid after ten days
// and one unpaid, one closed collection, one agent, one active convention.
var sourceFixture = []string{
	`DROP TABLE IF EXISTS public.zone_industrielle, public.lot, public.entreprise,
		public.domaine_activite, public.facture, public.recouvrement,
		public.demande_attribution, public.demande_attribution_lot,
		public.paiement, public.agent, public.convention CASCADE`,
	`CREATE TABLE public.domaine_activite (id int PRIMARY KEY, libelle text)`,
	`CREATE TABLE public.entreprise (id int PRIMARY KEY, raison_sociale text,
		forme_juridique text, domaine_activite_id int, a_risque boolean, updated_at timestamptz)`,
	`CREATE TABLE public.zone_industrielle (id int PRIMARY KEY, libelle text,
		superficie_totale numeric, latitude numeric, longitude numeric, updated_at timestamptz)`,
	`CREATE TABLE public.lot (id int PRIMARY KEY, zone_id int, superficie numeric,
		statut_operationnel text, valeur numeric, updated_at timestamptz)`,
	`CREATE TABLE public.facture (id int PRIMARY KEY, entreprise_id int,
		recouvrement_id int, demande_attribution_id int, date_creation date,
		date_paiement date, montant_total numeric, updated_at timestamptz)`,
	`CREATE TABLE public.recouvrement (id int PRIMARY KEY, entreprise_id int,
		zone_id int, agent_id int, date_debut date, date_fin date,
		montant_a_recouvrer numeric, montant_recouvre numeric, statut text, updated_at timestamptz)`,
	`CREATE TABLE public.demande_attribution (id int PRIMARY KEY, entreprise_id int,
		date_creation date, statut text, updated_at timestamptz)`,
	`CREATE TABLE public.demande_attribution_lot (demande_id int, lot_id int)`,
	`CREATE TABLE public.paiement (id int PRIMARY KEY, facture_id int,
		date_paiement date, montant numeric, updated_at timestamptz)`,
	`CREATE TABLE public.agent (id int PRIMARY KEY, nom text, prenom text, updated_at timestamptz)`,
	`CREATE TABLE public.convention (id int PRIMARY KEY, entreprise_id int,
		statut text, date_debut date, date_fin date, updated_at timestamptz)`,

	`INSERT INTO public.domaine_activite VALUES (1, 'Industrie')`,
	`INSERT INTO public.entreprise VALUES (1, 'ACME', 'SA', 1, false, '2025-01-02T08:00:00Z')`,
	`INSERT INTO public.zone_industrielle VALUES (1, 'Zone Nord', 600, NULL, NULL, '2025-01-02T08:00:00Z')`,
	`INSERT INTO public.lot
		SELECT i, 1, 50,
		       CASE WHEN i BETWEEN 7 AND 9 THEN 'disponible' ELSE 'occupe' END,
		       1000, '2025-01-02T08:00:00Z'
		FROM generate_series(1, 12) i`,
	`INSERT INTO public.demande_attribution VALUES (1, 1, '2025-01-10', 'validee', '2025-01-10T09:00:00Z')`,
	`INSERT INTO public.demande_attribution_lot SELECT 1, i FROM generate_series(1, 6) i`,
	`INSERT INTO public.facture VALUES
		(1, 1, NULL, 1, '2025-03-01', '2025-03-11', 1000, '2025-03-11T10:00:00Z'),
		(2, 1, NULL, 1, '2025-03-05', NULL, 500, '2025-03-05T10:00:00Z')`,
	`INSERT INTO public.recouvrement VALUES
		(1, 1, 1, 1, '2025-01-15', '2025-02-10', 2000, 1500, 'cloture', '2025-02-10T11:00:00Z')`,
	`INSERT INTO public.paiement VALUES (1, 1, '2025-03-11', 1000, '2025-03-11T10:00:00Z')`,
	`INSERT INTO public.agent VALUES (1, 'Diallo', 'Awa', '2025-01-02T08:00:00Z')`,
	`INSERT INTO public.convention VALUES (1, 1, 'active', '2025-01-01', NULL, '2025-01-02T08:00:00Z')`,
}

func seedSource(t *testing.T, wh *warehouse.Service) {
	t.Helper()
	require.NoError(t, wh.ExecuteSQL(context.Background(), sourceFixture...))
}

func newIntegrationOrchestrator(wh *warehouse.Service) *Orchestrator {
	adapter := source.NewAdapter(wh, source.DefaultContract())
	dims := dimensions.NewBuilder(adapter, wh)
	factBuilder := facts.NewBuilder(adapter, wh, facts.NewWatermarkStore(wh))
	martBuilder := marts.NewBuilder(adapter, wh)
	return New(dims, factBuilder, martBuilder, 2)
}

func TestFullRefreshAgainstDatabase(t *testing.T) {
	wh := testutil.IntegrationWarehouse(t)
	seedSource(t, wh)
	ctx := context.Background()

	adapter := source.NewAdapter(wh, source.DefaultContract())
	require.NoError(t, adapter.Verify(ctx))

	report, err := newIntegrationOrchestrator(wh).Run(ctx, models.PolicyFull, "")
	require.NoError(t, err)
	require.True(t, report.Success, "refresh failed: %v", report.Failed())
	assert.Zero(t, report.Quality.OrphanFactRows)
	assert.Zero(t, report.Quality.DatesOutOfRange)

	// Occupation partition: 12 lots = 6 attributed + 3 available + 3 reserved.
	var total, attributed, available, reserved int64
	row := wh.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT nb_lots_total, nb_lots_attribues, nb_lots_disponibles, nb_lots_reserves FROM %s.%s WHERE zone_id = 1",
		marts.SchemaOccupation, marts.TableOccupation))
	require.NoError(t, row.Scan(&total, &attributed, &available, &reserved))
	assert.Equal(t, int64(12), total)
	assert.Equal(t, int64(6), attributed)
	assert.Equal(t, int64(3), available)
	assert.Equal(t, int64(3), reserved)
	assert.Equal(t, total, attributed+available+reserved)

	// Payment delay: whole days, 2025-03-01 to 2025-03-11 is exactly 10.
	var delay int64
	require.NoError(t, wh.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT delai_paiement_jours FROM %s.%s WHERE facture_id = 1",
		facts.Schema, facts.TableInvoices)).Scan(&delay))
	assert.Equal(t, int64(10), delay)

	// Billing decomposition holds on every financial row.
	var violations int64
	require.NoError(t, wh.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s.%s WHERE total_facture <> total_paye + total_impaye",
		marts.SchemaFinancial, marts.TableFinancial)).Scan(&violations))
	assert.Zero(t, violations)
}

func TestFullRefreshIsIdempotent(t *testing.T) {
	wh := testutil.IntegrationWarehouse(t)
	seedSource(t, wh)
	ctx := context.Background()
	orchestrator := newIntegrationOrchestrator(wh)

	report, err := orchestrator.Run(ctx, models.PolicyFull, "")
	require.NoError(t, err)
	require.True(t, report.Success, "refresh failed: %v", report.Failed())

	layer := serving.NewLayer(wh)
	first := map[string]string{}
	for _, name := range layer.Marts() {
		sum, err := layer.Checksum(ctx, name)
		require.NoError(t, err)
		first[name] = sum
	}

	report, err = orchestrator.Run(ctx, models.PolicyFull, "")
	require.NoError(t, err)
	require.True(t, report.Success, "refresh failed: %v", report.Failed())

	for _, name := range layer.Marts() {
		sum, err := layer.Checksum(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, first[name], sum, "mart %s changed without a source change", name)
	}
}
