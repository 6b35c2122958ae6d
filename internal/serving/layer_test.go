package serving

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigetidwh/internal/testutil"
	"sigetidwh/pkg/errors"
)

func newMockLayer(t *testing.T) (*Layer, sqlmock.Sqlmock) {
	t.Helper()
	wh, mock := testutil.MockWarehouse(t)
	return NewLayer(wh), mock
}

func TestSumPlainMeasure(t *testing.T) {
	layer, mock := newMockLayer(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(total_facture\), 0\) FROM dwh_marts_financier\.mart_performance_financiere WHERE mois = \$1 AND annee = \$2`).
		WithArgs(3, 2025).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1500000.0))

	sum, err := layer.Sum(context.Background(), "financier", "total_facture",
		Filters{"year": 2025, "month": 3})
	require.NoError(t, err)
	assert.Equal(t, 1500000.0, sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A collection spanning the three months of a quarter stores its full amount
// on each monthly row. Summing over the quarter must count it once.
func TestSumDeduplicatesCoarseGrainMeasure(t *testing.T) {
	layer, mock := newMockLayer(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(v\), 0\) FROM \(SELECT MAX\(total_a_recouvrer\) AS v FROM dwh_marts_financier\.mart_performance_financiere WHERE trimestre = \$1 AND annee = \$2 GROUP BY annee, trimestre, entreprise_id, domaine_activite_id, zone_id\) g`).
		WithArgs(1, 2025).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1000000.0))

	sum, err := layer.Sum(context.Background(), "financier", "total_a_recouvrer",
		Filters{"year": 2025, "quarter": 1})
	require.NoError(t, err)
	assert.Equal(t, 1000000.0, sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The global payment rate is the ratio of sums, never the mean of per-row
// percentages: A billed 1,000,000 paid 500,000, B billed 0 paid 0 gives
// 50.00, not 25.00.
func TestRateIsRatioOfSums(t *testing.T) {
	layer, mock := newMockLayer(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(total_paye\), 0\) FROM dwh_marts_financier\.mart_performance_financiere`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(500000.0))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(total_facture\), 0\) FROM dwh_marts_financier\.mart_performance_financiere`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1000000.0))

	rate, err := layer.Rate(context.Background(), "financier", "taux_paiement", nil)
	require.NoError(t, err)
	assert.Equal(t, 50.0, rate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateZeroDenominator(t *testing.T) {
	layer, mock := newMockLayer(t)

	mock.ExpectQuery(`SUM\(total_paye\)`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(0.0))
	mock.ExpectQuery(`SUM\(total_facture\)`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(0.0))

	rate, err := layer.Rate(context.Background(), "financier", "taux_paiement", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)
}

func TestSumUnknownMart(t *testing.T) {
	layer, _ := newMockLayer(t)

	_, err := layer.Sum(context.Background(), "inconnu", "total_facture", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownMart, errors.GetErrorCode(err))
}

func TestSumUnknownMeasure(t *testing.T) {
	layer, _ := newMockLayer(t)

	_, err := layer.Sum(context.Background(), "occupation", "total_facture", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownMeasure, errors.GetErrorCode(err))
}

func TestSumRejectsForeignFilter(t *testing.T) {
	layer, _ := newMockLayer(t)

	// The occupation mart has no time axis; a year filter is an error, not
	// a silent full-table sum.
	_, err := layer.Sum(context.Background(), "occupation", "nb_lots_total",
		Filters{"year": 2025})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBadFilter, errors.GetErrorCode(err))
}

func TestFreshness(t *testing.T) {
	layer, mock := newMockLayer(t)
	refreshedAt := time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(refreshed_at\), 'epoch'::timestamptz\) FROM dwh_meta\.refresh_log`).
		WithArgs("dwh_marts_occupation", "mart_occupation_zones").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(refreshedAt))

	got, err := layer.Freshness(context.Background(), "occupation")
	require.NoError(t, err)
	assert.Equal(t, refreshedAt, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFreshnessNeverRefreshed(t *testing.T) {
	layer, mock := newMockLayer(t)

	mock.ExpectQuery(`refresh_log`).
		WithArgs("dwh_marts_occupation", "mart_occupation_zones").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(time.Unix(0, 0).UTC()))

	got, err := layer.Freshness(context.Background(), "occupation")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestChecksum(t *testing.T) {
	layer, mock := newMockLayer(t)

	mock.ExpectQuery(`SELECT COALESCE\(md5\(string_agg\(row_hash, '' ORDER BY row_hash\)\), 'empty'\) FROM \(SELECT md5\(CAST\(t\.\* AS text\)\) AS row_hash FROM dwh_marts_occupation\.mart_occupation_zones t\) h`).
		WillReturnRows(sqlmock.NewRows([]string{"md5"}).AddRow("2f4d0c9b"))

	sum, err := layer.Checksum(context.Background(), "occupation")
	require.NoError(t, err)
	assert.Equal(t, "2f4d0c9b", sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecksumUnknownMart(t *testing.T) {
	layer, _ := newMockLayer(t)

	_, err := layer.Checksum(context.Background(), "inconnu")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownMart, errors.GetErrorCode(err))
}

func TestMartsAreSorted(t *testing.T) {
	layer, _ := newMockLayer(t)
	names := layer.Marts()
	assert.Equal(t, []string{
		"clients", "compliance", "financier", "implantation",
		"occupation", "operationnel", "rh",
	}, names)
}
