package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigetidwh/internal/testutil"
	"sigetidwh/pkg/errors"
)

func TestDefaultContract(t *testing.T) {
	contract := DefaultContract()

	expected := []string{
		EntityZones, EntityLots, EntityEnterprises, EntityActivityDomains,
		EntityInvoices, EntityCollections, EntityAttributionRequests,
		EntityRequestLots, EntityPayments, EntityAgents, EntityConventions,
	}
	for _, entity := range expected {
		proj, ok := contract[entity]
		require.True(t, ok, "missing entity %s", entity)
		assert.NotEmpty(t, proj.Table)
		assert.NotEmpty(t, proj.Columns)
	}

	// Entities() must be deterministic for idempotent refresh ordering.
	assert.Equal(t, contract.Entities(), contract.Entities())
}

func TestSelectSQL(t *testing.T) {
	contract := DefaultContract()

	sql, err := contract.SelectSQL(EntityInvoices)
	require.NoError(t, err)
	assert.Contains(t, sql, "FROM public.facture")
	assert.Contains(t, sql, "montant_total")
	assert.NotContains(t, sql, "*")

	_, err = contract.SelectSQL("nonexistent")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSourceContract, errors.GetErrorCode(err))
}

func TestLoadOverrides(t *testing.T) {
	t.Run("renamed table", func(t *testing.T) {
		file := testutil.WriteFile(t, "mapping.yaml", "invoices:\n  table: facture_v2\n")

		merged, err := LoadOverrides(DefaultContract(), file)
		require.NoError(t, err)

		assert.Equal(t, "facture_v2", merged[EntityInvoices].Table)
		// untouched fields inherited from the default
		assert.Equal(t, "public", merged[EntityInvoices].Schema)
		assert.Contains(t, merged[EntityInvoices].Columns, "montant_total")
		// other entities untouched
		assert.Equal(t, "recouvrement", merged[EntityCollections].Table)
	})

	t.Run("unknown entity rejected", func(t *testing.T) {
		file := testutil.WriteFile(t, "bad.yaml", "payrolls:\n  table: x\n")

		_, err := LoadOverrides(DefaultContract(), file)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "payrolls")
	})

	t.Run("missing file is fatal", func(t *testing.T) {
		_, err := LoadOverrides(DefaultContract(), filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})
}

func newMockAdapter(t *testing.T, contract Contract) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	wh, mock := testutil.MockWarehouse(t)
	return NewAdapter(wh, contract), mock
}

// columnsRows builds an information_schema result covering the projections.
func columnsRows(contract Contract, skipEntity, skipColumn string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"table_schema", "table_name", "column_name"})
	for _, entity := range contract.Entities() {
		if entity == skipEntity && skipColumn == "" {
			continue
		}
		proj := contract[entity]
		for _, column := range proj.Columns {
			if entity == skipEntity && column == skipColumn {
				continue
			}
			rows.AddRow(proj.Schema, proj.Table, column)
		}
	}
	return rows
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	contract := DefaultContract()

	t.Run("all projections present", func(t *testing.T) {
		adapter, mock := newMockAdapter(t, contract)
		mock.ExpectQuery("information_schema.columns").
			WillReturnRows(columnsRows(contract, "", ""))

		assert.NoError(t, adapter.Verify(ctx))
	})

	t.Run("missing table is fatal and named", func(t *testing.T) {
		adapter, mock := newMockAdapter(t, contract)
		mock.ExpectQuery("information_schema.columns").
			WillReturnRows(columnsRows(contract, EntityCollections, ""))

		err := adapter.Verify(ctx)
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
		assert.Contains(t, err.Error(), "collections")
		assert.Contains(t, err.Error(), "public.recouvrement")
	})

	t.Run("missing column is fatal and named", func(t *testing.T) {
		adapter, mock := newMockAdapter(t, contract)
		mock.ExpectQuery("information_schema.columns").
			WillReturnRows(columnsRows(contract, EntityInvoices, "montant_total"))

		err := adapter.Verify(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "montant_total")
	})
}
