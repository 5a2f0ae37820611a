package persistence_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/modules/inventory/infrastructure/persistence"
)

func TestInvariantBlockRepository_RaiseClearCycle(t *testing.T) {
	f := setupTest(t)
	repo := persistence.NewInvariantBlockRepository()
	code := entities.BlockCodeWarehouseIDDrift

	got, err := repo.GetActive(f.Ctx, f.TenantID, code)
	require.NoError(t, err)
	require.Nil(t, got)

	raised, err := repo.Upsert(f.Ctx, f.TenantID, code, true, json.RawMessage(`{"count":2}`))
	require.NoError(t, err)
	require.True(t, raised.Active)
	require.JSONEq(t, `{"count":2}`, string(raised.Details))

	active, err := repo.GetActive(f.Ctx, f.TenantID, code)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, raised.ID, active.ID)

	// Clearing updates the same row; (tenant, code) stays unique.
	cleared, err := repo.Upsert(f.Ctx, f.TenantID, code, false, nil)
	require.NoError(t, err)
	require.Equal(t, raised.ID, cleared.ID)
	require.False(t, cleared.Active)

	gone, err := repo.GetActive(f.Ctx, f.TenantID, code)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestInvariantBlockRepository_ListActive(t *testing.T) {
	f := setupTest(t)
	repo := persistence.NewInvariantBlockRepository()
	code := entities.BlockCodeWarehouseIDDrift

	_, err := repo.Upsert(f.Ctx, f.TenantID, code, true, nil)
	require.NoError(t, err)

	blocks, err := repo.ListActive(f.Ctx)
	require.NoError(t, err)

	found := false
	for _, b := range blocks {
		require.True(t, b.Active)
		if b.TenantID == f.TenantID && b.Code == code {
			found = true
		}
	}
	require.True(t, found)

	_, err = repo.Upsert(f.Ctx, f.TenantID, code, false, nil)
	require.NoError(t, err)

	blocks, err = repo.ListActive(f.Ctx)
	require.NoError(t, err)
	for _, b := range blocks {
		require.False(t, b.TenantID == f.TenantID && b.Code == code)
	}
}
