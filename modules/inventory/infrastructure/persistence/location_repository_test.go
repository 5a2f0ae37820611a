package persistence_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/modules/inventory/infrastructure/persistence"
	"github.com/iota-uz/inventory-core/pkg/composables"
)

func TestLocationRepository_GetLocation(t *testing.T) {
	f := setupTest(t)
	repo := persistence.NewLocationRepository()

	wh := f.seedWarehouse(t)
	bin := f.seedBin(t, wh, wh, true)

	got, err := repo.GetLocation(f.Ctx, f.TenantID, bin)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, bin, got.ID)
	require.Equal(t, f.TenantID, got.TenantID)
	require.Equal(t, entities.LocationKindBin, got.Kind)
	require.Equal(t, wh, got.OwningWarehouseID)
	require.NotNil(t, got.ParentID)
	require.Equal(t, wh, *got.ParentID)
	require.True(t, got.Sellable)

	root, err := repo.GetLocation(f.Ctx, f.TenantID, wh)
	require.NoError(t, err)
	require.Nil(t, root.ParentID)
	require.True(t, root.IsWarehouseRoot())

	missing, err := repo.GetLocation(f.Ctx, f.TenantID, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)

	// Another tenant's id resolves to nothing.
	foreign, err := repo.GetLocation(f.Ctx, uuid.New(), bin)
	require.NoError(t, err)
	require.Nil(t, foreign)
}

func TestLocationRepository_ListSubtreeIDs(t *testing.T) {
	f := setupTest(t)
	repo := persistence.NewLocationRepository()

	wh := f.seedWarehouse(t)
	binA := f.seedBin(t, wh, wh, false)
	binB := f.seedBin(t, wh, wh, false)
	child := f.seedBin(t, binA, wh, false)

	ids, err := repo.ListSubtreeIDs(f.Ctx, f.TenantID, wh, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{wh, binA, binB, child}, ids)

	ids, err = repo.ListSubtreeIDs(f.Ctx, f.TenantID, binA, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{binA, child}, ids)

	// One row past the ceiling comes back so the caller can detect it.
	ids, err = repo.ListSubtreeIDs(f.Ctx, f.TenantID, wh, 2)
	require.NoError(t, err)
	require.Len(t, ids, 3)
}

func TestLocationRepository_UpdateParentAndOwningWarehouse(t *testing.T) {
	f := setupTest(t)
	repo := persistence.NewLocationRepository()

	whA := f.seedWarehouse(t)
	whB := f.seedWarehouse(t)
	bin := f.seedBin(t, whA, whA, false)
	child := f.seedBin(t, bin, whA, false)

	require.NoError(t, repo.UpdateParent(f.Ctx, f.TenantID, bin, &whB))
	require.NoError(t, repo.UpdateOwningWarehouse(f.Ctx, f.TenantID, []uuid.UUID{bin, child}, whB))

	got, err := repo.GetLocation(f.Ctx, f.TenantID, child)
	require.NoError(t, err)
	require.Equal(t, whB, got.OwningWarehouseID)

	// Promote to root.
	require.NoError(t, repo.UpdateParent(f.Ctx, f.TenantID, bin, nil))
	got, err = repo.GetLocation(f.Ctx, f.TenantID, bin)
	require.NoError(t, err)
	require.Nil(t, got.ParentID)

	err = repo.UpdateParent(f.Ctx, f.TenantID, uuid.New(), nil)
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestLocationRepository_HasDefaultLocationIn(t *testing.T) {
	f := setupTest(t)
	repo := persistence.NewLocationRepository()

	wh := f.seedWarehouse(t)
	receiving := f.seedBin(t, wh, wh, false)
	other := f.seedBin(t, wh, wh, false)
	f.exec(t, `
INSERT INTO warehouse_default_locations (tenant_id, warehouse_id, role, location_id)
VALUES ($1, $2, 'receiving', $3)
`, f.TenantID, wh, receiving)

	hit, err := repo.HasDefaultLocationIn(f.Ctx, f.TenantID, wh, []uuid.UUID{receiving, other})
	require.NoError(t, err)
	require.True(t, hit)

	miss, err := repo.HasDefaultLocationIn(f.Ctx, f.TenantID, wh, []uuid.UUID{other})
	require.NoError(t, err)
	require.False(t, miss)

	miss, err = repo.HasDefaultLocationIn(f.Ctx, f.TenantID, uuid.New(), []uuid.UUID{receiving})
	require.NoError(t, err)
	require.False(t, miss)

	miss, err = repo.HasDefaultLocationIn(f.Ctx, f.TenantID, wh, nil)
	require.NoError(t, err)
	require.False(t, miss)
}

func TestLocationRepository_LockLocationsNoWaitConflict(t *testing.T) {
	f := setupTest(t)
	repo := persistence.NewLocationRepository()

	// Contention needs committed rows that both transactions can see.
	tenantID := uuid.New()
	id := uuid.New()
	_, err := f.Pool.Exec(context.Background(), `
INSERT INTO inventory_locations (id, tenant_id, kind, owning_warehouse_id)
VALUES ($1, $2, 'warehouse', $1)
`, id, tenantID)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = f.Pool.Exec(context.Background(), `DELETE FROM inventory_locations WHERE id = $1`, id)
	})

	tx1, err := f.Pool.Begin(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx1.Rollback(context.Background()) }()
	ctx1 := composables.WithTenantID(composables.WithTx(context.Background(), tx1), tenantID)
	require.NoError(t, repo.LockLocations(ctx1, tenantID, []uuid.UUID{id}))

	tx2, err := f.Pool.Begin(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx2.Rollback(context.Background()) }()
	ctx2 := composables.WithTenantID(composables.WithTx(context.Background(), tx2), tenantID)

	err = repo.LockLocations(ctx2, tenantID, []uuid.UUID{id})
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "55P03", pgErr.Code)
}
