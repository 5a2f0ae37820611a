package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/pkg/composables"
)

// fakeLocationRepo holds an in-memory location tree and records which calls
// the service made.
type fakeLocationRepo struct {
	locations map[uuid.UUID]*entities.Location
	defaults  []entities.WarehouseDefaultLocation

	lockErr error

	subtreeListed bool
	lockedIDs     []uuid.UUID
	cascadedIDs   []uuid.UUID
}

func newFakeLocationRepo() *fakeLocationRepo {
	return &fakeLocationRepo{locations: map[uuid.UUID]*entities.Location{}}
}

func (f *fakeLocationRepo) addWarehouse(tenantID uuid.UUID) *entities.Location {
	loc := &entities.Location{
		ID:       uuid.New(),
		TenantID: tenantID,
		Kind:     entities.LocationKindWarehouse,
		Active:   true,
	}
	loc.OwningWarehouseID = loc.ID
	f.locations[loc.ID] = loc
	return loc
}

func (f *fakeLocationRepo) addBin(parent *entities.Location) *entities.Location {
	loc := &entities.Location{
		ID:                uuid.New(),
		TenantID:          parent.TenantID,
		ParentID:          &parent.ID,
		Kind:              entities.LocationKindBin,
		OwningWarehouseID: parent.OwningWarehouseID,
		Active:            true,
	}
	f.locations[loc.ID] = loc
	return loc
}

func (f *fakeLocationRepo) GetLocation(ctx context.Context, tenantID, locationID uuid.UUID) (*entities.Location, error) {
	loc := f.locations[locationID]
	if loc == nil || loc.TenantID != tenantID {
		return nil, nil
	}
	return loc, nil
}

func (f *fakeLocationRepo) ListSubtreeIDs(ctx context.Context, tenantID, locationID uuid.UUID, limit int) ([]uuid.UUID, error) {
	f.subtreeListed = true
	out := []uuid.UUID{locationID}
	for i := 0; i < len(out) && len(out) <= limit; i++ {
		for _, loc := range f.locations {
			if loc.ParentID != nil && *loc.ParentID == out[i] {
				out = append(out, loc.ID)
			}
		}
	}
	return out, nil
}

func (f *fakeLocationRepo) LockLocations(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) error {
	if f.lockErr != nil {
		return f.lockErr
	}
	f.lockedIDs = append([]uuid.UUID{}, ids...)
	return nil
}

func (f *fakeLocationRepo) HasDefaultLocationIn(ctx context.Context, tenantID, warehouseID uuid.UUID, ids []uuid.UUID) (bool, error) {
	for _, d := range f.defaults {
		if d.TenantID != tenantID || d.WarehouseID != warehouseID {
			continue
		}
		for _, id := range ids {
			if d.LocationID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeLocationRepo) UpdateParent(ctx context.Context, tenantID, locationID uuid.UUID, parentID *uuid.UUID) error {
	f.locations[locationID].ParentID = parentID
	return nil
}

func (f *fakeLocationRepo) UpdateOwningWarehouse(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, warehouseID uuid.UUID) error {
	f.cascadedIDs = append([]uuid.UUID{}, ids...)
	for _, id := range ids {
		f.locations[id].OwningWarehouseID = warehouseID
	}
	return nil
}

func newTestCascade(repo *fakeLocationRepo, blocks BlockRepository) (*CascadeService, *stubPublisher) {
	if blocks == nil {
		blocks = newFakeBlockRepo()
	}
	publisher := &stubPublisher{}
	return NewCascadeService(repo, blocks, publisher, nil, passthroughTx), publisher
}

func TestReparent_CrossWarehouseCascadesSubtree(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	whA := repo.addWarehouse(tenantID)
	whB := repo.addWarehouse(tenantID)
	node := repo.addBin(whA)
	child := repo.addBin(node)
	grandchild := repo.addBin(child)

	svc, publisher := newTestCascade(repo, nil)
	result, err := svc.Reparent(context.Background(), tenantID, ReparentInput{
		LocationID:  node.ID,
		NewParentID: &whB.ID,
	})
	require.NoError(t, err)
	require.True(t, result.CrossWarehouse)
	require.Equal(t, 3, result.CascadedCount)
	require.Equal(t, whB.ID, result.NewWarehouseID)

	for _, loc := range []*entities.Location{node, child, grandchild} {
		require.Equal(t, whB.ID, repo.locations[loc.ID].OwningWarehouseID)
	}
	require.Equal(t, whB.ID, *repo.locations[node.ID].ParentID)

	require.Len(t, publisher.events, 1)
	moved, ok := publisher.events[0].(LocationReparentedEvent)
	require.True(t, ok)
	require.Equal(t, node.ID, moved.LocationID)
	require.Equal(t, 3, moved.CascadedCount)
}

func TestReparent_SameWarehouseSkipsSubtreeMachinery(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	wh := repo.addWarehouse(tenantID)
	binA := repo.addBin(wh)
	binB := repo.addBin(wh)
	child := repo.addBin(binA)

	svc, _ := newTestCascade(repo, nil)
	result, err := svc.Reparent(context.Background(), tenantID, ReparentInput{
		LocationID:  binA.ID,
		NewParentID: &binB.ID,
	})
	require.NoError(t, err)
	require.False(t, result.CrossWarehouse)
	require.Zero(t, result.CascadedCount)

	require.False(t, repo.subtreeListed, "same-warehouse move must not enumerate the subtree")
	require.Empty(t, repo.lockedIDs)
	require.Equal(t, wh.ID, repo.locations[child.ID].OwningWarehouseID)
	require.Equal(t, binB.ID, *repo.locations[binA.ID].ParentID)
}

func TestReparent_SubtreeCeiling(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	whA := repo.addWarehouse(tenantID)
	whB := repo.addWarehouse(tenantID)
	node := repo.addBin(whA)
	for i := 0; i < cascadeSubtreeLimit; i++ {
		repo.addBin(node)
	}

	svc, publisher := newTestCascade(repo, nil)
	_, err := svc.Reparent(context.Background(), tenantID, ReparentInput{
		LocationID:  node.ID,
		NewParentID: &whB.ID,
	})
	requireRefusal(t, err, ErrCodeCascadeSizeExceeded)

	// Refused moves leave the tree untouched.
	require.Equal(t, whA.ID, repo.locations[node.ID].OwningWarehouseID)
	require.Equal(t, whA.ID, *repo.locations[node.ID].ParentID)
	require.Empty(t, publisher.events)
}

func TestReparent_DefaultLocationInSubtree(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	whA := repo.addWarehouse(tenantID)
	whB := repo.addWarehouse(tenantID)
	node := repo.addBin(whA)
	receiving := repo.addBin(node)
	repo.defaults = append(repo.defaults, entities.WarehouseDefaultLocation{
		TenantID:    tenantID,
		WarehouseID: whA.ID,
		Role:        "receiving",
		LocationID:  receiving.ID,
	})

	svc, _ := newTestCascade(repo, nil)
	_, err := svc.Reparent(context.Background(), tenantID, ReparentInput{
		LocationID:  node.ID,
		NewParentID: &whB.ID,
	})
	requireRefusal(t, err, ErrCodeParentMoveBreaksDefaultLocation)
	require.Equal(t, whA.ID, repo.locations[receiving.ID].OwningWarehouseID)
}

func TestReparent_ActiveDriftBlockRefusesCrossWarehouse(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	whA := repo.addWarehouse(tenantID)
	whB := repo.addWarehouse(tenantID)
	node := repo.addBin(whA)

	blocks := newFakeBlockRepo()
	_, err := blocks.Upsert(context.Background(), tenantID, entities.BlockCodeWarehouseIDDrift, true, nil)
	require.NoError(t, err)

	svc, _ := newTestCascade(repo, blocks)
	_, err = svc.Reparent(context.Background(), tenantID, ReparentInput{
		LocationID:  node.ID,
		NewParentID: &whB.ID,
	})
	requireRefusal(t, err, ErrCodeWarehouseIDDriftReparentBlocked)
}

func TestReparent_ClearedDriftBlockAllowsCrossWarehouse(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	whA := repo.addWarehouse(tenantID)
	whB := repo.addWarehouse(tenantID)
	node := repo.addBin(whA)

	blocks := newFakeBlockRepo()
	_, err := blocks.Upsert(context.Background(), tenantID, entities.BlockCodeWarehouseIDDrift, false, nil)
	require.NoError(t, err)

	svc, _ := newTestCascade(repo, blocks)
	result, err := svc.Reparent(context.Background(), tenantID, ReparentInput{
		LocationID:  node.ID,
		NewParentID: &whB.ID,
	})
	require.NoError(t, err)
	require.True(t, result.CrossWarehouse)
}

func TestReparent_LockConflict(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	whA := repo.addWarehouse(tenantID)
	whB := repo.addWarehouse(tenantID)
	node := repo.addBin(whA)
	repo.lockErr = &pgconn.PgError{Code: "55P03"}

	svc, _ := newTestCascade(repo, nil)
	_, err := svc.Reparent(context.Background(), tenantID, ReparentInput{
		LocationID:  node.ID,
		NewParentID: &whB.ID,
	})
	requireRefusal(t, err, ErrCodeCascadeLockConflict)
	require.Equal(t, whA.ID, repo.locations[node.ID].OwningWarehouseID)
}

func TestReparent_LocksAcquiredInStableOrder(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	whA := repo.addWarehouse(tenantID)
	whB := repo.addWarehouse(tenantID)
	node := repo.addBin(whA)
	for i := 0; i < 10; i++ {
		repo.addBin(node)
	}

	svc, _ := newTestCascade(repo, nil)
	_, err := svc.Reparent(context.Background(), tenantID, ReparentInput{
		LocationID:  node.ID,
		NewParentID: &whB.ID,
	})
	require.NoError(t, err)
	require.Len(t, repo.lockedIDs, 11)
	sorted := append([]uuid.UUID{}, repo.lockedIDs...)
	sortUUIDs(sorted)
	require.Equal(t, sorted, repo.lockedIDs)
}

func TestReparent_PromoteToRoot(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	wh := repo.addWarehouse(tenantID)
	node := repo.addBin(wh)
	child := repo.addBin(node)

	svc, _ := newTestCascade(repo, nil)
	result, err := svc.Reparent(context.Background(), tenantID, ReparentInput{LocationID: node.ID})
	require.NoError(t, err)
	require.True(t, result.CrossWarehouse)
	require.Equal(t, node.ID, result.NewWarehouseID)
	require.Nil(t, repo.locations[node.ID].ParentID)
	require.Equal(t, node.ID, repo.locations[child.ID].OwningWarehouseID)
}

func TestReparent_UnknownLocation(t *testing.T) {
	repo := newFakeLocationRepo()
	svc, _ := newTestCascade(repo, nil)
	_, err := svc.Reparent(context.Background(), uuid.New(), ReparentInput{LocationID: uuid.New()})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, http.StatusNotFound, svcErr.Status)
	require.Equal(t, ErrCodeLocationNotFound, svcErr.Code)
}

func TestReparent_TenantFromContext(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeLocationRepo()
	wh := repo.addWarehouse(tenantID)
	binA := repo.addBin(wh)
	binB := repo.addBin(wh)

	svc, _ := newTestCascade(repo, nil)
	ctx := composables.WithTenantID(context.Background(), tenantID)
	result, err := svc.Reparent(ctx, uuid.Nil, ReparentInput{
		LocationID:  binA.ID,
		NewParentID: &binB.ID,
	})
	require.NoError(t, err)
	require.Equal(t, binB.ID, *result.NewParentID)
}

func TestReparent_NoTenantAnywhere(t *testing.T) {
	repo := newFakeLocationRepo()
	svc, _ := newTestCascade(repo, nil)
	_, err := svc.Reparent(context.Background(), uuid.Nil, ReparentInput{LocationID: uuid.New()})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, http.StatusBadRequest, svcErr.Status)
}
