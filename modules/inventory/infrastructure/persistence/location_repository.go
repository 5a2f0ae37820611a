package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/pkg/composables"
)

type LocationRepository struct{}

func NewLocationRepository() *LocationRepository {
	return &LocationRepository{}
}

func (r *LocationRepository) GetLocation(ctx context.Context, tenantID, locationID uuid.UUID) (*entities.Location, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
SELECT id, tenant_id, parent_id, kind, owning_warehouse_id, sellable, role, active, created_at, updated_at
FROM inventory_locations
WHERE tenant_id = $1 AND id = $2
`, pgUUID(tenantID), pgUUID(locationID))

	var loc entities.Location
	var parent pgtype.UUID
	err = row.Scan(
		&loc.ID,
		&loc.TenantID,
		&parent,
		&loc.Kind,
		&loc.OwningWarehouseID,
		&loc.Sellable,
		&loc.Role,
		&loc.Active,
		&loc.CreatedAt,
		&loc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	loc.ParentID = uuidPtrFromPg(parent)
	return &loc, nil
}

// ListSubtreeIDs walks the parent pointers with a recursive CTE. The
// traversal stops one past limit so callers can detect the ceiling being
// exceeded without enumerating an arbitrarily large subtree.
func (r *LocationRepository) ListSubtreeIDs(ctx context.Context, tenantID, locationID uuid.UUID, limit int) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
WITH RECURSIVE subtree AS (
	SELECT id
	FROM inventory_locations
	WHERE tenant_id = $1 AND id = $2
	UNION ALL
	SELECT l.id
	FROM inventory_locations l
	JOIN subtree s ON l.parent_id = s.id
	WHERE l.tenant_id = $1
)
SELECT id FROM subtree
LIMIT $3
`, pgUUID(tenantID), pgUUID(locationID), limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]uuid.UUID, 0, 16)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LockLocations takes exclusive row locks without waiting; a conflicting
// writer surfaces as lock_not_available (55P03) instead of blocking, which
// the service layer maps to the lock-conflict refusal.
func (r *LocationRepository) LockLocations(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `
SELECT id
FROM inventory_locations
WHERE tenant_id = $1 AND id = ANY($2)
ORDER BY id
FOR UPDATE NOWAIT
`, pgUUID(tenantID), ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *LocationRepository) HasDefaultLocationIn(ctx context.Context, tenantID, warehouseID uuid.UUID, ids []uuid.UUID) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = tx.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM warehouse_default_locations
	WHERE tenant_id = $1 AND warehouse_id = $2 AND location_id = ANY($3)
)
`, pgUUID(tenantID), pgUUID(warehouseID), ids).Scan(&exists)
	return exists, err
}

func (r *LocationRepository) UpdateParent(ctx context.Context, tenantID, locationID uuid.UUID, parentID *uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
UPDATE inventory_locations
SET parent_id = $3, updated_at = now()
WHERE tenant_id = $1 AND id = $2
`, pgUUID(tenantID), pgUUID(locationID), pgUUIDPtr(parentID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *LocationRepository) UpdateOwningWarehouse(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, warehouseID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
UPDATE inventory_locations
SET owning_warehouse_id = $3, updated_at = now()
WHERE tenant_id = $1 AND id = ANY($2)
`, pgUUID(tenantID), ids, pgUUID(warehouseID))
	return err
}
