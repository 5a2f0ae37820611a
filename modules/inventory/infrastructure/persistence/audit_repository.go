package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/inventory-core/modules/inventory/services"
	"github.com/iota-uz/inventory-core/pkg/composables"
)

// AuditRepository holds the read side of the invariant sweep. Every query is
// scoped to one tenant; the auditor never locks what it reads.
type AuditRepository struct{}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT DISTINCT tenant_id FROM inventory_locations ORDER BY tenant_id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]uuid.UUID, 0, 8)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *AuditRepository) countOne(ctx context.Context, sql string, args ...any) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountUnpairedReceiptLines counts receipt lines in the window that do not
// pair with exactly one posted receive line tagged with that source.
func (r *AuditRepository) CountUnpairedReceiptLines(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error) {
	return r.countOne(ctx, `
SELECT COUNT(*)
FROM inventory_receipt_lines rl
WHERE rl.tenant_id = $1
	AND rl.created_at >= $2
	AND (
		SELECT COUNT(*)
		FROM inventory_movement_lines ml
		JOIN inventory_movements m
			ON m.tenant_id = ml.tenant_id AND m.id = ml.movement_id
		WHERE ml.tenant_id = rl.tenant_id
			AND m.type = 'receive'
			AND m.status = 'posted'
			AND ml.source_ref = 'receipt_line:' || rl.id::text
	) <> 1
`, pgUUID(tenantID), since)
}

// CountLegacyReceiveMovements counts posted receive movements in the window
// carrying at least one untagged line. Informational: pre-tagging history is
// expected to show up here.
func (r *AuditRepository) CountLegacyReceiveMovements(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error) {
	return r.countOne(ctx, `
SELECT COUNT(DISTINCT m.id)
FROM inventory_movements m
JOIN inventory_movement_lines ml
	ON ml.tenant_id = m.tenant_id AND ml.movement_id = m.id
WHERE m.tenant_id = $1
	AND m.type = 'receive'
	AND m.status = 'posted'
	AND m.posted_at >= $2
	AND ml.source_ref IS NULL
`, pgUUID(tenantID), since)
}

func (r *AuditRepository) CountUnpairedQCEvents(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error) {
	return r.countOne(ctx, `
SELECT COUNT(*)
FROM inventory_qc_events q
WHERE q.tenant_id = $1
	AND q.created_at >= $2
	AND (
		SELECT COUNT(DISTINCT m.id)
		FROM inventory_movement_lines ml
		JOIN inventory_movements m
			ON m.tenant_id = ml.tenant_id AND m.id = ml.movement_id
		WHERE ml.tenant_id = q.tenant_id
			AND m.type = 'transfer'
			AND m.status = 'posted'
			AND ml.source_ref = 'qc_event:' || q.id::text
	) <> 1
`, pgUUID(tenantID), since)
}

func (r *AuditRepository) CountLegacyQCTransfers(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error) {
	return r.countOne(ctx, `
SELECT COUNT(DISTINCT m.id)
FROM inventory_movements m
JOIN inventory_movement_lines ml
	ON ml.tenant_id = m.tenant_id AND ml.movement_id = m.id
WHERE m.tenant_id = $1
	AND m.type = 'transfer'
	AND m.status = 'posted'
	AND m.posted_at >= $2
	AND ml.source_ref IS NULL
`, pgUUID(tenantID), since)
}

// CountNonSellableQCAccepts counts posted qc-accept transfer lines whose
// positive delta landed in a non-sellable location. Should never happen.
func (r *AuditRepository) CountNonSellableQCAccepts(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return r.countOne(ctx, `
SELECT COUNT(*)
FROM inventory_movement_lines ml
JOIN inventory_movements m
	ON m.tenant_id = ml.tenant_id AND m.id = ml.movement_id
JOIN inventory_locations l
	ON l.tenant_id = ml.tenant_id AND l.id = ml.location_id
WHERE ml.tenant_id = $1
	AND m.type = 'transfer'
	AND m.status = 'posted'
	AND ml.quantity > 0
	AND NOT l.sellable
	AND EXISTS (
		SELECT 1
		FROM inventory_qc_events q
		WHERE q.tenant_id = ml.tenant_id
			AND ml.source_ref = 'qc_event:' || q.id::text
			AND q.disposition = 'accept'
	)
`, pgUUID(tenantID))
}

func (r *AuditRepository) CountNegativeOnHand(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return r.countOne(ctx, `
SELECT COUNT(*)
FROM inventory_balances
WHERE tenant_id = $1 AND on_hand < 0
`, pgUUID(tenantID))
}

// ListReservationBalancePairs pairs the cached committed quantity with the
// same quantity re-derived from reservation rows. Outstanding quantity is
// clamped non-negative per row before summing.
func (r *AuditRepository) ListReservationBalancePairs(ctx context.Context, tenantID uuid.UUID) ([]services.ReservationBalancePair, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
WITH derived AS (
	SELECT item_id, location_id, uom,
		SUM(GREATEST(qty_reserved - qty_fulfilled, 0)) AS committed
	FROM inventory_reservations
	WHERE tenant_id = $1 AND status IN ('RESERVED', 'ALLOCATED')
	GROUP BY item_id, location_id, uom
), cached AS (
	SELECT item_id, location_id, uom, reserved + allocated AS committed
	FROM inventory_balances
	WHERE tenant_id = $1
)
SELECT
	COALESCE(d.item_id, c.item_id),
	COALESCE(d.location_id, c.location_id),
	COALESCE(d.uom, c.uom),
	COALESCE(c.committed, 0),
	COALESCE(d.committed, 0)
FROM derived d
FULL JOIN cached c USING (item_id, location_id, uom)
`, pgUUID(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]services.ReservationBalancePair, 0, 32)
	for rows.Next() {
		var p services.ReservationBalancePair
		if err := rows.Scan(&p.ItemID, &p.LocationID, &p.UOM, &p.BalanceCommitted, &p.DerivedCommitted); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListWarehouseDrift recomputes each location's owning warehouse from its
// ancestry chain and returns the rows where the stored value disagrees.
func (r *AuditRepository) ListWarehouseDrift(ctx context.Context, tenantID uuid.UUID) ([]services.WarehouseDriftRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
WITH RECURSIVE ancestry AS (
	SELECT id, id AS expected_warehouse_id
	FROM inventory_locations
	WHERE tenant_id = $1 AND parent_id IS NULL
	UNION ALL
	SELECT l.id, a.expected_warehouse_id
	FROM inventory_locations l
	JOIN ancestry a ON l.parent_id = a.id
	WHERE l.tenant_id = $1
)
SELECT l.id, l.owning_warehouse_id, a.expected_warehouse_id
FROM inventory_locations l
JOIN ancestry a ON a.id = l.id
WHERE l.tenant_id = $1 AND l.owning_warehouse_id <> a.expected_warehouse_id
ORDER BY l.id
`, pgUUID(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]services.WarehouseDriftRow, 0, 4)
	for rows.Next() {
		var row services.WarehouseDriftRow
		if err := rows.Scan(&row.LocationID, &row.StoredWarehouseID, &row.ExpectedWarehouseID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountReservationWarehouseMismatch counts open reservations whose captured
// warehouse no longer matches the location's current one. Expected after
// legitimate reparents, warning only.
func (r *AuditRepository) CountReservationWarehouseMismatch(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return r.countOne(ctx, `
SELECT COUNT(*)
FROM inventory_reservations res
JOIN inventory_locations l
	ON l.tenant_id = res.tenant_id AND l.id = res.location_id
WHERE res.tenant_id = $1
	AND res.status IN ('RESERVED', 'ALLOCATED')
	AND res.warehouse_id <> l.owning_warehouse_id
`, pgUUID(tenantID))
}

func (r *AuditRepository) CountNonSellableFlows(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return r.countOne(ctx, `
SELECT (
	SELECT COUNT(*)
	FROM inventory_reservations res
	JOIN inventory_locations l
		ON l.tenant_id = res.tenant_id AND l.id = res.location_id
	WHERE res.tenant_id = $1
		AND res.status IN ('RESERVED', 'ALLOCATED')
		AND NOT l.sellable
) + (
	SELECT COUNT(*)
	FROM inventory_shipments sh
	JOIN inventory_locations l
		ON l.tenant_id = sh.tenant_id AND l.id = sh.location_id
	WHERE sh.tenant_id = $1
		AND sh.status <> 'canceled'
		AND NOT l.sellable
)
`, pgUUID(tenantID))
}

func (r *AuditRepository) CountSalesOrderWarehouseMismatch(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return r.countOne(ctx, `
SELECT (
	SELECT COUNT(*)
	FROM inventory_reservations res
	JOIN sales_orders so
		ON so.tenant_id = res.tenant_id AND so.id = res.sales_order_id
	JOIN inventory_locations l
		ON l.tenant_id = res.tenant_id AND l.id = res.location_id
	WHERE res.tenant_id = $1
		AND res.sales_order_id IS NOT NULL
		AND res.status IN ('RESERVED', 'ALLOCATED')
		AND so.warehouse_id <> l.owning_warehouse_id
) + (
	SELECT COUNT(*)
	FROM inventory_shipments sh
	JOIN sales_orders so
		ON so.tenant_id = sh.tenant_id AND so.id = sh.sales_order_id
	JOIN inventory_locations l
		ON l.tenant_id = sh.tenant_id AND l.id = sh.location_id
	WHERE sh.tenant_id = $1
		AND sh.sales_order_id IS NOT NULL
		AND sh.status <> 'canceled'
		AND so.warehouse_id <> l.owning_warehouse_id
)
`, pgUUID(tenantID))
}

// ListATPGroups aggregates on-hand and committed quantity over sellable bins
// per (warehouse, item, uom).
func (r *AuditRepository) ListATPGroups(ctx context.Context, tenantID uuid.UUID) ([]services.ATPGroup, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT l.owning_warehouse_id, b.item_id, b.uom,
	SUM(b.on_hand), SUM(b.reserved + b.allocated)
FROM inventory_balances b
JOIN inventory_locations l
	ON l.tenant_id = b.tenant_id AND l.id = b.location_id
WHERE b.tenant_id = $1
	AND l.sellable
	AND l.kind = 'bin'
GROUP BY l.owning_warehouse_id, b.item_id, b.uom
`, pgUUID(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]services.ATPGroup, 0, 32)
	for rows.Next() {
		var g services.ATPGroup
		if err := rows.Scan(&g.WarehouseID, &g.ItemID, &g.UOM, &g.OnHand, &g.Committed); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
