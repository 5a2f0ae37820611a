package persistence_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/pkg/composables"
)

// Repository tests run against the database named by TEST_DATABASE_URL and
// skip when it is unset. Each test works inside one transaction that rolls
// back on cleanup; every fixture gets a fresh tenant so tests do not observe
// each other's rows.

func TestMain(m *testing.M) {
	if err := os.Chdir("../../../.."); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var (
	dbOnce sync.Once
	dbPool *pgxpool.Pool
	dbErr  error
)

type fixture struct {
	Ctx      context.Context
	TenantID uuid.UUID
	Tx       pgx.Tx
	Pool     *pgxpool.Pool
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	dbOnce.Do(func() {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			dbErr = err
			return
		}
		defer func() { _ = db.Close() }()
		if err := goose.SetDialect("postgres"); err != nil {
			dbErr = err
			return
		}
		if err := goose.Up(db, "migrations/inventory"); err != nil {
			dbErr = err
			return
		}
		dbPool, dbErr = pgxpool.New(context.Background(), dsn)
	})
	require.NoError(t, dbErr)

	tx, err := dbPool.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })

	tenantID := uuid.New()
	ctx := composables.WithPool(context.Background(), dbPool)
	ctx = composables.WithTx(ctx, tx)
	ctx = composables.WithTenantID(ctx, tenantID)
	return &fixture{Ctx: ctx, TenantID: tenantID, Tx: tx, Pool: dbPool}
}

func (f *fixture) exec(t *testing.T, sql string, args ...any) {
	t.Helper()
	_, err := f.Tx.Exec(f.Ctx, sql, args...)
	require.NoError(t, err)
}

func (f *fixture) seedWarehouse(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.exec(t, `
INSERT INTO inventory_locations (id, tenant_id, kind, owning_warehouse_id, sellable)
VALUES ($1, $2, 'warehouse', $1, false)
`, id, f.TenantID)
	return id
}

func (f *fixture) seedBin(t *testing.T, parentID, owningWarehouseID uuid.UUID, sellable bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.exec(t, `
INSERT INTO inventory_locations (id, tenant_id, parent_id, kind, owning_warehouse_id, sellable)
VALUES ($1, $2, $3, 'bin', $4, $5)
`, id, f.TenantID, parentID, owningWarehouseID, sellable)
	return id
}

func (f *fixture) seedBalance(t *testing.T, itemID, locationID uuid.UUID, uom, onHand, reserved, allocated string) {
	t.Helper()
	f.exec(t, `
INSERT INTO inventory_balances (tenant_id, item_id, location_id, uom, on_hand, reserved, allocated)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, f.TenantID, itemID, locationID, uom, onHand, reserved, allocated)
}

func (f *fixture) seedReservation(t *testing.T, res *entities.InventoryReservation) {
	t.Helper()
	f.exec(t, `
INSERT INTO inventory_reservations
	(id, tenant_id, item_id, location_id, warehouse_id, uom, status, qty_reserved, qty_fulfilled, sales_order_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, res.ID, res.TenantID, res.ItemID, res.LocationID, res.WarehouseID,
		res.UOM, string(res.Status), res.QtyReserved, res.QtyFulfilled, res.SalesOrderID)
}

func (f *fixture) seedMovement(t *testing.T, mtype entities.MovementType, status entities.MovementStatus, postedAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if status == entities.MovementStatusPosted {
		f.exec(t, `
INSERT INTO inventory_movements (id, tenant_id, type, status, posted_at)
VALUES ($1, $2, $3, $4, $5)
`, id, f.TenantID, string(mtype), string(status), postedAt)
		return id
	}
	f.exec(t, `
INSERT INTO inventory_movements (id, tenant_id, type, status)
VALUES ($1, $2, $3, $4)
`, id, f.TenantID, string(mtype), string(status))
	return id
}

func (f *fixture) seedMovementLine(t *testing.T, movementID, itemID, locationID uuid.UUID, uom, quantity string, sourceRef *string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.exec(t, `
INSERT INTO inventory_movement_lines (id, tenant_id, movement_id, item_id, location_id, uom, quantity, source_ref)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, id, f.TenantID, movementID, itemID, locationID, uom, quantity, sourceRef)
	return id
}

func (f *fixture) seedReceiptLine(t *testing.T, itemID, locationID uuid.UUID, uom, quantity string, createdAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.exec(t, `
INSERT INTO inventory_receipt_lines (id, tenant_id, item_id, location_id, uom, quantity, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, id, f.TenantID, itemID, locationID, uom, quantity, createdAt)
	return id
}

func (f *fixture) seedQCEvent(t *testing.T, itemID, locationID uuid.UUID, disposition, quantity string, createdAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.exec(t, `
INSERT INTO inventory_qc_events (id, tenant_id, item_id, location_id, disposition, quantity, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, id, f.TenantID, itemID, locationID, disposition, quantity, createdAt)
	return id
}

func (f *fixture) seedSalesOrder(t *testing.T, warehouseID uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.exec(t, `
INSERT INTO sales_orders (id, tenant_id, warehouse_id, status)
VALUES ($1, $2, $3, 'open')
`, id, f.TenantID, warehouseID)
	return id
}

func (f *fixture) seedShipment(t *testing.T, itemID, locationID uuid.UUID, salesOrderID *uuid.UUID, status string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.exec(t, `
INSERT INTO inventory_shipments (id, tenant_id, item_id, location_id, sales_order_id, uom, quantity, status)
VALUES ($1, $2, $3, $4, $5, 'ea', 1, $6)
`, id, f.TenantID, itemID, locationID, salesOrderID, status)
	return id
}

func (f *fixture) seedCostLayer(t *testing.T, itemID, locationID uuid.UUID, uom, unitCost, remaining string, createdAt time.Time, voided bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	var voidedAt *time.Time
	if voided {
		v := createdAt
		voidedAt = &v
	}
	f.exec(t, `
INSERT INTO cost_layers (id, tenant_id, item_id, location_id, uom, unit_cost, remaining, voided_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, id, f.TenantID, itemID, locationID, uom, unitCost, remaining, voidedAt, createdAt)
	return id
}

func strPtr(s string) *string { return &s }
