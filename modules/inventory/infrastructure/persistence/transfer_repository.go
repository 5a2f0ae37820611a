package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/pkg/composables"
)

type TransferRepository struct{}

func NewTransferRepository() *TransferRepository {
	return &TransferRepository{}
}

func (r *TransferRepository) GetMovement(ctx context.Context, tenantID, movementID uuid.UUID) (*entities.Movement, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
SELECT id, tenant_id, type, status, posted_at
FROM inventory_movements
WHERE tenant_id = $1 AND id = $2
`, pgUUID(tenantID), pgUUID(movementID))

	var m entities.Movement
	var postedAt pgtype.Timestamptz
	err = row.Scan(&m.ID, &m.TenantID, &m.Type, &m.Status, &postedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if postedAt.Valid {
		t := postedAt.Time
		m.PostedAt = &t
	}
	return &m, nil
}

func (r *TransferRepository) ListLines(ctx context.Context, tenantID, movementID uuid.UUID) ([]entities.MovementLine, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT id, tenant_id, movement_id, item_id, location_id, uom, quantity, source_ref, created_at
FROM inventory_movement_lines
WHERE tenant_id = $1 AND movement_id = $2
ORDER BY created_at, id
`, pgUUID(tenantID), pgUUID(movementID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]entities.MovementLine, 0, 4)
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *line)
	}
	return out, rows.Err()
}

func (r *TransferRepository) GetLine(ctx context.Context, tenantID, lineID uuid.UUID) (*entities.MovementLine, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
SELECT id, tenant_id, movement_id, item_id, location_id, uom, quantity, source_ref, created_at
FROM inventory_movement_lines
WHERE tenant_id = $1 AND id = $2
`, pgUUID(tenantID), pgUUID(lineID))

	line, err := scanLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}

func scanLine(row pgx.Row) (*entities.MovementLine, error) {
	var line entities.MovementLine
	var sourceRef pgtype.Text
	err := row.Scan(
		&line.ID,
		&line.TenantID,
		&line.MovementID,
		&line.ItemID,
		&line.LocationID,
		&line.UOM,
		&line.Quantity,
		&sourceRef,
		&line.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sourceRef.Valid {
		s := sourceRef.String
		line.SourceRef = &s
	}
	return &line, nil
}

func (r *TransferRepository) ListLinks(ctx context.Context, tenantID, movementID uuid.UUID) ([]entities.CostLayerTransferLink, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT id, tenant_id, movement_id, out_line_id, in_line_id, source_layer_id, dest_layer_id,
	quantity, unit_cost, extended_cost, created_at
FROM cost_layer_transfer_links
WHERE tenant_id = $1 AND movement_id = $2
ORDER BY created_at, id
`, pgUUID(tenantID), pgUUID(movementID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]entities.CostLayerTransferLink, 0, 4)
	for rows.Next() {
		var link entities.CostLayerTransferLink
		if err := rows.Scan(
			&link.ID,
			&link.TenantID,
			&link.MovementID,
			&link.OutLineID,
			&link.InLineID,
			&link.SourceLayerID,
			&link.DestLayerID,
			&link.Quantity,
			&link.UnitCost,
			&link.ExtendedCost,
			&link.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

func (r *TransferRepository) GetCostLayer(ctx context.Context, tenantID, layerID uuid.UUID) (*entities.CostLayer, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
SELECT id, tenant_id, item_id, location_id, uom, unit_cost, remaining, voided_at, created_at
FROM cost_layers
WHERE tenant_id = $1 AND id = $2
`, pgUUID(tenantID), pgUUID(layerID))

	layer, err := scanLayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return layer, nil
}

func scanLayer(row pgx.Row) (*entities.CostLayer, error) {
	var layer entities.CostLayer
	var voidedAt pgtype.Timestamptz
	err := row.Scan(
		&layer.ID,
		&layer.TenantID,
		&layer.ItemID,
		&layer.LocationID,
		&layer.UOM,
		&layer.UnitCost,
		&layer.Remaining,
		&voidedAt,
		&layer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if voidedAt.Valid {
		t := voidedAt.Time
		layer.VoidedAt = &t
	}
	return &layer, nil
}

func (r *TransferRepository) InsertMovement(ctx context.Context, movement *entities.Movement) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO inventory_movements (id, tenant_id, type, status)
VALUES ($1, $2, $3, $4)
`, pgUUID(movement.ID), pgUUID(movement.TenantID), movement.Type, movement.Status)
	return err
}

func (r *TransferRepository) InsertLine(ctx context.Context, line *entities.MovementLine) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO inventory_movement_lines (id, tenant_id, movement_id, item_id, location_id, uom, quantity, source_ref)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, pgUUID(line.ID), pgUUID(line.TenantID), pgUUID(line.MovementID), pgUUID(line.ItemID),
		pgUUID(line.LocationID), line.UOM, line.Quantity, line.SourceRef)
	return err
}

func (r *TransferRepository) InsertLink(ctx context.Context, link *entities.CostLayerTransferLink) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO cost_layer_transfer_links
	(id, tenant_id, movement_id, out_line_id, in_line_id, source_layer_id, dest_layer_id, quantity, unit_cost, extended_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, pgUUID(link.ID), pgUUID(link.TenantID), pgUUID(link.MovementID), pgUUID(link.OutLineID),
		pgUUID(link.InLineID), pgUUID(link.SourceLayerID), pgUUID(link.DestLayerID),
		link.Quantity, link.UnitCost, link.ExtendedCost)
	return err
}

func (r *TransferRepository) MarkMovementPosted(ctx context.Context, tenantID, movementID uuid.UUID, postedAt time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
UPDATE inventory_movements
SET status = $3, posted_at = $4
WHERE tenant_id = $1 AND id = $2
`, pgUUID(tenantID), pgUUID(movementID), entities.MovementStatusPosted, postedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListOpenLayersFIFO locks the candidate source layers for the duration of
// the posting transaction so concurrent consumers cannot drain them
// mid-posting.
func (r *TransferRepository) ListOpenLayersFIFO(ctx context.Context, tenantID, itemID, locationID uuid.UUID, uom string) ([]entities.CostLayer, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT id, tenant_id, item_id, location_id, uom, unit_cost, remaining, voided_at, created_at
FROM cost_layers
WHERE tenant_id = $1 AND item_id = $2 AND location_id = $3 AND uom = $4
	AND voided_at IS NULL AND remaining > 0
ORDER BY created_at, id
FOR UPDATE
`, pgUUID(tenantID), pgUUID(itemID), pgUUID(locationID), uom)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]entities.CostLayer, 0, 4)
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *layer)
	}
	return out, rows.Err()
}

func (r *TransferRepository) CreateLayer(ctx context.Context, layer *entities.CostLayer) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO cost_layers (id, tenant_id, item_id, location_id, uom, unit_cost, remaining)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, pgUUID(layer.ID), pgUUID(layer.TenantID), pgUUID(layer.ItemID), pgUUID(layer.LocationID),
		layer.UOM, layer.UnitCost, layer.Remaining)
	return err
}

func (r *TransferRepository) ReduceLayerRemaining(ctx context.Context, tenantID, layerID uuid.UUID, by decimal.Decimal) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
UPDATE cost_layers
SET remaining = remaining - $3
WHERE tenant_id = $1 AND id = $2 AND voided_at IS NULL AND remaining >= $3
`, pgUUID(tenantID), pgUUID(layerID), by)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
