package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/pkg/composables"
)

type InvariantBlockRepository struct{}

func NewInvariantBlockRepository() *InvariantBlockRepository {
	return &InvariantBlockRepository{}
}

func (r *InvariantBlockRepository) GetActive(ctx context.Context, tenantID uuid.UUID, code string) (*entities.InvariantBlock, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
SELECT id, tenant_id, code, active, details, created_at, updated_at
FROM inventory_invariant_blocks
WHERE tenant_id = $1 AND code = $2 AND active
`, pgUUID(tenantID), code)

	block, err := scanBlock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

func (r *InvariantBlockRepository) Upsert(ctx context.Context, tenantID uuid.UUID, code string, active bool, details json.RawMessage) (*entities.InvariantBlock, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
INSERT INTO inventory_invariant_blocks (id, tenant_id, code, active, details)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, code) DO UPDATE
SET active = EXCLUDED.active,
	details = EXCLUDED.details,
	updated_at = now()
RETURNING id, tenant_id, code, active, details, created_at, updated_at
`, pgUUID(uuid.New()), pgUUID(tenantID), code, active, details)

	return scanBlock(row)
}

// ListActive returns every active block across tenants, for operational
// tooling.
func (r *InvariantBlockRepository) ListActive(ctx context.Context) ([]entities.InvariantBlock, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT id, tenant_id, code, active, details, created_at, updated_at
FROM inventory_invariant_blocks
WHERE active
ORDER BY tenant_id, code
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]entities.InvariantBlock, 0, 4)
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *block)
	}
	return out, rows.Err()
}

func scanBlock(row pgx.Row) (*entities.InvariantBlock, error) {
	var block entities.InvariantBlock
	err := row.Scan(
		&block.ID,
		&block.TenantID,
		&block.Code,
		&block.Active,
		&block.Details,
		&block.CreatedAt,
		&block.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &block, nil
}
