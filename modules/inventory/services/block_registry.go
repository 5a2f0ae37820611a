package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
)

type BlockRepository interface {
	// GetActive returns the active block for (tenantID, code), or nil when
	// no row exists or the row is inactive; callers must not distinguish
	// the two.
	GetActive(ctx context.Context, tenantID uuid.UUID, code string) (*entities.InvariantBlock, error)

	// Upsert writes the block row keyed by (tenantID, code).
	Upsert(ctx context.Context, tenantID uuid.UUID, code string, active bool, details json.RawMessage) (*entities.InvariantBlock, error)
}

// BlockRegistry is the durable record of active "this tenant is in a bad
// state" flags. Only the auditor writes to it; the cascade service reads it
// to refuse structural mutation while a relevant block is active.
type BlockRegistry struct {
	repo BlockRepository
}

func NewBlockRegistry(repo BlockRepository) *BlockRegistry {
	return &BlockRegistry{repo: repo}
}

func (r *BlockRegistry) IsBlocked(ctx context.Context, tenantID uuid.UUID, code string) (bool, error) {
	block, err := r.repo.GetActive(ctx, tenantID, code)
	if err != nil {
		return false, mapPgError(err)
	}
	return block != nil, nil
}

func (r *BlockRegistry) Raise(ctx context.Context, tenantID uuid.UUID, code string, details json.RawMessage) (*entities.InvariantBlock, error) {
	block, err := r.repo.Upsert(ctx, tenantID, code, true, details)
	if err != nil {
		return nil, mapPgError(err)
	}
	return block, nil
}

func (r *BlockRegistry) Clear(ctx context.Context, tenantID uuid.UUID, code string) (*entities.InvariantBlock, error) {
	block, err := r.repo.Upsert(ctx, tenantID, code, false, nil)
	if err != nil {
		return nil, mapPgError(err)
	}
	return block, nil
}
