package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CostLayer is a lot of inventory value at a known unit cost. Layers are
// created on receipt, decremented on consumption in FIFO order, and voided
// (never deleted) when superseded or fully consumed by a reversal.
type CostLayer struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ItemID     uuid.UUID
	LocationID uuid.UUID
	UOM        string
	UnitCost   decimal.Decimal
	Remaining  decimal.Decimal
	VoidedAt   *time.Time
	CreatedAt  time.Time
}

func (c *CostLayer) Voided() bool {
	return c.VoidedAt != nil
}

// CostLayerTransferLink records which source layer supplied which destination
// layer for one transfer. For a posted transfer the linked quantities must
// exactly reconcile against the movement lines and source value must equal
// destination value must equal ExtendedCost, within 1e-6.
type CostLayerTransferLink struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	MovementID    uuid.UUID
	OutLineID     uuid.UUID
	InLineID      uuid.UUID
	SourceLayerID uuid.UUID
	DestLayerID   uuid.UUID
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	ExtendedCost  decimal.Decimal
	CreatedAt     time.Time
}
