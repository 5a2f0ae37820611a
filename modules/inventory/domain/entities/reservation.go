package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusAllocated ReservationStatus = "ALLOCATED"
	ReservationStatusFulfilled ReservationStatus = "FULFILLED"
	ReservationStatusCanceled  ReservationStatus = "CANCELED"
)

// InventoryReservation holds committed quantity against a location.
// WarehouseID is captured at reservation time and may legitimately diverge
// from the location's current owning warehouse after a later reparent; the
// auditor reports that divergence as a warning, not a structural error.
type InventoryReservation struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ItemID       uuid.UUID
	LocationID   uuid.UUID
	WarehouseID  uuid.UUID
	UOM          string
	Status       ReservationStatus
	QtyReserved  decimal.Decimal
	QtyFulfilled decimal.Decimal
	SalesOrderID *uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Outstanding is the committed quantity still open on the reservation,
// clamped to non-negative.
func (r *InventoryReservation) Outstanding() decimal.Decimal {
	out := r.QtyReserved.Sub(r.QtyFulfilled)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// InventoryBalance is the derived on-hand/reserved/allocated cache per
// (item, location, uom). It is not authoritative; it may transiently disagree
// with the ledger between a posting and the next auditor sweep.
type InventoryBalance struct {
	TenantID   uuid.UUID
	ItemID     uuid.UUID
	LocationID uuid.UUID
	UOM        string
	OnHand     decimal.Decimal
	Reserved   decimal.Decimal
	Allocated  decimal.Decimal
	UpdatedAt  time.Time
}
