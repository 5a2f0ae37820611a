package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementTypeReceive          MovementType = "receive"
	MovementTypeTransfer         MovementType = "transfer"
	MovementTypeTransferReversal MovementType = "transfer_reversal"
	MovementTypeShip             MovementType = "ship"
	MovementTypeAdjust           MovementType = "adjust"
)

type MovementStatus string

const (
	MovementStatusDraft    MovementStatus = "draft"
	MovementStatusPosted   MovementStatus = "posted"
	MovementStatusCanceled MovementStatus = "canceled"
)

// Movement groups the lines of one posting. All lines of a transfer share a
// single canonical unit of measure and their deltas must sum to zero.
type Movement struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Type     MovementType
	Status   MovementStatus
	PostedAt *time.Time
}

func (m *Movement) IsPostedTransfer() bool {
	if m.Status != MovementStatusPosted {
		return false
	}
	return m.Type == MovementTypeTransfer || m.Type == MovementTypeTransferReversal
}

// MovementLine is one posting in the append-only movement ledger. Once the
// parent movement is posted the line is immutable; on-hand for an
// (item, location, uom) triple is the sum of all posted deltas.
type MovementLine struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	MovementID uuid.UUID
	ItemID     uuid.UUID
	LocationID uuid.UUID
	UOM        string
	Quantity   decimal.Decimal
	// SourceRef tags the originating document (receipt line, QC event).
	// Legacy lines carry no tag; the auditor counts those separately.
	SourceRef *string
	CreatedAt time.Time
}
