package services

import (
	"time"

	"github.com/google/uuid"
)

// Domain events published after the owning transaction commits.

type LocationReparentedEvent struct {
	TenantID       uuid.UUID
	LocationID     uuid.UUID
	NewParentID    *uuid.UUID
	OldWarehouseID uuid.UUID
	NewWarehouseID uuid.UUID
	CascadedCount  int
	OccurredAt     time.Time
}

type TransferPostedEvent struct {
	TenantID   uuid.UUID
	MovementID uuid.UUID
	LinkCount  int
	OccurredAt time.Time
}

type InvariantBlockRaisedEvent struct {
	TenantID   uuid.UUID
	Code       string
	OccurredAt time.Time
}

type InvariantBlockClearedEvent struct {
	TenantID   uuid.UUID
	Code       string
	OccurredAt time.Time
}

type AuditCompletedEvent struct {
	TenantCount int
	Duration    time.Duration
	OccurredAt  time.Time
}
