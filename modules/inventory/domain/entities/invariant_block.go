package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Block codes. The registry is keyed by (tenant, code) and designed to host
// additional codes beyond warehouse drift.
const (
	BlockCodeWarehouseIDDrift = "WAREHOUSE_ID_DRIFT"
)

// InvariantBlock is a durable flag meaning "a structural invariant is
// currently violated for this tenant; certain operations are refused until it
// clears". Readers must treat a missing row and active=false identically.
type InvariantBlock struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Code      string
	Active    bool
	Details   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}
