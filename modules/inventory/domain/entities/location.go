package entities

import (
	"time"

	"github.com/google/uuid"
)

type LocationKind string

const (
	// LocationKindWarehouse marks a warehouse root. A root's owning
	// warehouse is itself.
	LocationKindWarehouse LocationKind = "warehouse"
	// LocationKindBin marks an interior node or bin under a warehouse root.
	LocationKindBin LocationKind = "bin"
)

// Location is a node in the hierarchical location tree. OwningWarehouseID is
// denormalized: for a warehouse root it equals the node's own id, for any
// other node it equals the owning warehouse of its nearest warehouse-root
// ancestor. The cascade service is the only writer of this field on reparent.
type Location struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	ParentID          *uuid.UUID
	Kind              LocationKind
	OwningWarehouseID uuid.UUID
	Sellable          bool
	Role              string
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (l *Location) IsWarehouseRoot() bool {
	return l.Kind == LocationKindWarehouse && l.ParentID == nil
}

// WarehouseDefaultLocation points a (warehouse, role) pair at a designated
// location, e.g. the default receiving bin. Reparenting must not leave a
// warehouse's default pointer dangling across warehouses.
type WarehouseDefaultLocation struct {
	TenantID    uuid.UUID
	WarehouseID uuid.UUID
	Role        string
	LocationID  uuid.UUID
}
