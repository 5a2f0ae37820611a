package services

import (
	"bytes"
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/pkg/composables"
	"github.com/iota-uz/inventory-core/pkg/eventbus"
)

// cascadeSubtreeLimit caps how many nodes a cross-warehouse reparent may
// touch in one transaction.
const cascadeSubtreeLimit = 1000

type LocationRepository interface {
	GetLocation(ctx context.Context, tenantID, locationID uuid.UUID) (*entities.Location, error)

	// ListSubtreeIDs returns the ids of locationID and every descendant, up
	// to limit+1 entries so callers can detect the ceiling being exceeded.
	ListSubtreeIDs(ctx context.Context, tenantID, locationID uuid.UUID, limit int) ([]uuid.UUID, error)

	// LockLocations acquires exclusive row locks on ids in the given order
	// without waiting; a conflicting writer surfaces as a lock-conflict
	// error rather than blocking.
	LockLocations(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) error

	// HasDefaultLocationIn reports whether any default-location pointer of
	// warehouseID targets one of ids.
	HasDefaultLocationIn(ctx context.Context, tenantID, warehouseID uuid.UUID, ids []uuid.UUID) (bool, error)

	UpdateParent(ctx context.Context, tenantID, locationID uuid.UUID, parentID *uuid.UUID) error
	UpdateOwningWarehouse(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, warehouseID uuid.UUID) error
}

// CascadeService owns reparenting of location-tree nodes. A cross-warehouse
// move recomputes and propagates the denormalized owning-warehouse id over
// the moved subtree atomically, or refuses the move leaving the tree
// untouched.
type CascadeService struct {
	locations LocationRepository
	blocks    BlockRepository
	publisher eventbus.EventBus
	logger    *logrus.Entry
	runTx     TxRunner
}

func NewCascadeService(
	locations LocationRepository,
	blocks BlockRepository,
	publisher eventbus.EventBus,
	logger *logrus.Entry,
	runTx TxRunner,
) *CascadeService {
	if runTx == nil {
		runTx = PgTxRunner
	}
	return &CascadeService{
		locations: locations,
		blocks:    blocks,
		publisher: publisher,
		logger:    logger,
		runTx:     runTx,
	}
}

type ReparentInput struct {
	LocationID uuid.UUID
	// NewParentID nil promotes the node to a warehouse root.
	NewParentID *uuid.UUID
}

type ReparentResult struct {
	LocationID     uuid.UUID
	NewParentID    *uuid.UUID
	OldWarehouseID uuid.UUID
	NewWarehouseID uuid.UUID
	CrossWarehouse bool
	// CascadedCount is the number of nodes whose owning warehouse changed,
	// including the moved node. Zero for same-warehouse moves.
	CascadedCount int
}

func (s *CascadeService) Reparent(ctx context.Context, tenantID uuid.UUID, in ReparentInput) (*ReparentResult, error) {
	if tenantID == uuid.Nil {
		// Fall back to the tenant carried in ctx.
		id, err := composables.UseTenantID(ctx)
		if err != nil {
			return nil, newServiceError(http.StatusBadRequest, ErrCodeInternal, "tenant_id is required", err)
		}
		tenantID = id
	}
	if in.LocationID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, ErrCodeLocationNotFound, "location_id is required", nil)
	}

	var result *ReparentResult
	err := s.runTx(ctx, tenantID, func(txCtx context.Context) error {
		node, err := s.locations.GetLocation(txCtx, tenantID, in.LocationID)
		if err != nil {
			return mapPgError(err)
		}
		if node == nil {
			return newServiceError(http.StatusNotFound, ErrCodeLocationNotFound, "location not found", nil)
		}

		newWarehouseID, err := s.resolveNewWarehouse(txCtx, tenantID, node, in.NewParentID)
		if err != nil {
			return err
		}

		if newWarehouseID == node.OwningWarehouseID {
			// Same-warehouse reparent: parent pointer only, no cascade,
			// no lock escalation.
			if err := s.locations.UpdateParent(txCtx, tenantID, node.ID, in.NewParentID); err != nil {
				return mapPgError(err)
			}
			result = &ReparentResult{
				LocationID:     node.ID,
				NewParentID:    in.NewParentID,
				OldWarehouseID: node.OwningWarehouseID,
				NewWarehouseID: newWarehouseID,
			}
			return nil
		}

		subtree, err := s.locations.ListSubtreeIDs(txCtx, tenantID, node.ID, cascadeSubtreeLimit)
		if err != nil {
			return mapPgError(err)
		}
		if len(subtree) > cascadeSubtreeLimit {
			recordRefusal(ErrCodeCascadeSizeExceeded)
			return newServiceError(http.StatusUnprocessableEntity, ErrCodeCascadeSizeExceeded,
				"subtree exceeds the cascade ceiling", nil)
		}

		broken, err := s.locations.HasDefaultLocationIn(txCtx, tenantID, node.OwningWarehouseID, subtree)
		if err != nil {
			return mapPgError(err)
		}
		if broken {
			recordRefusal(ErrCodeParentMoveBreaksDefaultLocation)
			return newServiceError(http.StatusUnprocessableEntity, ErrCodeParentMoveBreaksDefaultLocation,
				"subtree contains a designated default location of the current warehouse", nil)
		}

		blocked, err := s.blocks.GetActive(txCtx, tenantID, entities.BlockCodeWarehouseIDDrift)
		if err != nil {
			return mapPgError(err)
		}
		if blocked != nil {
			recordRefusal(ErrCodeWarehouseIDDriftReparentBlocked)
			return newServiceError(http.StatusConflict, ErrCodeWarehouseIDDriftReparentBlocked,
				"warehouse id drift is active for this tenant; reparent refused until the auditor clears it", nil)
		}

		sortUUIDs(subtree)
		if err := s.locations.LockLocations(txCtx, tenantID, subtree); err != nil {
			return mapPgError(err)
		}

		if err := s.locations.UpdateParent(txCtx, tenantID, node.ID, in.NewParentID); err != nil {
			return mapPgError(err)
		}
		if err := s.locations.UpdateOwningWarehouse(txCtx, tenantID, subtree, newWarehouseID); err != nil {
			return mapPgError(err)
		}

		result = &ReparentResult{
			LocationID:     node.ID,
			NewParentID:    in.NewParentID,
			OldWarehouseID: node.OwningWarehouseID,
			NewWarehouseID: newWarehouseID,
			CrossWarehouse: true,
			CascadedCount:  len(subtree),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		s.publisher.Publish(LocationReparentedEvent{
			TenantID:       tenantID,
			LocationID:     result.LocationID,
			NewParentID:    result.NewParentID,
			OldWarehouseID: result.OldWarehouseID,
			NewWarehouseID: result.NewWarehouseID,
			CascadedCount:  result.CascadedCount,
			OccurredAt:     time.Now().UTC(),
		})
	}
	if result.CrossWarehouse {
		s.log(ctx).WithFields(logrus.Fields{
			"tenant_id":        tenantID,
			"location_id":      result.LocationID,
			"new_warehouse_id": result.NewWarehouseID,
			"cascaded":         result.CascadedCount,
		}).Info("cross-warehouse reparent cascaded")
	}
	return result, nil
}

func (s *CascadeService) resolveNewWarehouse(ctx context.Context, tenantID uuid.UUID, node *entities.Location, newParentID *uuid.UUID) (uuid.UUID, error) {
	if newParentID == nil {
		// The node becomes a warehouse root owning itself.
		return node.ID, nil
	}
	parent, err := s.locations.GetLocation(ctx, tenantID, *newParentID)
	if err != nil {
		return uuid.Nil, mapPgError(err)
	}
	if parent == nil {
		return uuid.Nil, newServiceError(http.StatusUnprocessableEntity, ErrCodeLocationNotFound, "new parent not found", nil)
	}
	if parent.IsWarehouseRoot() {
		return parent.ID, nil
	}
	return parent.OwningWarehouseID, nil
}

// log returns the service logger, or the one carried in ctx when the
// service was built without one.
func (s *CascadeService) log(ctx context.Context) *logrus.Entry {
	if s.logger != nil {
		return s.logger
	}
	return composables.UseLogger(ctx)
}

// sortUUIDs orders ids ascending so locks are always acquired in a stable
// order.
func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
