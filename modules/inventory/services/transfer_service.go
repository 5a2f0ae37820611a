package services

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/pkg/composables"
	"github.com/iota-uz/inventory-core/pkg/eventbus"
)

// costTolerance bounds acceptable rounding drift in quantity and value
// comparisons.
var costTolerance = decimal.New(1, -6)

type TransferRepository interface {
	GetMovement(ctx context.Context, tenantID, movementID uuid.UUID) (*entities.Movement, error)
	ListLines(ctx context.Context, tenantID, movementID uuid.UUID) ([]entities.MovementLine, error)
	GetLine(ctx context.Context, tenantID, lineID uuid.UUID) (*entities.MovementLine, error)
	ListLinks(ctx context.Context, tenantID, movementID uuid.UUID) ([]entities.CostLayerTransferLink, error)
	GetCostLayer(ctx context.Context, tenantID, layerID uuid.UUID) (*entities.CostLayer, error)

	InsertMovement(ctx context.Context, movement *entities.Movement) error
	InsertLine(ctx context.Context, line *entities.MovementLine) error
	InsertLink(ctx context.Context, link *entities.CostLayerTransferLink) error
	MarkMovementPosted(ctx context.Context, tenantID, movementID uuid.UUID, postedAt time.Time) error

	// ListOpenLayersFIFO locks and returns unvoided layers with remaining
	// quantity for (item, location, uom), oldest first.
	ListOpenLayersFIFO(ctx context.Context, tenantID, itemID, locationID uuid.UUID, uom string) ([]entities.CostLayer, error)
	CreateLayer(ctx context.Context, layer *entities.CostLayer) error
	ReduceLayerRemaining(ctx context.Context, tenantID, layerID uuid.UUID, by decimal.Decimal) error
}

// TransferService guarantees that a posted transfer neither creates nor
// destroys quantity or value across cost layers. Dimensional integrity of a
// single link is checked when the link is written; conservation over the
// whole posting is checked once, inside the posting transaction, immediately
// before commit.
type TransferService struct {
	repo      TransferRepository
	publisher eventbus.EventBus
	logger    *logrus.Entry
	runTx     TxRunner
}

func NewTransferService(repo TransferRepository, publisher eventbus.EventBus, logger *logrus.Entry, runTx TxRunner) *TransferService {
	if runTx == nil {
		runTx = PgTxRunner
	}
	return &TransferService{repo: repo, publisher: publisher, logger: logger, runTx: runTx}
}

// ── Row-level dimensional check ───────────────────────────────────────────

// ValidateCostLink checks dimensional integrity of one link before it may be
// written: referenced rows exist, belong together, signs and dimensions
// match, and the declared costs agree with the layers. Violations are
// structural, not timing-dependent, so no deferral is needed.
func (s *TransferService) ValidateCostLink(ctx context.Context, tenantID uuid.UUID, link *entities.CostLayerTransferLink) error {
	movement, err := s.repo.GetMovement(ctx, tenantID, link.MovementID)
	if err != nil {
		return mapPgError(err)
	}
	outLine, err := s.loadLine(ctx, tenantID, link.OutLineID)
	if err != nil {
		return err
	}
	inLine, err := s.loadLine(ctx, tenantID, link.InLineID)
	if err != nil {
		return err
	}
	var src, dst *entities.CostLayer
	if movement != nil {
		if src, err = s.repo.GetCostLayer(ctx, tenantID, link.SourceLayerID); err != nil {
			return mapPgError(err)
		}
		if dst, err = s.repo.GetCostLayer(ctx, tenantID, link.DestLayerID); err != nil {
			return mapPgError(err)
		}
	}
	if err := validateLinkDimensions(movement, link, outLine, inLine, src, dst); err != nil {
		if svcErr, ok := err.(*ServiceError); ok {
			recordTransferRefusal(svcErr.Code)
		}
		return err
	}
	return nil
}

func (s *TransferService) loadLine(ctx context.Context, tenantID, lineID uuid.UUID) (*entities.MovementLine, error) {
	if lineID == uuid.Nil {
		return nil, nil
	}
	line, err := s.repo.GetLine(ctx, tenantID, lineID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return line, nil
}

func validateLinkDimensions(
	movement *entities.Movement,
	link *entities.CostLayerTransferLink,
	outLine, inLine *entities.MovementLine,
	src, dst *entities.CostLayer,
) error {
	if movement == nil {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkMovementNotFound, "movement not found", nil)
	}
	if !movement.IsPostedTransfer() {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkMovementNotTransfer, "movement is not a posted transfer", nil)
	}
	if outLine == nil {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkOutLineNotFound, "outbound line not found", nil)
	}
	if inLine == nil {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkInLineNotFound, "inbound line not found", nil)
	}
	if outLine.MovementID != link.MovementID || inLine.MovementID != link.MovementID {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkLineMovementMismatch, "linked lines belong to a different movement", nil)
	}
	if outLine.TenantID != link.TenantID || inLine.TenantID != link.TenantID || movement.TenantID != link.TenantID {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkTenantMismatch, "linked rows belong to a different tenant", nil)
	}
	if !outLine.Quantity.IsNegative() {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkOutSignInvalid, "outbound line delta must be negative", nil)
	}
	if !inLine.Quantity.IsPositive() {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkInSignInvalid, "inbound line delta must be positive", nil)
	}
	if !link.Quantity.IsPositive() {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkQuantityInvalid, "link quantity must be positive", nil)
	}
	if outLine.ItemID != inLine.ItemID {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkItemMismatch, "linked lines carry different items", nil)
	}
	if outLine.UOM != inLine.UOM {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkUOMMismatch, "linked lines carry different uoms", nil)
	}
	if src == nil {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkSourceLayerNotFound, "source cost layer not found", nil)
	}
	if dst == nil {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkDestLayerNotFound, "destination cost layer not found", nil)
	}
	if src.Voided() || dst.Voided() {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkLayerVoided, "linked cost layer is voided", nil)
	}
	if src.TenantID != link.TenantID || src.ItemID != outLine.ItemID || src.LocationID != outLine.LocationID || src.UOM != outLine.UOM {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkSourceLayerMismatch, "source layer does not match the outbound line", nil)
	}
	if dst.TenantID != link.TenantID || dst.ItemID != inLine.ItemID || dst.LocationID != inLine.LocationID || dst.UOM != inLine.UOM {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkDestLayerMismatch, "destination layer does not match the inbound line", nil)
	}
	if !link.UnitCost.Sub(src.UnitCost).Abs().LessThanOrEqual(costTolerance) ||
		!link.UnitCost.Sub(dst.UnitCost).Abs().LessThanOrEqual(costTolerance) {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkUnitCostMismatch, "declared unit cost disagrees with the layers", nil)
	}
	if !link.ExtendedCost.Sub(link.Quantity.Mul(link.UnitCost)).Abs().LessThanOrEqual(costTolerance) {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLinkExtendedCostMismatch, "extended cost disagrees with quantity x unit cost", nil)
	}
	return nil
}

// ── Commit-time conservation check ────────────────────────────────────────

// CheckTransferPosting re-derives the movement state and, for a posted
// transfer, verifies line balance, link referential integrity, per-line
// quantity reconciliation and three-way value conservation. It is a no-op
// for movements that are not posted transfers. Run inside the posting
// transaction immediately before commit so a failure rolls back the entire
// posting.
func (s *TransferService) CheckTransferPosting(ctx context.Context, tenantID, movementID uuid.UUID) error {
	movement, err := s.repo.GetMovement(ctx, tenantID, movementID)
	if err != nil {
		return mapPgError(err)
	}
	if movement == nil || !movement.IsPostedTransfer() {
		return nil
	}

	lines, err := s.repo.ListLines(ctx, tenantID, movementID)
	if err != nil {
		return mapPgError(err)
	}
	if err := validateTransferBalance(lines); err != nil {
		if svcErr, ok := err.(*ServiceError); ok {
			recordTransferRefusal(svcErr.Code)
		}
		return err
	}

	links, err := s.repo.ListLinks(ctx, tenantID, movementID)
	if err != nil {
		return mapPgError(err)
	}
	layers := make(map[uuid.UUID]*entities.CostLayer)
	for _, link := range links {
		for _, layerID := range []uuid.UUID{link.SourceLayerID, link.DestLayerID} {
			if _, ok := layers[layerID]; ok {
				continue
			}
			layer, err := s.repo.GetCostLayer(ctx, tenantID, layerID)
			if err != nil {
				return mapPgError(err)
			}
			layers[layerID] = layer
		}
	}

	if err := validateTransferConservation(movementID, lines, links, layers); err != nil {
		if svcErr, ok := err.(*ServiceError); ok {
			recordTransferRefusal(svcErr.Code)
		}
		return err
	}
	return nil
}

// validateTransferBalance verifies that all lines share one canonical uom
// and that quantity deltas sum to zero within tolerance.
func validateTransferBalance(lines []entities.MovementLine) error {
	if len(lines) == 0 {
		return nil
	}
	uom := lines[0].UOM
	sum := decimal.Zero
	for _, line := range lines {
		if line.UOM != uom {
			return newServiceError(http.StatusUnprocessableEntity, ErrCodeTransferUOMMismatch, "transfer lines carry mixed uoms", nil)
		}
		sum = sum.Add(line.Quantity)
	}
	if sum.Abs().GreaterThan(costTolerance) {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeTransferNotBalanced, "transfer quantity deltas do not sum to zero", nil)
	}
	return nil
}

func validateTransferConservation(
	movementID uuid.UUID,
	lines []entities.MovementLine,
	links []entities.CostLayerTransferLink,
	layers map[uuid.UUID]*entities.CostLayer,
) error {
	lineByID := make(map[uuid.UUID]*entities.MovementLine, len(lines))
	for i := range lines {
		lineByID[lines[i].ID] = &lines[i]
	}

	outLinked := make(map[uuid.UUID]decimal.Decimal)
	inLinked := make(map[uuid.UUID]decimal.Decimal)
	sourceValue := decimal.Zero
	destValue := decimal.Zero
	linkValue := decimal.Zero

	for _, link := range links {
		outLine, okOut := lineByID[link.OutLineID]
		inLine, okIn := lineByID[link.InLineID]
		if !okOut || !okIn || outLine.MovementID != movementID || inLine.MovementID != movementID {
			return newServiceError(http.StatusUnprocessableEntity, ErrCodeTransferLinkMovementMismatch,
				"link references a line outside the movement", nil)
		}

		outLinked[link.OutLineID] = outLinked[link.OutLineID].Add(link.Quantity)
		inLinked[link.InLineID] = inLinked[link.InLineID].Add(link.Quantity)

		src := layers[link.SourceLayerID]
		dst := layers[link.DestLayerID]
		if src == nil || dst == nil {
			return newServiceError(http.StatusUnprocessableEntity, ErrCodeTransferLinkMovementMismatch,
				"link references a missing cost layer", nil)
		}
		sourceValue = sourceValue.Add(link.Quantity.Mul(src.UnitCost))
		destValue = destValue.Add(link.Quantity.Mul(dst.UnitCost))
		linkValue = linkValue.Add(link.ExtendedCost)
	}

	for _, line := range lines {
		if line.Quantity.IsNegative() {
			if !outLinked[line.ID].Sub(line.Quantity.Abs()).Abs().LessThanOrEqual(costTolerance) {
				return newServiceError(http.StatusUnprocessableEntity, ErrCodeTransferOutQtyMismatch,
					"linked quantities do not reconcile against the outbound line", nil)
			}
		} else if line.Quantity.IsPositive() {
			if !inLinked[line.ID].Sub(line.Quantity).Abs().LessThanOrEqual(costTolerance) {
				return newServiceError(http.StatusUnprocessableEntity, ErrCodeTransferInQtyMismatch,
					"linked quantities do not reconcile against the inbound line", nil)
			}
		}
	}

	if !sourceValue.Sub(destValue).Abs().LessThanOrEqual(costTolerance) {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeTransferValueMismatch,
			"source layer value does not equal destination layer value", nil)
	}
	if !sourceValue.Sub(linkValue).Abs().LessThanOrEqual(costTolerance) ||
		!destValue.Sub(linkValue).Abs().LessThanOrEqual(costTolerance) {
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeTransferLinkValueMismatch,
			"link extended cost does not equal layer value", nil)
	}
	return nil
}

// ── Posting orchestration ─────────────────────────────────────────────────

type PostTransferInput struct {
	ItemID         uuid.UUID
	UOM            string
	Quantity       decimal.Decimal
	FromLocationID uuid.UUID
	ToLocationID   uuid.UUID
	SourceRef      *string
}

type PostTransferResult struct {
	MovementID uuid.UUID
	LinkCount  int
}

// PostTransfer writes a complete transfer posting (movement, out/in lines,
// FIFO layer consumption, destination layers and links) as one transaction,
// running the row-level check on each link and the conservation check before
// commit. Everything commits or nothing does.
func (s *TransferService) PostTransfer(ctx context.Context, tenantID uuid.UUID, in PostTransferInput) (*PostTransferResult, error) {
	if tenantID == uuid.Nil {
		// Fall back to the tenant carried in ctx.
		id, err := composables.UseTenantID(ctx)
		if err != nil {
			return nil, newServiceError(http.StatusBadRequest, ErrCodeInternal, "tenant_id is required", err)
		}
		tenantID = id
	}
	if !in.Quantity.IsPositive() {
		return nil, newServiceError(http.StatusBadRequest, ErrCodeLinkQuantityInvalid, "transfer quantity must be positive", nil)
	}

	var result *PostTransferResult
	err := s.runTx(ctx, tenantID, func(txCtx context.Context) error {
		now := time.Now().UTC()
		movement := &entities.Movement{
			ID:       uuid.New(),
			TenantID: tenantID,
			Type:     entities.MovementTypeTransfer,
			Status:   entities.MovementStatusDraft,
		}
		if err := s.repo.InsertMovement(txCtx, movement); err != nil {
			return mapPgError(err)
		}

		outLine := &entities.MovementLine{
			ID:         uuid.New(),
			TenantID:   tenantID,
			MovementID: movement.ID,
			ItemID:     in.ItemID,
			LocationID: in.FromLocationID,
			UOM:        in.UOM,
			Quantity:   in.Quantity.Neg(),
			SourceRef:  in.SourceRef,
		}
		inLine := &entities.MovementLine{
			ID:         uuid.New(),
			TenantID:   tenantID,
			MovementID: movement.ID,
			ItemID:     in.ItemID,
			LocationID: in.ToLocationID,
			UOM:        in.UOM,
			Quantity:   in.Quantity,
			SourceRef:  in.SourceRef,
		}
		if err := s.repo.InsertLine(txCtx, outLine); err != nil {
			return mapPgError(err)
		}
		if err := s.repo.InsertLine(txCtx, inLine); err != nil {
			return mapPgError(err)
		}

		if err := s.repo.MarkMovementPosted(txCtx, tenantID, movement.ID, now); err != nil {
			return mapPgError(err)
		}
		movement.Status = entities.MovementStatusPosted
		movement.PostedAt = &now

		open, err := s.repo.ListOpenLayersFIFO(txCtx, tenantID, in.ItemID, in.FromLocationID, in.UOM)
		if err != nil {
			return mapPgError(err)
		}

		remaining := in.Quantity
		linkCount := 0
		for i := range open {
			if !remaining.IsPositive() {
				break
			}
			src := &open[i]
			take := decimal.Min(remaining, src.Remaining)
			if !take.IsPositive() {
				continue
			}

			dst := &entities.CostLayer{
				ID:         uuid.New(),
				TenantID:   tenantID,
				ItemID:     in.ItemID,
				LocationID: in.ToLocationID,
				UOM:        in.UOM,
				UnitCost:   src.UnitCost,
				Remaining:  take,
			}
			if err := s.repo.CreateLayer(txCtx, dst); err != nil {
				return mapPgError(err)
			}
			if err := s.repo.ReduceLayerRemaining(txCtx, tenantID, src.ID, take); err != nil {
				return mapPgError(err)
			}

			link := &entities.CostLayerTransferLink{
				ID:            uuid.New(),
				TenantID:      tenantID,
				MovementID:    movement.ID,
				OutLineID:     outLine.ID,
				InLineID:      inLine.ID,
				SourceLayerID: src.ID,
				DestLayerID:   dst.ID,
				Quantity:      take,
				UnitCost:      src.UnitCost,
				ExtendedCost:  take.Mul(src.UnitCost),
			}
			if err := s.ValidateCostLink(txCtx, tenantID, link); err != nil {
				return err
			}
			if err := s.repo.InsertLink(txCtx, link); err != nil {
				return mapPgError(err)
			}
			linkCount++
			remaining = remaining.Sub(take)
		}
		if remaining.IsPositive() {
			recordTransferRefusal(ErrCodeTransferSourceLayersInsufficient)
			return newServiceError(http.StatusUnprocessableEntity, ErrCodeTransferSourceLayersInsufficient,
				"source cost layers do not cover the transfer quantity", nil)
		}

		if err := s.CheckTransferPosting(txCtx, tenantID, movement.ID); err != nil {
			return err
		}

		result = &PostTransferResult{MovementID: movement.ID, LinkCount: linkCount}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		s.publisher.Publish(TransferPostedEvent{
			TenantID:   tenantID,
			MovementID: result.MovementID,
			LinkCount:  result.LinkCount,
			OccurredAt: time.Now().UTC(),
		})
	}
	s.log(ctx).WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"movement_id": result.MovementID,
		"links":       result.LinkCount,
	}).Info("transfer posted")
	return result, nil
}

func (s *TransferService) log(ctx context.Context) *logrus.Entry {
	if s.logger != nil {
		return s.logger
	}
	return composables.UseLogger(ctx)
}
