package services

import (
	"fmt"
)

// Stable error codes surfaced to callers. These are a public contract and
// must never be renamed.
const (
	// Cascade manager refusals.
	ErrCodeLocationNotFound                = "LOCATION_NOT_FOUND"
	ErrCodeCascadeSizeExceeded             = "CASCADE_SIZE_EXCEEDED"
	ErrCodeCascadeLockConflict             = "CASCADE_LOCK_CONFLICT"
	ErrCodeParentMoveBreaksDefaultLocation = "PARENT_MOVE_BREAKS_DEFAULT_LOCATION"
	ErrCodeWarehouseIDDriftReparentBlocked = "WAREHOUSE_ID_DRIFT_REPARENT_BLOCKED"

	// Transfer balance checks.
	ErrCodeTransferUOMMismatch = "TRANSFER_UOM_MISMATCH"
	ErrCodeTransferNotBalanced = "TRANSFER_NOT_BALANCED"

	// Row-level dimensional integrity of a single cost-layer link.
	ErrCodeLinkMovementNotFound       = "TRANSFER_COST_LINK_MOVEMENT_NOT_FOUND"
	ErrCodeLinkMovementNotTransfer    = "TRANSFER_COST_LINK_MOVEMENT_NOT_TRANSFER"
	ErrCodeLinkOutLineNotFound        = "TRANSFER_COST_LINK_OUT_LINE_NOT_FOUND"
	ErrCodeLinkInLineNotFound         = "TRANSFER_COST_LINK_IN_LINE_NOT_FOUND"
	ErrCodeLinkLineMovementMismatch   = "TRANSFER_COST_LINK_LINE_MOVEMENT_MISMATCH"
	ErrCodeLinkTenantMismatch         = "TRANSFER_COST_LINK_TENANT_MISMATCH"
	ErrCodeLinkOutSignInvalid         = "TRANSFER_COST_LINK_OUT_SIGN_INVALID"
	ErrCodeLinkInSignInvalid          = "TRANSFER_COST_LINK_IN_SIGN_INVALID"
	ErrCodeLinkQuantityInvalid        = "TRANSFER_COST_LINK_QUANTITY_INVALID"
	ErrCodeLinkItemMismatch           = "TRANSFER_COST_LINK_ITEM_MISMATCH"
	ErrCodeLinkUOMMismatch            = "TRANSFER_COST_LINK_UOM_MISMATCH"
	ErrCodeLinkSourceLayerNotFound    = "TRANSFER_COST_LINK_SOURCE_LAYER_NOT_FOUND"
	ErrCodeLinkDestLayerNotFound      = "TRANSFER_COST_LINK_DEST_LAYER_NOT_FOUND"
	ErrCodeLinkSourceLayerMismatch    = "TRANSFER_COST_LINK_SOURCE_LAYER_MISMATCH"
	ErrCodeLinkDestLayerMismatch      = "TRANSFER_COST_LINK_DEST_LAYER_MISMATCH"
	ErrCodeLinkLayerVoided            = "TRANSFER_COST_LINK_LAYER_VOIDED"
	ErrCodeLinkUnitCostMismatch       = "TRANSFER_COST_LINK_UNIT_COST_MISMATCH"
	ErrCodeLinkExtendedCostMismatch   = "TRANSFER_COST_LINK_EXTENDED_COST_MISMATCH"

	// Commit-time conservation checks over a whole transfer posting.
	ErrCodeTransferLinkMovementMismatch = "TRANSFER_COST_LINK_MOVEMENT_MISMATCH"
	ErrCodeTransferOutQtyMismatch       = "TRANSFER_COST_OUT_QTY_MISMATCH"
	ErrCodeTransferInQtyMismatch        = "TRANSFER_COST_IN_QTY_MISMATCH"
	ErrCodeTransferValueMismatch        = "TRANSFER_COST_VALUE_MISMATCH"
	ErrCodeTransferLinkValueMismatch    = "TRANSFER_COST_LINK_VALUE_MISMATCH"

	// Transfer posting orchestration.
	ErrCodeTransferSourceLayersInsufficient = "TRANSFER_SOURCE_LAYERS_INSUFFICIENT"

	// Auditor strict mode.
	ErrCodeInvariantsStrictFailed = "INVENTORY_INVARIANTS_STRICT_FAILED"

	// Generic database failure.
	ErrCodeInternal = "INVENTORY_INTERNAL"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}
