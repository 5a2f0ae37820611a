package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/inventory-core/pkg/composables"
)

// TxRunner runs fn inside one transaction scoped to tenantID. An error from
// fn rolls the whole transaction back; refusals therefore leave prior state
// untouched.
type TxRunner func(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error

// PgTxRunner is the production TxRunner: it scopes ctx to the tenant and
// runs fn in a fresh transaction on the pgx pool carried in ctx.
func PgTxRunner(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	return composables.InTx(composables.WithTenantID(ctx, tenantID), fn)
}
