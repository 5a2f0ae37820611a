package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/inventory-core/modules/inventory/infrastructure/persistence"
	"github.com/iota-uz/inventory-core/modules/inventory/services"
	"github.com/iota-uz/inventory-core/pkg/composables"
	"github.com/iota-uz/inventory-core/pkg/configuration"
	"github.com/iota-uz/inventory-core/pkg/eventbus"
)

type auditOutput struct {
	Command    string              `json:"command"`
	DurationMS int64               `json:"duration_ms"`
	Result     *services.RunResult `json:"result"`
}

func newAuditCmd() *cobra.Command {
	var (
		tenants    []string
		strict     bool
		windowDays int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run one invariant sweep and print the per-tenant reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantIDs := make([]uuid.UUID, 0, len(tenants))
			for _, raw := range tenants {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid --tenant %q: %w", raw, err)
				}
				tenantIDs = append(tenantIDs, id)
			}

			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			conf := configuration.Use()
			logger := logrus.NewEntry(conf.Logger())
			ctx := composables.WithPool(cmd.Context(), pool)
			ctx = composables.WithLogger(ctx, logger)

			auditor := services.NewAuditorService(
				persistence.NewAuditRepository(),
				services.NewBlockRegistry(persistence.NewInvariantBlockRepository()),
				eventbus.NewEventPublisher(conf.Logger()),
				logger,
				services.NewRunState(),
				&conf.Invariants,
			)

			start := time.Now()
			result, runErr := auditor.Run(ctx, services.RunOptions{
				TenantIDs:  tenantIDs,
				Strict:     strict,
				WindowDays: windowDays,
			})
			if result != nil {
				out := auditOutput{
					Command:    "invariants audit",
					DurationMS: time.Since(start).Milliseconds(),
					Result:     result,
				}
				if err := writeJSON(out); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringArrayVar(&tenants, "tenant", nil, "Tenant UUID to audit (repeatable; default: env scope, then all)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail after the sweep if any tenant has nonzero tracked findings")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "Trailing window for completeness checks (default: configured)")
	return cmd
}
