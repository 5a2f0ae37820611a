package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/inventory-core/modules/inventory/domain/entities"
	"github.com/iota-uz/inventory-core/modules/inventory/infrastructure/persistence"
	"github.com/iota-uz/inventory-core/pkg/composables"
)

type healthOutput struct {
	Command      string                    `json:"command"`
	DatabaseOK   bool                      `json:"database_ok"`
	ActiveBlocks []entities.InvariantBlock `json:"active_blocks"`
	CheckedAt    time.Time                 `json:"checked_at"`
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database reachability and report active invariant blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := healthOutput{Command: "invariants health", CheckedAt: time.Now().UTC()}

			pool, err := connectDB(cmd.Context())
			if err != nil {
				_ = writeJSON(out)
				return err
			}
			defer pool.Close()
			out.DatabaseOK = true

			ctx := composables.WithPool(cmd.Context(), pool)
			blocks, err := persistence.NewInvariantBlockRepository().ListActive(ctx)
			if err != nil {
				return err
			}
			out.ActiveBlocks = blocks
			return writeJSON(out)
		},
	}
}
