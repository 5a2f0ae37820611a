package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invariants",
		Short: "Inventory invariant tooling: audit sweeps, migrations, health",
	}
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newHealthCmd())
	return cmd
}

func execute() error {
	return newRootCmd().Execute()
}
