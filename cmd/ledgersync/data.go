package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ledgersync/engine"
)

// withTenant runs fn against the local partition of the configured tenant.
func withTenant(cmd *cobra.Command, a *app, fn func(eng *engine.Engine) error) error {
	if a.cfg.TenantKey == "" {
		return errors.New("no tenant: set tenant_key")
	}
	return oneShot(cmd, a, func(eng *engine.Engine) error {
		if err := eng.SelectTenant(a.cfg.TenantKey); err != nil {
			return err
		}
		return fn(eng)
	})
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count local records per collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, a, func(eng *engine.Engine) error {
				stats, err := eng.Local().GetStats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newResetCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every local record of the configured tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes local data; pass --yes to confirm")
			}
			return withTenant(cmd, a, func(eng *engine.Engine) error {
				if err := eng.Local().ClearAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared local data for %s\n", a.cfg.TenantKey)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newImportLegacyCommand(a *app) *cobra.Command {
	var reconcile bool
	cmd := &cobra.Command{
		Use:   "import-legacy <dump.json>",
		Short: "Import a legacy key-value dump into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenant(cmd, a, func(eng *engine.Engine) error {
				n, err := eng.Local().LoadLegacyDump(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", n)
				if !reconcile {
					return nil
				}
				products, err := eng.Local().RebuildStockReconciliation(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d products\n", products)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reconcile, "reconcile", true, "rebuild stock reconciliation after import")
	return cmd
}
