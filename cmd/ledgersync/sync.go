package main

import (
	"errors"

	"github.com/spf13/cobra"

	"ledgersync/engine"
	"ledgersync/syncer"
)

// oneShot opens the engine, probes connectivity once and runs fn. The
// monitor and auto sync are never started.
func oneShot(cmd *cobra.Command, a *app, fn func(eng *engine.Engine) error) error {
	eng, cleanup, err := a.openEngine()
	if err != nil {
		return err
	}
	defer cleanup()
	eng.Monitor().Check(cmd.Context())
	return fn(eng)
}

func tenantOrConfigured(a *app, tenant string) (string, error) {
	if tenant == "" {
		tenant = a.cfg.TenantKey
	}
	if tenant == "" {
		return "", errors.New("no tenant: pass --tenant or set tenant_key")
	}
	return tenant, nil
}

func printResult(cmd *cobra.Command, res syncer.Result) error {
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Succeeded() {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Message)
}

func newSyncCommand(a *app) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one upload and download cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := tenantOrConfigured(a, tenant)
			if err != nil {
				return err
			}
			return oneShot(cmd, a, func(eng *engine.Engine) error {
				return printResult(cmd, eng.ManualSync(cmd.Context(), key))
			})
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant key (defaults to tenant_key)")
	return cmd
}

func newDownloadCommand(a *app) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Replace local data with the remote snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := tenantOrConfigured(a, tenant)
			if err != nil {
				return err
			}
			return oneShot(cmd, a, func(eng *engine.Engine) error {
				return printResult(cmd, eng.ForceDownload(cmd.Context(), key))
			})
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant key (defaults to tenant_key)")
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status for the configured tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, a, func(eng *engine.Engine) error {
				if key := a.cfg.TenantKey; key != "" {
					if err := eng.SelectTenant(key); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), eng.Status(cmd.Context()))
			})
		},
	}
}
