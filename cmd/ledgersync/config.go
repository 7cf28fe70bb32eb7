package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ledgersync/config"
	"ledgersync/syncer"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	var (
		force  bool
		tenant string
	)
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default config with a new device id",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s exists; pass --force to overwrite", a.configPath)
			}
			cfg := config.Defaults()
			if a.dataDir != "" {
				cfg.DataDir = a.dataDir
			}
			if tenant != "" {
				if err := syncer.ValidateTenantKey(tenant); err != nil {
					return err
				}
				cfg.TenantKey = tenant
			}
			cfg.EnsureDeviceID()
			if err := cfg.Save(a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (device %s)\n", a.configPath, cfg.DeviceID)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant key to sync")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Lock()
			data, err := yaml.Marshal(a.cfg)
			a.cfg.Unlock()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
