package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ledgersync/remote"
	"ledgersync/www"
)

func newHubCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Serve the shared snapshot store over HTTP",
		Long: "Serve the remote store configured under remote: to devices using the\n" +
			"http remote driver. The hub itself must use sqlite, postgres or redis.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Remote.Driver == "http" {
				return errors.New("hub needs a sqlite, postgres or redis remote driver")
			}
			gw, err := remote.Open(&a.cfg.Remote, a.log)
			if err != nil {
				return fmt.Errorf("open remote: %w", err)
			}
			defer remote.CloseGateway(gw)

			if addr == "" {
				addr = fmt.Sprintf("%s:%d", a.cfg.Web.Host, a.cfg.Web.Port)
			}
			a.log.Info("hub: serving", "driver", a.cfg.Remote.Driver, "cache", a.cfg.Remote.Cache)
			return listen(cmd.Context(), a, addr, www.NewHubRouter(gw, a.log), nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (defaults to web host:port)")
	return cmd
}
