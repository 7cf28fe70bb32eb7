package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"ledgersync/engine"
	"ledgersync/messaging"
	"ledgersync/remote"
	"ledgersync/store"
	"ledgersync/www"
)

// openEngine wires the local store, the configured gateway and an engine.
// The returned cleanup stops the engine and releases both stores.
func (a *app) openEngine() (*engine.Engine, func(), error) {
	if a.cfg.EnsureDeviceID() {
		a.log.Info("config: generated device id", "device", a.cfg.DeviceID)
		a.saveConfig()
	}
	gw, err := remote.Open(&a.cfg.Remote, a.log)
	if err != nil {
		return nil, nil, fmt.Errorf("open remote: %w", err)
	}
	local := store.NewLocal(store.Options{Dir: a.cfg.DataDir, Logger: a.log})
	eng := engine.New(engine.Config{
		AppConfig:  a.cfg,
		ConfigPath: a.configPath,
		Local:      local,
		Gateway:    gw,
		Logger:     a.log,
	})
	cleanup := func() {
		eng.Stop()
		if err := local.Close(); err != nil {
			a.log.Warn("store: close", "err", err)
		}
		if err := remote.CloseGateway(gw); err != nil {
			a.log.Warn("remote: close", "err", err)
		}
	}
	return eng, cleanup, nil
}

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine with the device API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides web config and enables the API)")
	return cmd
}

func runServe(ctx context.Context, a *app, addr string) error {
	eng, cleanup, err := a.openEngine()
	if err != nil {
		return err
	}
	defer cleanup()
	if err := eng.Start(ctx); err != nil {
		return err
	}

	var peers www.PeerSource
	if a.cfg.Messaging.Backend != "" {
		hints, stopMsg := startMessaging(a, eng)
		defer stopMsg()
		if hints != nil {
			peers = hints
		}
	}

	if addr == "" && a.cfg.Web.Enabled {
		addr = fmt.Sprintf("%s:%d", a.cfg.Web.Host, a.cfg.Web.Port)
	}
	if addr == "" {
		a.log.Info("serve: running without device API")
		<-ctx.Done()
		return nil
	}

	router, stopWeb := www.NewRouter(eng, peers)
	defer stopWeb()
	return listen(ctx, a, addr, router, stopWeb)
}

// startMessaging connects the configured broker and starts the notifier,
// heartbeater and hint listener. A broker that cannot be reached leaves the
// engine running on its timer alone.
func startMessaging(a *app, eng *engine.Engine) (*messaging.HintListener, func()) {
	cfg := &a.cfg.Messaging
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "ledgersync-" + a.cfg.DeviceID
	}
	client := messaging.NewClient(cfg, a.log)
	if err := client.Connect(); err != nil {
		a.log.Warn("messaging: connect failed, hints disabled", "backend", cfg.Backend, "err", err)
		client.Close()
		return nil, func() {}
	}

	deviceID := a.cfg.DeviceID
	notifier := messaging.NewNotifier(client, eng.Events, deviceID, eng.TenantKey, a.log)
	notifier.Start()
	hb := messaging.NewHeartbeater(client, eng, deviceID, version, a.log)
	hb.Start()

	hints := messaging.NewHintListener(eng.Coordinator(), eng.Events, deviceID, a.log)
	if err := hints.Start(client); err != nil {
		a.log.Warn("messaging: subscribe failed", "err", err)
		hints = nil
	}

	stop := func() {
		hb.Stop()
		notifier.Stop()
		if hints != nil {
			hints.Wait()
		}
		client.Close()
	}
	return hints, stop
}

// listen serves handler on addr until ctx is cancelled, then shuts down with
// a 10s deadline. beforeShutdown runs first so long-lived SSE streams end.
func listen(ctx context.Context, a *app, addr string, handler http.Handler, beforeShutdown func()) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http: listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("http: shutting down")
	if beforeShutdown != nil {
		beforeShutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http: shutdown", "err", err)
	}
	return nil
}
