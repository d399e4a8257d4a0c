package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mcphub/internal/config"
	"mcphub/pkg/logging"
)

// shutdownGrace bounds the drain of the HTTP edge and the cluster departure
// once a stop is requested.
const shutdownGrace = 15 * time.Second

// changeBuffer sizes the watcher event channel. The watcher drops events when
// the channel is full; the next event's reload picks the change up anyway.
const changeBuffer = 16

// runHub drives the process lifecycle: initialize the coordinator, start the
// hub, watch the configuration directory, notify systemd readiness, then
// block until ctx is canceled or a termination signal arrives.
func runHub(ctx context.Context, services *Services) error {
	hub := services.Store.Hub()

	if err := services.Coordinator.Initialize(ctx, hub.Cluster); err != nil {
		return fmt.Errorf("failed to initialize cluster coordinator: %w", err)
	}

	if err := services.Hub.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = services.Coordinator.Shutdown(shutdownCtx)
		return err
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	changes := make(chan config.ChangeEvent, changeBuffer)
	if err := services.Watcher.Start(watchCtx, changes); err != nil {
		logging.Warn("App", "Configuration watcher unavailable: %v", err)
	}
	go consumeChanges(watchCtx, services, changes)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("App", "Failed to notify systemd readiness: %v", err)
	}
	logging.Info("App", "Hub ready. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logging.Info("App", "Received %s, shutting down", sig)
	case <-ctx.Done():
		logging.Info("App", "Context canceled, shutting down")
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logging.Warn("App", "Failed to notify systemd stop: %v", err)
	}

	cancelWatch()
	return shutdownServices(services)
}

// consumeChanges applies debounced configuration changes until ctx is done.
func consumeChanges(ctx context.Context, services *Services, changes <-chan config.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-changes:
			applyChange(ctx, services, event)
		}
	}
}

// applyChange reconciles the running hub with a configuration change: reload
// the store, reconnect changed upstreams, deregister removed ones, and
// re-project session catalogs. Settings that cannot change at runtime are
// logged as restart-required.
func applyChange(ctx context.Context, services *Services, event config.ChangeEvent) {
	before := services.Store.Hub()
	if err := services.Store.Reload(); err != nil {
		logging.Error("App", err, "Configuration reload failed, keeping the previous configuration")
		return
	}
	if loadErrs := services.Store.LoadErrors(); loadErrs != nil && loadErrs.HasErrors() {
		logging.Warn("App", "Some configuration entities were skipped: %s", loadErrs.Summary())
	}
	after := services.Store.Hub()

	if before.NameSeparator != after.NameSeparator {
		logging.Warn("App", "nameSeparator changed from %q to %q: published tool names follow after a restart",
			before.NameSeparator, after.NameSeparator)
	}
	if before.Host != after.Host || before.Port != after.Port || before.GetBasePath() != after.GetBasePath() {
		logging.Warn("App", "Listener settings changed: the HTTP edge follows after a restart")
	}

	if err := services.Hub.ReloadUpstreams(ctx); err != nil {
		logging.Error("App", err, "Upstream reconciliation failed after a configuration change")
	}
	services.Hub.Sessions().SyncAll()

	logging.Info("App", "Applied configuration change: %s %s/%s",
		event.Operation, event.Category, event.Name)
}

// shutdownServices tears the process down in reverse start order: watcher,
// hub (sessions, HTTP edge, upstreams), OAuth background work, coordinator.
func shutdownServices(services *Services) error {
	if err := services.Watcher.Stop(); err != nil {
		logging.Warn("App", "Configuration watcher stop failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := services.Hub.Stop(stopCtx)
	if err != nil {
		logging.Error("App", err, "Hub shutdown finished with errors")
	}

	services.Auth.Stop()

	if cerr := services.Coordinator.Shutdown(stopCtx); cerr != nil {
		logging.Error("App", cerr, "Cluster coordinator shutdown failed")
		if err == nil {
			err = cerr
		}
	}

	logging.Info("App", "Shutdown complete")
	return err
}
