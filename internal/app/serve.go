package app

import (
	"context"
	"errors"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"converge/internal/controller"
	"converge/pkg/logging"
)

// Serve runs the engine's continuous loops: the live-state observer, the
// source watcher, and one reconciliation loop per registered application.
// It blocks until the context is cancelled and shuts everything down in
// order.
func (e *Engine) Serve(ctx context.Context) error {
	manager := controller.NewManager(e.deps(), e.controllerConfig(), e.watcher)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.observer.Start(gctx)
	})

	if err := manager.Start(gctx); err != nil {
		return err
	}
	defer manager.Stop()

	for _, app := range e.Applications() {
		if err := manager.Add(app); err != nil {
			return err
		}
	}

	// Tell systemd we are up; a no-op outside a systemd unit.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("Serve", "systemd notification failed: %v", err)
	} else if sent {
		logging.Debug("Serve", "Notified systemd of readiness")
	}

	logging.Info("Serve", "Engine running with %d application(s)", len(e.apps))

	<-gctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
