package core

import (
	"context"
	"log/slog"
)

// Broadcaster receives fire-and-forget notifications after a mutating
// batch. Failures are logged by the engine, never propagated.
type Broadcaster interface {
	BroadcastUpdate(ctx context.Context, eventType string) error
}

// NoopBroadcaster drops all notifications.
type NoopBroadcaster struct{}

// BroadcastUpdate implements Broadcaster.
func (NoopBroadcaster) BroadcastUpdate(context.Context, string) error { return nil }

// LogBroadcaster records notifications to the logger. Useful as a default
// sink when no external broadcast channel is wired.
type LogBroadcaster struct {
	Log *slog.Logger
}

// BroadcastUpdate implements Broadcaster.
func (b LogBroadcaster) BroadcastUpdate(_ context.Context, eventType string) error {
	log := b.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("broadcast update", "event", eventType)
	return nil
}
