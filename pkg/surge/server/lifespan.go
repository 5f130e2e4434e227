package server

import "context"

// Lifespan receives startup and shutdown notifications, each delivered
// exactly once per server run.
//
// A Startup error aborts the whole server before the listener accepts a
// single connection. Shutdown runs after the last connection closes (or
// the grace period expires) and may perform bounded-time cleanup; its
// context carries the remaining shutdown budget.
type Lifespan interface {
	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// NopLifespan is a Lifespan with no behavior. Used when the application
// has no lifecycle hooks.
type NopLifespan struct{}

func (NopLifespan) Startup(ctx context.Context) error  { return nil }
func (NopLifespan) Shutdown(ctx context.Context) error { return nil }

// LifespanHooks adapts plain functions to the Lifespan interface.
// Nil hooks are no-ops.
type LifespanHooks struct {
	OnStartup  func(ctx context.Context) error
	OnShutdown func(ctx context.Context) error
}

func (h LifespanHooks) Startup(ctx context.Context) error {
	if h.OnStartup == nil {
		return nil
	}
	return h.OnStartup(ctx)
}

func (h LifespanHooks) Shutdown(ctx context.Context) error {
	if h.OnShutdown == nil {
		return nil
	}
	return h.OnShutdown(ctx)
}
