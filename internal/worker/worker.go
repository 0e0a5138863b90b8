// Package worker provides background task infrastructure for the gateway.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Name identifies the worker in logs.
	Name() string
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}

// funcWorker adapts a plain function to Worker.
type funcWorker struct {
	name string
	fn   func(ctx context.Context) error
}

// Func returns a Worker named name that runs fn.
func Func(name string, fn func(ctx context.Context) error) Worker {
	return &funcWorker{name: name, fn: fn}
}

func (w *funcWorker) Name() string                  { return w.name }
func (w *funcWorker) Run(ctx context.Context) error { return w.fn(ctx) }
