package hostfuncs

import (
	"context"
	"time"
)

// HostContext is the context a handler runs under. It names the host
// function being served and when the call started.
type HostContext interface {
	context.Context

	// FunctionName returns the name of the host function being invoked.
	FunctionName() string

	// Started returns when the registry began serving the call.
	Started() time.Time
}

type hostContext struct {
	context.Context
	started  time.Time
	funcName string
}

// NewHostContext wraps ctx for a call to funcName.
func NewHostContext(ctx context.Context, funcName string) HostContext {
	return &hostContext{Context: ctx, funcName: funcName, started: time.Now()}
}

func (c *hostContext) FunctionName() string { return c.funcName }

func (c *hostContext) Started() time.Time { return c.started }

// HostContextFrom returns ctx itself when it is already a HostContext, and
// wraps it otherwise.
func HostContextFrom(ctx context.Context, funcName string) HostContext {
	if hc, ok := ctx.(HostContext); ok {
		return hc
	}
	return NewHostContext(ctx, funcName)
}

// FunctionName returns the host function ctx serves, or "unknown".
func FunctionName(ctx context.Context) string {
	if hc, ok := ctx.(HostContext); ok {
		return hc.FunctionName()
	}
	return "unknown"
}
