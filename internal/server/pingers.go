package server

import "context"

// NamedPinger adapts a plain ping function into a Pinger. Useful when the
// dependency does not implement the interface itself.
type NamedPinger struct {
	// PingerName identifies the dependency in readiness reports.
	PingerName string
	// PingFunc performs the probe.
	PingFunc func(ctx context.Context) error
}

func (p NamedPinger) Ping(ctx context.Context) error { return p.PingFunc(ctx) }

func (p NamedPinger) Name() string { return p.PingerName }
