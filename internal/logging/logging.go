// Package logging replaces the prior implementation's scattered log.Printf calls
// (cmd/server/main.go, internal/cluster/replicator.go) with structured,
// leveled logging via go.uber.org/zap — erigon's (AKJUS-bsc-erigon)
// logging dependency, and the natural fit once a server has multiple
// concurrent vnodes/coordinators whose log lines need a component field
// to stay readable.
package logging

import "go.uber.org/zap"

// New builds the process-wide logger: development-friendly console
// output when debug is true, JSON production output otherwise.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Component returns a child logger tagged with the owning subsystem,
// e.g. logging.Component(base, "vnode") for every internal/vnode log
// line.
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("component", name))
}
