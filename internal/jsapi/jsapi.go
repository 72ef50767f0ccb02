// Package jsapi installs the Go-backed globals the embedded room client
// relies on: timers, console, base64 helpers and the signal transport.
package jsapi

import (
	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/eventloop"
)

// SetupFunc configures a runtime with one group of globals.
type SetupFunc func(rt core.VM, el *eventloop.EventLoop) error

// Setup runs every SetupFunc in order, stopping at the first error.
func Setup(rt core.VM, el *eventloop.EventLoop, fns ...SetupFunc) error {
	for _, fn := range fns {
		if err := fn(rt, el); err != nil {
			return err
		}
	}
	return nil
}
