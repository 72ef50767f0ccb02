package jsapi

import (
	_ "embed"
	"fmt"

	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/eventloop"
)

// ClientNamespace is the global the embedded client installs itself under.
const ClientNamespace = "RoomKit"

// ClientProtocolVersion is the per-event argument contract version the
// embedded client reports as RoomKit.version.
const ClientProtocolVersion = 1

//go:embed client.js
var clientJS string

// ClientSource returns the built-in room client.
func ClientSource() string {
	return clientJS
}

// SetupClient evaluates source and checks that it installed the client
// namespace with a matching protocol version.
func SetupClient(source string) SetupFunc {
	return func(rt core.VM, _ *eventloop.EventLoop) error {
		if err := rt.Exec(source); err != nil {
			return fmt.Errorf("loading room client: %w", err)
		}
		ok, err := rt.Truth(fmt.Sprintf(
			"typeof globalThis.%s === 'object' && globalThis.%s.version === %d",
			ClientNamespace, ClientNamespace, ClientProtocolVersion))
		if err != nil {
			return fmt.Errorf("checking room client: %w", err)
		}
		if !ok {
			return fmt.Errorf("room client did not install %s (protocol %d)", ClientNamespace, ClientProtocolVersion)
		}
		return nil
	}
}
