//go:build v8

package roomkit

import (
	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/v8engine"
)

// Backend names the embedded runtime compiled into this build.
const Backend = "v8"

func newVM(cfg core.RuntimeConfig) (core.VM, error) {
	vm, err := v8engine.New(cfg)
	if err != nil {
		return nil, err
	}
	return vm, nil
}
