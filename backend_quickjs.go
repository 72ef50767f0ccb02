//go:build !v8

package roomkit

import (
	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/quickjs"
)

// Backend names the embedded runtime compiled into this build.
const Backend = "quickjs"

func newVM(cfg core.RuntimeConfig) (core.VM, error) {
	vm, err := quickjs.New(cfg)
	if err != nil {
		return nil, err
	}
	return vm, nil
}
