//go:build !v8

// Package quickjs runs the room client on modernc.org/quickjs, a pure Go
// build of QuickJS. It is the default backend.
package quickjs

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cryguy/roomkit/internal/core"
	"modernc.org/quickjs"
)

// VM implements core.VM and core.ByteSlots on a QuickJS context.
type VM struct {
	vm *quickjs.VM
	c  capi
}

var (
	_ core.VM        = (*VM)(nil)
	_ core.ByteSlots = (*VM)(nil)
)

var errorType = reflect.TypeFor[error]()

// New creates a QuickJS VM capped at cfg.MemoryLimitMB.
func New(cfg core.RuntimeConfig) (*VM, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if cfg.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitMB) << 20)
	}
	c, err := inspectVM(vm)
	if err != nil {
		vm.Close()
		return nil, err
	}
	return &VM{vm: vm, c: c}, nil
}

func (v *VM) Exec(src string) error {
	val, err := v.vm.EvalValue(src, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	val.Free()
	return nil
}

func (v *VM) Text(src string) (string, error) {
	out, err := v.vm.Eval(src, quickjs.EvalGlobal)
	if err != nil || out == nil {
		return "", err
	}
	if s, ok := out.(string); ok {
		return s, nil
	}
	return fmt.Sprint(out), nil
}

func (v *VM) Truth(src string) (bool, error) {
	out, err := v.vm.Eval(src, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("script returned %T, want bool", out)
	}
	return b, nil
}

// exposeJS moves the raw registration to its public name. The quickjs
// wrapper hands multiple Go results back as an array; for (T, error)
// functions the array is unpacked and a non-nil error is thrown.
const exposeJS = `(function(raw, name, failable) {
	var fn = globalThis[raw];
	delete globalThis[raw];
	globalThis[name] = !failable ? fn : function() {
		var out = fn.apply(this, arguments);
		if (!Array.isArray(out)) return out;
		if (out[1] !== null && out[1] !== undefined) throw new TypeError(name + ': ' + out[1]);
		return out[0];
	};
})(%s, %s, %t)`

func (v *VM) Expose(name string, fn any) error {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return fmt.Errorf("exposing %s: %T is not a function", name, fn)
	}
	raw := "__go_" + name
	if err := v.vm.RegisterFunc(raw, fn, false); err != nil {
		return fmt.Errorf("exposing %s: %w", name, err)
	}
	failable := t.NumOut() == 2 && t.Out(1) == errorType
	return v.Exec(fmt.Sprintf(exposeJS, quote(raw), quote(name), failable))
}

func (v *VM) DrainJobs() { v.c.runJobs() }

func (v *VM) Close() { v.vm.Close() }

func (v *VM) SlotMode() core.SlotMode { return core.SlotArrayBuffer }

func (v *VM) Park(slot string, data []byte) error {
	if len(data) == 0 {
		return v.Exec("globalThis[" + quote(slot) + "] = new ArrayBuffer(0)")
	}
	return v.c.storeBuffer(slot, data)
}

func (v *VM) Unpark(slot string) ([]byte, error) {
	data, err := v.c.loadBuffer(slot)
	if err != nil {
		return nil, err
	}
	if err := v.Exec("delete globalThis[" + quote(slot) + "]"); err != nil {
		return nil, fmt.Errorf("clearing slot %s: %w", slot, err)
	}
	return data, nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
