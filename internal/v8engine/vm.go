//go:build v8

// Package v8engine runs the room client on V8 through tommie/v8go. Build
// with -tags v8 to select it.
package v8engine

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cryguy/roomkit/internal/core"
	v8 "github.com/tommie/v8go"
)

// VM implements core.VM and core.ByteSlots on a V8 isolate with a single
// context.
type VM struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var (
	_ core.VM        = (*VM)(nil)
	_ core.ByteSlots = (*VM)(nil)
)

var errorType = reflect.TypeFor[error]()

// New creates an isolate whose heap is capped at cfg.MemoryLimitMB, with
// half of it reserved for the young generation.
func New(cfg core.RuntimeConfig) (*VM, error) {
	iso := newIsolate(cfg.MemoryLimitMB)
	return &VM{iso: iso, ctx: v8.NewContext(iso)}, nil
}

func newIsolate(limitMB int) *v8.Isolate {
	if limitMB <= 0 {
		return v8.NewIsolate()
	}
	limit := uint64(limitMB) << 20
	return v8.NewIsolate(v8.WithResourceConstraints(limit/2, limit))
}

func (v *VM) run(src, origin string) (*v8.Value, error) {
	return v.ctx.RunScript(src, origin)
}

func (v *VM) Exec(src string) error {
	_, err := v.run(src, "roomkit-exec.js")
	return err
}

func (v *VM) Text(src string) (string, error) {
	val, err := v.run(src, "roomkit-text.js")
	if err != nil || val == nil || val.IsNullOrUndefined() {
		return "", err
	}
	return val.String(), nil
}

func (v *VM) Truth(src string) (bool, error) {
	val, err := v.run(src, "roomkit-truth.js")
	if err != nil || val == nil {
		return false, err
	}
	return val.Boolean(), nil
}

// Expose converts arguments with per-parameter converters chosen up front.
// Missing arguments throw.
func (v *VM) Expose(name string, fn any) error {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("exposing %s: %T is not a function", name, fn)
	}
	in := make([]func(*v8.Value) reflect.Value, ft.NumIn())
	for i := range in {
		conv, err := argument(ft.In(i))
		if err != nil {
			return fmt.Errorf("exposing %s: parameter %d: %w", name, i, err)
		}
		in[i] = conv
	}
	failable := ft.NumOut() == 2 && ft.Out(1) == errorType

	tmpl := v8.NewFunctionTemplate(v.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < len(in) {
			return v.throw("%s: want %d arguments, got %d", name, len(in), len(args))
		}
		goArgs := make([]reflect.Value, len(in))
		for i, conv := range in {
			goArgs[i] = conv(args[i])
		}
		out := fv.Call(goArgs)
		if failable {
			if err, _ := out[1].Interface().(error); err != nil {
				return v.throw("%s: %v", name, err)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return v.value(out[0])
	})
	return v.ctx.Global().Set(name, tmpl.GetFunction(v.ctx))
}

func (v *VM) throw(format string, args ...any) *v8.Value {
	msg, _ := v8.NewValue(v.iso, fmt.Sprintf(format, args...))
	return v.iso.ThrowException(msg)
}

func argument(t reflect.Type) (func(*v8.Value) reflect.Value, error) {
	switch t.Kind() {
	case reflect.String:
		return func(a *v8.Value) reflect.Value { return reflect.ValueOf(a.String()) }, nil
	case reflect.Int:
		return func(a *v8.Value) reflect.Value { return reflect.ValueOf(int(a.Integer())) }, nil
	case reflect.Int64:
		return func(a *v8.Value) reflect.Value { return reflect.ValueOf(a.Integer()) }, nil
	case reflect.Float64:
		return func(a *v8.Value) reflect.Value { return reflect.ValueOf(a.Number()) }, nil
	case reflect.Bool:
		return func(a *v8.Value) reflect.Value { return reflect.ValueOf(a.Boolean()) }, nil
	}
	return nil, fmt.Errorf("unsupported type %s", t)
}

// value converts a Go result. Integers become JS numbers, not BigInts.
func (v *VM) value(r reflect.Value) *v8.Value {
	var (
		val *v8.Value
		err error
	)
	switch r.Kind() {
	case reflect.String:
		val, err = v8.NewValue(v.iso, r.String())
	case reflect.Int, reflect.Int32, reflect.Int64:
		val, err = v8.NewValue(v.iso, float64(r.Int()))
	case reflect.Float32, reflect.Float64:
		val, err = v8.NewValue(v.iso, r.Float())
	case reflect.Bool:
		val, err = v8.NewValue(v.iso, r.Bool())
	default:
		return v8.Undefined(v.iso)
	}
	if err != nil {
		return v8.Undefined(v.iso)
	}
	return val
}

func (v *VM) DrainJobs() { v.ctx.PerformMicrotaskCheckpoint() }

func (v *VM) Close() {
	v.ctx.Close()
	v.iso.Dispose()
}

// SlotMode is shared: v8go can only reach the backing store of a
// SharedArrayBuffer.
func (v *VM) SlotMode() core.SlotMode { return core.SlotShared }

// shared runs fn over the contents of the SharedArrayBuffer at
// globalThis[slot].
func (v *VM) shared(slot string, fn func([]byte)) error {
	val, err := v.ctx.Global().Get(slot)
	if err != nil {
		return fmt.Errorf("reading slot %s: %w", slot, err)
	}
	data, release, err := val.SharedArrayBufferGetContents()
	if err != nil {
		return fmt.Errorf("slot %s: %w", slot, err)
	}
	defer release()
	fn(data)
	return nil
}

// Park stages data in a SharedArrayBuffer, then copies it into a plain
// ArrayBuffer so the client never sees shared memory.
func (v *VM) Park(slot string, data []byte) error {
	staging := slot + "_sab"
	if err := v.Exec(fmt.Sprintf("globalThis[%s] = new SharedArrayBuffer(%d)", quote(staging), len(data))); err != nil {
		return fmt.Errorf("allocating slot %s: %w", slot, err)
	}
	if len(data) > 0 {
		if err := v.shared(staging, func(buf []byte) { copy(buf, data) }); err != nil {
			_ = v.Exec("delete globalThis[" + quote(staging) + "]")
			return err
		}
	}
	return v.Exec(fmt.Sprintf(`(function(from, to) {
		var sab = globalThis[from];
		delete globalThis[from];
		globalThis[to] = new Uint8Array(sab).slice().buffer;
	})(%s, %s)`, quote(staging), quote(slot)))
}

func (v *VM) Unpark(slot string) ([]byte, error) {
	var out []byte
	err := v.shared(slot, func(buf []byte) { out = append([]byte(nil), buf...) })
	_ = v.Exec("delete globalThis[" + quote(slot) + "]")
	return out, err
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
