//go:build !v8

package quickjs

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// capi holds the C pointers behind a *quickjs.VM. The Go wrapper keeps them
// unexported and never runs pending jobs on its own, so promise reactions
// and raw buffer access go through here.
type capi struct {
	tls *libc.TLS
	rt  uintptr // JSRuntime*
	ctx uintptr // JSContext*
}

// inspectVM reads the pointers out of vm. The layout it expects is the one
// of modernc.org/quickjs v0.17.1:
//
//	type VM struct {
//		cContext uintptr
//		...
//		runtime *runtime
//	}
//
//	type runtime struct {
//		cRuntime uintptr
//		tls      *libc.TLS
//	}
func inspectVM(vm *quickjs.VM) (c capi, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reading quickjs.VM internals: %v", p)
		}
	}()

	v := reflect.ValueOf(vm).Elem()
	ctxField := v.FieldByName("cContext")
	rtField := v.FieldByName("runtime")
	if !ctxField.IsValid() || !rtField.IsValid() || rtField.IsNil() {
		return c, errors.New("unexpected quickjs.VM layout")
	}
	inner := reflect.NewAt(rtField.Type().Elem(), rtField.UnsafePointer()).Elem()
	rtPtr := inner.FieldByName("cRuntime")
	tls := inner.FieldByName("tls")
	if !rtPtr.IsValid() || !tls.IsValid() || tls.IsNil() {
		return c, errors.New("unexpected quickjs runtime layout")
	}

	c = capi{
		tls: (*libc.TLS)(tls.UnsafePointer()),
		rt:  uintptr(rtPtr.Uint()),
		ctx: uintptr(ctxField.Uint()),
	}
	if c.rt == 0 || c.ctx == 0 {
		return c, errors.New("quickjs.VM has no live context")
	}
	return c, nil
}

// runJobs executes pending jobs until the queue is empty or a job fails.
func (c capi) runJobs() int {
	n := 0
	for lib.XJS_ExecutePendingJob(c.tls, c.rt, 0) > 0 {
		n++
	}
	return n
}

// storeBuffer sets globalThis[name] to a new ArrayBuffer holding a copy of
// data, which must not be empty.
func (c capi) storeBuffer(name string, data []byte) error {
	cname, err := libc.CString(name)
	if err != nil {
		return fmt.Errorf("allocating %q: %w", name, err)
	}
	defer libc.Xfree(c.tls, cname)

	buf := lib.XJS_NewArrayBufferCopy(c.tls, c.ctx, uintptr(unsafe.Pointer(&data[0])), lib.Tsize_t(len(data)))
	glob := lib.XJS_GetGlobalObject(c.tls, c.ctx)
	// JS_SetPropertyStr takes ownership of buf.
	ret := lib.XJS_SetPropertyStr(c.tls, c.ctx, glob, cname, buf)
	lib.XFreeValue(c.tls, c.ctx, glob)
	if ret < 0 {
		return fmt.Errorf("storing buffer in %q", name)
	}
	return nil
}

// loadBuffer copies the ArrayBuffer at globalThis[name]. A missing or
// non-buffer value yields nil.
func (c capi) loadBuffer(name string) ([]byte, error) {
	cname, err := libc.CString(name)
	if err != nil {
		return nil, fmt.Errorf("allocating %q: %w", name, err)
	}
	defer libc.Xfree(c.tls, cname)

	glob := lib.XJS_GetGlobalObject(c.tls, c.ctx)
	val := lib.XJS_GetPropertyStr(c.tls, c.ctx, glob, cname)
	lib.XFreeValue(c.tls, c.ctx, glob)
	defer lib.XFreeValue(c.tls, c.ctx, val)

	var size lib.Tsize_t
	ptr := lib.XJS_GetArrayBuffer(c.tls, c.ctx, uintptr(unsafe.Pointer(&size)), val)
	if ptr == 0 || size == 0 {
		return nil, nil
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size))
	return out, nil
}
