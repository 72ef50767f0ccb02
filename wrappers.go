package roomkit

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"
)

// objectState is shared between a wrapper and its GC cleanup so that the
// cleanup never keeps the wrapper reachable.
type objectState struct {
	b        *Bridge
	id       HandleID
	released atomic.Bool
}

func (s *objectState) release() {
	if s.released.CompareAndSwap(false, true) {
		s.b.releaseUnit(s.id)
	}
}

// Object is a wrapper owning exactly one reference-count unit on a runtime
// handle. Several wrappers may alias the same handle; each releases its
// own unit. Release is the primary way to give the unit back; a GC cleanup
// returns it for wrappers that become unreachable first.
type Object struct {
	st      *objectState
	kind    Kind
	classes []string
}

func newObject(b *Bridge, v Value) *Object {
	st := &objectState{b: b, id: v.id}
	o := &Object{st: st, kind: v.kind, classes: v.classes}
	if v.id != NamespaceHandle {
		runtime.AddCleanup(o, func(st *objectState) { st.release() }, st)
	}
	return o
}

// ID returns the handle the wrapper references.
func (o *Object) ID() HandleID { return o.st.id }

// Kind is fixed at construction.
func (o *Object) Kind() Kind { return o.kind }

// Classes returns the runtime prototype chain, most derived first.
func (o *Object) Classes() []string { return o.classes }

// Is reports whether class appears in the prototype chain.
func (o *Object) Is(class string) bool { return slices.Contains(o.classes, class) }

// Bridge returns the bridge the handle lives on.
func (o *Object) Bridge() *Bridge { return o.st.b }

// Released reports whether Release was called.
func (o *Object) Released() bool { return o.st.released.Load() }

// Release gives the wrapper's unit back. Calling it more than once is a
// no-op.
func (o *Object) Release() {
	if o == nil {
		return
	}
	o.st.release()
}

// Clone returns a new wrapper aliasing the same handle with its own unit.
func (o *Object) Clone() *Object {
	if o.Released() || !o.st.b.table.retain(o.st.id) {
		violate("clone", "handle %d used after release", o.st.id)
	}
	return newObject(o.st.b, Value{kind: o.kind, id: o.st.id, classes: o.classes})
}

// Value returns a reference to the handle for pushing onto a stack.
func (o *Object) Value() Value {
	if o.Released() {
		violate("push", "handle %d used after release", o.st.id)
	}
	return Value{kind: o.kind, id: o.st.id, classes: o.classes}
}

func (o *Object) String() string {
	if len(o.classes) > 0 {
		return fmt.Sprintf("%s#%d", o.classes[0], o.st.id)
	}
	return fmt.Sprintf("%s#%d", o.kind, o.st.id)
}

// Call invokes method on the object and acquires the result with conv.
func Call[T any](ctx context.Context, o *Object, method string, args *TransferStack, conv Converter[T]) (T, error) {
	return callAs(ctx, o.st.b, o.Value, method, args, conv)
}

// Get reads property prop and acquires it with conv.
func Get[T any](ctx context.Context, o *Object, prop string, conv Converter[T]) (T, error) {
	return callAs(ctx, o.st.b, o.Value, opProp, NewTransferStack(StringValue(prop)), conv)
}

// GetOrNull reads a nullable property.
func GetOrNull[T any](ctx context.Context, o *Object, prop string, conv Converter[T]) (T, bool, error) {
	var (
		out T
		ok  bool
	)
	err := o.st.b.do(ctx, "get", func(ctx context.Context) error {
		v, err := o.st.b.invoke(ctx, o.Value(), opProp, NewTransferStack(StringValue(prop)))
		if err != nil {
			return err
		}
		out, ok, err = acquireOrNullErr(ctx, o.st.b, v, conv)
		return err
	})
	return out, ok, err
}

// JSError is an error wrapper: a runtime Error object. Name and Message are
// captured at acquisition and remain readable after Release.
type JSError struct {
	*Object
	Name    string
	Message string
}

func (e *JSError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// Array is a wrapper over a runtime array whose elements convert with a
// fixed converter. Its length is captured at acquisition.
type Array[T any] struct {
	*Object
	n    int
	elem Converter[T]
}

// Len returns the array length at acquisition time.
func (a *Array[T]) Len() int { return a.n }

// At reads element i.
func (a *Array[T]) At(ctx context.Context, i int) (T, error) {
	return callAs(ctx, a.st.b, a.Value, opProp, NewTransferStack(IntValue(i)), a.elem)
}

// Slice reads every element in one loop turn.
func (a *Array[T]) Slice(ctx context.Context) ([]T, error) {
	out := make([]T, 0, a.n)
	err := a.st.b.do(ctx, "slice", func(ctx context.Context) error {
		for i := 0; i < a.n; i++ {
			v, err := a.st.b.invoke(ctx, a.Value(), opProp, NewTransferStack(IntValue(i)))
			if err != nil {
				releaseAll(out)
				return err
			}
			elem, err := acquireErr(ctx, a.st.b, v, a.elem)
			if err != nil {
				releaseAll(out)
				return err
			}
			out = append(out, elem)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Map is a wrapper over a runtime Map with string keys.
type Map[V any] struct {
	*Object
	elem Converter[V]
}

// Len returns the number of entries.
func (m *Map[V]) Len(ctx context.Context) (int, error) {
	return callAs(ctx, m.st.b, m.Value, opProp, NewTransferStack(StringValue("size")), Int)
}

// Keys returns the map keys in insertion order.
func (m *Map[V]) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := m.st.b.do(ctx, "keys", func(ctx context.Context) error {
		v, err := m.st.b.invoke(ctx, m.Value(), opKeys, nil)
		if err != nil {
			return err
		}
		arr := Acquire(ctx, m.st.b, v, ArrayOf(String))
		defer arr.Release()
		keys, err = arr.Slice(ctx)
		return err
	})
	return keys, err
}

// Lookup returns the entry for key.
func (m *Map[V]) Lookup(ctx context.Context, key string) (V, bool, error) {
	var (
		out V
		ok  bool
	)
	err := m.st.b.do(ctx, "lookup", func(ctx context.Context) error {
		v, err := m.st.b.invoke(ctx, m.Value(), "get", NewTransferStack(StringValue(key)))
		if err != nil {
			return err
		}
		out, ok, err = acquireOrNullErr(ctx, m.st.b, v, m.elem)
		return err
	})
	return out, ok, err
}

// Entries reads every entry. Values are fresh wrappers owned by the caller.
func (m *Map[V]) Entries(ctx context.Context) (map[string]V, error) {
	out := make(map[string]V)
	err := m.st.b.do(ctx, "entries", func(ctx context.Context) error {
		keys, err := m.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			v, ok, err := m.Lookup(ctx, k)
			if err != nil {
				for _, got := range out {
					release(got)
				}
				return err
			}
			if ok {
				out[k] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CallOrNull invokes method and maps a "no value" result to (zero, false).
func CallOrNull[T any](ctx context.Context, o *Object, method string, args *TransferStack, conv Converter[T]) (T, bool, error) {
	var (
		out T
		ok  bool
	)
	err := o.st.b.do(ctx, method, func(ctx context.Context) error {
		v, err := o.st.b.invoke(ctx, o.Value(), method, args)
		if err != nil {
			return err
		}
		out, ok, err = acquireOrNullErr(ctx, o.st.b, v, conv)
		return err
	})
	return out, ok, err
}

// release gives back the unit of v if it is a wrapper.
func release(v any) {
	if r, ok := v.(interface{ Release() }); ok {
		r.Release()
	}
}

func releaseAll[T any](vals []T) {
	for _, v := range vals {
		release(v)
	}
}
