package roomkit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

// fakeBoundary is a scripted in-memory runtime. It only runs on the bridge
// loop, so tests touch it through onLoop or after Close.
type fakeBoundary struct {
	objs     map[HandleID]*fakeObject
	next     HandleID
	ctors    map[string]func(f *fakeBoundary, args []Value) *fakeObject
	fire     FireFunc
	wake     chan struct{}
	tasks    []func()
	released []fakeRelease
	lastFn   *fakeObject
	lastProm *fakeObject
	closed   bool
}

type fakeRelease struct {
	id HandleID
	n  int
}

type fakeMethod func(f *fakeBoundary, self *fakeObject, args []Value) (Value, bool)

type fakeObject struct {
	id        HandleID
	kind      Kind
	classes   []string
	props     map[string]Value
	methods   map[string]fakeMethod
	items     []Value
	keys      []string
	entries   map[string]Value
	doc       string
	cyclic    bool
	sub       int
	pins      int
	listeners map[string][]HandleID

	settled bool
	ok      bool
	result  Value
	waiters []HandleID
}

func newFakeBoundary() *fakeBoundary {
	f := &fakeBoundary{
		objs:  make(map[HandleID]*fakeObject),
		next:  NamespaceHandle,
		ctors: make(map[string]func(*fakeBoundary, []Value) *fakeObject),
		wake:  make(chan struct{}),
	}
	f.objs[NamespaceHandle] = &fakeObject{id: NamespaceHandle, kind: KindObject, classes: []string{"RoomKit", "Object"}}
	f.ctors["Greeter"] = newFakeGreeter
	return f
}

func (f *fakeBoundary) opener() BoundaryOpener {
	return func() (Boundary, error) { return f, nil }
}

func (f *fakeBoundary) object(kind Kind, classes ...string) *fakeObject {
	f.next++
	o := &fakeObject{
		id:      f.next,
		kind:    kind,
		classes: classes,
		props:   make(map[string]Value),
		methods: make(map[string]fakeMethod),
	}
	f.objs[o.id] = o
	return o
}

func (f *fakeBoundary) newError(name, msg string) *fakeObject {
	e := f.object(KindError, name, "Error")
	e.props["name"] = StringValue(name)
	e.props["message"] = StringValue(msg)
	return e
}

func (o *fakeObject) ref() Value {
	switch o.kind {
	case KindArray:
		return ArrayValue(o.id, len(o.items))
	case KindError:
		return ErrorValueOf(o.id, o.props["name"].str, o.props["message"].str, o.classes...)
	}
	return HandleValue(o.id, o.kind, o.classes...)
}

// deliver hands one unit of v to Go.
func (f *fakeBoundary) deliver(v Value) Value {
	if v.kind.IsHandle() {
		f.objs[v.id].pins++
	}
	return v
}

func (f *fakeBoundary) Bind(fire FireFunc) { f.fire = fire }

func (f *fakeBoundary) Invoke(target HandleID, op string, args []Value) (Value, bool, error) {
	if f.closed {
		return Value{}, false, errors.New("fake runtime closed")
	}
	o := f.objs[target]
	if o == nil {
		return Value{}, false, fmt.Errorf("unknown handle %d", target)
	}
	switch op {
	case opNew:
		ctor := f.ctors[args[0].str]
		if ctor == nil {
			return f.deliver(f.newError("TypeError", args[0].str+" is not a constructor").ref()), true, nil
		}
		return f.deliver(ctor(f, args[1:]).ref()), false, nil
	case opFn:
		fn := f.object(KindFunction, "Function")
		fn.sub = int(args[0].num)
		f.lastFn = fn
		return f.deliver(fn.ref()), false, nil
	case opProp:
		var v Value
		if args[0].kind == KindNumber {
			if i := int(args[0].num); i < len(o.items) {
				v = o.items[i]
			}
		} else {
			v = o.props[args[0].str]
		}
		return f.deliver(v), false, nil
	case opSettle:
		o.waiters = append(o.waiters, args[0].id)
		if o.settled {
			f.flushWaiters(o)
		}
		return Value{}, false, nil
	case opKeys:
		arr := f.object(KindArray, "Array")
		for _, k := range o.keys {
			arr.items = append(arr.items, StringValue(k))
		}
		return f.deliver(arr.ref()), false, nil
	case opJSON:
		if o.cyclic {
			return f.deliver(f.newError("TypeError", "Converting circular structure to JSON").ref()), true, nil
		}
		return StringValue(o.doc), false, nil
	case "get":
		if o.kind == KindMap {
			v, ok := o.entries[args[0].str]
			if !ok && slices.Contains(o.keys, args[0].str) {
				return f.deliver(f.newError("Error", "entry "+args[0].str+" vanished").ref()), true, nil
			}
			return f.deliver(v), false, nil
		}
	case "on":
		if o.listeners == nil {
			o.listeners = make(map[string][]HandleID)
		}
		o.listeners[args[0].str] = append(o.listeners[args[0].str], args[1].id)
		return Value{}, false, nil
	case "off":
		list := o.listeners[args[0].str]
		if i := slices.Index(list, args[1].id); i >= 0 {
			o.listeners[args[0].str] = slices.Delete(list, i, i+1)
		}
		return Value{}, false, nil
	}
	m := o.methods[op]
	if m == nil {
		return f.deliver(f.newError("TypeError", op+" is not a function").ref()), true, nil
	}
	v, thrown := m(f, o, args)
	return f.deliver(v), thrown, nil
}

func (f *fakeBoundary) Release(id HandleID, n int) error {
	o := f.objs[id]
	if o == nil {
		return fmt.Errorf("unknown handle %d", id)
	}
	o.pins -= n
	f.released = append(f.released, fakeRelease{id: id, n: n})
	return nil
}

func (f *fakeBoundary) Pump() time.Time {
	for len(f.tasks) > 0 {
		task := f.tasks[0]
		f.tasks = f.tasks[1:]
		task()
	}
	return time.Time{}
}

func (f *fakeBoundary) Wake() <-chan struct{} { return f.wake }

func (f *fakeBoundary) Close() { f.closed = true }

// call invokes a trampoline function with args, one unit per handle.
func (f *fakeBoundary) call(fnID HandleID, args ...Value) {
	fn := f.objs[fnID]
	vals := make([]Value, len(args))
	for i, a := range args {
		vals[i] = f.deliver(a)
	}
	f.fire(fn.sub, vals)
}

// emit calls every listener registered for name on target.
func (f *fakeBoundary) emit(target HandleID, name string, args ...Value) {
	for _, fn := range slices.Clone(f.objs[target].listeners[name]) {
		f.call(fn, args...)
	}
}

// settle completes a promise; waiters run on the next pump.
func (f *fakeBoundary) settle(p *fakeObject, ok bool, v Value) {
	if p.settled {
		return
	}
	p.settled, p.ok, p.result = true, ok, v
	f.flushWaiters(p)
}

func (f *fakeBoundary) flushWaiters(p *fakeObject) {
	for _, fn := range p.waiters {
		f.tasks = append(f.tasks, func() { f.call(fn, BoolValue(p.ok), p.result) })
	}
	p.waiters = nil
}

func (f *fakeBoundary) pinsOf(id HandleID) int { return f.objs[id].pins }

func (f *fakeBoundary) releasesOf(id HandleID) []fakeRelease {
	var out []fakeRelease
	for _, r := range f.released {
		if r.id == id {
			out = append(out, r)
		}
	}
	return out
}

func newFakeGreeter(f *fakeBoundary, _ []Value) *fakeObject {
	o := f.object(KindObject, "Greeter", "Object")
	o.props["answer"] = NumberValue(42)
	o.props["nothing"] = Undefined()
	o.doc = `{"adaptiveStream":true,"dynacast":false,"stopLocalTrackOnUnpublish":true}`
	o.methods["greet"] = func(_ *fakeBoundary, _ *fakeObject, args []Value) (Value, bool) {
		return StringValue("hello " + args[0].str), false
	}
	o.methods["self"] = func(_ *fakeBoundary, self *fakeObject, _ []Value) (Value, bool) {
		return self.ref(), false
	}
	o.methods["fail"] = func(f *fakeBoundary, _ *fakeObject, _ []Value) (Value, bool) {
		return f.newError("TypeError", "bad input").ref(), true
	}
	o.methods["later"] = func(f *fakeBoundary, _ *fakeObject, _ []Value) (Value, bool) {
		f.lastProm = f.object(KindPromise, "Promise")
		return f.lastProm.ref(), false
	}
	o.methods["pair"] = func(f *fakeBoundary, _ *fakeObject, args []Value) (Value, bool) {
		if len(args) != 2 {
			return f.newError("RangeError", fmt.Sprintf("pair wants 2 arguments, got %d", len(args))).ref(), true
		}
		return f.newError("Error", args[0].str+"/"+fmt.Sprint(args[1].num)).ref(), false
	}
	o.methods["cyclic"] = func(f *fakeBoundary, _ *fakeObject, _ []Value) (Value, bool) {
		plain := f.object(KindObject, "Object")
		plain.doc = `{"dynacast":true}`
		loop := f.object(KindObject, "Object")
		loop.cyclic = true
		arr := f.object(KindArray, "Array")
		arr.items = []Value{plain.ref(), loop.ref()}
		return arr.ref(), false
	}
	o.methods["sparse"] = func(f *fakeBoundary, _ *fakeObject, _ []Value) (Value, bool) {
		m := f.object(KindMap, "Map")
		m.keys = []string{"x", "y"}
		m.entries = map[string]Value{"x": f.object(KindObject, "Thing", "Object").ref()}
		return m.ref(), false
	}
	o.methods["thing"] = func(f *fakeBoundary, _ *fakeObject, _ []Value) (Value, bool) {
		return f.object(KindObject, "Thing", "Object").ref(), false
	}
	o.methods["list"] = func(f *fakeBoundary, _ *fakeObject, _ []Value) (Value, bool) {
		arr := f.object(KindArray, "Array")
		arr.items = []Value{StringValue("a"), StringValue("b"), StringValue("c")}
		return arr.ref(), false
	}
	o.methods["table"] = func(f *fakeBoundary, _ *fakeObject, _ []Value) (Value, bool) {
		m := f.object(KindMap, "Map")
		m.keys = []string{"x", "y"}
		m.entries = map[string]Value{"x": NumberValue(1), "y": NumberValue(2)}
		m.props["size"] = NumberValue(2)
		return m.ref(), false
	}
	return o
}

func newTestBridge(t *testing.T, opts ...Option) (*Bridge, *fakeBoundary) {
	t.Helper()
	f := newFakeBoundary()
	b, err := NewBridge(f.opener(), opts...)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, f
}

func newGreeter(t *testing.T, b *Bridge) *Object {
	t.Helper()
	g, err := New(context.Background(), b, "Greeter", nil, ObjectOf("Greeter", func(o *Object) *Object { return o }))
	if err != nil {
		t.Fatalf("New(Greeter): %v", err)
	}
	return g
}

// onLoop runs fn as one crossing on the bridge loop.
func onLoop(t *testing.T, b *Bridge, fn func(ctx context.Context)) {
	t.Helper()
	err := b.do(context.Background(), "test", func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("loop crossing: %v", err)
	}
}

func mustViolate(t *testing.T, fn func()) *ContractViolation {
	t.Helper()
	var cv *ContractViolation
	func() {
		defer func() {
			r := recover()
			cv, _ = r.(*ContractViolation)
		}()
		fn()
	}()
	if cv == nil {
		t.Fatal("expected a contract violation")
	}
	return cv
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
