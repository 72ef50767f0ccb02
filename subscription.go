package roomkit

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"go.uber.org/zap"
)

// Listener receives one event. ctx is a loop context until the listener
// returns: bridge calls made with it on the listener's goroutine run
// inline. It must not be shared with other goroutines while the listener
// runs; once the listener returned, calls made with it are submitted to
// the loop like any other. Wrappers in the event are released after
// dispatch unless the listener clones them.
type Listener[A any] func(ctx context.Context, ev A)

// Event is the host-side listener list of one event kind.
type Event[A any] struct {
	mu        sync.Mutex
	nextID    int
	listeners []listenerEntry[A]
}

type listenerEntry[A any] struct {
	id int
	fn Listener[A]
}

// On adds fn and returns a function removing it.
func (e *Event[A]) On(fn Listener[A]) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listenerEntry[A]{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of listeners.
func (e *Event[A]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// emit calls every listener in registration order. A panicking listener is
// logged and the rest still run.
func (e *Event[A]) emit(ctx context.Context, b *Bridge, name string, ev A) {
	e.mu.Lock()
	listeners := e.listeners
	e.mu.Unlock()
	for _, l := range listeners {
		b.runCallback(name, func() { l.fn(ctx, ev) })
	}
}

// eventDecl declares how one event kind is decoded and dispatched on an
// owner of type O. decode shifts the event's fixed argument list and
// returns the wrappers to release after dispatch.
type eventDecl[O any] struct {
	name     string
	dispatch func(ctx context.Context, b *Bridge, owner *O, args *TransferStack) []*Object
}

// on builds an eventDecl from a decoder and the owner's listener list.
func on[O, A any](name string, list func(*O) *Event[A], decode func(ctx context.Context, b *Bridge, args *TransferStack) (A, []*Object)) eventDecl[O] {
	return eventDecl[O]{
		name: name,
		dispatch: func(ctx context.Context, b *Bridge, owner *O, args *TransferStack) []*Object {
			ev, owned := decode(ctx, b, args)
			args.Done()
			if ce := b.log.Check(zap.DebugLevel, "received "+name); ce != nil {
				ce.Write(zap.String("args", fmt.Sprintf("%+v", ev)))
			}
			list(owner).emit(ctx, b, name, ev)
			return owned
		},
	}
}

type subscription struct {
	event string
	sub   int
	fn    *Object
}

// subscriptions is the set of trampolines installed on one owner handle.
// It never references the owner itself.
type subscriptions struct {
	b      *Bridge
	target *Object
	subs   []subscription
	closed atomic.Bool
}

// subscribe eagerly installs one trampoline per declared event on target.
// Each trampoline reaches owner through a weak pointer; firing after owner
// was collected is a lost notification. When owner becomes unreachable the
// trampolines are torn down on the loop.
func subscribe[O any](ctx context.Context, b *Bridge, owner *O, target *Object, events []eventDecl[O]) (*subscriptions, error) {
	set := &subscriptions{b: b}
	wp := weak.Make(owner)
	err := b.do(ctx, "subscribe", func(ctx context.Context) error {
		set.target = target.Clone()
		for _, ev := range events {
			fn, sub, err := b.trampoline(ctx, func(ctx context.Context, args *TransferStack) {
				o := wp.Value()
				if o == nil {
					b.lostNotification("owner collected", zap.String("event", ev.name))
					args.discard(b)
					return
				}
				for _, obj := range ev.dispatch(ctx, b, o, args) {
					obj.Release()
				}
			})
			if err != nil {
				return err
			}
			set.subs = append(set.subs, subscription{event: ev.name, sub: sub, fn: fn})
			res, err := b.invoke(ctx, set.target.Value(), "on", NewTransferStack(StringValue(ev.name), fn.Value()))
			if err != nil {
				return err
			}
			b.Discard(res)
		}
		return nil
	})
	if err != nil {
		_ = set.Close(ctx)
		return nil, err
	}
	runtime.AddCleanup(owner, func(set *subscriptions) {
		b.post(func(ctx context.Context) { _ = set.Close(ctx) })
	}, set)
	return set, nil
}

// Close removes every trampoline from the target and releases them.
func (s *subscriptions) Close(ctx context.Context) error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var first error
	err := s.b.do(ctx, "unsubscribe", func(ctx context.Context) error {
		for _, sub := range s.subs {
			s.b.unregister(sub.sub)
			if s.target != nil {
				res, err := s.b.invoke(ctx, s.target.Value(), "off", NewTransferStack(StringValue(sub.event), sub.fn.Value()))
				if err != nil && first == nil {
					first = err
				}
				s.b.Discard(res)
			}
			sub.fn.Release()
		}
		s.target.Release()
		return nil
	})
	if err != nil {
		// The loop is gone or broken; give the units back anyway.
		for _, sub := range s.subs {
			s.b.unregister(sub.sub)
			sub.fn.Release()
		}
		s.target.Release()
		return err
	}
	return first
}
