package roomkit

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrAwaitOnLoop is returned by Await when called from a listener or OnDone
// callback: the promise cannot settle while the loop is blocked.
var ErrAwaitOnLoop = errors.New("roomkit: Await called on the bridge loop, use OnDone")

// Promise is the Go side of a runtime asynchronous result. It settles
// exactly once, with a value converted by its element converter or with a
// *JSError.
type Promise[T any] struct {
	b    *Bridge
	id   HandleID
	conv Converter[T]
	done chan struct{}

	mu        sync.Mutex
	settled   bool
	val       T
	err       *JSError
	fail      error // the resolved value could not be converted
	callbacks []func(ctx context.Context)
	tramp     *Object
	sub       int
}

// newPromise attaches a completion trampoline to the runtime promise v.
// v's unit is released once the trampoline is attached; on failure the
// caller still owns it.
func newPromise[T any](ctx context.Context, b *Bridge, v Value, conv Converter[T]) (*Promise[T], error) {
	p := &Promise[T]{b: b, id: v.id, conv: conv, done: make(chan struct{})}
	tramp, sub, err := b.trampoline(ctx, p.settle)
	if err != nil {
		return nil, err
	}
	p.tramp, p.sub = tramp, sub
	res, err := b.invoke(ctx, v, opSettle, NewTransferStack(tramp.Value()))
	if err != nil {
		b.unregister(sub)
		tramp.Release()
		return nil, err
	}
	b.Discard(res)
	b.Discard(v)
	return p, nil
}

// settle receives (ok: Boolean, value) from the completion trampoline.
// The promise becomes terminal even when the value cannot be converted; a
// mismatched value then poisons the bridge after waiters were released.
func (p *Promise[T]) settle(ctx context.Context, args *TransferStack) {
	ok := Acquire(ctx, p.b, args.Shift(), Bool)
	raw := args.Shift()
	args.Done()

	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		p.b.log.Warn("ignoring repeated promise completion", zap.Uint64("promise", uint64(p.id)))
		p.b.Discard(raw)
		return
	}
	p.mu.Unlock()

	var (
		val   T
		jsErr *JSError
		fail  error
		err   error
	)
	if ok {
		val, err = Convert(ctx, p.b, raw, p.conv)
	} else {
		jsErr, err = Convert(ctx, p.b, raw, ErrorValue)
	}
	var cv *ContractViolation
	switch {
	case errors.As(err, &cv):
		p.b.poison(cv)
		fail = &brokenError{cause: cv}
	case err != nil:
		jsErr = asJSError(err)
	}

	p.mu.Lock()
	p.settled = true
	p.val, p.err, p.fail = val, jsErr, fail
	callbacks := p.callbacks
	p.callbacks = nil
	tramp, sub := p.tramp, p.sub
	p.mu.Unlock()
	close(p.done)

	p.b.unregister(sub)
	tramp.Release()
	for _, fn := range callbacks {
		p.b.runCallback("promise", func() { fn(ctx) })
	}
	if cv != nil {
		panic(cv)
	}
}

// asJSError turns a conversion failure into a rejection value.
func asJSError(err error) *JSError {
	var berr *BoundaryError
	if errors.As(err, &berr) {
		return berr.Err
	}
	return &JSError{Name: "Error", Message: err.Error()}
}

// Done is closed once the promise settled.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// IsDone reports whether the promise settled.
func (p *Promise[T]) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// IsError reports whether the promise was rejected or its value could not
// be converted. It panics if the promise is still pending.
func (p *Promise[T]) IsError() bool {
	p.mustBeDone("IsError")
	return p.err != nil || p.fail != nil
}

// ResolveValue returns the resolved value. It panics if the promise is
// pending; it returns the zero value if it was rejected.
func (p *Promise[T]) ResolveValue() T {
	p.mustBeDone("ResolveValue")
	return p.val
}

// RejectValue returns the rejection error, or nil if the promise resolved.
// It panics if the promise is pending.
func (p *Promise[T]) RejectValue() *JSError {
	p.mustBeDone("RejectValue")
	return p.err
}

func (p *Promise[T]) mustBeDone(op string) {
	if !p.IsDone() {
		violate(op, "promise %d observed before completion", p.id)
	}
}

// Await waits for the promise to settle. ctx only bounds the wait; the
// runtime operation continues regardless. A pending promise on a bridge
// that was poisoned returns ErrBroken. A rejection is returned as a
// *BoundaryError. Awaiting a settled promise returns the same result every
// time.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	if !p.IsDone() && p.b.onLoop(ctx) {
		var zero T
		return zero, ErrAwaitOnLoop
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-p.b.brokenCh:
		if !p.IsDone() {
			var zero T
			return zero, p.b.Err()
		}
	case <-p.b.done:
		if !p.IsDone() {
			var zero T
			return zero, ErrClosed
		}
	}
	if p.fail != nil {
		var zero T
		return zero, p.fail
	}
	if p.err != nil {
		return p.val, &BoundaryError{Op: "await", Err: p.err}
	}
	return p.val, nil
}

// OnDone registers fn to run once on the bridge loop after the promise
// settles. fn receives a loop context usable for further bridge calls
// until fn returns, with the same rules as a Listener context.
func (p *Promise[T]) OnDone(fn func(ctx context.Context)) {
	p.mu.Lock()
	if !p.settled {
		p.callbacks = append(p.callbacks, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.b.post(func(ctx context.Context) {
		p.b.runCallback("promise", func() { fn(ctx) })
	})
}
