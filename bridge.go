package roomkit

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Internal operations understood by every Boundary besides plain method
// names.
const (
	opProp   = "@prop"   // (name) read a property
	opNew    = "@new"    // (class, args...) construct a namespace class
	opFn     = "@fn"     // (sub) create a trampoline function
	opSettle = "@settle" // (fn) call fn(ok, value) when the target settles
	opKeys   = "@keys"   // () array of Map keys
	opJSON   = "@json"   // () JSON snapshot
)

const tracerName = "github.com/cryguy/roomkit"

// FireFunc receives a trampoline invocation: the subscription id and the
// values the runtime pushed, in push order. Each handle-backed value
// carries one unit delivered to Go.
type FireFunc func(sub int, args []Value)

// Boundary is the crossing primitive. Every method is called on the bridge
// loop goroutine, and FireFunc is only called from inside Invoke or Pump.
type Boundary interface {
	// Bind installs the trampoline entry point.
	Bind(fire FireFunc)

	// Invoke runs op on target with args. thrown reports a runtime throw,
	// in which case result is the thrown value. err is a transport failure.
	Invoke(target HandleID, op string, args []Value) (result Value, thrown bool, err error)

	// Release returns n units of id to the runtime.
	Release(id HandleID, n int) error

	// Pump runs due runtime work (timers, network events, microtasks) and
	// returns the next deadline, or the zero time if nothing is scheduled.
	Pump() time.Time

	// Wake signals that work was queued from another goroutine.
	Wake() <-chan struct{}

	Close()
}

// BoundaryOpener creates the Boundary on the loop goroutine that will own
// it.
type BoundaryOpener func() (Boundary, error)

type dispatchFunc func(ctx context.Context, args *TransferStack)

type loopKey struct{}

// loopScope marks a context as belonging to the bridge loop. Scopes handed
// to listeners and callbacks end when the callback returns, after which
// calls made with that context are submitted to the loop like any other.
type loopScope struct {
	b     *Bridge
	ended atomic.Bool
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	Crossings         int64
	Fires             int64
	LostNotifications int64
	Releases          int64
	LiveHandles       int
	Subscriptions     int
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithTracerProvider sets the provider crossing spans are recorded with.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Bridge) { b.tracer = tp.Tracer(tracerName) }
}

// WithJournal records every crossing into j.
func WithJournal(j *Journal) Option {
	return func(b *Bridge) { b.journal = j }
}

// WithPumpInterval bounds how long the loop idles between pumps.
func WithPumpInterval(d time.Duration) Option {
	return func(b *Bridge) { b.pumpInterval = d }
}

// Bridge serializes every crossing onto a single loop goroutine and owns
// the handle table, the subscription registry and the release queue.
//
// Calls made with a context handed out by the bridge (listener and OnDone
// contexts), while that callback runs, execute inline on the loop; any other context submits the crossing
// to the loop and waits for it.
type Bridge struct {
	bd           Boundary
	log          *zap.Logger
	tracer       trace.Tracer
	journal      *Journal
	pumpInterval time.Duration
	table        *handleTable
	ns           *Object
	loopCtx      context.Context

	jobs      chan func(context.Context)
	kick      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	brokenCh  chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	subs    map[int]dispatchFunc
	nextSub int
	posted  []func(context.Context)

	broken    atomic.Pointer[ContractViolation]
	crossings atomic.Int64
	fires     atomic.Int64
	lost      atomic.Int64
	releases  atomic.Int64
}

// NewBridge starts the loop goroutine and opens the boundary on it.
func NewBridge(open BoundaryOpener, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		log:      Logger(),
		tracer:   otel.Tracer(tracerName),
		table:    newHandleTable(),
		jobs:     make(chan func(context.Context)),
		kick:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		brokenCh: make(chan struct{}),
		subs:     make(map[int]dispatchFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.Named("bridge")
	b.loopCtx = context.WithValue(context.Background(), loopKey{}, &loopScope{b: b})
	b.ns = newObject(b, Value{kind: KindObject, id: NamespaceHandle})

	ready := make(chan error, 1)
	go b.run(open, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return b, nil
}

// Namespace returns the wrapper of the client namespace object.
func (b *Bridge) Namespace() *Object { return b.ns }

func (b *Bridge) run(open BoundaryOpener, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(b.done)

	bd, err := open()
	if err != nil {
		ready <- fmt.Errorf("roomkit: opening boundary: %w", err)
		return
	}
	b.bd = bd
	bd.Bind(b.fire)
	ready <- nil
	defer bd.Close()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		b.runPosted()
		next := b.pump()

		wait := time.Duration(-1)
		if !next.IsZero() {
			wait = max(time.Until(next), 0)
		}
		if b.pumpInterval > 0 && (wait < 0 || wait > b.pumpInterval) {
			wait = b.pumpInterval
		}
		var tick <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			tick = timer.C
		}

		select {
		case job := <-b.jobs:
			ctx, end := b.enter(b.loopCtx)
			job(ctx)
			end()
		case <-bd.Wake():
		case <-b.kick:
		case <-tick:
		case <-b.quit:
			return
		}
		if tick != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

func (b *Bridge) pump() time.Time {
	var next time.Time
	_ = b.guard(b.loopCtx, "pump", func(context.Context) error {
		b.flushReleases()
		next = b.bd.Pump()
		return nil
	})
	return next
}

func (b *Bridge) runPosted() {
	b.mu.Lock()
	posted := b.posted
	b.posted = nil
	b.mu.Unlock()
	for _, fn := range posted {
		ctx, end := b.enter(b.loopCtx)
		_ = b.guard(ctx, "post", func(ctx context.Context) error {
			fn(ctx)
			return nil
		})
		end()
	}
}

// post schedules fn on the loop without waiting.
func (b *Bridge) post(fn func(context.Context)) {
	b.mu.Lock()
	b.posted = append(b.posted, fn)
	b.mu.Unlock()
	b.wakeLoop()
}

func (b *Bridge) wakeLoop() {
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// enter derives a loop context valid until end is called.
func (b *Bridge) enter(parent context.Context) (ctx context.Context, end func()) {
	s := &loopScope{b: b}
	return context.WithValue(parent, loopKey{}, s), func() { s.ended.Store(true) }
}

func (b *Bridge) onLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	s, _ := ctx.Value(loopKey{}).(*loopScope)
	return s != nil && s.b == b && !s.ended.Load()
}

func (b *Bridge) usable() error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	if cv := b.broken.Load(); cv != nil {
		return &brokenError{cause: cv}
	}
	return nil
}

// do runs fn as one crossing on the loop.
func (b *Bridge) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if b.onLoop(ctx) {
		return b.guard(ctx, op, fn)
	}
	if err := b.usable(); err != nil {
		return err
	}
	res := make(chan error, 1)
	job := func(lctx context.Context) { res <- b.guard(lctx, op, fn) }
	select {
	case b.jobs <- job:
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-res
}

// guard runs fn, turning a contract violation into a poisoned bridge.
func (b *Bridge) guard(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	if cv := b.broken.Load(); cv != nil {
		return &brokenError{cause: cv}
	}
	defer func() {
		switch r := recover().(type) {
		case nil:
		case *ContractViolation:
			b.poison(r)
		case *acquireError:
			err = r.err
		default:
			panic(r)
		}
		if cv := b.broken.Load(); cv != nil {
			err = &brokenError{cause: cv}
		}
	}()
	return fn(ctx)
}

func (b *Bridge) poison(cv *ContractViolation) {
	if b.broken.CompareAndSwap(nil, cv) {
		close(b.brokenCh)
		b.log.Error("contract violation, bridge is unusable", zap.String("op", cv.Op), zap.String("reason", cv.Msg))
	}
}

// Err returns the violation that poisoned the bridge, ErrClosed after
// Close, or nil.
func (b *Bridge) Err() error {
	return b.usable()
}

// invoke performs one raw crossing. It must run on the loop.
func (b *Bridge) invoke(ctx context.Context, target Value, op string, args *TransferStack) (Value, error) {
	b.flushReleases()
	vals := args.take()
	_, span := b.tracer.Start(ctx, "roomkit.call", trace.WithAttributes(
		attribute.String("roomkit.op", op),
		attribute.Int64("roomkit.target", int64(target.id)),
		attribute.Int("roomkit.args", len(vals)),
	))
	defer span.End()

	start := time.Now()
	res, thrown, err := b.bd.Invoke(target.id, op, vals)
	b.crossings.Add(1)
	b.journal.record(crossing{Kind: "call", Op: op, Target: target.id, Args: len(vals), Thrown: thrown, Err: err, Duration: time.Since(start)})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Value{}, fmt.Errorf("roomkit: %s: %w", op, err)
	}
	b.table.received(res)
	if !thrown {
		return res, nil
	}

	jsErr, cerr := Convert(ctx, b, res, ErrorValue)
	if cerr != nil {
		jsErr = &JSError{Name: "Error", Message: res.GoString()}
	}
	jsErr.Release()
	berr := &BoundaryError{Op: op, Err: jsErr}
	span.RecordError(berr)
	span.SetStatus(codes.Error, jsErr.Error())
	return Value{}, berr
}

func callAs[T any](ctx context.Context, b *Bridge, target func() Value, op string, args *TransferStack, conv Converter[T]) (T, error) {
	var out T
	err := b.do(ctx, op, func(ctx context.Context) error {
		v, err := b.invoke(ctx, target(), op, args)
		if err != nil {
			return err
		}
		out, err = acquireErr(ctx, b, v, conv)
		return err
	})
	return out, err
}

// Invoke is the raw call dispatcher: it consumes args, runs op on target
// and returns the raw result, which the caller must pass to Acquire,
// Convert or Discard.
func (b *Bridge) Invoke(ctx context.Context, target *Object, op string, args *TransferStack) (Value, error) {
	var out Value
	err := b.do(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = b.invoke(ctx, target.Value(), op, args)
		return err
	})
	return out, err
}

// New constructs namespace class with args and acquires it with conv.
func New[T any](ctx context.Context, b *Bridge, class string, args *TransferStack, conv Converter[T]) (T, error) {
	all := NewTransferStack(StringValue(class))
	for _, v := range args.take() {
		all.Push(v)
	}
	return callAs(ctx, b, b.ns.Value, opNew, all, conv)
}

// Discard releases the unit carried by an unused value.
func (b *Bridge) Discard(v Value) {
	if v.kind.IsHandle() {
		b.releaseUnit(v.id)
	}
}

// releaseUnit may run on any goroutine, including GC cleanups.
func (b *Bridge) releaseUnit(id HandleID) {
	if b.table.release(id) {
		b.wakeLoop()
	}
}

func (b *Bridge) flushReleases() {
	for _, r := range b.table.drain() {
		if err := b.bd.Release(r.id, r.n); err != nil {
			b.log.Debug("release failed", zap.Uint64("handle", uint64(r.id)), zap.Error(err))
			continue
		}
		b.releases.Add(1)
		b.journal.record(crossing{Kind: "release", Target: r.id, Args: r.n})
	}
}

// trampoline registers fn and creates the runtime function that fires it.
// Must run on the loop.
func (b *Bridge) trampoline(ctx context.Context, fn dispatchFunc) (*Object, int, error) {
	b.mu.Lock()
	b.nextSub++
	sub := b.nextSub
	b.subs[sub] = fn
	b.mu.Unlock()

	v, err := b.invoke(ctx, b.ns.Value(), opFn, NewTransferStack(IntValue(sub)))
	if err != nil {
		b.unregister(sub)
		return nil, 0, err
	}
	return Acquire(ctx, b, v, FunctionValue), sub, nil
}

func (b *Bridge) unregister(sub int) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// fire is the Boundary's trampoline entry point.
func (b *Bridge) fire(sub int, vals []Value) {
	for _, v := range vals {
		b.table.received(v)
	}
	b.fires.Add(1)
	args := NewTransferStack(vals...)

	b.mu.Lock()
	fn := b.subs[sub]
	b.mu.Unlock()
	if fn == nil || b.broken.Load() != nil {
		b.lostNotification("unknown subscription", zap.Int("sub", sub))
		args.discard(b)
		return
	}

	ctx, span := b.tracer.Start(b.loopCtx, "roomkit.fire", trace.WithAttributes(
		attribute.Int("roomkit.sub", sub),
		attribute.Int("roomkit.args", len(vals)),
	))
	defer span.End()
	ctx, end := b.enter(ctx)
	defer end()
	start := time.Now()
	defer func() {
		switch r := recover().(type) {
		case nil:
		case *ContractViolation:
			span.RecordError(r)
			span.SetStatus(codes.Error, r.Msg)
			b.poison(r)
		case *acquireError:
			// The event cannot be decoded; drop what is left of it.
			span.RecordError(r.err)
			span.SetStatus(codes.Error, r.err.Error())
			b.log.Warn("dropping event", zap.Int("sub", sub), zap.Error(r.err))
			args.discard(b)
		default:
			panic(r)
		}
		b.journal.record(crossing{Kind: "fire", Op: fmt.Sprint(sub), Args: len(vals), Duration: time.Since(start)})
	}()
	fn(ctx, args)
}

func (b *Bridge) lostNotification(reason string, fields ...zap.Field) {
	b.lost.Add(1)
	b.log.Debug("lost notification: "+reason, fields...)
}

// runCallback runs a user callback, logging panics other than contract
// violations.
func (b *Bridge) runCallback(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if cv, ok := r.(*ContractViolation); ok {
				panic(cv)
			}
			b.log.Error("callback panicked", zap.String("callback", what), zap.Any("panic", r))
		}
	}()
	fn()
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	subs := len(b.subs)
	b.mu.Unlock()
	return Stats{
		Crossings:         b.crossings.Load(),
		Fires:             b.fires.Load(),
		LostNotifications: b.lost.Load(),
		Releases:          b.releases.Load(),
		LiveHandles:       b.table.live(),
		Subscriptions:     subs,
	}
}

// Close stops the loop and closes the boundary. It must not be called from
// a listener.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.quit) })
	<-b.done
	return nil
}
