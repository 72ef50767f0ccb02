package roomkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func laterPromise(t *testing.T, b *Bridge, f *fakeBoundary) (*Promise[string], *fakeObject, HandleID) {
	t.Helper()
	g := newGreeter(t, b)
	t.Cleanup(g.Release)
	p, err := Call(testContext(t), g, "later", nil, PromiseOf(String))
	if err != nil {
		t.Fatalf("later: %v", err)
	}
	var (
		prom *fakeObject
		fn   HandleID
	)
	onLoop(t, b, func(context.Context) { prom, fn = f.lastProm, f.lastFn.id })
	return p, prom, fn
}

func TestPromise_Resolve(t *testing.T) {
	b, f := newTestBridge(t)
	ctx := testContext(t)
	p, prom, _ := laterPromise(t, b, f)

	if p.IsDone() {
		t.Fatal("promise done before settling")
	}
	mustViolate(t, func() { p.ResolveValue() })
	mustViolate(t, func() { p.IsError() })

	onLoop(t, b, func(context.Context) { f.settle(prom, true, StringValue("done")) })

	for i := 0; i < 2; i++ {
		v, err := p.Await(ctx)
		if err != nil || v != "done" {
			t.Fatalf("Await #%d = %q, %v", i+1, v, err)
		}
	}
	if p.IsError() || p.ResolveValue() != "done" || p.RejectValue() != nil {
		t.Errorf("settled state: error %v, value %q", p.IsError(), p.ResolveValue())
	}
	if n := b.Stats().Subscriptions; n != 0 {
		t.Errorf("trampoline still registered: %d subscriptions", n)
	}
}

func TestPromise_Reject(t *testing.T) {
	b, f := newTestBridge(t)
	ctx := testContext(t)
	p, prom, _ := laterPromise(t, b, f)

	onLoop(t, b, func(context.Context) {
		f.settle(prom, false, f.newError("Error", "nope").ref())
	})

	_, err := p.Await(ctx)
	var berr *BoundaryError
	if !errors.As(err, &berr) || berr.Err.Message != "nope" {
		t.Fatalf("Await err = %v, want rejection", err)
	}
	if !p.IsError() || p.RejectValue().Message != "nope" {
		t.Errorf("IsError %v, RejectValue %v", p.IsError(), p.RejectValue())
	}
}

func TestPromise_RepeatedCompletionIgnored(t *testing.T) {
	b, f := newTestBridge(t)
	ctx := testContext(t)
	p, prom, fn := laterPromise(t, b, f)

	onLoop(t, b, func(context.Context) { f.settle(prom, true, StringValue("first")) })
	if _, err := p.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}

	onLoop(t, b, func(context.Context) { f.call(fn, BoolValue(true), StringValue("second")) })
	if v, _ := p.Await(ctx); v != "first" {
		t.Errorf("value changed to %q", v)
	}
	if b.Stats().LostNotifications != 1 {
		t.Errorf("lost notifications = %d, want 1", b.Stats().LostNotifications)
	}
	if b.Err() != nil {
		t.Errorf("bridge broken: %v", b.Err())
	}
}

func TestPromise_OnDone(t *testing.T) {
	b, f := newTestBridge(t)
	ctx := testContext(t)
	p, prom, _ := laterPromise(t, b, f)

	got := make(chan string, 2)
	p.OnDone(func(context.Context) { got <- "before" })
	onLoop(t, b, func(context.Context) { f.settle(prom, true, StringValue("v")) })
	if _, err := p.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	p.OnDone(func(context.Context) { got <- "after" })

	for _, want := range []string{"before", "after"} {
		select {
		case v := <-got:
			if v != want {
				t.Errorf("callback %q, want %q", v, want)
			}
		case <-ctx.Done():
			t.Fatalf("callback %q never ran", want)
		}
	}
}

func TestPromise_AwaitOnLoop(t *testing.T) {
	b, f := newTestBridge(t)
	p, _, _ := laterPromise(t, b, f)

	var err error
	onLoop(t, b, func(ctx context.Context) { _, err = p.Await(ctx) })
	if !errors.Is(err, ErrAwaitOnLoop) {
		t.Errorf("err = %v, want ErrAwaitOnLoop", err)
	}
}

func TestPromise_AwaitCanceled(t *testing.T) {
	b, f := newTestBridge(t)
	p, _, _ := laterPromise(t, b, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPromise_MismatchedResolutionBreaksBridge(t *testing.T) {
	b, f := newTestBridge(t)
	p, prom, _ := laterPromise(t, b, f)

	ran := make(chan struct{}, 1)
	p.OnDone(func(context.Context) { ran <- struct{}{} })

	onLoop(t, b, func(context.Context) { f.settle(prom, true, NumberValue(7)) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.Await(ctx)
	if !errors.Is(err, ErrBroken) {
		t.Fatalf("Await err = %v, want ErrBroken", err)
	}
	var cv *ContractViolation
	if !errors.As(err, &cv) || cv.Op != "acquire" {
		t.Errorf("cause = %v, want an acquire violation", err)
	}
	if !p.IsDone() || !p.IsError() {
		t.Errorf("IsDone %v, IsError %v; want a terminal failed promise", p.IsDone(), p.IsError())
	}
	select {
	case <-ran:
	case <-ctx.Done():
		t.Error("OnDone callback never ran")
	}
	if !errors.Is(b.Err(), ErrBroken) {
		t.Errorf("Err() = %v, want ErrBroken", b.Err())
	}
}

func TestPromise_PendingWhenBridgeBreaks(t *testing.T) {
	b, f := newTestBridge(t)
	p, _, _ := laterPromise(t, b, f)
	g := newGreeter(t, b)

	if _, err := Call(testContext(t), g, "greet", NewTransferStack(StringValue("x")), Int); !errors.Is(err, ErrBroken) {
		t.Fatalf("mismatched call err = %v, want ErrBroken", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Await(ctx); !errors.Is(err, ErrBroken) {
		t.Errorf("Await err = %v, want ErrBroken", err)
	}
}
