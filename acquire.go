package roomkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Converter turns a raw value into a typed result. On success a
// handle-backed value's unit moves into the result; on failure the caller
// still owns it. Converters only run on the bridge loop.
type Converter[T any] func(ctx context.Context, b *Bridge, v Value) (T, error)

// Acquire converts v with conv. A value whose runtime tag does not match
// conv is a contract violation: its unit is released and Acquire panics.
// The panic is recovered by the crossing that is running and poisons the
// bridge. Other conversion failures, such as a runtime throw while taking a
// StructOf snapshot, abort the crossing with that error and leave the
// bridge usable.
func Acquire[T any](ctx context.Context, b *Bridge, v Value, conv Converter[T]) T {
	out, err := acquireErr(ctx, b, v, conv)
	if err != nil {
		panic(&acquireError{err: err})
	}
	return out
}

// acquireErr is Convert that panics on contract violations only.
func acquireErr[T any](ctx context.Context, b *Bridge, v Value, conv Converter[T]) (T, error) {
	out, err := Convert(ctx, b, v, conv)
	var cv *ContractViolation
	if errors.As(err, &cv) {
		panic(cv)
	}
	return out, err
}

// acquireOrNullErr is AcquireOrNull returning conversion failures.
func acquireOrNullErr[T any](ctx context.Context, b *Bridge, v Value, conv Converter[T]) (T, bool, error) {
	if v.kind == KindUndefined {
		var zero T
		return zero, false, nil
	}
	out, err := acquireErr(ctx, b, v, conv)
	return out, err == nil, err
}

// AcquireOrNull is Acquire that maps the "no value" sentinel to
// (zero, false).
func AcquireOrNull[T any](ctx context.Context, b *Bridge, v Value, conv Converter[T]) (T, bool) {
	if v.kind == KindUndefined {
		var zero T
		return zero, false
	}
	return Acquire(ctx, b, v, conv), true
}

// Convert is Acquire returning the mismatch as an error instead of
// panicking. The value's unit is released on failure.
func Convert[T any](ctx context.Context, b *Bridge, v Value, conv Converter[T]) (T, error) {
	out, err := conv(ctx, b, v)
	if err != nil {
		b.Discard(v)
		var zero T
		return zero, err
	}
	return out, nil
}

func mismatch(v Value, want string) error {
	return &ContractViolation{Op: "acquire", Msg: fmt.Sprintf("want %s, runtime reported %s", want, v.GoString())}
}

// String accepts string values.
func String(_ context.Context, _ *Bridge, v Value) (string, error) {
	if v.kind != KindString {
		return "", mismatch(v, "string")
	}
	return v.str, nil
}

// Number accepts number values.
func Number(_ context.Context, _ *Bridge, v Value) (float64, error) {
	if v.kind != KindNumber {
		return 0, mismatch(v, "number")
	}
	return v.num, nil
}

// Int accepts number values holding an integer.
func Int(_ context.Context, _ *Bridge, v Value) (int, error) {
	if v.kind != KindNumber || v.num != math.Trunc(v.num) || math.IsInf(v.num, 0) {
		return 0, mismatch(v, "integer")
	}
	return int(v.num), nil
}

// Bool accepts boolean values.
func Bool(_ context.Context, _ *Bridge, v Value) (bool, error) {
	if v.kind != KindBoolean {
		return false, mismatch(v, "boolean")
	}
	return v.flag, nil
}

// Bytes accepts byte payloads.
func Bytes(_ context.Context, _ *Bridge, v Value) ([]byte, error) {
	if v.kind != KindBytes {
		return nil, mismatch(v, "bytes")
	}
	return v.bytes, nil
}

// Ignore accepts any value and releases it.
func Ignore(_ context.Context, b *Bridge, v Value) (struct{}, error) {
	b.Discard(v)
	return struct{}{}, nil
}

// Any accepts every value: primitives become string, float64, bool, []byte
// or nil, handles become an *Object (*JSError for errors).
func Any(_ context.Context, b *Bridge, v Value) (any, error) {
	switch v.kind {
	case KindUndefined:
		return nil, nil
	case KindString:
		return v.str, nil
	case KindNumber:
		return v.num, nil
	case KindBoolean:
		return v.flag, nil
	case KindBytes:
		return v.bytes, nil
	case KindError:
		return newJSError(b, v), nil
	}
	if v.kind.IsHandle() {
		return newObject(b, v), nil
	}
	return nil, mismatch(v, "runtime value")
}

// AnyObject accepts any handle-backed value.
func AnyObject(_ context.Context, b *Bridge, v Value) (*Object, error) {
	if !v.kind.IsHandle() {
		return nil, mismatch(v, "object")
	}
	return newObject(b, v), nil
}

// ErrorValue accepts runtime Error objects.
func ErrorValue(_ context.Context, b *Bridge, v Value) (*JSError, error) {
	if v.kind != KindError {
		return nil, mismatch(v, "error")
	}
	return newJSError(b, v), nil
}

func newJSError(b *Bridge, v Value) *JSError {
	return &JSError{Object: newObject(b, v), Name: v.errName, Message: v.str}
}

// ObjectOf accepts plain objects whose prototype chain contains class and
// wraps them with wrap.
func ObjectOf[T any](class string, wrap func(*Object) T) Converter[T] {
	return func(_ context.Context, b *Bridge, v Value) (T, error) {
		if v.kind != KindObject || !v.Is(class) {
			var zero T
			return zero, mismatch(v, class)
		}
		return wrap(newObject(b, v)), nil
	}
}

// FunctionValue accepts runtime functions.
func FunctionValue(_ context.Context, b *Bridge, v Value) (*Object, error) {
	if v.kind != KindFunction {
		return nil, mismatch(v, "function")
	}
	return newObject(b, v), nil
}

// ArrayOf accepts arrays whose elements convert with elem.
func ArrayOf[T any](elem Converter[T]) Converter[*Array[T]] {
	return func(_ context.Context, b *Bridge, v Value) (*Array[T], error) {
		if v.kind != KindArray {
			return nil, mismatch(v, "array")
		}
		return &Array[T]{Object: newObject(b, v), n: v.length, elem: elem}, nil
	}
}

// MapOf accepts Map objects whose values convert with elem.
func MapOf[V any](elem Converter[V]) Converter[*Map[V]] {
	return func(_ context.Context, b *Bridge, v Value) (*Map[V], error) {
		if v.kind != KindMap {
			return nil, mismatch(v, "map")
		}
		return &Map[V]{Object: newObject(b, v), elem: elem}, nil
	}
}

// PromiseOf accepts thenables. The returned Promise settles with a value
// converted by elem.
func PromiseOf[T any](elem Converter[T]) Converter[*Promise[T]] {
	return func(ctx context.Context, b *Bridge, v Value) (*Promise[T], error) {
		if v.kind != KindPromise {
			return nil, mismatch(v, "promise")
		}
		return newPromise(ctx, b, v, elem)
	}
}

// StructOf accepts objects and decodes a JSON snapshot of them into T. The
// handle is released once the snapshot is taken.
func StructOf[T any]() Converter[T] {
	return func(ctx context.Context, b *Bridge, v Value) (T, error) {
		var out T
		if v.kind != KindObject && v.kind != KindArray {
			return out, mismatch(v, fmt.Sprintf("%T", out))
		}
		raw, err := b.invoke(ctx, v, opJSON, nil)
		if err != nil {
			return out, err
		}
		doc := Acquire(ctx, b, raw, String)
		if err := json.Unmarshal([]byte(doc), &out); err != nil {
			return out, fmt.Errorf("decoding %T snapshot: %w", out, err)
		}
		b.Discard(v)
		return out, nil
	}
}
