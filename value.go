package roomkit

import (
	"fmt"
	"slices"
)

// HandleID names one live object inside the embedded runtime.
type HandleID uint64

// Kind is the runtime-reported type tag of a cross-boundary value.
type Kind uint8

const (
	// KindUndefined is the "no value" sentinel (JS null or undefined).
	KindUndefined Kind = iota
	KindString
	KindNumber
	KindBoolean
	KindBytes
	KindArray
	KindMap
	KindError
	KindPromise
	KindObject
	KindFunction
	// KindStruct is a JSON document sent from Go into the runtime. It never
	// arrives from the runtime.
	KindStruct
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindString:    "string",
	KindNumber:    "number",
	KindBoolean:   "boolean",
	KindBytes:     "bytes",
	KindArray:     "array",
	KindMap:       "map",
	KindError:     "error",
	KindPromise:   "promise",
	KindObject:    "object",
	KindFunction:  "function",
	KindStruct:    "struct",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsHandle reports whether values of this kind reference a runtime object.
func (k Kind) IsHandle() bool {
	return k >= KindArray && k <= KindFunction
}

// Value is one cross-boundary value. Primitive values are plain data. A
// handle-backed value arriving from the runtime carries one reference-count
// unit that must be consumed by exactly one Acquire, Convert or Discard.
type Value struct {
	kind    Kind
	str     string
	num     float64
	flag    bool
	bytes   []byte
	id      HandleID
	classes []string
	length  int
	errName string
	doc     any
}

// Undefined returns the "no value" sentinel.
func Undefined() Value { return Value{} }

// StringValue returns a string value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue returns a number value.
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

// IntValue returns a number value holding n.
func IntValue(n int) Value { return Value{kind: KindNumber, num: float64(n)} }

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{kind: KindBoolean, flag: b} }

// BytesValue returns a byte payload value. The slice is not copied.
func BytesValue(p []byte) Value { return Value{kind: KindBytes, bytes: p} }

// StructValue returns a JSON document value. doc is marshaled with
// encoding/json when the value crosses into the runtime.
func StructValue(doc any) Value { return Value{kind: KindStruct, doc: doc} }

// HandleValue describes a runtime object. Boundary implementations use it
// to report handles; classes is the prototype chain, most derived first.
func HandleValue(id HandleID, kind Kind, classes ...string) Value {
	if !kind.IsHandle() {
		panic(fmt.Sprintf("roomkit: HandleValue with non-handle kind %s", kind))
	}
	return Value{kind: kind, id: id, classes: classes}
}

// ArrayValue describes a runtime array of length n.
func ArrayValue(id HandleID, n int) Value {
	return Value{kind: KindArray, id: id, length: n, classes: []string{"Array"}}
}

// ErrorValueOf describes a runtime Error object.
func ErrorValueOf(id HandleID, name, message string, classes ...string) Value {
	return Value{kind: KindError, id: id, errName: name, str: message, classes: classes}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) Handle() HandleID { return v.id }
func (v Value) Classes() []string { return v.classes }
func (v Value) Str() string { return v.str }
func (v Value) Num() float64 { return v.num }
func (v Value) Bool() bool { return v.flag }
func (v Value) Bytes() []byte { return v.bytes }
func (v Value) Len() int { return v.length }
func (v Value) Doc() any { return v.doc }
func (v Value) ErrorName() string { return v.errName }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) Is(class string) bool { return slices.Contains(v.classes, class) }

// GoString renders v for logs.
func (v Value) GoString() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindNumber:
		return fmt.Sprint(v.num)
	case KindBoolean:
		return fmt.Sprint(v.flag)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.bytes))
	case KindStruct:
		return fmt.Sprintf("struct(%T)", v.doc)
	case KindError:
		return fmt.Sprintf("error#%d(%s: %s)", v.id, v.errName, v.str)
	}
	if len(v.classes) > 0 {
		return fmt.Sprintf("%s#%d(%s)", v.kind, v.id, v.classes[0])
	}
	return fmt.Sprintf("%s#%d", v.kind, v.id)
}
