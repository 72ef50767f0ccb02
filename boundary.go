package roomkit

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/eventloop"
	"github.com/cryguy/roomkit/internal/jsapi"
	"go.uber.org/zap"
)

// wireValue is the tagged JSON encoding shared with the runtime glue
// installed by jsapi.SetupBridge.
type wireValue struct {
	T    string          `json:"t"`
	S    string          `json:"s,omitempty"`
	N    float64         `json:"n,omitempty"`
	X    string          `json:"x,omitempty"`
	B    bool            `json:"b,omitempty"`
	Slot string          `json:"slot,omitempty"`
	H    uint64          `json:"h,omitempty"`
	K    string          `json:"k,omitempty"`
	C    []string        `json:"c,omitempty"`
	M    string          `json:"m,omitempty"`
	NM   string          `json:"nm,omitempty"`
	J    json.RawMessage `json:"j,omitempty"`
}

type wireResult struct {
	OK bool      `json:"ok"`
	V  wireValue `json:"v"`
}

var wireKinds = map[string]Kind{
	"array":    KindArray,
	"map":      KindMap,
	"error":    KindError,
	"promise":  KindPromise,
	"object":   KindObject,
	"function": KindFunction,
}

// jsBoundary crosses into a core.VM through the __roomkit glue. It
// also owns the runtime's event loop and signal connections.
type jsBoundary struct {
	rt     core.VM
	bin    core.ByteSlots
	el     *eventloop.EventLoop
	hub    *jsapi.SignalHub
	log    *zap.Logger
	fire   FireFunc
	binSeq int
}

// openJSBoundary returns an opener creating the runtime with the signal
// transport, the bridge glue and the room client source installed.
func openJSBoundary(cfg Config, source string) BoundaryOpener {
	return func() (Boundary, error) {
		rt, err := newVM(cfg.runtimeConfig())
		if err != nil {
			return nil, fmt.Errorf("creating runtime: %w", err)
		}
		bin, ok := rt.(core.ByteSlots)
		if !ok {
			rt.Close()
			return nil, fmt.Errorf("%T cannot exchange bytes", rt)
		}
		el := eventloop.New(cfg.MinTimerInterval)
		bd := &jsBoundary{
			rt:  rt,
			bin: bin,
			el:  el,
			log: cfg.Logger.Named("boundary"),
		}
		bd.hub = jsapi.NewSignalHub(cfg.runtimeConfig(), el, cfg.Logger)

		err = jsapi.Setup(rt, el,
			jsapi.SetupConsole(cfg.Logger),
			jsapi.SetupEncoding,
			jsapi.SetupTimers,
			bd.hub.Setup,
			jsapi.SetupBridge(jsapi.ClientNamespace, bd.onFire),
			jsapi.SetupClient(source),
		)
		if err != nil {
			bd.Close()
			return nil, err
		}
		return bd, nil
	}
}

func (bd *jsBoundary) Bind(fire FireFunc) { bd.fire = fire }

func (bd *jsBoundary) Invoke(target HandleID, op string, args []Value) (Value, bool, error) {
	wire := make([]wireValue, len(args))
	for i, v := range args {
		w, err := bd.encode(v)
		if err != nil {
			return Value{}, false, fmt.Errorf("encoding argument %d: %w", i, err)
		}
		wire[i] = w
	}
	argsJSON, err := json.Marshal(wire)
	if err != nil {
		return Value{}, false, fmt.Errorf("encoding arguments: %w", err)
	}
	js := fmt.Sprintf("__roomkit.invoke(%d, %s, %s)", target, jsString(op), jsString(string(argsJSON)))
	out, err := bd.rt.Text(js)
	if err != nil {
		return Value{}, false, err
	}
	var res wireResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return Value{}, false, fmt.Errorf("decoding result: %w", err)
	}
	v, err := bd.decode(res.V)
	if err != nil {
		return Value{}, false, err
	}
	return v, !res.OK, nil
}

func (bd *jsBoundary) Release(id HandleID, n int) error {
	ok, err := bd.rt.Truth(fmt.Sprintf("__roomkit.release(%d, %d)", id, n))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("handle %d is not pinned", id)
	}
	return nil
}

func (bd *jsBoundary) Pump() time.Time { return bd.el.Drain(bd.rt) }

func (bd *jsBoundary) Wake() <-chan struct{} { return bd.el.Wake() }

func (bd *jsBoundary) Close() {
	bd.hub.Close()
	bd.el.Reset()
	bd.rt.Close()
}

// pinned returns the number of objects pinned on the runtime side.
func (bd *jsBoundary) pinned() (int, error) {
	s, err := bd.rt.Text("String(__roomkit.size())")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

// onFire is registered as __roomkit_fire.
func (bd *jsBoundary) onFire(sub int, payload string) {
	var wire []wireValue
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		bd.log.Error("dropping malformed trampoline payload", zap.Int("sub", sub), zap.Error(err))
		return
	}
	args := make([]Value, 0, len(wire))
	for _, w := range wire {
		v, err := bd.decode(w)
		if err != nil {
			bd.log.Error("dropping trampoline argument", zap.Int("sub", sub), zap.Error(err))
			v = Undefined()
		}
		args = append(args, v)
	}
	if bd.fire != nil {
		bd.fire(sub, args)
	}
}

func (bd *jsBoundary) encode(v Value) (wireValue, error) {
	switch v.kind {
	case KindUndefined:
		return wireValue{T: "u"}, nil
	case KindString:
		return wireValue{T: "s", S: v.str}, nil
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return wireValue{T: "n", X: jsNumberText(v.num)}, nil
		}
		return wireValue{T: "n", N: v.num}, nil
	case KindBoolean:
		return wireValue{T: "b", B: v.flag}, nil
	case KindBytes:
		bd.binSeq++
		slot := "__roomkit_bin_go_" + strconv.Itoa(bd.binSeq)
		if err := bd.bin.Park(slot, v.bytes); err != nil {
			return wireValue{}, err
		}
		return wireValue{T: "y", Slot: slot}, nil
	case KindStruct:
		doc, err := json.Marshal(v.doc)
		if err != nil {
			return wireValue{}, fmt.Errorf("marshaling %T: %w", v.doc, err)
		}
		return wireValue{T: "j", J: doc}, nil
	}
	if v.kind.IsHandle() {
		return wireValue{T: "h", H: uint64(v.id)}, nil
	}
	return wireValue{}, fmt.Errorf("cannot encode %s", v.kind)
}

func (bd *jsBoundary) decode(w wireValue) (Value, error) {
	switch w.T {
	case "u":
		return Undefined(), nil
	case "s":
		return StringValue(w.S), nil
	case "b":
		return BoolValue(w.B), nil
	case "n":
		if w.X != "" {
			f, _ := strconv.ParseFloat(w.X, 64)
			if w.X == "NaN" {
				f = math.NaN()
			}
			return NumberValue(f), nil
		}
		return NumberValue(w.N), nil
	case "y":
		data, err := bd.bin.Unpark(w.Slot)
		if err != nil {
			return Value{}, err
		}
		return BytesValue(data), nil
	case "h":
		kind, ok := wireKinds[w.K]
		if !ok {
			return Value{}, fmt.Errorf("unknown handle kind %q", w.K)
		}
		id := HandleID(w.H)
		switch kind {
		case KindArray:
			v := ArrayValue(id, int(w.N))
			v.classes = w.C
			return v, nil
		case KindError:
			return ErrorValueOf(id, w.NM, w.M, w.C...), nil
		}
		return HandleValue(id, kind, w.C...), nil
	}
	return Value{}, fmt.Errorf("unknown wire tag %q", w.T)
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsNumberText(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	default:
		return "-Infinity"
	}
}
