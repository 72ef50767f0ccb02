package jsapi

import (
	"fmt"

	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/eventloop"
)

// NamespaceHandle is the reserved handle naming the client namespace
// object. It is never pinned and never released.
const NamespaceHandle = 1

// bridgeJS installs globalThis.__roomkit: the VM side of the handle table
// and the tagged-value codec.
//
// Wire values are JSON objects tagged by "t":
//
//	u            undefined / null
//	s  {s}       string
//	n  {n|x}     number (x carries NaN/Infinity as text)
//	b  {b}       boolean
//	y  {slot,n}  bytes parked in a global binary slot
//	h  {h,k,c}   pinned object: id, kind, class chain (+n for arrays, m/nm for errors)
//	j  {j}       JSON document (host to VM only)
//
// Every time an object is encoded its pin count grows by one; the host
// returns counts with release(id, n).
const bridgeJS = `
(function() {
	var namespace = %q;
	var binMode = %q;
	var objs = new Map();
	var ids = new Map();
	var nextID = %d;
	var binSeq = 0;

	function lookup(id) {
		if (id === %d) {
			var ns = globalThis[namespace];
			if (!ns) throw new Error('client namespace ' + namespace + ' is not loaded');
			return ns;
		}
		var e = objs.get(id);
		if (!e) throw new Error('stale handle ' + id);
		return e.v;
	}

	function pin(v) {
		var id = ids.get(v);
		if (id === undefined) {
			id = ++nextID;
			ids.set(v, id);
			objs.set(id, { v: v, n: 0 });
		}
		objs.get(id).n++;
		return id;
	}

	function kindOf(v) {
		if (Array.isArray(v)) return 'array';
		if (v instanceof Map) return 'map';
		if (v instanceof Error) return 'error';
		if (typeof v === 'function') return 'function';
		if (typeof v.then === 'function') return 'promise';
		return 'object';
	}

	function classes(v) {
		var out = [];
		var p = Object.getPrototypeOf(v);
		while (p && p !== Object.prototype) {
			if (p.constructor && p.constructor.name) out.push(p.constructor.name);
			p = Object.getPrototypeOf(p);
		}
		return out;
	}

	function toError(e) {
		if (e instanceof Error) return e;
		return new Error(String(e));
	}

	function park(bytes) {
		var slot = '__roomkit_bin_' + (++binSeq);
		if (binMode === 'sab') {
			var sab = new SharedArrayBuffer(bytes.byteLength);
			new Uint8Array(sab).set(bytes);
			globalThis[slot] = sab;
		} else {
			globalThis[slot] = bytes.slice().buffer;
		}
		return { t: 'y', slot: slot, n: bytes.byteLength };
	}

	function enc(v) {
		if (v === undefined || v === null) return { t: 'u' };
		switch (typeof v) {
		case 'string': return { t: 's', s: v };
		case 'boolean': return { t: 'b', b: v };
		case 'bigint': return { t: 'n', n: Number(v) };
		case 'number':
			return isFinite(v) ? { t: 'n', n: v } : { t: 'n', x: String(v) };
		}
		if (v instanceof ArrayBuffer) return park(new Uint8Array(v));
		if (ArrayBuffer.isView(v)) return park(new Uint8Array(v.buffer, v.byteOffset, v.byteLength));
		var k = kindOf(v);
		var out = { t: 'h', h: pin(v), k: k, c: classes(v) };
		if (k === 'array') out.n = v.length;
		if (k === 'error') { out.m = String(v.message); out.nm = String(v.name); }
		return out;
	}

	function dec(w) {
		switch (w.t) {
		case 'u': return undefined;
		case 's': return w.s;
		case 'b': return w.b;
		case 'n': return w.x !== undefined ? Number(w.x) : w.n;
		case 'h': return lookup(w.h);
		case 'j': return w.j;
		case 'y':
			var buf = globalThis[w.slot];
			delete globalThis[w.slot];
			return new Uint8Array(buf || new ArrayBuffer(0));
		}
		throw new TypeError('unknown wire tag ' + w.t);
	}

	function trampoline(sub) {
		return function() {
			var args = [];
			for (var i = 0; i < arguments.length; i++) args.push(enc(arguments[i]));
			__roomkit_fire(sub, JSON.stringify(args));
		};
	}

	function invoke(id, op, argsJSON) {
		var out;
		try {
			var target = lookup(id);
			var args = JSON.parse(argsJSON).map(dec);
			var r;
			switch (op) {
			case '@prop':
				r = target[args[0]];
				break;
			case '@new':
				var C = target[args[0]];
				if (typeof C !== 'function') throw new TypeError(args[0] + ' is not a constructor');
				r = Reflect.construct(C, args.slice(1));
				break;
			case '@fn':
				r = trampoline(args[0]);
				break;
			case '@settle':
				var fn = args[0];
				Promise.resolve(target).then(
					function(v) { fn(true, v); },
					function(e) { fn(false, toError(e)); });
				break;
			case '@keys':
				r = Array.from(target.keys());
				break;
			case '@json':
				r = JSON.stringify(target);
				break;
			default:
				var m = target[op];
				if (typeof m !== 'function') throw new TypeError(op + ' is not a function');
				r = m.apply(target, args);
			}
			out = { ok: true, v: enc(r) };
		} catch (e) {
			out = { ok: false, v: enc(toError(e)) };
		}
		return JSON.stringify(out);
	}

	function release(id, n) {
		var e = objs.get(id);
		if (!e) return false;
		e.n -= n;
		if (e.n <= 0) {
			objs.delete(id);
			ids.delete(e.v);
		}
		return true;
	}

	globalThis.__roomkit = {
		invoke: invoke,
		release: release,
		encode: function(v) { return JSON.stringify(enc(v)); },
		size: function() { return objs.size; }
	};
})();
`

// SetupBridge installs the VM half of the boundary. fire receives every
// trampoline invocation: the subscription id and the JSON array of encoded
// arguments.
func SetupBridge(namespace string, fire func(sub int, payload string)) SetupFunc {
	return func(rt core.VM, _ *eventloop.EventLoop) error {
		mode := "ab"
		if bt, ok := rt.(core.ByteSlots); ok {
			mode = string(bt.SlotMode())
		}
		if err := rt.Expose("__roomkit_fire", fire); err != nil {
			return fmt.Errorf("registering __roomkit_fire: %w", err)
		}
		return rt.Exec(fmt.Sprintf(bridgeJS, namespace, mode, NamespaceHandle, NamespaceHandle))
	}
}
