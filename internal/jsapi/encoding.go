package jsapi

import (
	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/eventloop"
)

// encodingJS implements byte-level base64 helpers and the atob/btoa globals
// on top of them. QuickJS ships neither.
const encodingJS = `
(function() {
	var alphabet = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var lookup = new Uint8Array(128).fill(255);
	for (var i = 0; i < alphabet.length; i++) lookup[alphabet.charCodeAt(i)] = i;

	function encodeBytes(bytes) {
		var out = [];
		for (var i = 0; i < bytes.length; i += 3) {
			var a = bytes[i];
			var b = i + 1 < bytes.length ? bytes[i + 1] : 0;
			var c = i + 2 < bytes.length ? bytes[i + 2] : 0;
			out.push(
				alphabet[a >> 2],
				alphabet[((a & 3) << 4) | (b >> 4)],
				i + 1 < bytes.length ? alphabet[((b & 15) << 2) | (c >> 6)] : '=',
				i + 2 < bytes.length ? alphabet[c & 63] : '='
			);
		}
		return out.join('');
	}

	function decodeBytes(s) {
		s = String(s).replace(/[\t\n\f\r =]/g, '');
		if (s.length % 4 === 1) throw new Error('invalid base64 string');
		var out = new Uint8Array(Math.floor(s.length * 3 / 4));
		var bits = 0, acc = 0, n = 0;
		for (var i = 0; i < s.length; i++) {
			var code = s.charCodeAt(i);
			var v = code < 128 ? lookup[code] : 255;
			if (v === 255) throw new Error('invalid base64 character');
			acc = (acc << 6) | v;
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out[n++] = (acc >> bits) & 0xff;
			}
		}
		return out.subarray(0, n);
	}

	globalThis.__b64encode = encodeBytes;
	globalThis.__b64decode = decodeBytes;

	if (typeof globalThis.btoa !== 'function') {
		globalThis.btoa = function(data) {
			var s = String(data);
			var bytes = new Uint8Array(s.length);
			for (var i = 0; i < s.length; i++) {
				var ch = s.charCodeAt(i);
				if (ch > 255) throw new Error('btoa: string contains characters outside of the Latin1 range');
				bytes[i] = ch;
			}
			return encodeBytes(bytes);
		};
	}
	if (typeof globalThis.atob !== 'function') {
		globalThis.atob = function(data) {
			var bytes = decodeBytes(data);
			var parts = [];
			for (var i = 0; i < bytes.length; i += 8192) {
				parts.push(String.fromCharCode.apply(null, bytes.subarray(i, Math.min(i + 8192, bytes.length))));
			}
			return parts.join('');
		};
	}
})();
`

// SetupEncoding installs __b64encode/__b64decode and atob/btoa.
func SetupEncoding(rt core.VM, _ *eventloop.EventLoop) error {
	return rt.Exec(encodingJS)
}
