package jsapi

import (
	"time"

	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/eventloop"
)

// timersJS keeps timer callbacks in the VM. The event loop only knows ids
// and calls __rk_fire_timer when one is due.
const timersJS = `
(function() {
	var timers = new Map();
	function schedule(fn, delay, args, repeat) {
		if (typeof fn !== 'function') return 0;
		var id = __timer_set(Math.max(0, delay | 0), repeat);
		timers.set(id, { fn: fn, args: args, repeat: repeat });
		return id;
	}
	function clear(id) {
		if (typeof id === 'number' && timers.delete(id)) __timer_clear(id);
	}
	globalThis.__rk_fire_timer = function(id) {
		var t = timers.get(id);
		if (!t) return;
		if (!t.repeat) timers.delete(id);
		t.fn.apply(null, t.args);
	};
	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = clear;
	globalThis.clearInterval = clear;
	if (typeof globalThis.queueMicrotask !== 'function') {
		globalThis.queueMicrotask = function(fn) { Promise.resolve().then(fn); };
	}
})();
`

// SetupTimers installs setTimeout, setInterval and their clear functions on
// top of el.
func SetupTimers(vm core.VM, el *eventloop.EventLoop) error {
	if err := vm.Expose("__timer_set", func(delayMs int, repeat bool) int {
		return el.Schedule(time.Duration(delayMs)*time.Millisecond, repeat)
	}); err != nil {
		return err
	}
	if err := vm.Expose("__timer_clear", el.Cancel); err != nil {
		return err
	}
	return vm.Exec(timersJS)
}
