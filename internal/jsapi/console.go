package jsapi

import (
	"github.com/cryguy/roomkit/internal/core"
	"github.com/cryguy/roomkit/internal/eventloop"
	"go.uber.org/zap"
)

const consoleJS = `
(function() {
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	function fmt(v) {
		if (typeof v === 'string') return v;
		if (v instanceof Error) return v.name + ': ' + v.message;
		if (typeof v === 'object' && v !== null) {
			try { return JSON.stringify(v); } catch (e) { return '[object Object]'; }
		}
		return String(v);
	}
	levels.forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var j = 0; j < arguments.length; j++) parts.push(fmt(arguments[j]));
			__console(lvl, parts.join(' '));
		};
	});
	globalThis.console = con;
})();
`

// SetupConsole returns a SetupFunc that routes console.* output from the
// embedded client to log.
func SetupConsole(log *zap.Logger) SetupFunc {
	log = log.Named("js")
	return func(rt core.VM, _ *eventloop.EventLoop) error {
		if err := rt.Expose("__console", func(level, message string) {
			switch level {
			case "error":
				log.Error(message)
			case "warn":
				log.Warn(message)
			case "debug":
				log.Debug(message)
			default:
				log.Info(message)
			}
		}); err != nil {
			return err
		}
		return rt.Exec(consoleJS)
	}
}
