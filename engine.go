package roomkit

import (
	"context"
	"errors"
	"fmt"
)

// Engine owns one embedded runtime running the room client and the Bridge
// that talks to it.
type Engine struct {
	cfg     Config
	bridge  *Bridge
	journal *Journal
}

// NewEngine creates the runtime, loads the room client and starts the
// bridge loop.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	source, err := LoadClientScript(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading room client: %w", err)
	}

	e := &Engine{cfg: cfg}
	opts := []Option{WithLogger(cfg.Logger), WithPumpInterval(cfg.PumpInterval)}
	if cfg.TracerProvider != nil {
		opts = append(opts, WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.JournalPath != "" {
		e.journal, err = OpenJournal(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithJournal(e.journal))
	}

	e.bridge, err = NewBridge(openJSBoundary(cfg, source), opts...)
	if err != nil {
		if e.journal != nil {
			e.journal.Close()
		}
		return nil, err
	}
	return e, nil
}

// Bridge returns the engine's bridge.
func (e *Engine) Bridge() *Bridge { return e.bridge }

// Journal returns the crossing journal, or nil when none is configured.
func (e *Engine) Journal() *Journal { return e.journal }

// NewRoom constructs a room client object inside the runtime.
func (e *Engine) NewRoom(ctx context.Context, opts *RoomOptions) (*Room, error) {
	return NewRoom(ctx, e.bridge, opts)
}

// Eval runs script in the runtime on the bridge loop.
func (e *Engine) Eval(ctx context.Context, script string) error {
	return e.bridge.do(ctx, "eval", func(context.Context) error {
		bd, ok := e.bridge.bd.(*jsBoundary)
		if !ok {
			return errors.New("roomkit: engine boundary is not a script runtime")
		}
		return bd.rt.Exec(script)
	})
}

// Pinned flushes queued releases and returns the number of objects the
// runtime keeps pinned for Go.
func (e *Engine) Pinned(ctx context.Context) (int, error) {
	var n int
	err := e.bridge.do(ctx, "pinned", func(context.Context) error {
		bd, ok := e.bridge.bd.(*jsBoundary)
		if !ok {
			return errors.New("roomkit: engine boundary is not a script runtime")
		}
		e.bridge.flushReleases()
		var err error
		n, err = bd.pinned()
		return err
	})
	return n, err
}

// Close stops the bridge, closes the runtime and the journal.
func (e *Engine) Close() error {
	err := e.bridge.Close()
	if e.journal != nil {
		if jerr := e.journal.Close(); err == nil {
			err = jerr
		}
	}
	return err
}
