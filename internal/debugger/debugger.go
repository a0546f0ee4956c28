// Package debugger runs Lua scripts under the protocol bridge. It owns the
// debuggee goroutine: the engine and the bridge loop are only ever touched
// from there once a script has started.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bingosuite/inspector/config"
	"github.com/bingosuite/inspector/internal/bridge"
	"github.com/bingosuite/inspector/internal/debuggee/luavm"
)

var ErrAlreadyStarted = errors.New("debugger: a script is already running")

type Debugger struct {
	Engine *luavm.Engine
	Bridge *bridge.Bridge

	// EndDebugSession is closed once the script finished and the attached
	// client, if any, went away.
	EndDebugSession chan struct{}

	log             zerolog.Logger
	waitForDebugger bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	err     error
}

// NewDebugger builds an engine and a bridge from cfg. Script output goes to out.
func NewDebugger(cfg *config.Config, out io.Writer, log zerolog.Logger) *Debugger {
	engine := luavm.New(
		luavm.WithLogger(log),
		luavm.WithOutput(out),
		luavm.WithStatementLimit(cfg.Engine.StatementLimit),
		luavm.WithCallStackSize(cfg.Engine.CallStackSize),
	)
	return &Debugger{
		Engine:          engine,
		Bridge:          bridge.New(engine, bridge.WithLogger(log)),
		EndDebugSession: make(chan struct{}),
		log:             log.With().Str("component", "debugger").Logger(),
		waitForDebugger: cfg.Bridge.WaitForDebugger,
	}
}

// validateTargetPath resolves path to an absolute path and confirms it is a
// regular file.
func validateTargetPath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("invalid script path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("script path %q not accessible: %w", abs, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("script path %q is not a regular file", abs)
	}
	return abs, nil
}

// StartWithDebug loads the script at path and starts running it. It returns
// the absolute path of the script.
func (d *Debugger) StartWithDebug(ctx context.Context, path string) (string, error) {
	abs, err := validateTargetPath(path)
	if err != nil {
		return "", err
	}
	source, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return abs, d.Start(ctx, abs, string(source))
}

// Start loads source under name and runs it on a new debuggee goroutine.
// Parse errors are returned before anything runs.
func (d *Debugger) Start(ctx context.Context, name, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}

	loop, err := d.Bridge.Acquire()
	if err != nil {
		return err
	}
	d.Engine.SetEvents(loop)
	id, err := d.Engine.Load(name, source)
	if err != nil {
		loop.Release()
		return err
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.started = true
	go d.run(ctx, loop, id)
	return nil
}

func (d *Debugger) run(ctx context.Context, loop *bridge.Loop, id int) {
	defer close(d.EndDebugSession)
	defer loop.Release()
	stop := context.AfterFunc(ctx, d.Bridge.RunIfWaitingForDebugger)
	defer stop()

	if d.waitForDebugger && ctx.Err() == nil {
		d.log.Info().Msg("waiting for the debugger to attach")
		loop.WaitForDebugger()
	}

	err := d.Engine.Run(ctx, id)
	if err != nil {
		d.log.Error().Err(err).Msg("script failed")
	} else {
		d.log.Info().Msg("script finished")
	}
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()

	if d.Bridge.Connected() {
		d.log.Info().Msg("waiting for the debugger to disconnect")
	}
	for ctx.Err() == nil && d.Bridge.Connected() {
		loop.ProcessCommandQueue(true)
	}
}

// Err returns the error the script ended with. It is only meaningful after
// EndDebugSession is closed.
func (d *Debugger) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// StopDebug aborts the script and ends the current session.
func (d *Debugger) StopDebug() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.Bridge.RunIfWaitingForDebugger()
	d.Bridge.Disconnect()
}

// Close releases the engine. The script must have ended.
func (d *Debugger) Close() {
	d.Engine.Close()
}
