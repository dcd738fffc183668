// Package luart hosts the optional Lua script that customises scene selection.
// All Lua execution happens on one worker goroutine fed by a work queue.
package luart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/roomd/internal/platform"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

// DefaultCallTimeout bounds a scene lookup, both the wait for the Lua worker and
// the script's own run time.
const DefaultCallTimeout = 2 * time.Second

// Work is executed on the Lua VM goroutine.
type Work func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L    *lua.LState
	port platform.Port

	mu        sync.RWMutex
	overrides map[string]*lua.LFunction

	callTimeout time.Duration

	workQueue chan Work
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a runtime whose scripts read and drive the platform through port.
func NewRuntime(port platform.Port) *Runtime {
	r := &Runtime{
		L:           lua.NewState(),
		port:        port,
		overrides:   make(map[string]*lua.LFunction),
		callTimeout: DefaultCallTimeout,
		workQueue:   make(chan Work, 100),
		closing:     make(chan struct{}),
	}
	r.registerModules()
	return r
}

func (r *Runtime) registerModules() {
	r.L.PreloadModule("log", logLoader)
	r.L.PreloadModule("state", r.stateLoader)
	r.L.PreloadModule("scenes", r.scenesLoader)
	r.L.PreloadModule("platform", r.platformLoader)
}

// Close signals the runtime to stop accepting new work and closes the Lua state.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
	r.L.Close()
}

// LoadFile executes a script. Must be called before Run.
func (r *Runtime) LoadFile(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	log.Info().Strs("overrides", r.OverrideRooms()).Msg("Lua script loaded")
	return nil
}

// LoadString executes inline Lua source. Must be called before Run.
func (r *Runtime) LoadString(src string) error {
	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("failed to execute Lua source: %w", err)
	}
	return nil
}

// DoSync queues work and blocks until there's space.
func (r *Runtime) DoSync(ctx context.Context, work Work) error {
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- work:
		return nil
	}
}

// DoSyncWithResult queues work and waits for its result.
func (r *Runtime) DoSyncWithResult(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	if err := r.DoSync(ctx, func(c context.Context) { done <- work(c) }); err != nil {
		return err
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Run is the only goroutine that touches Lua once scripts are loaded.
// Exits when context is cancelled or runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

func (r *Runtime) executeWork(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	work(ctx)
}

// OverrideRooms lists rooms with a registered override function.
func (r *Runtime) OverrideRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.overrides))
	for name := range r.overrides {
		rooms = append(rooms, name)
	}
	return rooms
}

// Override calls the script's override for room, if any. The function receives the
// room name and a table {hour, minute, weekday, date} and returns a scene id or nil.
func (r *Runtime) Override(room string, now time.Time) (string, bool, error) {
	r.mu.RLock()
	fn, ok := r.overrides[room]
	r.mu.RUnlock()
	if !ok {
		return "", false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()

	var scene string
	var found bool
	err := r.DoSyncWithResult(ctx, func(context.Context) error {
		L := r.L
		// Bound the VM by this call's deadline so a runaway override is interrupted.
		L.SetContext(ctx)
		info := L.NewTable()
		info.RawSetString("hour", lua.LNumber(now.Hour()))
		info.RawSetString("minute", lua.LNumber(now.Minute()))
		// Lua convention: Monday is 1.
		info.RawSetString("weekday", lua.LNumber((int(now.Weekday())+6)%7+1))
		info.RawSetString("date", lua.LString(now.Format("2006-01-02")))

		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(room), info); err != nil {
			return fmt.Errorf("override for %s: %w", room, err)
		}
		ret := L.Get(-1)
		L.Pop(1)

		switch v := ret.(type) {
		case *lua.LNilType:
		case lua.LString:
			scene, found = string(v), v != ""
		default:
			return fmt.Errorf("override for %s returned %s, want string or nil", room, ret.Type())
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return scene, found, nil
}
