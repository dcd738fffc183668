package luart

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/roomd/internal/platform"
)

func logLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(logAt(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(logAt(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(logAt(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(logAt(zerolog.ErrorLevel)))
	L.Push(mod)
	return 1
}

func logAt(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		event := log.WithLevel(level).Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(k, v lua.LValue) {
				event = event.Interface(lua.LVAsString(k), toGo(v))
			})
		}
		event.Msg(msg)
		return 0
	}
}

// state.get(entity) -> string, state.is_on(entity) -> bool
func (r *Runtime) stateLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(r.port.State(L.CheckString(1))))
		return 1
	}))
	L.SetField(mod, "is_on", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(r.port.State(L.CheckString(1)) == platform.StateOn))
		return 1
	}))
	L.Push(mod)
	return 1
}

// scenes.override(room, fn)
func (r *Runtime) scenesLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "override", L.NewFunction(func(L *lua.LState) int {
		room := L.CheckString(1)
		fn := L.CheckFunction(2)
		r.mu.Lock()
		r.overrides[room] = fn
		r.mu.Unlock()
		log.Debug().Str("room", room).Msg("Registered scene override")
		return 0
	}))
	L.Push(mod)
	return 1
}

// platform.call_service(service, data), platform.fire_event(name, data)
func (r *Runtime) platformLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "call_service", L.NewFunction(func(L *lua.LState) int {
		r.port.CallService(L.CheckString(1), tableArg(L, 2))
		return 0
	}))
	L.SetField(mod, "fire_event", L.NewFunction(func(L *lua.LState) int {
		r.port.FireEvent(L.CheckString(1), tableArg(L, 2))
		return 0
	}))
	L.Push(mod)
	return 1
}

func tableArg(L *lua.LState, n int) map[string]any {
	tbl := L.OptTable(n, nil)
	if tbl == nil {
		return map[string]any{}
	}
	if m, ok := toGo(tbl).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// toGo converts a Lua value. Tables with only positive integer keys become slices.
func toGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int(f)
		}
		return f
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		isArray := true
		maxIdx := 0
		val.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); ok && int(num) > 0 {
				if int(num) > maxIdx {
					maxIdx = int(num)
				}
				return
			}
			isArray = false
		})
		if isArray && maxIdx > 0 {
			arr := make([]any, maxIdx)
			val.ForEach(func(k, v lua.LValue) {
				arr[int(k.(lua.LNumber))-1] = toGo(v)
			})
			return arr
		}
		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = toGo(v)
		})
		return obj
	default:
		return nil
	}
}
