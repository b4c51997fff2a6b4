// Package scripting registers message handlers written in Lua.
//
// A script returns a table whose handlers field maps message types to functions:
//
//	return {
//	    handlers = {
//	        echo = function(msg) return msg.data end,
//	    },
//	}
//
// Each function receives a table with id, type, data, sent_uptime and connection_id,
// and its return value becomes the response data. Raising a Lua error fails the handler.
//
// Lua tables do not tell arrays from objects and can not hold nil values, so JSON
// data loses some shape on the way through a script: an empty array comes back as
// an empty object, and null object members and trailing null array elements are
// dropped. Nulls inside an array keep their position.
package scripting

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/luciancaetano/tether"
)

// Registrar accepts handlers. Both the server and a dialed peer satisfy it.
type Registrar interface {
	RegisterHandler(msgType string, fn tether.HandlerFunc) error
}

// Script is a loaded Lua script. Calls into it are serialized.
type Script struct {
	mu       sync.Mutex
	name     string
	L        *lua.LState
	handlers map[string]*lua.LFunction
}

var mapperOpt = gluamapper.Option{NameFunc: gluamapper.Id}

// Load runs the script at path and collects its handlers.
func Load(path string) (*Script, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("loading script %s: %w", path, err)
	}
	return newScript(path, L)
}

// LoadString runs src as a script named name and collects its handlers.
func LoadString(name, src string) (*Script, error) {
	L := lua.NewState()
	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("loading script %s: %w", name, err)
	}
	return newScript(name, L)
}

func newScript(name string, L *lua.LState) (*Script, error) {
	s := &Script{name: name, L: L, handlers: make(map[string]*lua.LFunction)}

	root, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script %s did not return a table", name)
	}
	L.Pop(1)

	table, ok := root.RawGetString("handlers").(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script %s has no handlers table", name)
	}

	var err error
	table.ForEach(func(key, value lua.LValue) {
		if err != nil {
			return
		}
		msgType, isString := key.(lua.LString)
		fn, isFunc := value.(*lua.LFunction)
		if !isString || !isFunc || msgType == "" {
			err = fmt.Errorf("script %s: handler %v must be a function keyed by a message type", name, key)
			return
		}
		s.handlers[string(msgType)] = fn
	})
	if err != nil {
		L.Close()
		return nil, err
	}

	return s, nil
}

// Types returns the message types the script handles, sorted.
func (s *Script) Types() []string {
	types := make([]string, 0, len(s.handlers))
	for t := range s.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Register registers every handler of the script with r.
func (s *Script) Register(r Registrar) error {
	for _, msgType := range s.Types() {
		fn, _ := s.Handler(msgType)
		if err := r.RegisterHandler(msgType, fn); err != nil {
			return fmt.Errorf("script %s: %w", s.name, err)
		}
	}
	return nil
}

// Handler returns the handler for msgType.
func (s *Script) Handler(msgType string) (tether.HandlerFunc, bool) {
	fn, ok := s.handlers[msgType]
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, msg *tether.Message) (any, error) {
		return s.call(ctx, fn, msg)
	}, true
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.L.Close()
}

func (s *Script) call(ctx context.Context, fn *lua.LFunction, msg *tether.Message) (any, error) {
	var data any
	if err := msg.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding data for %s: %w", msg.Type, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	arg := s.L.NewTable()
	arg.RawSetString("id", lua.LString(msg.ID))
	arg.RawSetString("type", lua.LString(msg.Type))
	arg.RawSetString("connection_id", lua.LString(msg.ConnectionID))
	arg.RawSetString("sent_uptime", lua.LNumber(msg.SentUptime))
	arg.RawSetString("data", toLua(s.L, data))

	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, arg); err != nil {
		return nil, err
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)

	if ret == lua.LNil {
		return nil, nil
	}
	return fromLua(gluamapper.ToGoValue(ret, mapperOpt))
}

// toLua converts a decoded JSON value to its Lua counterpart.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		t := L.NewTable()
		for i, item := range v {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range v {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	default:
		return lua.LNil
	}
}

// fromLua turns gluamapper output into values encoding/json accepts.
func fromLua(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, float64, string:
		return v, nil
	case []interface{}:
		out := make([]any, len(v))
		for i, item := range v {
			conv, err := fromLua(item)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]any, len(v))
		for k, item := range v {
			conv, err := fromLua(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported Lua value %v", v)
	}
}
