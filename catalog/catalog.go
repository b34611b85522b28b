// Package catalog holds the fixed, closed registry of call targets the
// worker runtime is willing to execute.
//
// A target is addressed by name: either a free function ("get_value") or a
// two-part reference naming a stateful object's constructor and a method on
// it ("SteamUser.get_steam_id"). Resolution is a lookup-table hit; there is
// no reflective dispatch over arbitrary code, which keeps "call anything in
// the catalogue by name" ergonomics while the set of reachable operations
// stays compile-time enumerable.
//
// Each entry declares whether it requires prior native initialization. An
// unresolvable name is a protocol-level bug (unknown_target), not a native
// failure, and never crashes the worker.
package catalog

import (
	"fmt"
	"math"

	"sdkbridge/envelope"
	"sdkbridge/faults"
	"sdkbridge/native"
)

// TargetFunc executes one resolved call. Arguments arrive normalized
// (integral numbers as int64); the returned value must survive the
// envelope's serialization.
type TargetFunc func(args []any, kwargs map[string]any) (any, error)

// Target is one entry of the catalogue.
type Target struct {
	Name         string
	RequiresInit bool // Needs a successful native Init before it may run
	Call         TargetFunc
}

// Registry is the closed set of allowed targets bound to one native SDK
// instance. It lives inside the worker process.
type Registry struct {
	lib     *native.API
	targets map[string]Target
}

// New builds the registry over lib and installs the built-in catalogue.
func New(lib *native.API) *Registry {
	r := &Registry{
		lib:     lib,
		targets: make(map[string]Target),
	}
	r.installBuiltins()
	return r
}

// Lib returns the native SDK instance the registry is bound to.
func (r *Registry) Lib() *native.API {
	return r.lib
}

// Register adds or replaces a target. The embedding application uses this to
// extend the catalogue before handing the registry to a worker runtime.
func (r *Registry) Register(t Target) {
	r.targets[t.Name] = t
}

// Names returns the registered target names, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	return names
}

// Resolve finds the target for name. Unknown names fail with unknown_target.
func (r *Registry) Resolve(name string) (Target, error) {
	t, ok := r.targets[name]
	if !ok {
		return Target{}, faults.New(faults.KindUnknownTarget, "no such call target: %q", name)
	}
	return t, nil
}

// Execute resolves and runs one call, enforcing the init precondition.
func (r *Registry) Execute(name string, args []any, kwargs map[string]any) (any, error) {
	t, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if t.RequiresInit && !r.lib.Initialized() {
		return nil, faults.New(faults.KindNativeCall, "%s requires an initialized native library", name)
	}
	return t.Call(args, kwargs)
}

// installBuiltins wires the fixed native-binding catalogue. Two-part names
// resolve the object constructor at call time; no live object reference ever
// crosses the channel.
func (r *Registry) installBuiltins() {
	lib := r.lib

	r.Register(Target{
		Name: "is_steam_running",
		Call: func(args []any, kwargs map[string]any) (any, error) {
			return lib.IsRunning(), nil
		},
	})
	r.Register(Target{
		Name: "restart_app_if_necessary",
		Call: func(args []any, kwargs map[string]any) (any, error) {
			appID, err := uint32Arg(args, 0)
			if err != nil {
				return nil, err
			}
			return lib.RestartAppIfNecessary(appID), nil
		},
	})
	r.Register(Target{
		Name:         "get_value",
		RequiresInit: true,
		Call: func(args []any, kwargs map[string]any) (any, error) {
			return lib.Value(), nil
		},
	})
	r.Register(Target{
		Name:         "fail_call",
		RequiresInit: true,
		Call: func(args []any, kwargs map[string]any) (any, error) {
			return nil, lib.FailCall()
		},
	})
	r.Register(Target{
		Name:         "get_time",
		RequiresInit: true,
		Call: func(args []any, kwargs map[string]any) (any, error) {
			utils, err := lib.Utils()
			if err != nil {
				return nil, err
			}
			return utils.GetServerRealTime(), nil
		},
	})
	r.Register(Target{
		Name:         "SteamUtils.get_server_time",
		RequiresInit: true,
		Call: func(args []any, kwargs map[string]any) (any, error) {
			utils, err := lib.Utils()
			if err != nil {
				return nil, err
			}
			return utils.GetServerRealTime(), nil
		},
	})
	r.Register(Target{
		Name:         "SteamUser.get_steam_id",
		RequiresInit: true,
		Call: func(args []any, kwargs map[string]any) (any, error) {
			user, err := lib.User()
			if err != nil {
				return nil, err
			}
			// uint64 steamids exceed float64 precision; ship as string
			return fmt.Sprintf("%d", user.GetSteamID()), nil
		},
	})
	r.Register(Target{
		Name:         "GameServer.get_steamid",
		RequiresInit: true,
		Call: func(args []any, kwargs map[string]any) (any, error) {
			gs, err := lib.GameServer()
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("%d", gs.GetSteamID()), nil
		},
	})
}

// uint32Arg extracts a positional argument as uint32, tolerating the integer
// widths the envelope produces.
func uint32Arg(args []any, i int) (uint32, error) {
	if i >= len(args) {
		return 0, faults.New(faults.KindNativeCall, "missing argument %d", i)
	}
	switch v := envelope.NormalizeNumber(args[i]).(type) {
	case int64:
		if v < 0 || v > math.MaxUint32 {
			return 0, faults.New(faults.KindNativeCall, "argument %d out of range", i)
		}
		return uint32(v), nil
	case float64:
		if v != math.Trunc(v) || v < 0 || v > math.MaxUint32 {
			return 0, faults.New(faults.KindNativeCall, "argument %d out of range", i)
		}
		return uint32(v), nil
	default:
		return 0, faults.New(faults.KindNativeCall, "argument %d: expected integer, got %T", i, args[i])
	}
}
