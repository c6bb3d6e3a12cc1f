// Package profile loads the scripted vehicle profile and exposes the three
// capabilities the preprocessing pipeline needs from it: the traffic-signal
// penalty, the u-turn penalty, and an optional turn-cost function.
package profile

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Adapter owns the Lua runtime for the duration of the edge-expansion
// stage. Close releases it.
type Adapter struct {
	mu sync.Mutex
	l  *lua.LState

	trafficSignalPenalty int32
	uTurnPenalty         int32
	turnFunction         *lua.LFunction
}

// Load runs the profile script and extracts the scalar penalties. The
// script values are in seconds and are scaled by 10 into deci-seconds.
// A missing or non-numeric scalar is a configuration error; a missing
// turn_function falls back to a constant zero cost.
func Load(path string) (*Adapter, error) {
	l := lua.NewState()
	if err := l.DoFile(path); err != nil {
		l.Close()
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}

	a := &Adapter{l: l}

	signal, err := scalar(l, "traffic_signal_penalty")
	if err != nil {
		l.Close()
		return nil, err
	}
	a.trafficSignalPenalty = 10 * signal

	uturn, err := scalar(l, "u_turn_penalty")
	if err != nil {
		l.Close()
		return nil, err
	}
	a.uTurnPenalty = 10 * uturn

	if fn, ok := l.GetGlobal("turn_function").(*lua.LFunction); ok {
		a.turnFunction = fn
	}
	return a, nil
}

func scalar(l *lua.LState, name string) (int32, error) {
	v := l.GetGlobal(name)
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("profile does not define %s", name)
	}
	return int32(n), nil
}

// TrafficSignalPenalty is the deci-second cost of crossing a signal.
func (a *Adapter) TrafficSignalPenalty() int32 { return a.trafficSignalPenalty }

// UTurnPenalty is the deci-second cost of a permitted u-turn.
func (a *Adapter) UTurnPenalty() int32 { return a.uTurnPenalty }

// HasTurnFunction reports whether the profile scripts a turn cost.
func (a *Adapter) HasTurnFunction() bool { return a.turnFunction != nil }

// TurnCost evaluates the profile turn function for an in/out heading pair,
// in deci-seconds. Without a scripted function the cost is zero. The Lua
// state is single-threaded, so concurrent expansion workers serialize here.
func (a *Adapter) TurnCost(angleIn, angleOut int16) (int32, error) {
	if a.turnFunction == nil {
		return 0, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.l.CallByParam(lua.P{
		Fn:      a.turnFunction,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(angleIn), lua.LNumber(angleOut)); err != nil {
		return 0, fmt.Errorf("turn_function(%d, %d): %w", angleIn, angleOut, err)
	}
	ret := a.l.Get(-1)
	a.l.Pop(1)
	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("turn_function returned %s, want number", ret.Type())
	}
	return int32(n), nil
}

// Close releases the Lua runtime.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.l != nil {
		a.l.Close()
		a.l = nil
	}
}
