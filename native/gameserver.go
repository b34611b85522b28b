package native

import "sdkbridge/faults"

// GameServer exposes the dedicated-server side of the SDK. The original
// binding brings the server interface up on first use and tears it down with
// the rest of the SDK.
type GameServer struct {
	api *API
}

// GameServer acquires the game-server interface.
func (a *API) GameServer() (*GameServer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil, faults.New(faults.KindNativeCall, "Interface pointers for SteamGameServer is not populated")
	}
	return &GameServer{api: a}, nil
}

// GetSteamID returns the server's 64-bit id. Dedicated servers log on
// anonymously, so the id is derived from the user id in the simulation.
func (g *GameServer) GetSteamID() uint64 {
	g.api.mu.Lock()
	defer g.api.mu.Unlock()
	return g.api.cfg.SteamID + 1
}

// FailCall is the sample call that always fails inside the native layer.
// It exists so callers can exercise error transport without crashing the
// worker: a native failure is a business error, not a process death.
func (a *API) FailCall() error {
	return faults.New(faults.KindNativeCall, "boom")
}
