// Package native is the in-repo stand-in for the fragile native SDK the
// worker runtime isolates.
//
// The real SDK owns process-wide state: it must see an application id in the
// process environment at the moment of initialization, it refuses to
// initialize when the host client is not running or the user is not logged
// in, and its interface pointers are only populated after a successful init.
// This package reproduces exactly that contract so the executor, the worker
// runtime and the catalog can be exercised end to end without linking the
// real thing. All of its state lives in whatever process hosts it, which by
// construction of the executor is always the disposable worker process.
package native

import (
	"os"
	"strconv"
	"sync"

	"sdkbridge/faults"
)

// AppIDEnvVar is the process-scoped configuration value the SDK reads during
// initialization. It is set strictly around the init call and must never
// remain set after Init returns, success or failure.
const AppIDEnvVar = "SteamAppId"

// Default values mirrored from the original bindings.
const (
	DefaultAppID      uint32 = 480
	DefaultSteamID    uint64 = 76561197960287930
	DefaultServerTime int64  = 1700000000
	DefaultValue      int64  = 42
)

// Config controls the simulated SDK's behavior. Tests use it to force each
// failure mode deterministically.
type Config struct {
	HostRunning bool   // Host client process reachable
	LoggedOn    bool   // User session present
	SteamID     uint64 // Returned by User.GetSteamID
	ServerTime  int64  // Returned by Utils.GetServerRealTime
	Value       int64  // Returned by the get_value sample call
}

// DefaultConfig returns a healthy SDK: host running, user logged on.
func DefaultConfig() Config {
	return Config{
		HostRunning: true,
		LoggedOn:    true,
		SteamID:     DefaultSteamID,
		ServerTime:  DefaultServerTime,
		Value:       DefaultValue,
	}
}

// API is the simulated SDK instance. One lives per worker process.
type API struct {
	mu          sync.Mutex
	cfg         Config
	initialized bool
}

// New creates an uninitialized SDK instance.
func New(cfg Config) *API {
	return &API{cfg: cfg}
}

// IsRunning reports whether the host client is reachable. Callable before
// Init, mirroring the is_steam_running free function.
func (a *API) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.HostRunning
}

// Initialized reports whether Init has completed successfully.
func (a *API) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Init performs the process-wide SDK initialization. The application id is
// exported to the environment only for the duration of the init call; the
// deferred unset runs on every path so the value cannot leak to unrelated
// code in the same process.
func (a *API) Init(appID uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cfg.HostRunning {
		return faults.New(faults.KindPrerequisiteNotMet, "Steam is not running")
	}

	if err := os.Setenv(AppIDEnvVar, strconv.FormatUint(uint64(appID), 10)); err != nil {
		return faults.New(faults.KindInitialization, "Error when setting AppID")
	}
	defer os.Unsetenv(AppIDEnvVar)

	if !a.cfg.LoggedOn {
		return faults.New(faults.KindInitialization, "User isn't logged in")
	}

	a.initialized = true
	return nil
}

// Shutdown releases the SDK's resources. Safe to call when never initialized.
func (a *API) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
}

// RestartAppIfNecessary mirrors the original free function. The simulation
// never asks the host to relaunch, so it always reports false.
func (a *API) RestartAppIfNecessary(appID uint32) bool {
	return false
}

// Value returns the sample value used by the get_value call.
func (a *API) Value() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Value
}

// User acquires the user interface. Interface pointers are only populated
// after a successful Init.
func (a *API) User() (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil, faults.New(faults.KindNativeCall, "Interface pointers for SteamUser is not populated")
	}
	return &User{api: a}, nil
}

// Utils acquires the utils interface.
func (a *API) Utils() (*Utils, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil, faults.New(faults.KindNativeCall, "Interface pointers for SteamUtils is not populated")
	}
	return &Utils{api: a}, nil
}

// User exposes the logged-on user's identity.
type User struct {
	api *API
}

// GetSteamID returns the user's 64-bit id.
func (u *User) GetSteamID() uint64 {
	u.api.mu.Lock()
	defer u.api.mu.Unlock()
	return u.api.cfg.SteamID
}

// Utils exposes host-side utility calls.
type Utils struct {
	api *API
}

// GetServerRealTime returns the host's view of the current epoch time.
func (u *Utils) GetServerRealTime() int64 {
	u.api.mu.Lock()
	defer u.api.mu.Unlock()
	return u.api.cfg.ServerTime
}
