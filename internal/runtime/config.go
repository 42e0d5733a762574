// Package runtime is the handler-side SDK: user programs register functions
// and call Start. In the runtime phase the package runs the cooperative
// polling loop against the dev server's invocation bridge; in the introspect
// phase each registration writes a manifest file and Start returns without
// serving.
package runtime

import (
	"os"

	"github.com/browserbase/functions/internal/manifest"
)

// Phases a handler process can run in.
const (
	PhaseRuntime    = "runtime"
	PhaseIntrospect = "introspect"
)

// Environment tags controlling fatal-error policy.
const (
	EnvLocal      = "local"
	EnvProduction = "production"
)

// DefaultRuntimeAPI is the bridge address the loop polls when
// AWS_LAMBDA_RUNTIME_API is unset.
const DefaultRuntimeAPI = "127.0.0.1:14113"

// Config is a snapshot of the process environment taken at construction.
// Mutating the environment afterwards does not affect an existing Config.
type Config struct {
	// Environment selects the fatal-error policy: production aborts the
	// process on system errors, local keeps the dev loop alive.
	Environment string

	// RuntimeAPI is the host:port of the invocation bridge.
	RuntimeAPI string

	// Phase selects runtime (poll and execute) or introspect (emit
	// manifests and exit).
	Phase string

	// ManifestsDir is where introspect-phase registrations write manifests.
	ManifestsDir string
}

// FromEnv snapshots the recognised environment variables, applying defaults.
// NODE_ENV keeps its historical name; the contract is an environment tag.
func FromEnv() Config {
	cfg := Config{
		Environment:  os.Getenv("NODE_ENV"),
		RuntimeAPI:   os.Getenv("AWS_LAMBDA_RUNTIME_API"),
		Phase:        os.Getenv("BB_FUNCTIONS_PHASE"),
		ManifestsDir: os.Getenv("BB_FUNCTIONS_MANIFESTS_DIR"),
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvLocal
	}
	if cfg.RuntimeAPI == "" {
		cfg.RuntimeAPI = DefaultRuntimeAPI
	}
	if cfg.Phase == "" {
		cfg.Phase = PhaseRuntime
	}
	if cfg.ManifestsDir == "" {
		cfg.ManifestsDir = manifest.DefaultDir()
	}
	return cfg
}

// Production reports whether system errors should abort the process.
func (c Config) Production() bool { return c.Environment == EnvProduction }

// BaseURL is the bridge base URL the runtime loop talks to.
func (c Config) BaseURL() string { return "http://" + c.RuntimeAPI }
