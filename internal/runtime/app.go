package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joho/godotenv"

	"github.com/browserbase/functions/internal/domain"
	"github.com/browserbase/functions/internal/manifest"
	"github.com/browserbase/functions/internal/registry"
)

// App binds a registry, a phase selection, and a manifest writer into the
// surface a handler program uses: Register functions, then Start.
type App struct {
	cfg    Config
	reg    *registry.Registry
	writer *manifest.Writer
	log    *slog.Logger

	mu sync.Mutex
}

// NewApp creates an app from a config snapshot.
func NewApp(cfg Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{
		cfg:    cfg,
		reg:    registry.New(),
		writer: manifest.NewWriter(cfg.ManifestsDir),
		log:    log,
	}
}

// Registry exposes the app's registry (the dev server embeds it in tests).
func (a *App) Registry() *registry.Registry { return a.reg }

// Register adds a function by name, replacing any prior registration. In the
// introspect phase the registration also writes the function's manifest; the
// first registration of a run clears the manifests directory first, detected
// by the registry size transitioning to one.
func (a *App) Register(name string, handler domain.HandlerFunc, cfg domain.FunctionConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn := &domain.Function{Name: name, Handler: handler, Config: cfg}

	before := a.reg.Len()
	if err := a.reg.Register(fn); err != nil {
		return err
	}

	if a.cfg.Phase != PhaseIntrospect {
		return nil
	}

	if before == 0 && a.reg.Len() == 1 {
		if err := a.writer.Reset(); err != nil {
			return fmt.Errorf("register %q: %w", name, err)
		}
	}
	if err := a.writer.Write(domain.Manifest{Name: name, Config: cfg}); err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	a.log.Info("manifest written", "function", name, "dir", a.writer.Dir())
	return nil
}

// Start runs the phase branch: introspect returns immediately (registration
// already wrote the manifests), runtime runs the polling loop until ctx is
// cancelled or a system error becomes fatal.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Phase == PhaseIntrospect {
		a.log.Info("introspect complete", "functions", a.reg.Len(), "dir", a.writer.Dir())
		return nil
	}
	return NewWorker(a.cfg, a.reg, a.log).Run(ctx)
}

// defaultApp is the package-level app most handler programs use. It loads
// .env first so Browserbase credentials in the project's dotenv are visible,
// then snapshots the environment.
var defaultApp = sync.OnceValue(func() *App {
	_ = godotenv.Load()
	return NewApp(FromEnv(), slog.Default())
})

// Register adds a function to the default app.
func Register(name string, handler domain.HandlerFunc, cfg domain.FunctionConfig) error {
	return defaultApp().Register(name, handler, cfg)
}

// Start runs the default app's phase branch.
func Start(ctx context.Context) error {
	return defaultApp().Start(ctx)
}
