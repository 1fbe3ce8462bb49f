package app

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/joho/godotenv"

	"converge/internal/api"
	"converge/internal/cluster"
	"converge/internal/config"
	"converge/internal/controller"
	"converge/internal/executor"
	"converge/internal/history"
	"converge/internal/live"
	"converge/internal/render"
	"converge/internal/source"
	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
	"converge/pkg/logging"
)

// Options are the CLI-level settings shared by every command.
type Options struct {
	// ConfigPath is the configuration directory. Empty means the per-user
	// default.
	ConfigPath string

	// Debug enables debug-level logging.
	Debug bool

	// Quiet suppresses log output (results still print).
	Quiet bool
}

// Engine wires the reconciliation components for one process. It serves
// both the continuous `serve` mode and the one-shot operator commands.
type Engine struct {
	cfg config.Config

	cluster  cluster.Interface
	fetcher  source.Fetcher
	renderer render.Renderer
	observer *live.Observer
	history  history.Store
	executor *executor.Executor
	watcher  *source.Watcher

	apps map[string]*v1alpha1.Application
}

// NewEngine bootstraps the engine: logging, configuration, target
// adapter, and the application inventory.
func NewEngine(opts *Options) (*Engine, error) {
	// A .env next to the working directory may carry CONVERGE_* overrides.
	_ = godotenv.Load()

	level := logging.LevelInfo
	if opts.Debug {
		level = logging.LevelDebug
	}
	var logOutput io.Writer = os.Stderr
	if opts.Quiet {
		logOutput = io.Discard
	}
	logging.InitPretty(level, logOutput)

	configPath := opts.ConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return NewEngineWithConfig(cfg)
}

// NewEngineWithConfig builds an engine from an already loaded
// configuration. Used by tests and embedding callers.
func NewEngineWithConfig(cfg config.Config) (*Engine, error) {
	cl, err := newCluster(cfg.Target)
	if err != nil {
		return nil, err
	}

	store, err := history.NewFileStore(cfg.Engine.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	apps, err := config.LoadApplications(cfg.Engine.AppsDir)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*v1alpha1.Application, len(apps))
	for _, app := range apps {
		byName[app.QualifiedName()] = app
	}

	return &Engine{
		cfg:      cfg,
		cluster:  cl,
		fetcher:  source.NewRepositoryStore(cfg.Engine.ReposDir),
		renderer: render.NewTemplateRenderer(render.NewNormalizer()),
		observer: live.NewObserver(cl, cfg.Engine.ObserveInterval),
		history:  store,
		executor: executor.New(cl, store),
		watcher:  source.NewWatcher(cfg.Engine.ReposDir, cfg.Engine.RevisionDebounce),
		apps:     byName,
	}, nil
}

func newCluster(target config.TargetConfig) (cluster.Interface, error) {
	switch target.Mode {
	case config.TargetModeMemory:
		return cluster.NewMemory(), nil
	case config.TargetModeKubernetes:
		restConfig, err := cluster.LoadRestConfig(target.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load Kubernetes config: %w", err)
		}
		return cluster.NewKube(restConfig, config.TargetModeKubernetes, "")
	default:
		return nil, fmt.Errorf("unknown target mode %q", target.Mode)
	}
}

// Config returns the loaded configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// History returns the engine's history store.
func (e *Engine) History() history.Store { return e.history }

// Applications returns the loaded inventory sorted by qualified name.
func (e *Engine) Applications() []*v1alpha1.Application {
	apps := make([]*v1alpha1.Application, 0, len(e.apps))
	for _, app := range e.apps {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].QualifiedName() < apps[j].QualifiedName() })
	return apps
}

// Application looks up one application by qualified name.
func (e *Engine) Application(name string) (*v1alpha1.Application, error) {
	app, ok := e.apps[name]
	if !ok {
		return nil, api.NewNotFoundError("application", name)
	}
	return app, nil
}

func (e *Engine) controllerConfig() controller.Config {
	return controller.Config{
		DriftDebounce:  e.cfg.Engine.DriftDebounce,
		InitialBackoff: e.cfg.Engine.InitialBackoff,
		MaxBackoff:     e.cfg.Engine.MaxBackoff,
		MaxRetries:     e.cfg.Engine.MaxRetries,
	}
}

func (e *Engine) deps() controller.Deps {
	return controller.Deps{
		Fetcher:  e.fetcher,
		Renderer: e.renderer,
		Observer: e.observer,
		Executor: e.executor,
		History:  e.history,
	}
}
