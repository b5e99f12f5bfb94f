// Package daemon wires the compositor, render backend, decode sessions and
// per-output schedulers together and keeps them in step with hotplug,
// power, fullscreen and configuration changes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/ipc"
	"github.com/1broseidon/vidwall/internal/logging"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/platform"
	"github.com/1broseidon/vidwall/internal/power"
	"github.com/1broseidon/vidwall/internal/render"
	"github.com/1broseidon/vidwall/internal/runtimepath"
	"github.com/1broseidon/vidwall/internal/scheduler"
	"github.com/1broseidon/vidwall/internal/state"
	"github.com/1broseidon/vidwall/internal/surface"
)

var ErrAlreadyRunning = errors.New("daemon already running")

// Options configures a daemon. Zero values select the real platform; tests
// inject headless or static implementations.
type Options struct {
	// ConfigPath is the config file. Empty means the default location.
	ConfigPath string

	// Headless runs against an in-memory compositor seeded with
	// HeadlessOutputs.
	Headless        bool
	HeadlessOutputs []output.Output

	Compositor platform.Compositor
	// Backend replaces backend selection.
	Backend    render.Backend
	Power      power.Monitor
	Fullscreen platform.FullscreenDetector
	Opener     decode.Opener
	Positions  decode.PositionStore
	// DisableState skips opening the playback state database.
	DisableState bool

	SocketPath string
	DisableIPC bool

	WatchConfig       bool
	HandleSignals     bool
	ReconcileInterval time.Duration

	Logger *slog.Logger
}

// Daemon is one running vidwall instance.
type Daemon struct {
	opts       Options
	logger     *slog.Logger
	configPath string
	started    time.Time

	cfgMu    sync.RWMutex
	cfg      *config.Config
	cfgFiles []string

	comp       platform.Compositor
	backend    render.Backend
	fallback   *render.Fallback
	power      power.Monitor
	fullscreen platform.FullscreenDetector
	store      *state.Store
	positions  decode.PositionStore
	budget     *decode.Budget
	opener     decode.Opener
	sessions   *decode.Manager
	registry   *output.Registry
	surfaces   *surface.Manager
	bus        *Bus
	server     *ipc.Server
	watcher    *configWatcher
	reconciler *Reconciler

	// opMu serializes registry updates with the surface, session and
	// scheduler work they cause.
	opMu    sync.Mutex
	runCtx  context.Context
	pending map[string]*pendingRun // guarded by opMu

	mu         sync.RWMutex
	outputs    map[string]*outputRun
	pauseAll   bool
	paused     map[string]bool
	onBattery  bool
	covered    map[string]bool // outputs showing a fullscreen window

	reloadCh chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	ready    chan struct{}
	wg       sync.WaitGroup
}

// New returns a daemon that has not started yet.
func New(opts Options) *Daemon {
	return &Daemon{
		opts:       opts,
		logger:     logging.OrDiscard(opts.Logger),
		outputs:    make(map[string]*outputRun),
		pending:    make(map[string]*pendingRun),
		paused:     make(map[string]bool),
		covered:    make(map[string]bool),
		reloadCh:   make(chan struct{}, 1),
		quit:       make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the initial outputs have been applied and the
// control socket is listening.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Run starts the daemon and blocks until ctx is done or Quit is called.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := d.start(ctx)
	defer d.shutdown(cancel)
	if err != nil {
		return err
	}
	close(d.ready)
	return d.loop(ctx)
}

func (d *Daemon) start(ctx context.Context) error {
	d.started = time.Now()
	d.runCtx = ctx

	path := d.opts.ConfigPath
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	d.configPath = path
	res, err := config.LoadFromPath(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	d.setConfig(res)
	cfg := res.Config

	if d.opts.Logger == nil {
		logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
		if err != nil {
			return err
		}
		d.logger = logger
	}

	if !d.opts.DisableIPC {
		if err := d.checkSingleInstance(); err != nil {
			return err
		}
	}

	d.selectBackend(cfg.Renderer)

	d.comp = d.opts.Compositor
	if d.comp == nil {
		comp, err := platform.Open(ctx, platform.Options{
			Headless: d.opts.Headless,
			Outputs:  d.opts.HeadlessOutputs,
			Logger:   d.logger,
		})
		if err != nil {
			return fmt.Errorf("open compositor: %w", err)
		}
		d.comp = comp
	}
	d.power = d.opts.Power
	if d.power == nil {
		d.power = power.Open(ctx, d.logger)
	}
	d.fullscreen = d.opts.Fullscreen
	if d.fullscreen == nil {
		d.fullscreen = platform.NewFullscreenDetector(d.comp, d.logger)
	}
	d.onBattery = d.power.OnBattery()

	d.openState()
	d.budget = decode.NewBudget(cfg.MaxBuffers, cfg.MaxMemoryMB)
	d.opener = d.opts.Opener
	if d.opener == nil {
		d.opener = decode.NewOpener(decode.EngineConfig{
			FFmpegPath: cfg.FFmpegPath,
			Budget:     d.budget,
			Positions:  d.positions,
			Resume:     cfg.ResumePlayback,
			Logger:     d.logger,
		})
	}
	d.sessions = decode.NewManager(decode.SessionConfig{
		MaxSkipIntervals: cfg.MaxSkipIntervals,
		Positions:        d.positions,
		Logger:           d.logger,
	})

	registry, err := output.NewRegistry(cfg.Rules(), d.logger)
	if err != nil {
		return err
	}
	d.registry = registry
	d.surfaces = surface.NewManager(d.comp, d.backend, d.logger)

	fallback := ""
	if d.fallback != nil {
		fallback = d.fallback.String()
	}
	d.bus = NewBus(fallback)

	d.logger.Info("vidwall starting",
		"compositor", d.comp.Name(),
		"backend", d.backend.Name(),
		"config", d.configPath,
	)

	d.opMu.Lock()
	for _, o := range d.comp.Outputs() {
		d.apply(ctx, d.registry.Added(o))
	}
	d.opMu.Unlock()

	if !d.opts.DisableIPC {
		if err := d.startIPC(); err != nil {
			return err
		}
	}
	if d.opts.WatchConfig {
		d.startWatcher(ctx)
	}

	d.reconciler = NewReconciler(ReconcilerConfig{
		Interval: d.opts.ReconcileInterval,
		Logger:   d.logger,
	}, d, d.comp.Outputs)
	d.goRun(func() { d.reconciler.Run(ctx) })
	d.goRun(func() {
		err := d.fullscreen.Watch(ctx, d.setFullscreen)
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("fullscreen detection stopped", "error", err)
		}
	})
	return nil
}

func (d *Daemon) goRun(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// selectBackend picks the process-wide backend. A selection failure is
// kept as a backend whose Initialize fails, so every output reports it.
func (d *Daemon) selectBackend(r config.Renderer) {
	if d.opts.Backend != nil {
		d.backend = d.opts.Backend
		return
	}
	b, fb, err := render.Select(r, d.logger)
	d.fallback = fb
	if fb != nil {
		d.logger.Warn("render backend fallback", "from", fb.From, "to", fb.To, "reason", fb.Reason)
	}
	if err != nil {
		d.logger.Error("no render backend available", "renderer", string(r), "error", err)
		d.backend = unavailableBackend{name: string(r), err: err}
		return
	}
	d.backend = b
}

func (d *Daemon) openState() {
	if d.opts.Positions != nil {
		d.positions = d.opts.Positions
		return
	}
	if d.opts.DisableState {
		return
	}
	path, err := runtimepath.StateDBPath()
	if err != nil {
		d.logger.Warn("playback state disabled", "error", err)
		return
	}
	store, err := state.Open(path)
	if err != nil {
		d.logger.Warn("playback state disabled", "path", path, "error", err)
		return
	}
	d.store = store
	d.positions = store
}

func (d *Daemon) checkSingleInstance() error {
	path, err := d.socketPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if ipc.NewClientAt(path).Ping() == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
	}
	return nil
}

func (d *Daemon) socketPath() (string, error) {
	if d.opts.SocketPath != "" {
		return d.opts.SocketPath, nil
	}
	return runtimepath.SocketPath()
}

func (d *Daemon) startIPC() error {
	path, err := d.socketPath()
	if err != nil {
		return err
	}
	d.server = ipc.NewServer(path, d, d.logger)
	return d.server.Start()
}

func (d *Daemon) startWatcher(ctx context.Context) {
	w, err := newConfigWatcher(d.watchedFiles(), configDebounce, d.requestReload, d.logger)
	if err != nil {
		d.logger.Warn("config file watching disabled", "error", err)
		return
	}
	d.watcher = w
	d.goRun(func() { w.run(ctx) })
}

func (d *Daemon) watchedFiles() []string {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	files := append([]string{d.configPath}, d.cfgFiles...)
	return files
}

// requestReload queues a reload for the event loop. Requests arriving while
// one is queued are folded into it.
func (d *Daemon) requestReload() {
	select {
	case d.reloadCh <- struct{}{}:
	default:
	}
}

func (d *Daemon) loop(ctx context.Context) error {
	var hup chan os.Signal
	if d.opts.HandleSignals {
		hup = make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
	}

	events := d.comp.Events()
	battery := d.power.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.quit:
			d.logger.Info("quit requested")
			return nil
		case ev, ok := <-events:
			if !ok {
				d.logger.Warn("compositor event stream closed")
				events = nil
				continue
			}
			d.handleEvent(ev)
		case v, ok := <-battery:
			if !ok {
				battery = nil
				continue
			}
			d.setOnBattery(v)
		case <-hup:
			d.logger.Info("SIGHUP received, reloading config")
			d.reloadLogged()
		case <-d.reloadCh:
			d.logger.Info("config file changed, reloading")
			d.reloadLogged()
		}
	}
}

func (d *Daemon) reloadLogged() {
	if err := d.Reload(); err != nil {
		d.logger.Error("config reload failed, keeping previous config", "error", err)
	}
}

// handleEvent applies one hotplug event.
func (d *Daemon) handleEvent(ev output.Event) {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	d.apply(d.runCtx, d.registry.Apply(ev))
}

func (d *Daemon) knownOutputs() []output.Output {
	return d.registry.Outputs()
}

func (d *Daemon) prunePositions(before time.Time) (int64, error) {
	if d.store == nil {
		return 0, nil
	}
	return d.store.Prune(before)
}

func (d *Daemon) config() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

func (d *Daemon) setConfig(res *config.LoadResult) {
	d.cfgMu.Lock()
	d.cfg = res.Config
	d.cfgFiles = res.Files
	d.cfgMu.Unlock()
}

// Subscribe returns a channel of status events and its cancel function.
func (d *Daemon) Subscribe() (<-chan ipc.Event, func()) {
	return d.bus.Subscribe()
}

// shutdown stops outputs first, then sessions, then the shared resources
// they used.
func (d *Daemon) shutdown(cancel context.CancelFunc) {
	if d.server != nil {
		d.server.Stop()
	}

	if d.registry != nil {
		d.opMu.Lock()
		d.mu.RLock()
		names := make([]string, 0, len(d.outputs))
		for name := range d.outputs {
			names = append(names, name)
		}
		d.mu.RUnlock()
		for name := range d.pending {
			names = append(names, name)
		}
		for _, name := range names {
			d.stop(name)
		}
		d.opMu.Unlock()
	}

	cancel()
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.wg.Wait()

	if d.surfaces != nil {
		d.surfaces.Close()
	}
	if d.sessions != nil {
		d.sessions.Close()
	}
	if d.budget != nil {
		d.budget.Close()
	}
	if d.backend != nil && d.opts.Backend == nil {
		d.backend.Close()
	}
	if d.power != nil && d.opts.Power == nil {
		_ = d.power.Close()
	}
	if d.comp != nil && d.opts.Compositor == nil {
		_ = d.comp.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("close playback state", "error", err)
		}
	}
	if !d.started.IsZero() {
		d.logger.Info("vidwall stopped")
	}
}

// unavailableBackend stands in when no backend could be opened. Every
// activation fails with the selection error, leaving outputs Errored.
type unavailableBackend struct {
	name string
	err  error
}

func (b unavailableBackend) Name() string { return b.name }
func (b unavailableBackend) Open() error  { return b.err }
func (b unavailableBackend) Initialize(render.Target) (render.Context, error) {
	return nil, fmt.Errorf("%w: %w", render.ErrBackendNotAvailable, b.err)
}
func (unavailableBackend) Close() {}

var _ scheduler.Target = (*surface.Descriptor)(nil)
