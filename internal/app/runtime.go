// Package app assembles the gateway runtime: configuration, storage,
// the radio session, the virtual device listener and automation.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"meshgate/internal/automation"
	"meshgate/internal/bus"
	"meshgate/internal/config"
	"meshgate/internal/domain"
	"meshgate/internal/logging"
	"meshgate/internal/persistence"
	"meshgate/internal/radio"
	"meshgate/internal/transport"
	"meshgate/internal/version"
	"meshgate/internal/virtual"
)

type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Config     config.Config
	LogManager *logging.Manager
	Bus        *bus.Broker
	DB         *sql.DB

	SettingsRepo *persistence.SettingsRepo
	AuditRepo    *persistence.AuditRepo
	WriterQueue  *persistence.WriterQueue

	Store   *domain.MeshStore
	Session *radio.Session
	Virtual *virtual.Server
	Checker *version.Checker

	scheduler *automation.Scheduler
	responder *automation.Responder
	timers    *automation.Timers
	geofence  *automation.Geofence
}

// Initialize builds the runtime from boot configuration. configPath may
// be empty; MESHGATE_* environment variables still apply.
func Initialize(parent context.Context, configPath string) (*Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Log.Level, cfg.Log.File); err != nil {
		cancel()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting meshgate", "version", BuildVersionWithDate())

	db, err := persistence.Open(ctx, cfg.DB.Path)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}
	rt.DB = db

	nodeRepo := persistence.NewNodeRepo(db)
	chanRepo := persistence.NewChannelRepo(db)
	messageRepo := persistence.NewMessageRepo(db)
	telemetryRepo := persistence.NewTelemetryRepo(db)
	tracerouteRepo := persistence.NewTracerouteRepo(db)
	segmentRepo := persistence.NewRouteSegmentRepo(db)
	neighborRepo := persistence.NewNeighborRepo(db)
	ignoredRepo := persistence.NewIgnoredRepo(db)
	rt.SettingsRepo = persistence.NewSettingsRepo(db)
	rt.AuditRepo = persistence.NewAuditRepo(db)

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), 512)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue

	store := domain.NewMeshStore(nodeRepo, chanRepo, writerQueue, b)
	if err := store.Load(ctx); err != nil {
		_ = rt.Close()

		return nil, err
	}
	// The device flag on a node row dies with the row; the gateway's own
	// ignore list is reapplied on every start.
	ignoredNums, err := ignoredRepo.List(ctx)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}
	for _, num := range ignoredNums {
		store.Mutate(num, func(n *domain.Node) { n.IsIgnored = true })
	}
	rt.Store = store

	codec, err := radio.NewMeshtasticCodec()
	if err != nil {
		_ = rt.Close()

		return nil, fmt.Errorf("initialize meshtastic codec: %w", err)
	}

	link, err := buildTransport(cfg.Device)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}

	rt.Session = radio.NewSession(radio.Deps{
		Logger:      logMgr.Logger("radio"),
		Bus:         b,
		Transport:   link,
		Codec:       codec,
		Store:       store,
		Messages:    messageRepo,
		Telemetry:   telemetryRepo,
		Traceroutes: tracerouteRepo,
		Segments:    segmentRepo,
		Neighbors:   neighborRepo,
		Ignored:     ignoredRepo,
		Writer:      writerQueue,
	})
	rt.Session.OnCaptureComplete(func() {
		store.RunKeySecurityScan()
	})

	rt.Virtual = virtual.NewServer(logMgr.Logger("virtual"), cfg.Virtual.Addr,
		cfg.Virtual.Admin, codec, store, rt.Session, b)

	if !cfg.VersionCheck.Disabled {
		rt.Checker = version.NewChecker(version.CheckerConfig{
			CurrentVersion: BuildVersion(),
			Logger:         logMgr.Logger("version"),
		})
	}

	if err := rt.buildAutomation(ctx, logMgr); err != nil {
		_ = rt.Close()

		return nil, err
	}

	return rt, nil
}

func (r *Runtime) buildAutomation(ctx context.Context, logMgr *logging.Manager) error {
	settings, err := automation.LoadSettings(ctx, r.SettingsRepo)
	if err != nil {
		return fmt.Errorf("load automation settings: %w", err)
	}

	deps := automation.Deps{
		Logger:   logMgr.Logger("automation"),
		Bus:      r.Bus,
		Store:    r.Store,
		Radio:    r.Session,
		Settings: r.SettingsRepo,
		Audit:    r.AuditRepo,
		Writer:   r.WriterQueue,
	}

	cleaner := persistence.NewCleaner(r.DB, logMgr.Logger("persistence"), persistence.DefaultRetentionPolicy())

	r.scheduler = automation.NewScheduler(deps.Logger,
		automation.NewTracerouteTask(deps, settings.Traceroute),
		automation.NewTimeSyncTask(deps, settings.TimeSync),
		automation.NewKeyRepairTask(deps, settings.KeyRepair),
		automation.NewAdminScanTask(deps, settings.AdminScan),
		automation.NewAnnounceTask(deps, settings.Announce),
		automation.NewWelcomeTask(deps, settings.Welcome),
		automation.NewCleanupTask(deps.Logger, cleaner, settings.Cleanup),
	)
	r.responder = automation.NewResponder(deps, settings.Responder)
	r.timers = automation.NewTimers(deps, settings.Timers)
	r.geofence = automation.NewGeofence(deps, settings.Geofence)

	return nil
}

// Run starts every long-lived component and blocks until ctx is done or
// a component fails.
func (r *Runtime) Run(ctx context.Context) error {
	if r.Checker != nil {
		r.Checker.Start(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.Session.Run(ctx)

		return nil
	})
	g.Go(func() error {
		return r.Virtual.Run(ctx)
	})
	g.Go(func() error {
		r.scheduler.Run(ctx)

		return nil
	})
	g.Go(func() error {
		r.responder.Run(ctx)

		return nil
	})
	g.Go(func() error {
		r.timers.Run(ctx)

		return nil
	})
	g.Go(func() error {
		r.geofence.Run(ctx)

		return nil
	})

	return g.Wait()
}

func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}

	return nil
}

func buildTransport(cfg config.DeviceConfig) (transport.Transport, error) {
	switch config.TransportKind(cfg.Transport) {
	case config.TransportTCP:
		return transport.NewTCPTransport(cfg.Host, cfg.Port), nil
	case config.TransportSerial:
		return transport.NewSerialTransport(cfg.Serial, cfg.Baud), nil
	default:
		return nil, fmt.Errorf("unsupported device.transport: %q", cfg.Transport)
	}
}
