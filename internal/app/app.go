package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"gridwatch/internal/config"
	"gridwatch/internal/logger"
	"gridwatch/internal/repository"
	"gridwatch/internal/repository/sqlite"
	"gridwatch/internal/route"
	"gridwatch/internal/service"
	"gridwatch/internal/service/camera"
	"gridwatch/internal/service/device"
	"gridwatch/internal/service/grid"
	"gridwatch/internal/service/state"
	"gridwatch/internal/service/vision"
	"gridwatch/internal/service/websocket"
)

type App struct {
	config       *config.Config
	logger       *logger.Logger
	db           *sqlite.DB
	overrideRepo repository.OverrideRepository
	analyzer     *vision.Analyzer
	presence     *vision.HOGPresence
	hubService   *websocket.HubService
	manager      *service.Manager
}

// NewApp loads and validates configuration and wires every component.
// Persisted override pins are restored into the state store.
func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.NewLogger(cfg)

	spec, err := grid.NewSpec(cfg.GridRows, cfg.GridCols)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:     cfg,
		logger:     log,
		analyzer:   vision.NewAnalyzer(spec, cfg),
		hubService: websocket.NewHubService(log),
	}
	store := state.NewStore(spec)

	if cfg.DatabasePath != "" {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.overrideRepo = sqlite.NewOverrideRepository(db)
		if err := restoreOverrides(a.overrideRepo, store, log); err != nil {
			db.Close()
			return nil, err
		}
	}

	components := service.Components{
		Connector:  camera.NewConnector(vision.NewOpener(cfg.CameraURL, cfg.UDPReadTimeout, log), cfg, log),
		Analyzer:   a.analyzer,
		Dispatcher: device.NewDispatcher(device.NewHTTPTransport(cfg.DevicePathPrefix), cfg, log),
		Devices:    device.NewRegistry(cfg.DeviceURLs),
		Store:      store,
		Hub:        a.hubService,
	}
	if cfg.PresenceDetection {
		presence, err := vision.NewHOGPresence()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.presence = presence
		components.Presence = presence
	}
	if cfg.ShowPreview {
		components.Display = vision.NewPreview("gridwatch", spec)
	}

	a.manager = service.NewManager(components, cfg, log)
	return a, nil
}

func restoreOverrides(repo repository.OverrideRepository, store *state.Store, log *logger.Logger) error {
	overrides, err := repo.GetAll()
	if err != nil {
		return err
	}
	for _, o := range overrides {
		if err := store.SetOverride(o.DeviceID, o.State); err != nil {
			log.Warning("Dropping stored override for device %d: %v", o.DeviceID, err)
			if err := repo.Delete(o.DeviceID); err != nil {
				return err
			}
			continue
		}
		log.Info("Restored manual override: device %d pinned %s", o.DeviceID, device.CommandName(o.State))
	}
	return nil
}

// Run serves HTTP and drives the control loop until ctx ends or the loop
// stops on its own. The HTTP server is given ShutdownTimeout to drain.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: route.SetupRoutes(a.manager, a.config, a.logger, a.overrideRepo),
	}

	fmt.Printf("🚀 gridwatch\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("📷 Camera: %s\n", a.config.CameraURL)
	fmt.Printf("🔲 Grid: %dx%d, %d devices\n", a.config.GridRows, a.config.GridCols, len(a.config.DeviceURLs))

	g.Go(func() error {
		a.hubService.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		defer cancel()
		return a.manager.Run(gctx)
	})

	return g.Wait()
}

// Close releases the database and the vision models.
func (a *App) Close() error {
	var errs []error
	if a.presence != nil {
		errs = append(errs, a.presence.Close())
	}
	if a.analyzer != nil {
		errs = append(errs, a.analyzer.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
