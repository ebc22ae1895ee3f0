// Package main runs the terminal sync agent. The dashboard UI talks to it
// over REST and WebSocket on localhost.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stevedores/dashboard-sync/cmd/desktop/handlers"
	"github.com/stevedores/dashboard-sync/internal/config"
	"github.com/stevedores/dashboard-sync/internal/db"
	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/metrics"
	"github.com/stevedores/dashboard-sync/internal/server"
	syncengine "github.com/stevedores/dashboard-sync/internal/sync"
	"github.com/stevedores/dashboard-sync/internal/sync/network"
	"github.com/stevedores/dashboard-sync/internal/sync/queue"
	"github.com/stevedores/dashboard-sync/internal/sync/transport"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	cfgPath := os.Getenv("HARBOR_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/terminal.yaml"
	}
	envOnly := false
	if raw := os.Getenv("HARBOR_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}
	if err := logging.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logging.L().Fatal("terminal startup failed", zap.Error(err))
	}
	defer a.Close()

	logging.Info("terminal sync agent starting", map[string]interface{}{
		"version": Version,
		"addr":    cfg.Terminal.HTTPAddr,
		"server":  cfg.Sync.ServerURL,
	})
	if err := a.Run(ctx); err != nil {
		logging.L().Fatal("terminal stopped with error", zap.Error(err))
	}
}

// app holds the terminal's long-lived components.
type app struct {
	cfg      config.Config
	database *db.DB
	repo     *db.Repository
	store    *queue.Store
	engine   *syncengine.SyncEngine
	hub      *WSHub
	metrics  *metrics.Metrics
	prober   *network.Prober
	unsubs   []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	database, err := db.Open(filepath.Dir(cfg.Store.Path), filepath.Base(cfg.Store.Path))
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	repo := db.NewRepository(database.DB)

	store, err := queue.Open(ctx, repo, queue.Options{})
	if err != nil {
		repo.Close()
		database.Close()
		return nil, err
	}

	tr, err := transport.NewHTTP(transport.HTTPConfig{ServerURL: cfg.Sync.ServerURL, Timeout: cfg.Sync.SendTimeout})
	if err != nil {
		store.Close()
		repo.Close()
		database.Close()
		return nil, err
	}

	// With a prober, start_online is the reachability assumed until the
	// first probe and the UI signal starts online.
	pc := cfg.Prober()
	monitor := network.NewMonitor(cfg.Network.StartOnline)
	if pc.URL != "" {
		monitor = network.NewProbedMonitor(cfg.Network.StartOnline)
	}
	engine := syncengine.NewSyncEngine(store, tr, monitor, repo, cfg.Engine())

	a := &app{
		cfg:      cfg,
		database: database,
		repo:     repo,
		store:    store,
		engine:   engine,
		hub:      NewWSHub(),
		metrics:  metrics.New(engine.Snapshot),
	}
	if pc.URL != "" {
		a.prober = network.NewProber(pc, monitor)
	}
	a.unsubs = append(a.unsubs, engine.Subscribe(a.hub.Publish), engine.Subscribe(a.metrics.Observe))
	return a, nil
}

// Router builds the local API.
func (a *app) Router() *gin.Engine {
	if strings.EqualFold(a.cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	(&server.HealthHandler{Ping: a.database.Ping}).Register(r)
	handlers.NewSyncHandler(a.engine).Register(r)
	r.GET("/ws", HandleWebSocket(a.hub))
	if a.cfg.Metrics.Enabled {
		r.GET(a.cfg.Metrics.Path, gin.WrapH(a.metrics.Handler()))
	}
	return r
}

// Run serves until ctx is done.
func (a *app) Run(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Terminal.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(gctx) })
	if a.prober != nil {
		g.Go(func() error { return a.prober.Run(gctx) })
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close stops the engine and releases the store.
func (a *app) Close() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.engine.Stop()
	if err := a.store.Close(); err != nil {
		logging.Error("failed to close store", err)
	}
	a.repo.Close()
	a.database.Close()
}
