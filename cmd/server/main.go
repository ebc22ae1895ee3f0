// Package main runs the shore-side reconciliation server terminals sync to.
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

	"github.com/stevedores/dashboard-sync/internal/config"
	"github.com/stevedores/dashboard-sync/internal/db"
	"github.com/stevedores/dashboard-sync/internal/logging"
	"github.com/stevedores/dashboard-sync/internal/server"
)

func main() {
	cfgPath := os.Getenv("HARBOR_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/server.yaml"
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

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Open(filepath.Dir(cfg.Server.DBPath), filepath.Base(cfg.Server.DBPath))
	if err != nil {
		logging.L().Fatal("db open failed", zap.Error(err))
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		logging.L().Fatal("migrate failed", zap.Error(err))
	}
	repo := db.NewRepository(database.DB)
	defer repo.Close()

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewRouter(server.NewReconciler(repo), database.Ping),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("reconciler listening", map[string]interface{}{"addr": cfg.Server.HTTPAddr, "db": cfg.Server.DBPath})
	if err := serve(ctx, srv); err != nil {
		logging.L().Fatal("reconciler stopped with error", zap.Error(err))
	}
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
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
