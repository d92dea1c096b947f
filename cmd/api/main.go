package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis"
	"github.com/xpanvictor/mimi/internal/app"
	"github.com/xpanvictor/mimi/internal/config"
	"github.com/xpanvictor/mimi/internal/database"
	"github.com/xpanvictor/mimi/pkg/Logger"
	"gorm.io/gorm"
)

// Serves the app shell through the offline cache controller and bridges
// browser speech recognition to server-side sessions.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := Logger.New(cfg.Debug)
	defer logger.Sync()
	logger.Infof("Starting mimi (env %s)", cfg.Env)

	var db *gorm.DB
	if cfg.DB.Enabled() {
		db, err = database.InitDB(cfg.DB, cfg.Debug)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		if err := database.MigrateDB(db); err != nil {
			logger.Fatalf("Migration failed: %v", err)
		}
	}

	var rc *redis.Client
	if cfg.Cache.Storage == "redis" {
		rc, err = database.NewRedis(cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
	}

	application, err := app.NewApp(cfg, logger, db, rc)
	if err != nil {
		logger.Fatalf("Failed to wire application: %v", err)
	}

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), time.Minute)
	application.Boot(bootCtx)
	cancelBoot()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           application.Router().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server exiting: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// 5 secs then cancel
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown error: %v", err)
	}
	if err := application.Close(); err != nil {
		logger.Errorf("Close error: %v", err)
	}
	logger.Info("Shutdown complete")
}
