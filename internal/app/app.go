package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xpanvictor/mimi/internal/auth"
	"github.com/xpanvictor/mimi/internal/config"
	"github.com/xpanvictor/mimi/internal/domains/utterance"
	"github.com/xpanvictor/mimi/internal/handlers/websocket"
	utteranceRepo "github.com/xpanvictor/mimi/internal/repository/utterance"
	"github.com/xpanvictor/mimi/internal/server"
	"github.com/xpanvictor/mimi/pkg/Logger"
	"github.com/xpanvictor/mimi/pkg/offline"
	"github.com/xpanvictor/mimi/pkg/offline/memstore"
	"github.com/xpanvictor/mimi/pkg/offline/redisstore"
	"gorm.io/gorm"
)

// App represents the application with all its dependencies
type App struct {
	Config   *config.Settings
	Logger   *Logger.Logger
	DB       *gorm.DB
	RC       *redis.Client
	Registry *prometheus.Registry

	Tokens     *auth.Authority
	Utterances utterance.UtteranceService
	Offline    *offline.Controller

	ws *websocket.WebSocketHandler
}

// NewApp wires every dependency. db and rc may be nil: utterances then live
// in memory and the redis cache storage is unavailable.
func NewApp(cfg *config.Settings, logger *Logger.Logger, db *gorm.DB, rc *redis.Client) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   Logger.OrNop(logger),
		DB:       db,
		RC:       rc,
		Registry: prometheus.NewRegistry(),
	}

	if err := app.setupDependencies(); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) setupDependencies() error {
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tokens, err := auth.NewAuthority(a.Config.Auth.JWTSecret)
	if err != nil {
		return err
	}
	a.Tokens = tokens

	var repo utterance.UtteranceRepository
	if a.DB != nil {
		repo = utteranceRepo.NewGormUtteranceRepo(a.DB)
	} else {
		a.Logger.Warn("no database configured, utterances are kept in memory")
		repo = utterance.NewMemoryRepository()
	}
	a.Utterances = utterance.NewUtteranceService(repo, a.Logger)

	return a.setupOffline()
}

func (a *App) setupOffline() error {
	cc := a.Config.Cache

	origin, err := url.Parse(a.Config.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	target, err := url.Parse(a.Config.Server.Upstream)
	if err != nil {
		return fmt.Errorf("server.upstream: %w", err)
	}

	var storage offline.Storage
	switch cc.Storage {
	case "redis":
		if a.RC == nil {
			return errors.New("cache.storage is redis but no redis client is configured")
		}
		storage = redisstore.New(a.RC, a.Config.Redis.Prefix)
	default:
		storage = memstore.New()
	}

	var selector offline.Selector = offline.AgentSelector{Patterns: cc.NetworkFirstAgents}
	if cc.Strategy != "" {
		strategy, err := offline.ParseStrategy(cc.Strategy)
		if err != nil {
			return fmt.Errorf("cache.strategy: %w", err)
		}
		selector = offline.StaticSelector(strategy)
	}

	metrics, err := offline.NewMetrics(a.Registry)
	if err != nil {
		return err
	}

	network := &offline.Upstream{
		Origin: origin,
		Target: target,
		Base:   &http.Transport{Proxy: http.ProxyFromEnvironment, ResponseHeaderTimeout: 15 * time.Second},
	}
	a.Offline, err = offline.New(storage, network, offline.Options{
		Origin:     origin,
		Generation: cc.Generation,
		Manifest:   cc.Manifest,
		ShellPath:  cc.ShellPath,
		Selector:   selector,
		Logger:     a.Logger,
		Metrics:    metrics,
	})
	return err
}

// Boot installs the shell generation and takes control. A failed install
// leaves the server up in pass-through mode.
func (a *App) Boot(ctx context.Context) {
	if err := a.Offline.Install(ctx); err != nil {
		a.Logger.Errorf("offline install of %s failed, serving pass-through: %v", a.Offline.Generation(), err)
		return
	}
	evicted, err := a.Offline.Activate(ctx)
	if err != nil {
		a.Logger.Errorf("offline activate failed: %v", err)
		return
	}
	a.Logger.Infof("offline generation %s active, evicted %v", a.Offline.Generation(), evicted)
}

// Router builds the gin engine.
func (a *App) Router() *gin.Engine {
	if !a.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	a.ws = server.InitializeRoutes(r, server.Dependencies{
		Config:     a.Config,
		Logger:     a.Logger,
		Tokens:     a.Tokens,
		Utterances: a.Utterances,
		Offline:    a.Offline,
		Gatherer:   a.Registry,
	})
	return r
}

// Close releases live sockets and connections.
func (a *App) Close() error {
	var errs []error
	if a.ws != nil {
		errs = append(errs, a.ws.Close())
	}
	if a.RC != nil {
		errs = append(errs, a.RC.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
