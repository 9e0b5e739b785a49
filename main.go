package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/coopwave/server/api/rest"
	"github.com/kasuganosora/coopwave/server/api/sse"
	apows "github.com/kasuganosora/coopwave/server/api/ws"
	"github.com/kasuganosora/coopwave/server/audit"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/config"
	dbadapter "github.com/kasuganosora/coopwave/server/db"
	"github.com/kasuganosora/coopwave/server/game/chat"
	"github.com/kasuganosora/coopwave/server/game/director"
	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/script"
	"github.com/kasuganosora/coopwave/server/game/tracker"
	"github.com/kasuganosora/coopwave/server/game/world"
	mw "github.com/kasuganosora/coopwave/server/middleware"
	"github.com/kasuganosora/coopwave/server/model"
	"github.com/kasuganosora/coopwave/server/plugin/hook"
	"github.com/kasuganosora/coopwave/server/resource"
	"github.com/kasuganosora/coopwave/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// chatReplay is how many recent chat lines a new WS session receives.
	chatReplay = 20

	limiterSweep = 5 * time.Minute
	limiterIdle  = 10 * time.Minute
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database, logger)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Hooks: journal + leaderboard ----
	hooks := hook.NewHookCenter(logger)
	auditSvc := audit.New(db, logger)
	auditSvc.RegisterHooks(hooks)
	leaderboard := world.NewLeaderboard(c, logger)
	leaderboard.Register(hooks)

	// ---- Arena layout ----
	layout := resource.DefaultArena()
	if cfg.Encounter.ArenaPath != "" {
		layout, err = resource.LoadArena(cfg.Encounter.ArenaPath)
		if err != nil {
			log.Fatalf("arena: %v", err)
		}
	}
	logger.Info("Arena layout loaded", zap.String("name", layout.Name))

	// ---- Wave formula ----
	var sizer director.WaveSizer
	if cfg.Encounter.WaveFormula != "" {
		sb := script.NewSandbox(2, cfg.Encounter.ScriptTimeout, logger)
		formula, err := script.NewWaveFormula(sb, cfg.Encounter.WaveFormula, cfg.Encounter.BotsPerWave)
		if err != nil {
			log.Fatalf("encounter: %v", err)
		}
		sizer = formula
		logger.Info("Wave formula loaded", zap.String("formula", cfg.Encounter.WaveFormula))
	}

	// ---- Encounters ----
	mgr := world.NewManager(world.ManagerConfig{
		Layout: layout,
		Director: director.Config{
			InterWaveDelay: cfg.Encounter.InterWaveDelay,
			SpawnInterval:  cfg.Encounter.SpawnInterval,
			CheckInterval:  cfg.Encounter.CheckInterval,
			BotsPerWave:    cfg.Encounter.BotsPerWave,
		},
		Tracker:    tracker.Config(cfg.Tracker),
		TickRate:   cfg.Encounter.TickRate,
		ShotDamage: cfg.Encounter.ShotDamage,
		MaxArenas:  cfg.Encounter.MaxArenas,
		WaveSizer:  sizer,
	}, c, pubsub, hooks, logger)
	sm := player.NewSessionManager(logger)

	// ---- WS ----
	wsRouter := apows.NewRouter(logger)
	apows.RegisterRoomHandlers(wsRouter, mgr)
	chatH := chat.NewHandler(c, pubsub, sm, mgr, logger)
	wsRouter.On("chat_send", chatH.HandleSend)
	wsH := apows.NewHandler(cfg.Security, mgr, sm, pubsub, wsRouter, logger)
	wsH.OnConnect(func(s *player.Session) {
		chatH.SendHistory(context.Background(), s, chatReplay)
	})
	pusher := apows.NewPusher(mgr, sm, logger)

	// ---- Periodic Scheduler Tasks ----
	sched := scheduler.New(logger)
	if cfg.Encounter.ReapInterval > 0 {
		sched.AddTicker("arena_reaper", cfg.Encounter.ReapInterval, func() {
			mgr.ReapFinished(cfg.Encounter.FinishedGrace)
		})
	}
	if cfg.Encounter.SnapshotHz > 0 {
		sched.AddTicker("snapshot_push", time.Second/time.Duration(cfg.Encounter.SnapshotHz), pusher.Push)
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	limiter := mw.NewClientLimiter(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)
	r.Use(limiter.Middleware())
	sched.AddTicker("ratelimit_sweep", limiterSweep, func() {
		if n := limiter.Sweep(limiterIdle); n > 0 {
			logger.Debug("rate limiter swept", zap.Int("clients", n))
		}
	})

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "arenas": mgr.ActiveCount()})
	})

	encH := apirest.NewEncounterHandler(mgr, c, leaderboard, auditSvc, cfg.Security, logger)
	rankH := apirest.NewRankingHandler(leaderboard, logger)
	adminH := apirest.NewAdminHandler(mgr, c, sched, cfg.Encounter.FinishedGrace, logger).WithPubSub(pubsub).WithHooks(hooks).WithSessions(sm)
	sseH := sse.NewHandler(mgr, pubsub, c, logger)
	ticket := mw.Auth(cfg.Security, c)

	api := r.Group("/api")
	{
		encG := api.Group("/encounters")
		encG.POST("", encH.Create)
		encG.GET("", encH.List)
		encG.GET("/:id", encH.Status)
		encG.POST("/:id/join", encH.Join)
		encG.POST("/:id/spectate", encH.Spectate)
		encG.GET("/:id/events", encH.Events)
		encG.GET("/:id/kills", encH.Kills)

		// Ticket holders only.
		encG.GET("/:id/snapshot", ticket, encH.Snapshot)
		encG.GET("/:id/stream", ticket, sseH.ServeStream)
		encG.GET("/:id/ws", ticket, wsH.ServeWS)
		encG.POST("/:id/leave", ticket, mw.RequirePlayer(), encH.Leave)
		encG.POST("/:id/move", ticket, mw.RequirePlayer(), encH.Move)
		encG.POST("/:id/shoot", ticket, mw.RequirePlayer(), encH.Shoot)

		rankG := api.Group("/ranking")
		rankG.GET("/waves", rankH.TopWaves)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPs), apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/encounters", adminH.ListActive)
		adminG.DELETE("/encounters/:id", adminH.Destroy)
		adminG.POST("/reap", adminH.Reap)
		adminG.DELETE("/ranking", rankH.Reset)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.GET("/hooks", adminH.ListHooks)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sm.CloseAllSessions()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	mgr.StopAll()
	leaderboard.Close()
	auditSvc.Stop(shutdownCtx)
	cache.Close(c)
}
