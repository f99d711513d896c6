package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/miyako/questforge/api/rest"
	apows "github.com/miyako/questforge/api/ws"
	"github.com/miyako/questforge/audit"
	"github.com/miyako/questforge/cache"
	"github.com/miyako/questforge/config"
	dbadapter "github.com/miyako/questforge/db"
	"github.com/miyako/questforge/game/player"
	"github.com/miyako/questforge/game/quest"
	mw "github.com/miyako/questforge/middleware"
	"github.com/miyako/questforge/model"
	"github.com/miyako/questforge/scheduler"
	"github.com/miyako/questforge/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
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
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Document store + async writer ----
	st := store.NewGormStore(db, logger)
	st.ReadTimeout = cfg.Quest.ReadTimeout
	st.BulkTimeout = cfg.Quest.BulkTimeout
	writer := store.NewWriter(st, cfg.Quest.SaveRetries, logger)
	defer writer.Stop()

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
	logger.Info("Cache initialized")

	// ---- Quest definitions ----
	defs, err := quest.LoadDefinitions(cfg.Quest.DefinitionsDir, logger)
	if err != nil {
		log.Fatalf("quest definitions: %v", err)
	}
	logger.Info("Quest definitions loaded", zap.Int("count", len(defs)))

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Audit trail ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop()
	if unsub, err := auditSvc.ListenCompletions(context.Background(), pubsub, quest.CompletionChannel); err != nil {
		logger.Warn("completion audit listener failed", zap.Error(err))
	} else {
		defer unsub()
	}

	// ---- Game systems ----
	sm := player.NewSessionManager(logger)
	reg := quest.NewRegistry(st, writer, defs, cfg.Quest, logger)
	notifier := quest.NewNotifier(c, pubsub, logger)
	engine := quest.NewEngine(reg, notifier, logger)

	// Periodic safety net: resident records are persisted on every mutation,
	// the flush just bounds data loss if the process dies mid-write.
	sched.AddTicker("quest_flush", cfg.Quest.FlushInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Quest.BulkTimeout)
		defer cancel()
		reg.FlushAll(ctx)
	})

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	eh := apows.NewEventHandlers(engine, reg, logger)
	eh.RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	questH := apirest.NewQuestHandler(reg, notifier, sm, auditSvc, logger)
	adminH := apirest.NewAdminHandler(db, sm, reg, sched, cfg.Quest.DefinitionsDir, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		questsG := api.Group("/quests")
		questsG.GET("", questH.ListQuests)
		questsG.GET("/leaderboard", questH.Leaderboard)
		questsG.GET("/:id", questH.GetQuest)

		playerG := api.Group("/player/quests")
		playerG.Use(mw.Auth(cfg.Security, c))
		playerG.GET("/active", questH.ActiveQuests)
		playerG.GET("/completed", questH.CompletedQuests)
		playerG.POST("/accept", questH.AcceptQuest)
		playerG.GET("/:instance", questH.QuestProgress)
		playerG.POST("/:instance/abandon", questH.AbandonQuest)
		playerG.POST("/:instance/claim", questH.ClaimReward)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPs), apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/players", adminH.ListPlayers)
		adminG.POST("/kick/:id", adminH.KickPlayer)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.POST("/quests/reload", adminH.ReloadDefinitions)
		adminG.POST("/quests/flush", adminH.FlushProgress)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(c, cfg.Security, sm, reg, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- Run + graceful drain ----
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(addr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Fatalf("server: %v", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	// Disconnecting sessions unloads their records, so flush first.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reg.FlushAll(ctx)
	sm.CloseAllSessions()
}
