package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/AetherStake/internal/auth"
	"github.com/irfndi/AetherStake/internal/config"
	"github.com/irfndi/AetherStake/internal/database"
	"github.com/irfndi/AetherStake/internal/ledger"
	"github.com/irfndi/AetherStake/internal/metrics"
	"github.com/irfndi/AetherStake/internal/staking"
	"github.com/irfndi/AetherStake/internal/transaction"
	"github.com/irfndi/AetherStake/internal/user"
	"github.com/irfndi/AetherStake/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds the wired API and the resources it must release on shutdown
type app struct {
	router   *gin.Engine
	db       *gorm.DB
	rdb      *redis.Client
	wsServer *websocket.Server
	metrics  *metrics.Metrics
}

func newApp(cfg *config.Config, logger *logrus.Logger, clock staking.Clock) (*app, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a := &app{db: db}

	// Pool locks and auth nonces go through Redis when it is configured so
	// several API replicas can share one database
	var locker staking.Locker = staking.NewLocalLocker()
	var nonces auth.NonceStore = auth.NewMemoryNonceStore()
	if cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.rdb.Ping(context.Background()).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		locker = staking.NewRedisLocker(a.rdb, cfg.LockTTL)
		nonces = auth.NewRedisNonceStore(a.rdb)
		logger.WithField("addr", cfg.RedisAddr).Info("Using Redis pool locks and nonce store")
	}

	userRepo := user.NewUserRepository(db)
	for _, admin := range cfg.AdminAddresses {
		address, err := staking.NormalizeAddress(admin)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("admin address %q: %w", admin, err)
		}
		if err := userRepo.AddRole(context.Background(), address, user.RoleAdmin); err != nil {
			a.close()
			return nil, fmt.Errorf("seed admin role: %w", err)
		}
	}

	// Realtime feed and metrics
	a.wsServer = websocket.NewServer(cfg.AllowedOrigins, logger)
	a.wsServer.Start()

	a.metrics = metrics.New()
	a.metrics.TrackGauge("websocket_clients", "Connected websocket clients.", func() float64 {
		return float64(a.wsServer.Hub.GetClientCount())
	})

	journal := transaction.NewTransactionRepository(db)
	tokens := ledger.NewLedger(db)
	stakingService := staking.NewService(db, staking.NewRepository(db), tokens, journal, staking.Options{
		Clock:    clock,
		Locker:   locker,
		Funders:  user.NewRoleFunderPolicy(userRepo),
		Notifier: a.wsServer.Hub,
		Metrics:  a.metrics,
		Logger:   logger,
		Decimals: cfg.TokenDecimals,
	})

	authMiddleware := auth.NewAuthMiddleware(userRepo, nonces)
	requireAuth := authMiddleware.RequireAuth()

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(auth.SecurityHeaders())
	router.Use(auth.SecureCORS(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"service":   "aetherstake-api",
		})
	})
	a.metrics.RegisterRoutes(router)
	a.wsServer.RegisterRoutes(router, requireAuth)

	v1 := router.Group("/api/v1")
	{
		staking.NewHandler(stakingService).RegisterRoutes(v1, requireAuth)
		transaction.NewHandler(journal).RegisterRoutes(v1)
		ledger.NewHandler(tokens, cfg.TokenDecimals, cfg.EnableFaucet).RegisterRoutes(v1)
		user.NewHandler(userRepo).RegisterRoutes(v1, requireAuth, authMiddleware.RequireRole(user.RoleAdmin))
	}
	a.router = router

	return a, nil
}

func (a *app) close() {
	if a.wsServer != nil {
		a.wsServer.Stop()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
