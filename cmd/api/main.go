package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"devfolio/internal/core/auth"
	"devfolio/internal/core/cache"
	"devfolio/internal/core/config"
	"devfolio/internal/core/database"
	"devfolio/internal/core/logger"
	"devfolio/internal/core/server"
	"devfolio/internal/domain"
	portfoliomodel "devfolio/internal/feature/portfolio"
	"devfolio/internal/feature/user"
	"devfolio/internal/realtime"
	"devfolio/internal/repo"
	"devfolio/internal/service"
	"devfolio/internal/transport/http/handler"
	"devfolio/internal/transport/http/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("CONFIG_PATH"))
	log, cleanup := newLogger(cfg)
	defer cleanup()
	// 标准库 log 的输出也收进 zap
	defer logger.RedirectStdLog(log, zapcore.WarnLevel)()

	// 数据库（失败会直接 Fatal）
	db := mustOpenDB(cfg, log)
	log.Info("database connected", zap.String("driver", cfg.DB.Driver))

	// 自动迁移
	if cfg.DB.AutoMigrate {
		if err := db.AutoMigrate(&user.UserModel{}, &portfoliomodel.PortfolioModel{}); err != nil {
			log.Fatal("automigrate failed", zap.Error(err))
		}
		log.Info("automigrate done")
	}

	// JWT
	jwter := &auth.JWTer{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		TTL:    time.Duration(cfg.JWT.AccessTokenTTLMin) * time.Minute,
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 实时扇出：Hub 总在本进程跑；有 Redis 时走频道广播 + Relay 桥接，
	// 没配 Redis 就退化为单进程直连（本地开发）
	hub := realtime.NewHub(log, realtime.HubConfig{
		MaxPerPortfolio: cfg.Realtime.MaxSessionsPerPortfolio,
		BroadcastBuffer: cfg.Realtime.BroadcastBuffer,
	})
	go hub.Run(rootCtx)

	var bc realtime.Broadcaster
	var publicCache *cache.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(rootCtx).Err(); err != nil {
			log.Fatal("redis ping", zap.Error(err))
		}
		bc = realtime.NewRedisBroadcaster(rdb)
		go realtime.NewRelay(rdb, hub, log).Run(rootCtx)
		publicCache = &cache.Cache{RDB: rdb}
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		bc = realtime.NewHubBroadcaster(hub)
		log.Warn("redis not configured, realtime events stay in-process")
	}

	// 组合页核心
	store := repo.NewPortfolioRepo(db)
	svc := service.NewPortfolioService(store, bc, log)
	var users domain.UserRepository = repo.NewUserRepo(db)
	ph := handler.NewPortfolioHandler(svc, users, publicCache, hub,
		time.Duration(cfg.Portfolio.PublicCacheTTLSec)*time.Second, log)

	// 路由
	r := router.NewAPIEngine(log, db, jwter, ph)

	// HTTP Server
	addr := server.Addr(cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	srv := server.BuildServer(
		addr, r,
		time.Duration(cfg.App.HTTP.ReadTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.WriteTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.IdleTimeoutSec)*time.Second,
	)
	if el, err := logger.ToStdLogger(log, zapcore.ErrorLevel); err == nil {
		srv.ErrorLog = el
	}

	// 启动日志
	host4human := cfg.App.HTTP.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.HTTP.Port)
	log.Info("api starting",
		zap.String("addr", addr),
		zap.String("open", baseURL),
		zap.String("health", baseURL+"/health"),
		zap.String("api_v1", baseURL+"/api/v1"),
	)

	// 异步启动
	go func() {
		if err := server.StartHTTP(srv, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api start FAILED", zap.Error(err))
		}
	}()
	log.Info("api started SUCCESS")

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	rootCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("api stopped gracefully")
}

func newLogger(cfg *config.Config) (*zap.Logger, func()) {
	if f := cfg.Log.File; f.Filename != "" {
		return logger.NewWithRotate(cfg.Log.Level, cfg.Log.JSON,
			f.Filename, f.MaxSizeMB, f.MaxBackups, f.MaxAgeDays, f.Compress)
	}
	return logger.New(cfg.Log.Level, cfg.Log.JSON)
}

func mustOpenDB(cfg *config.Config, l *zap.Logger) *gorm.DB {
	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
	})
	if err != nil {
		l.Fatal("db open", zap.Error(err))
	}
	return db
}
