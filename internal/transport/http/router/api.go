package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"devfolio/internal/core/auth"
	"devfolio/internal/transport/http/handler"
	mdw "devfolio/internal/transport/http/middleware"
)

func NewAPIEngine(l *zap.Logger, db *gorm.DB, jwter *auth.JWTer, ph *handler.PortfolioHandler) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(
		mdw.RequestID(),
		mdw.RateLimit(200, 400),
		mdw.ConcurrencyLimit(300),
		mdw.MaxBodyBytes(1<<20),
		mdw.Timeout(10*time.Second),
		mdw.SimpleRecovery(),
		mdw.Metrics(),
		mdw.AccessLog(l),
	)

	// 健康检查 + 指标
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 前缀
	api := r.Group("/api/v1")

	// 鉴权分组
	authUser := api.Group("")
	authUser.Use(mdw.AuthJWT(jwter, ""))

	// /auth/login（公共）和 /me（鉴权）；纯内存模式下没有用户表，跳过
	if db != nil {
		mountAuthActions(api, authUser, db, jwter)
	}

	// 组合页核心：公开投影匿名可达，额外按 IP 限速挡刷计数；其余挂鉴权分组
	public := api.Group("", mdw.RateLimitPerIP(5, 20))
	ph.Mount(public, authUser)

	return r
}
