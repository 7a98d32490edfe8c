package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"devfolio/internal/core/auth"
	"devfolio/internal/core/server"
	portfoliomodel "devfolio/internal/feature/portfolio"
	"devfolio/internal/feature/user"
	"devfolio/internal/service"
	httpez "devfolio/internal/transport/http/ez"
	mdw "devfolio/internal/transport/http/middleware"
)

func NewAdminEngine(l *zap.Logger, db *gorm.DB, jwter *auth.JWTer, svc *service.PortfolioService) *gin.Engine {
	// 基础引擎自带 ginzap 访问日志、恢复和 CORS
	r := server.NewRouter(l)

	r.Use(
		mdw.RequestID(),
		mdw.RateLimit(200, 400),
		mdw.ConcurrencyLimit(300),
		mdw.MaxBodyBytes(1<<20),
		mdw.Timeout(10*time.Second),
		mdw.Metrics(),
	)

	// 健康检查
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": 1}) })

	// 管理端 v1（统一要求 admin 角色）
	admin := r.Group("/admin/v1")
	admin.Use(mdw.AuthJWT(jwter, "admin"))

	mountAdminActions(admin, db, svc)

	return r
}

// mountAdminActions 后台接口集中在这里注册
func mountAdminActions(admin *gin.RouterGroup, db *gorm.DB, svc *service.PortfolioService) {
	ezAdmin := httpez.New(admin)

	// --- GET /admin/v1/users 用户列表 ---
	type listQ struct {
		Offset      int    `form:"offset,default=0"`
		Limit       int    `form:"limit,default=20"`
		Q           string `form:"q"`            // 按 email/username/name 模糊搜
		WithDeleted bool   `form:"with_deleted"` // 是否包含软删
	}
	type userRow struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		Username  string    `json:"username"`
		Name      string    `json:"name"`
		Role      string    `json:"role"`
		CreatedAt time.Time `json:"createdAt"`
	}
	type userListOut struct {
		Total int64     `json:"total"`
		Items []userRow `json:"items"`
	}
	httpez.RegisterAction[listQ, userListOut](ezAdmin, db, httpez.Action[listQ, userListOut]{
		Method: http.MethodGet,
		Path:   "/users",
		Binder: httpez.BindQuery,
		Auth:   true,
		Roles:  []string{"admin"},
		Handler: func(c *gin.Context, tx *gorm.DB, in *listQ) (userListOut, error) {
			if in.Limit <= 0 || in.Limit > 100 {
				in.Limit = 20
			}
			q := tx.WithContext(c).Model(&user.UserModel{})
			if in.WithDeleted {
				q = q.Unscoped()
			}
			if s := strings.TrimSpace(in.Q); s != "" {
				like := "%" + s + "%"
				q = q.Where("email LIKE ? OR username LIKE ? OR name LIKE ?", like, like, like)
			}

			var total int64
			if err := q.Count(&total).Error; err != nil {
				return userListOut{}, httpez.Internal("count users failed", err)
			}

			var us []user.UserModel
			if err := q.Order("created_at DESC").Limit(in.Limit).Offset(in.Offset).Find(&us).Error; err != nil {
				return userListOut{}, httpez.Internal("list users failed", err)
			}

			out := userListOut{Total: total, Items: make([]userRow, 0, len(us))}
			for _, u := range us {
				out.Items = append(out.Items, userRow{
					ID: u.ID, Email: u.Email, Username: u.Username, Name: u.Name, Role: u.Role, CreatedAt: u.CreatedAt,
				})
			}
			return out, nil
		},
	})

	// --- GET /admin/v1/portfolios 文档总览（状态/版本/计数） ---
	type pfRow struct {
		ID          string    `json:"id"`
		OwnerID     string    `json:"ownerId"`
		Status      string    `json:"status"`
		Version     int64     `json:"version"`
		Views       int64     `json:"views"`
		UniqueViews int64     `json:"uniqueViews"`
		Shares      int64     `json:"shares"`
		UpdatedAt   time.Time `json:"updatedAt"`
	}
	type pfListOut struct {
		Total int64   `json:"total"`
		Items []pfRow `json:"items"`
	}
	httpez.RegisterAction[listQ, pfListOut](ezAdmin, db, httpez.Action[listQ, pfListOut]{
		Method: http.MethodGet,
		Path:   "/portfolios",
		Binder: httpez.BindQuery,
		Auth:   true,
		Roles:  []string{"admin"},
		Handler: func(c *gin.Context, tx *gorm.DB, in *listQ) (pfListOut, error) {
			if in.Limit <= 0 || in.Limit > 100 {
				in.Limit = 20
			}
			q := tx.WithContext(c).Model(&portfoliomodel.PortfolioModel{})
			if s := strings.TrimSpace(in.Q); s != "" {
				q = q.Where("status = ?", s)
			}

			var total int64
			if err := q.Count(&total).Error; err != nil {
				return pfListOut{}, httpez.Internal("count portfolios failed", err)
			}

			var ms []portfoliomodel.PortfolioModel
			if err := q.Order("updated_at DESC").Limit(in.Limit).Offset(in.Offset).Find(&ms).Error; err != nil {
				return pfListOut{}, httpez.Internal("list portfolios failed", err)
			}

			out := pfListOut{Total: total, Items: make([]pfRow, 0, len(ms))}
			for _, m := range ms {
				out.Items = append(out.Items, pfRow{
					ID: m.ID, OwnerID: m.OwnerID, Status: m.Status, Version: m.Version,
					Views: m.Views, UniqueViews: m.UniqueViews, Shares: m.Shares, UpdatedAt: m.UpdatedAt,
				})
			}
			return out, nil
		},
	})

	// --- POST /admin/v1/users/:id/ban 封禁（软删）+ 级联清理文档 ---
	httpez.RegisterAction[struct{}, gin.H](ezAdmin, db, httpez.Action[struct{}, gin.H]{
		Method: http.MethodPost,
		Path:   "/users/:id/ban",
		Binder: httpez.BindNone,
		Auth:   true,
		Roles:  []string{"admin"},
		Handler: func(c *gin.Context, tx *gorm.DB, _ *struct{}) (gin.H, error) {
			id := c.Param("id")
			if id == "" {
				return nil, httpez.BadRequest("missing id")
			}
			res := tx.WithContext(c).Where("id = ?", id).Delete(&user.UserModel{})
			if res.Error != nil {
				return nil, httpez.Internal("ban user failed", res.Error)
			}
			if res.RowsAffected == 0 {
				return nil, httpez.NotFound("user not found")
			}
			// 账号删除级联：文档硬删
			if err := svc.PurgeOwner(c.Request.Context(), id); err != nil {
				return nil, httpez.Internal("purge portfolio failed", err)
			}
			return gin.H{"id": id}, nil
		},
	})
}
