package router

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"devfolio/internal/core/auth"
	"devfolio/internal/feature/user"
	httpez "devfolio/internal/transport/http/ez"
	"devfolio/pkg/utils"
)

// mountAuthActions 身份层是外部协作方：这里只负责换取 ownerId（uid）和 username，
// 组合页核心从不直接碰用户表
func mountAuthActions(api, authUser *gin.RouterGroup, db *gorm.DB, jwter *auth.JWTer) {
	ezPublic := httpez.New(api)

	// /auth/login：查不到就自动注册 + 发 JWT
	type loginIn struct {
		Email    string `json:"email"    binding:"required,email"`
		Password string `json:"password" binding:"required"`
		Username string `json:"username" binding:"omitempty,alphanum,max=64"` // 首次注册可指定
		Name     string `json:"name"     binding:"omitempty,max=64"`
	}
	type loginOut struct {
		Token string      `json:"token"`
		IsNew bool        `json:"isNew"`
		User  interface{} `json:"user"`
	}
	httpez.RegisterAction[loginIn, loginOut](ezPublic, db, httpez.Action[loginIn, loginOut]{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Binder: httpez.BindJSON,
		Auth:   false,
		Handler: func(c *gin.Context, tx *gorm.DB, in *loginIn) (loginOut, error) {
			email := strings.TrimSpace(in.Email)

			var u user.UserModel
			err := tx.Where("email = ?", email).First(&u).Error

			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				// 自动注册
				username := strings.ToLower(strings.TrimSpace(in.Username))
				if username == "" {
					username = usernameFromEmail(email)
				}
				name := strings.TrimSpace(in.Name)
				if name == "" {
					name = username
				}
				u = user.UserModel{
					ID:           utils.NewID(),
					Email:        email,
					Username:     username,
					Name:         name,
					PasswordHash: utils.HashPassword(in.Password),
					Role:         "user",
				}
				if e := tx.Create(&u).Error; e != nil {
					if isDupKey(e) {
						// email 撞：并发注册，回读；username 撞：加随机后缀再试一次
						if e2 := tx.Where("email = ?", email).First(&u).Error; e2 != nil {
							u.Username = username + "-" + utils.NewID()[:6]
							if e3 := tx.Create(&u).Error; e3 != nil {
								return loginOut{}, httpez.Internal("login failed", e3)
							}
						}
					} else {
						return loginOut{}, httpez.BadRequest(e.Error())
					}
				}
				tok, e := jwter.Issue(u.ID, u.Username, u.Role)
				if e != nil || tok == "" {
					return loginOut{}, httpez.Internal("issue token failed", e)
				}
				return loginOut{
					Token: tok, IsNew: true,
					User: gin.H{"id": u.ID, "email": u.Email, "username": u.Username, "name": u.Name, "role": u.Role},
				}, nil

			case err != nil:
				return loginOut{}, httpez.Internal("db error", err)

			default:
				// 已存在 → 校验密码
				if !utils.CheckPassword(in.Password, u.PasswordHash) {
					return loginOut{}, httpez.Unauthorized("invalid credentials")
				}
				tok, e := jwter.Issue(u.ID, u.Username, u.Role)
				if e != nil || tok == "" {
					return loginOut{}, httpez.Internal("issue token failed", e)
				}
				return loginOut{
					Token: tok, IsNew: false,
					User: gin.H{"id": u.ID, "email": u.Email, "username": u.Username, "name": u.Name, "role": u.Role},
				}, nil
			}
		},
	})

	// 鉴权分组 —— /me 必须挂在带中间件的分组
	ezAuth := httpez.New(authUser)

	type meOut struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Username string `json:"username"`
		Name     string `json:"name"`
		Role     string `json:"role"`
	}
	httpez.RegisterAction[struct{}, meOut](ezAuth, db, httpez.Action[struct{}, meOut]{
		Method: http.MethodGet,
		Path:   "/me",
		Binder: httpez.BindNone,
		Auth:   true,
		Handler: func(c *gin.Context, tx *gorm.DB, _ *struct{}) (meOut, error) {
			uid := c.GetString("userId")
			var u user.UserModel
			if err := tx.Where("id = ?", uid).First(&u).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return meOut{}, httpez.NotFound("user not found")
				}
				return meOut{}, httpez.Internal("db error", err)
			}
			return meOut{ID: u.ID, Email: u.Email, Username: u.Username, Name: u.Name, Role: u.Role}, nil
		},
	})
}

func usernameFromEmail(email string) string {
	name := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		name = email[:at]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user-" + utils.NewID()[:8]
	}
	return b.String()
}

func isDupKey(err error) bool {
	// 不依赖 gorm.ErrDuplicatedKey，避免驱动差异
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation") ||
		strings.Contains(msg, "duplicate key")
}
