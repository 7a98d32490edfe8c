package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devfolio/internal/core/cache"
	"devfolio/internal/domain"
	"devfolio/internal/realtime"
	"devfolio/internal/service"
	resp "devfolio/internal/transport/http/response"
)

// PortfolioHandler 薄编排层：校验请求形状 → 过并发控制的服务方法 → 统一错误映射。
// 所有写端点都接受可选的 version（best-effort 模式下可省略）。
type PortfolioHandler struct {
	svc       *service.PortfolioService
	users     domain.UserRepository
	cache     *cache.Cache // 可为 nil：无 Redis 时公开页直查
	hub       *realtime.Hub
	publicTTL time.Duration
	log       *zap.Logger
}

func NewPortfolioHandler(svc *service.PortfolioService, users domain.UserRepository, c *cache.Cache, hub *realtime.Hub, publicTTL time.Duration, log *zap.Logger) *PortfolioHandler {
	if publicTTL <= 0 {
		publicTTL = 30 * time.Second
	}
	return &PortfolioHandler{svc: svc, users: users, cache: c, hub: hub, publicTTL: publicTTL, log: log}
}

// Mount public 无需登录；authed 已挂 JWT 中间件
func (h *PortfolioHandler) Mount(public, authed *gin.RouterGroup) {
	authed.GET("/portfolio", h.get)
	authed.PUT("/portfolio", h.update)
	authed.POST("/portfolio", h.update)
	authed.POST("/portfolio/blocks", h.addBlock)
	authed.PUT("/portfolio/blocks/reorder", h.reorderBlocks)
	authed.PUT("/portfolio/blocks/:blockId", h.updateBlock)
	authed.DELETE("/portfolio/blocks/:blockId", h.deleteBlock)
	authed.PUT("/portfolio/config/:field", h.mergeConfig)
	authed.POST("/portfolio/publish", h.publish)
	authed.POST("/portfolio/unpublish", h.unpublish)
	authed.GET("/portfolio/stream", h.stream)

	public.GET("/portfolio/public/:username", h.publicView)
	public.POST("/portfolio/public/:username/share", h.share)
}

func docOut(p *domain.Portfolio) gin.H {
	return gin.H{"portfolio": p, "version": p.Version}
}

// writeErr 错误分类在任何局部状态落库之前已经完成，这里只做翻译
func (h *PortfolioHandler) writeErr(c *gin.Context, err error) {
	var ve *domain.ValidationError
	var nf *domain.NotFoundError
	var ue *domain.UnauthorizedError
	var ce *domain.ConflictError
	var se *domain.StoreError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, resp.Error(resp.CodeBadRequest, ve.Error()))
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, resp.Error(resp.CodeNotFound, nf.Error()))
	case errors.As(err, &ue):
		c.JSON(http.StatusUnauthorized, resp.Error(resp.CodeUnauthorized, ue.Error()))
	case errors.As(err, &ce):
		c.JSON(http.StatusConflict, resp.New(resp.CodeConflict, "version conflict", gin.H{
			"currentVersion": ce.CurrentVersion,
			"portfolio":      ce.Current,
		}))
	case errors.As(err, &se):
		h.log.Error("store failure",
			zap.String("user_id", c.GetString("userId")),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, resp.Error(resp.CodeServerError, "storage error"))
	default:
		h.log.Error("unclassified failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, resp.Error(resp.CodeServerError, err.Error()))
	}
}

func (h *PortfolioHandler) get(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), c.GetString("userId"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(docOut(p)))
}

type updateIn struct {
	service.UpdateInput
	Version *int64 `json:"version,omitempty"`
}

func (h *PortfolioHandler) update(c *gin.Context) {
	var in updateIn
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, resp.Error(resp.CodeBadRequest, err.Error()))
		return
	}
	p, err := h.svc.Update(c.Request.Context(), c.GetString("userId"), in.Version, in.UpdateInput)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(docOut(p)))
}

type addBlockIn struct {
	Type     domain.BlockType `json:"type" binding:"required"`
	Content  map[string]any   `json:"content" binding:"required"`
	Position *int             `json:"position,omitempty"`
	Visible  *bool            `json:"visible,omitempty"`
	Version  *int64           `json:"version,omitempty"`
}

func (h *PortfolioHandler) addBlock(c *gin.Context) {
	var in addBlockIn
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, resp.Error(resp.CodeBadRequest, err.Error()))
		return
	}
	p, b, err := h.svc.AddBlock(c.Request.Context(), c.GetString("userId"), in.Version,
		domain.BlockInput{Type: in.Type, Content: in.Content, Visible: in.Visible}, in.Position)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp.OK(gin.H{"block": b, "version": p.Version}))
}

type updateBlockIn struct {
	Content map[string]any `json:"content,omitempty"`
	Visible *bool          `json:"visible,omitempty"`
	Version *int64         `json:"version,omitempty"`
}

func (h *PortfolioHandler) updateBlock(c *gin.Context) {
	var in updateBlockIn
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, resp.Error(resp.CodeBadRequest, err.Error()))
		return
	}
	p, b, err := h.svc.UpdateBlock(c.Request.Context(), c.GetString("userId"), in.Version,
		c.Param("blockId"), domain.BlockPatch{Content: in.Content, Visible: in.Visible})
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(gin.H{"block": b, "version": p.Version}))
}

func (h *PortfolioHandler) deleteBlock(c *gin.Context) {
	p, err := h.svc.DeleteBlock(c.Request.Context(), c.GetString("userId"),
		versionQuery(c), c.Param("blockId"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(docOut(p)))
}

type reorderIn struct {
	BlockIDs []string `json:"blockIds" binding:"required"`
	Version  *int64   `json:"version,omitempty"`
}

func (h *PortfolioHandler) reorderBlocks(c *gin.Context) {
	var in reorderIn
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, resp.Error(resp.CodeBadRequest, err.Error()))
		return
	}
	p, err := h.svc.ReorderBlocks(c.Request.Context(), c.GetString("userId"), in.Version, in.BlockIDs)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(docOut(p)))
}

type mergeConfigIn struct {
	Patch   map[string]any `json:"patch" binding:"required"`
	Version *int64         `json:"version,omitempty"`
}

func (h *PortfolioHandler) mergeConfig(c *gin.Context) {
	var in mergeConfigIn
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, resp.Error(resp.CodeBadRequest, err.Error()))
		return
	}
	p, err := h.svc.MergeConfig(c.Request.Context(), c.GetString("userId"), in.Version,
		c.Param("field"), in.Patch)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(docOut(p)))
}

type publishIn struct {
	domain.PublishOptions
	Version *int64 `json:"version,omitempty"`
}

func (h *PortfolioHandler) publish(c *gin.Context) {
	var in publishIn
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, resp.Error(resp.CodeBadRequest, err.Error()))
		return
	}
	p, err := h.svc.Publish(c.Request.Context(), c.GetString("userId"), in.Version, in.PublishOptions)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(docOut(p)))
}

func (h *PortfolioHandler) unpublish(c *gin.Context) {
	p, err := h.svc.Unpublish(c.Request.Context(), c.GetString("userId"), versionQuery(c))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(docOut(p)))
}

// stream 升级为 WebSocket 订阅自己文档的变更事件
func (h *PortfolioHandler) stream(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, resp.Error(resp.CodeServerError, "stream unavailable"))
		return
	}
	p, err := h.svc.Get(c.Request.Context(), c.GetString("userId"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	if err := realtime.ServeWS(h.hub, c.Writer, c.Request, p.ID, h.log); err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
	}
}

// publicView 公开投影：未保护的走 Redis cache-aside（singleflight 合并回源），
// 受保护的每次校验密码、永不进缓存
func (h *PortfolioHandler) publicView(c *gin.Context) {
	username := c.Param("username")
	u, err := h.users.FindByUsername(username)
	if err != nil {
		h.writeErr(c, &domain.StoreError{Op: "find_user", Err: err})
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, resp.Error(resp.CodeNotFound, "portfolio not found"))
		return
	}
	view, err := h.loadPublic(c, u.ID, username, c.Query("password"))
	if err != nil {
		h.writeErr(c, err)
		return
	}

	unique := c.Query("unique") == "1" || c.Query("unique") == "true"
	if verr := h.svc.RecordView(c.Request.Context(), view.ID, unique); verr != nil {
		h.log.Warn("record view failed", zap.String("portfolio_id", view.ID), zap.Error(verr))
	}
	c.JSON(http.StatusOK, resp.OK(view))
}

func (h *PortfolioHandler) loadPublic(c *gin.Context, ownerID, username, password string) (*domain.Portfolio, error) {
	ctx := c.Request.Context()
	if h.cache != nil && password == "" {
		return cache.GetOrLoadJSON[domain.Portfolio](h.cache, ctx, "public:"+username, h.publicTTL,
			func(ctx context.Context) (*domain.Portfolio, error) {
				return h.svc.Public(ctx, ownerID, "")
			})
	}
	return h.svc.Public(ctx, ownerID, password)
}

func (h *PortfolioHandler) share(c *gin.Context) {
	u, err := h.users.FindByUsername(c.Param("username"))
	if err != nil {
		h.writeErr(c, &domain.StoreError{Op: "find_user", Err: err})
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, resp.Error(resp.CodeNotFound, "portfolio not found"))
		return
	}
	view, err := h.loadPublic(c, u.ID, c.Param("username"), c.Query("password"))
	if err != nil {
		h.writeErr(c, err)
		return
	}
	if err := h.svc.RecordShare(c.Request.Context(), view.ID); err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OK(gin.H{"shared": true}))
}

func versionQuery(c *gin.Context) *int64 {
	raw := c.Query("version")
	if raw == "" {
		return nil
	}
	var v int64
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return nil
		}
		v = v*10 + int64(ch-'0')
	}
	return &v
}
