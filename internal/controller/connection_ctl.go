package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fliptools/internal/api/dto"
	"fliptools/internal/middleware"
	"fliptools/internal/model"
	"fliptools/internal/service"
)

// ConnectionController 平台授权
type ConnectionController struct {
	svc *service.ConnectionService
	// settingsURL 非空时回调成功后跳转回前端设置页
	settingsURL string
}

func NewConnectionController(svc *service.ConnectionService, settingsURL string) *ConnectionController {
	return &ConnectionController{svc: svc, settingsURL: settingsURL}
}

// List 已连接的平台
// @Summary 平台连接列表
// @Tags Connections
// @Produce json
// @Success 200 {array} dto.ConnectionVO
// @Router /api/connections [get]
func (c *ConnectionController) List(ctx *gin.Context) {
	conns, err := c.svc.List(ctx.Request.Context(), middleware.GetUserID(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	list := make([]dto.ConnectionVO, len(conns))
	for i := range conns {
		list[i] = toConnectionVO(&conns[i])
	}
	ctx.JSON(http.StatusOK, gin.H{"data": list})
}

// AuthURL 生成授权链接
// @Summary 获取平台授权链接
// @Tags Connections
// @Param platform path string true "ebay / etsy / depop"
// @Success 200 {object} dto.AuthURLResp
// @Failure 400 {object} map[string]string "未知平台"
// @Router /api/connections/{platform}/auth-url [get]
func (c *ConnectionController) AuthURL(ctx *gin.Context) {
	platform, ok := platformParam(ctx)
	if !ok {
		return
	}
	url, err := c.svc.AuthURL(ctx.Request.Context(), middleware.GetUserID(ctx), platform)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": dto.AuthURLResp{URL: url}})
}

// Callback 平台回调，用户由 state 确定，不走 JWT
// @Summary 平台授权回调
// @Tags Connections
// @Param platform path string true "ebay / etsy / depop"
// @Param code query string true "授权码"
// @Param state query string true "安全校验码"
// @Failure 400 {object} map[string]string "拒绝授权/state 无效"
// @Failure 502 {object} map[string]string "平台拒绝换取 Token"
// @Router /api/oauth/{platform}/callback [get]
func (c *ConnectionController) Callback(ctx *gin.Context) {
	platform, ok := platformParam(ctx)
	if !ok {
		return
	}
	var req dto.OAuthCallbackReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "缺少必要参数 state"})
		return
	}
	if req.Error != "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "用户拒绝了授权", "platform_msg": req.Error})
		return
	}
	if req.Code == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "缺少必要参数 code"})
		return
	}

	conn, err := c.svc.HandleCallback(ctx.Request.Context(), platform, req.Code, req.State)
	if err != nil {
		respondError(ctx, err)
		return
	}

	if c.settingsURL != "" {
		ctx.Redirect(http.StatusFound, c.settingsURL+"?connected="+platform.String())
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "平台绑定成功", "data": toConnectionVO(conn)})
}

// ConnectManual 手动录入凭证
// POST /api/connections/:platform/manual
func (c *ConnectionController) ConnectManual(ctx *gin.Context) {
	platform, ok := platformParam(ctx)
	if !ok {
		return
	}
	var req dto.ManualConnectReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
		return
	}

	conn, err := c.svc.ConnectManual(ctx.Request.Context(), middleware.GetUserID(ctx), platform, service.ManualCredentials{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
		AccountID:    req.AccountID,
		DisplayName:  req.DisplayName,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": toConnectionVO(conn)})
}

// Disconnect 断开平台，已导入的销售保留
// DELETE /api/connections/:platform
func (c *ConnectionController) Disconnect(ctx *gin.Context) {
	platform, ok := platformParam(ctx)
	if !ok {
		return
	}
	if err := c.svc.Disconnect(ctx.Request.Context(), middleware.GetUserID(ctx), platform); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "已断开"})
}

func toConnectionVO(conn *model.PlatformConnection) dto.ConnectionVO {
	vo := dto.ConnectionVO{
		ID:             conn.ID,
		Platform:       conn.Platform.String(),
		AccountID:      conn.AccountID,
		DisplayName:    conn.DisplayName,
		TokenStatus:    conn.TokenStatus,
		NeedsReconnect: conn.TokenStatus == model.TokenStatusInvalid,
		ConnectedAt:    conn.ConnectedAt,
		LastSyncedAt:   conn.LastSyncedAt,
	}
	if !conn.NeverExpires() {
		exp := conn.TokenExpiresAt
		vo.TokenExpiresAt = &exp
	}
	return vo
}
