package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fliptools/internal/api/dto"
	"fliptools/internal/middleware"
	"fliptools/internal/model"
	"fliptools/internal/repository"
	"fliptools/internal/service"
	"fliptools/pkg/marketplace"
)

// SaleController 销售台账
type SaleController struct {
	saleSvc *service.SaleService
	syncSvc *service.SyncService
}

func NewSaleController(saleSvc *service.SaleService, syncSvc *service.SyncService) *SaleController {
	return &SaleController{saleSvc: saleSvc, syncSvc: syncSvc}
}

// ==================== 同步 ====================

// Sync 同步已连接平台的销售
// @Summary 同步销售
// @Tags Sales
// @Produce json
// @Param force query bool false "跳过冷却"
// @Param start_date query string false "起始日期 2024-01-01"
// @Success 200 {object} dto.SyncSalesResp
// @Router /api/sales/sync [post]
func (c *SaleController) Sync(ctx *gin.Context) {
	var req dto.SyncSalesReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "start_date 格式应为 2006-01-02"})
		return
	}

	result, err := c.syncSvc.SyncPlatformSales(ctx.Request.Context(), middleware.GetUserID(ctx), service.SyncOptions{
		StartDate: start,
		Limit:     req.Limit,
		Force:     req.Force,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	resp := dto.SyncSalesResp{
		RunID:          result.RunID,
		Synced:         result.Synced,
		Total:          result.Fetched,
		AlreadyPresent: result.AlreadyPresent,
		Skipped:        make([]string, 0, len(result.Skipped)),
		Errors:         make([]dto.SyncErrorVO, 0, len(result.Errors)),
		Summary:        result.Summary(),
	}
	for _, p := range result.Skipped {
		resp.Skipped = append(resp.Skipped, p.String())
	}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, dto.SyncErrorVO{Platform: e.Platform.String(), Reason: e.Reason, Reconnect: e.Reconnect})
	}
	ctx.JSON(http.StatusOK, resp)
}

// ==================== 查询 ====================

// List 销售列表
// GET /api/sales
func (c *SaleController) List(ctx *gin.Context) {
	var req dto.ListSalesReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
		return
	}

	filter := repository.SaleFilter{
		UserID:   middleware.GetUserID(ctx),
		Keyword:  req.Keyword,
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if req.Platform != "" {
		p, err := marketplace.ParsePlatform(req.Platform)
		if err != nil {
			respondError(ctx, err)
			return
		}
		filter.Platform = p
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "start_date 格式应为 2006-01-02"})
		return
	}
	filter.StartDate = start
	end, err := parseDate(req.EndDate)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "end_date 格式应为 2006-01-02"})
		return
	}
	if end != nil {
		// 包含结束当天
		e := end.Add(24*time.Hour - time.Nanosecond)
		filter.EndDate = &e
	}

	sales, total, err := c.saleSvc.List(ctx.Request.Context(), filter)
	if err != nil {
		respondError(ctx, err)
		return
	}

	list := make([]dto.SaleVO, len(sales))
	for i := range sales {
		list[i] = toSaleVO(&sales[i])
	}
	ctx.JSON(http.StatusOK, gin.H{"data": dto.ListSalesResp{Total: total, List: list}})
}

// Stats 销售统计
// GET /api/sales/stats
func (c *SaleController) Stats(ctx *gin.Context) {
	var req dto.StatsReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "start_date 格式应为 2006-01-02"})
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "end_date 格式应为 2006-01-02"})
		return
	}
	if end != nil {
		e := end.Add(24*time.Hour - time.Nanosecond)
		end = &e
	}

	stats, err := c.saleSvc.Stats(ctx.Request.Context(), middleware.GetUserID(ctx), start, end)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": stats})
}

// ==================== 写操作 ====================

// Create 手动录入
// POST /api/sales
func (c *SaleController) Create(ctx *gin.Context) {
	var req dto.CreateSaleReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
		return
	}
	platform, err := marketplace.ParsePlatform(req.Platform)
	if err != nil {
		respondError(ctx, err)
		return
	}
	if !req.Price.IsPositive() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "price 必须大于 0"})
		return
	}

	in := service.ManualSaleInput{
		Platform:     platform,
		ExternalID:   req.ExternalID,
		Title:        req.Title,
		Price:        req.Price,
		ShippingCost: req.ShippingCost,
		PlatformFees: req.PlatformFees,
		CostBasis:    req.CostBasis,
		BuyerHandle:  req.BuyerHandle,
		ListingID:    req.ListingID,
	}
	if req.SoldAt != nil {
		in.SoldAt = *req.SoldAt
	}

	sale, err := c.saleSvc.CreateManual(ctx.Request.Context(), middleware.GetUserID(ctx), in)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"data": toSaleVO(sale)})
}

// UpdateCost 修改成本，利润随之重算
// PATCH /api/sales/:id/cost
func (c *SaleController) UpdateCost(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}
	var req dto.UpdateCostReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
		return
	}

	sale, err := c.saleSvc.UpdateCost(ctx.Request.Context(), middleware.GetUserID(ctx), id, req.CostBasis)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": toSaleVO(sale)})
}

// Delete 删除销售记录
// DELETE /api/sales/:id
func (c *SaleController) Delete(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}
	if err := c.saleSvc.Delete(ctx.Request.Context(), middleware.GetUserID(ctx), id); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "已删除"})
}

func toSaleVO(s *model.Sale) dto.SaleVO {
	return dto.SaleVO{
		ID:           s.ID,
		Platform:     s.Platform.String(),
		ExternalID:   s.ExternalID,
		ItemTitle:    s.ItemTitle,
		ItemImageURL: s.ItemImageURL,
		ItemURL:      s.ItemURL,
		Condition:    s.Condition,
		SalePrice:    s.SalePrice,
		ShippingCost: s.ShippingCost,
		PlatformFees: s.PlatformFees,
		CostBasis:    s.CostBasis,
		Profit:       s.Profit,
		BuyerHandle:  s.BuyerHandle,
		Source:       s.Source,
		ListingID:    s.ListingID,
		SoldAt:       s.SoldAt,
	}
}

// ==================== 费用试算 ====================

// FeeController 平台费用试算
type FeeController struct {
	saleSvc *service.SaleService
}

func NewFeeController(saleSvc *service.SaleService) *FeeController {
	return &FeeController{saleSvc: saleSvc}
}

// Calculate 费用拆分
// GET /api/fees/:platform?price=
func (c *FeeController) Calculate(ctx *gin.Context) {
	platform, ok := platformParam(ctx)
	if !ok {
		return
	}
	var req dto.FeeReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "无效的价格"})
		return
	}

	fb, err := c.saleSvc.CalculateFees(platform, price)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": fb})
}
