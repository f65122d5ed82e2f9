package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fliptools/internal/api/dto"
	"fliptools/internal/middleware"
	"fliptools/internal/service"
	"fliptools/pkg/marketplace"
)

// ListingController 商品上架
type ListingController struct {
	svc *service.ListingService
}

func NewListingController(svc *service.ListingService) *ListingController {
	return &ListingController{svc: svc}
}

// List GET /api/listings/:platform
func (c *ListingController) List(ctx *gin.Context) {
	platform, ok := platformParam(ctx)
	if !ok {
		return
	}
	listings, err := c.svc.List(ctx.Request.Context(), middleware.GetUserID(ctx), platform)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": listings})
}

// Create POST /api/listings/:platform
func (c *ListingController) Create(ctx *gin.Context) {
	platform, ok := platformParam(ctx)
	if !ok {
		return
	}
	input, ok := bindListing(ctx)
	if !ok {
		return
	}
	listing, err := c.svc.Create(ctx.Request.Context(), middleware.GetUserID(ctx), platform, input)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"data": listing})
}

// Update PUT /api/listings/:platform/:id
func (c *ListingController) Update(ctx *gin.Context) {
	if _, ok := platformParam(ctx); !ok {
		return
	}
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}
	input, ok := bindListing(ctx)
	if !ok {
		return
	}
	listing, err := c.svc.Update(ctx.Request.Context(), middleware.GetUserID(ctx), id, input)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": listing})
}

// Delete DELETE /api/listings/:platform/:id
func (c *ListingController) Delete(ctx *gin.Context) {
	if _, ok := platformParam(ctx); !ok {
		return
	}
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}
	if err := c.svc.Delete(ctx.Request.Context(), middleware.GetUserID(ctx), id); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "已下架"})
}

func bindListing(ctx *gin.Context) (marketplace.ListingInput, bool) {
	var req dto.ListingReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
		return marketplace.ListingInput{}, false
	}
	if !req.Price.IsPositive() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "price 必须大于 0"})
		return marketplace.ListingInput{}, false
	}
	return marketplace.ListingInput{
		SKU:         req.SKU,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Condition:   req.Condition,
	}, true
}
