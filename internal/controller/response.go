package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fliptools/internal/model"
	"fliptools/internal/service"
	"fliptools/pkg/marketplace"
)

// respondError 业务错误 -> HTTP 状态码
func respondError(ctx *gin.Context, err error) {
	var (
		unknownErr  *marketplace.UnknownPlatformError
		exchangeErr *marketplace.AuthExchangeError
		refreshErr  *marketplace.TokenRefreshError
	)
	switch {
	case errors.As(err, &unknownErr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &exchangeErr):
		ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.As(err, &refreshErr):
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": refreshErr.UserMessage(), "reconnect": true})
	case errors.Is(err, service.ErrNotConnected),
		errors.Is(err, service.ErrSaleNotFound),
		errors.Is(err, service.ErrListingNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrInvalidCostBasis),
		errors.Is(err, service.ErrInvalidCredentials):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrDuplicateSale):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// platformParam 解析路径中的 :platform
func platformParam(ctx *gin.Context) (model.Platform, bool) {
	p, err := marketplace.ParsePlatform(ctx.Param("platform"))
	if err != nil {
		respondError(ctx, err)
		return "", false
	}
	return p, true
}

// parseDate 空串返回 nil
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
