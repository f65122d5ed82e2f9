package marketplace

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fliptools/internal/model"
	pkgnet "fliptools/pkg/net"
)

// DepopConfig Depop 合作方 API 配置
type DepopConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	Scopes       []string
	PageSize     int
}

func (c *DepopConfig) setDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = "https://www.depop.com/oauth/authorize"
	}
	if c.TokenURL == "" {
		c.TokenURL = "https://webapi.depop.com/oauth/token"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://webapi.depop.com"
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"sales:read", "products:write"}
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
}

// depopPaidStatuses 视为已成交的订单状态
var depopPaidStatuses = map[string]bool{
	"PAID":      true,
	"SHIPPED":   true,
	"COMPLETED": true,
}

type depopAdapter struct {
	cfg    DepopConfig
	client *resty.Client
	log    *zap.Logger
}

var _ Adapter = (*depopAdapter)(nil)

// NewDepopAdapter 创建 Depop 适配器
func NewDepopAdapter(cfg DepopConfig, client *resty.Client, log *zap.Logger) Adapter {
	cfg.setDefaults()
	return &depopAdapter{cfg: cfg, client: client, log: log.Named("depop")}
}

func (a *depopAdapter) Platform() model.Platform { return model.PlatformDepop }

// ==================== 授权 ====================

func (a *depopAdapter) AuthURL(_ context.Context, state string) (string, error) {
	params := url.Values{}
	params.Add("client_id", a.cfg.ClientID)
	params.Add("redirect_uri", a.cfg.RedirectURI)
	params.Add("response_type", "code")
	params.Add("scope", strings.Join(a.cfg.Scopes, " "))
	params.Add("state", state)
	return fmt.Sprintf("%s?%s", a.cfg.AuthURL, params.Encode()), nil
}

type depopTokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
}

// ExchangeCode Depop 只下发 access_token；expires_in 为 0 时视为长期有效
func (a *depopAdapter) ExchangeCode(ctx context.Context, code, _ string) (*TokenPair, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret).
		SetFormData(map[string]string{
			"grant_type":   "authorization_code",
			"code":         code,
			"redirect_uri": a.cfg.RedirectURI,
		}).
		Post(a.cfg.TokenURL)
	if err != nil {
		return nil, &AuthExchangeError{Platform: model.PlatformDepop, Message: "network error", Err: err}
	}
	if resp.IsError() {
		return nil, &AuthExchangeError{Platform: model.PlatformDepop, StatusCode: resp.StatusCode(), Message: pkgnet.ErrorMessage(resp)}
	}

	var tr depopTokenResp
	if err := pkgnet.DecodeJSON(resp, &tr); err != nil {
		return nil, &AuthExchangeError{Platform: model.PlatformDepop, Message: "invalid token response", Err: err}
	}
	pair := &TokenPair{
		AccessToken: tr.AccessToken,
		DisplayName: tr.Username,
	}
	if tr.ExpiresIn > 0 {
		pair.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if tr.UserID > 0 {
		pair.AccountID = strconv.FormatInt(tr.UserID, 10)
	}
	return pair, nil
}

// RefreshToken 不支持刷新，只能重新授权
func (a *depopAdapter) RefreshToken(_ context.Context, _ string) (*TokenPair, error) {
	return nil, &TokenRefreshError{Platform: model.PlatformDepop, Message: "depop does not support token refresh"}
}

// ==================== 销售 ====================

type depopPicture struct {
	URL string `json:"url"`
}

type depopSale struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	SoldAt string `json:"sold_at"`
	Buyer  struct {
		Username string `json:"username"`
	} `json:"buyer"`
	Product struct {
		ID          string         `json:"id"`
		Slug        string         `json:"slug"`
		Description string         `json:"description"`
		Condition   string         `json:"condition"`
		Pictures    []depopPicture `json:"pictures"`
	} `json:"product"`
	Price struct {
		Total    decimal.Decimal  `json:"total"`
		Shipping decimal.Decimal  `json:"shipping"`
		Fees     *decimal.Decimal `json:"fees"`
	} `json:"price"`
}

type depopSalesResp struct {
	Objects []depopSale `json:"objects"`
	Meta    struct {
		Cursor string `json:"cursor"`
		End    bool   `json:"end"`
	} `json:"meta"`
}

// GetSales 游标分页，meta.end 为 true 或游标为空即结束
func (a *depopAdapter) GetSales(ctx context.Context, creds Credentials, query SalesQuery) ([]SaleImportRecord, error) {
	var records []SaleImportRecord
	cursor := ""

	for page := 1; page <= maxPages; page++ {
		size := pageSize(a.cfg.PageSize, query.Limit, len(records))
		if size <= 0 {
			break
		}

		req := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, "").
			SetQueryParam("limit", strconv.Itoa(size))
		if cursor != "" {
			req.SetQueryParam("cursor", cursor)
		}
		if query.StartDate != nil {
			req.SetQueryParam("since", query.StartDate.UTC().Format(time.RFC3339))
		}

		resp, err := req.Get(a.cfg.APIBaseURL + "/api/v1/shop/sales")
		if err != nil {
			if ctx.Err() != nil {
				return records, ctx.Err()
			}
			a.log.Warn("拉取销售失败，返回已获取部分", zap.Error(&FetchError{Platform: model.PlatformDepop, Page: page, Message: err.Error(), Err: err}))
			break
		}
		if resp.IsError() {
			a.log.Warn("拉取销售失败，返回已获取部分", zap.Error(&FetchError{Platform: model.PlatformDepop, Page: page, StatusCode: resp.StatusCode(), Message: pkgnet.ErrorMessage(resp)}))
			break
		}

		var body depopSalesResp
		if err := pkgnet.DecodeJSON(resp, &body); err != nil {
			a.log.Warn("销售响应解析失败", zap.Int("page", page), zap.Error(err))
			break
		}

		for _, s := range body.Objects {
			if rec, ok := a.toRecord(s); ok {
				records = append(records, rec)
			}
		}

		if body.Meta.End || body.Meta.Cursor == "" || len(body.Objects) < size {
			break
		}
		if limitReached(query.Limit, len(records)) {
			break
		}
		cursor = body.Meta.Cursor
	}

	if query.Limit > 0 && len(records) > query.Limit {
		records = records[:query.Limit]
	}
	return records, nil
}

func (a *depopAdapter) toRecord(s depopSale) (SaleImportRecord, bool) {
	if !depopPaidStatuses[strings.ToUpper(s.Status)] {
		return SaleImportRecord{}, false
	}
	soldAt, _ := time.Parse(time.RFC3339, s.SoldAt)

	fees := a.CalculateFees(s.Price.Total).Total
	if s.Price.Fees != nil {
		fees = *s.Price.Fees
	}

	rec := SaleImportRecord{
		Platform:          model.PlatformDepop,
		ExternalID:        s.ID,
		Title:             firstLine(s.Product.Description),
		Price:             s.Price.Total,
		ShippingCost:      s.Price.Shipping,
		PlatformFees:      fees,
		SoldAt:            soldAt,
		Condition:         s.Product.Condition,
		PlatformListingID: s.Product.ID,
		BuyerHandle:       s.Buyer.Username,
	}
	if len(s.Product.Pictures) > 0 {
		rec.ImageURL = s.Product.Pictures[0].URL
	}
	if s.Product.Slug != "" {
		rec.ListingURL = "https://www.depop.com/products/" + s.Product.Slug + "/"
	}
	return rec, true
}

// firstLine Depop 没有标题字段，取描述首行
func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(line); len(r) > 120 {
		line = string(r[:120])
	}
	return line
}

// ==================== 商品 ====================

func depopProductBody(input ListingInput) map[string]any {
	desc := input.Title
	if input.Description != "" {
		desc = input.Title + "\n" + input.Description
	}
	return map[string]any{
		"description": desc,
		"price":       input.Price.StringFixed(2),
		"quantity":    input.Quantity,
		"condition":   input.Condition,
		"sku":         input.SKU,
	}
}

func (a *depopAdapter) CreateListing(ctx context.Context, creds Credentials, input ListingInput) (*ListingResult, error) {
	resp, err := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, "").
		SetBody(depopProductBody(input)).
		Post(a.cfg.APIBaseURL + "/api/v1/products")
	if err != nil {
		return nil, fmt.Errorf("depop: create product: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("depop: create product [%d]: %s", resp.StatusCode(), pkgnet.ErrorMessage(resp))
	}

	var out struct {
		ID   string `json:"id"`
		Slug string `json:"slug"`
	}
	if err := pkgnet.DecodeJSON(resp, &out); err != nil {
		return nil, err
	}
	result := &ListingResult{PlatformListingID: out.ID}
	if out.Slug != "" {
		result.URL = "https://www.depop.com/products/" + out.Slug + "/"
	}
	return result, nil
}

func (a *depopAdapter) UpdateListing(ctx context.Context, creds Credentials, platformListingID string, input ListingInput) error {
	resp, err := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, "").
		SetBody(depopProductBody(input)).
		Patch(a.cfg.APIBaseURL + "/api/v1/products/" + url.PathEscape(platformListingID))
	if err != nil {
		return fmt.Errorf("depop: update product: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("depop: update product [%d]: %s", resp.StatusCode(), pkgnet.ErrorMessage(resp))
	}
	return nil
}

func (a *depopAdapter) DeleteListing(ctx context.Context, creds Credentials, platformListingID string) error {
	resp, err := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, "").
		Delete(a.cfg.APIBaseURL + "/api/v1/products/" + url.PathEscape(platformListingID))
	if err != nil {
		return fmt.Errorf("depop: delete product: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("depop: delete product [%d]: %s", resp.StatusCode(), pkgnet.ErrorMessage(resp))
	}
	return nil
}

// ==================== 费用 ====================

// CalculateFees 美国站免成交费，支付手续费 3.3% + $0.45
func (a *depopAdapter) CalculateFees(price decimal.Decimal) FeeBreakdown {
	return finishFees(FeeBreakdown{
		Platform:      model.PlatformDepop,
		Price:         price,
		FinalValueFee: decimal.Zero,
		ListingFee:    decimal.Zero,
		PaymentFee:    percentOf(price, "3.3"),
		FixedFee:      decimal.RequireFromString("0.45"),
	})
}
