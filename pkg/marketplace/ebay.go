package marketplace

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fliptools/internal/model"
	pkgnet "fliptools/pkg/net"
)

// EbayConfig eBay 应用配置
type EbayConfig struct {
	ClientID     string
	ClientSecret string
	RuName       string // eBay 用 RuName 代替 redirect_uri
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	Scopes       []string
	PageSize     int
}

func (c *EbayConfig) setDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = "https://auth.ebay.com/oauth2/authorize"
	}
	if c.TokenURL == "" {
		c.TokenURL = "https://api.ebay.com/identity/v1/oauth2/token"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.ebay.com"
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{
			"https://api.ebay.com/oauth/api_scope",
			"https://api.ebay.com/oauth/api_scope/sell.fulfillment.readonly",
			"https://api.ebay.com/oauth/api_scope/sell.inventory",
		}
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
}

type ebayAdapter struct {
	cfg    EbayConfig
	client *resty.Client
	log    *zap.Logger
}

var _ Adapter = (*ebayAdapter)(nil)

// NewEbayAdapter 创建 eBay 适配器
func NewEbayAdapter(cfg EbayConfig, client *resty.Client, log *zap.Logger) Adapter {
	cfg.setDefaults()
	return &ebayAdapter{cfg: cfg, client: client, log: log.Named("ebay")}
}

func (a *ebayAdapter) Platform() model.Platform { return model.PlatformEbay }

// ==================== 授权 ====================

func (a *ebayAdapter) AuthURL(_ context.Context, state string) (string, error) {
	params := url.Values{}
	params.Add("client_id", a.cfg.ClientID)
	params.Add("redirect_uri", a.cfg.RuName)
	params.Add("response_type", "code")
	params.Add("scope", strings.Join(a.cfg.Scopes, " "))
	params.Add("state", state)
	return fmt.Sprintf("%s?%s", a.cfg.AuthURL, params.Encode()), nil
}

type ebayTokenResp struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (a *ebayAdapter) ExchangeCode(ctx context.Context, code, _ string) (*TokenPair, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret).
		SetFormData(map[string]string{
			"grant_type":   "authorization_code",
			"code":         code,
			"redirect_uri": a.cfg.RuName,
		}).
		Post(a.cfg.TokenURL)
	if err != nil {
		return nil, &AuthExchangeError{Platform: model.PlatformEbay, Message: "network error", Err: err}
	}
	if resp.IsError() {
		return nil, &AuthExchangeError{Platform: model.PlatformEbay, StatusCode: resp.StatusCode(), Message: pkgnet.ErrorMessage(resp)}
	}

	var tr ebayTokenResp
	if err := pkgnet.DecodeJSON(resp, &tr); err != nil {
		return nil, &AuthExchangeError{Platform: model.PlatformEbay, Message: "invalid token response", Err: err}
	}
	return &TokenPair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// RefreshToken eBay 刷新不会返回新的 refresh_token
func (a *ebayAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"scope":         strings.Join(a.cfg.Scopes, " "),
		}).
		Post(a.cfg.TokenURL)
	if err != nil {
		return nil, &TokenRefreshError{Platform: model.PlatformEbay, Message: "network error", Err: err}
	}
	if resp.IsError() {
		return nil, &TokenRefreshError{Platform: model.PlatformEbay, StatusCode: resp.StatusCode(), Message: pkgnet.ErrorMessage(resp)}
	}

	var tr ebayTokenResp
	if err := pkgnet.DecodeJSON(resp, &tr); err != nil {
		return nil, &TokenRefreshError{Platform: model.PlatformEbay, Message: "invalid token response", Err: err}
	}
	return &TokenPair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// ==================== 销售 ====================

type ebayAmount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type ebayLineItem struct {
	LineItemID    string     `json:"lineItemId"`
	LegacyItemID  string     `json:"legacyItemId"`
	SKU           string     `json:"sku"`
	Title         string     `json:"title"`
	Quantity      int        `json:"quantity"`
	LineItemCost  ebayAmount `json:"lineItemCost"`
	ConditionText string     `json:"conditionDescription"`
	DeliveryCost  struct {
		ShippingCost ebayAmount `json:"shippingCost"`
	} `json:"deliveryCost"`
}

type ebayOrder struct {
	OrderID            string `json:"orderId"`
	CreationDate       string `json:"creationDate"`
	OrderPaymentStatus string `json:"orderPaymentStatus"`
	CancelStatus       struct {
		CancelState string `json:"cancelState"`
	} `json:"cancelStatus"`
	Buyer struct {
		Username string `json:"username"`
	} `json:"buyer"`
	TotalMarketplaceFee ebayAmount     `json:"totalMarketplaceFee"`
	LineItems           []ebayLineItem `json:"lineItems"`
}

type ebayOrdersResp struct {
	Orders []ebayOrder `json:"orders"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// GetSales 分页拉取订单，每个 line item 一条记录
func (a *ebayAdapter) GetSales(ctx context.Context, creds Credentials, query SalesQuery) ([]SaleImportRecord, error) {
	var records []SaleImportRecord
	offset := 0

	for page := 1; page <= maxPages; page++ {
		size := pageSize(a.cfg.PageSize, query.Limit, len(records))
		if size <= 0 {
			break
		}

		req := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, "").
			SetQueryParam("limit", fmt.Sprintf("%d", size)).
			SetQueryParam("offset", fmt.Sprintf("%d", offset))
		if query.StartDate != nil {
			req.SetQueryParam("filter", fmt.Sprintf("creationdate:[%s..]", query.StartDate.UTC().Format("2006-01-02T15:04:05.000Z")))
		}

		resp, err := req.Get(a.cfg.APIBaseURL + "/sell/fulfillment/v1/order")
		if err != nil {
			if ctx.Err() != nil {
				return records, ctx.Err()
			}
			a.log.Warn("拉取订单失败，返回已获取部分", zap.Error(&FetchError{Platform: model.PlatformEbay, Page: page, Message: err.Error(), Err: err}))
			break
		}
		if resp.IsError() {
			a.log.Warn("拉取订单失败，返回已获取部分", zap.Error(&FetchError{Platform: model.PlatformEbay, Page: page, StatusCode: resp.StatusCode(), Message: pkgnet.ErrorMessage(resp)}))
			break
		}

		var body ebayOrdersResp
		if err := pkgnet.DecodeJSON(resp, &body); err != nil {
			a.log.Warn("订单响应解析失败", zap.Int("page", page), zap.Error(err))
			break
		}

		for _, o := range body.Orders {
			records = append(records, a.toRecords(o)...)
		}

		offset += len(body.Orders)
		if len(body.Orders) < size || (body.Total > 0 && offset >= body.Total) {
			break
		}
		if limitReached(query.Limit, len(records)) {
			break
		}
	}

	if query.Limit > 0 && len(records) > query.Limit {
		records = records[:query.Limit]
	}
	return records, nil
}

// toRecords 订单级佣金按 line item 金额比例分摊，尾差记在最后一项
func (a *ebayAdapter) toRecords(o ebayOrder) []SaleImportRecord {
	if o.OrderPaymentStatus != "PAID" || o.CancelStatus.CancelState == "CANCELED" {
		return nil
	}
	soldAt, _ := time.Parse(time.RFC3339, o.CreationDate)

	orderTotal := decimal.Zero
	for _, li := range o.LineItems {
		orderTotal = orderTotal.Add(li.LineItemCost.Value)
	}

	out := make([]SaleImportRecord, 0, len(o.LineItems))
	allocated := decimal.Zero
	for i, li := range o.LineItems {
		fee := decimal.Zero
		switch {
		case i == len(o.LineItems)-1:
			fee = o.TotalMarketplaceFee.Value.Sub(allocated)
		case orderTotal.IsPositive():
			fee = o.TotalMarketplaceFee.Value.Mul(li.LineItemCost.Value).Div(orderTotal).Round(2)
		}
		allocated = allocated.Add(fee)

		rec := SaleImportRecord{
			Platform:          model.PlatformEbay,
			ExternalID:        li.LineItemID,
			Title:             li.Title,
			Price:             li.LineItemCost.Value,
			ShippingCost:      li.DeliveryCost.ShippingCost.Value,
			PlatformFees:      fee,
			SoldAt:            soldAt,
			Condition:         li.ConditionText,
			PlatformListingID: li.LegacyItemID,
			BuyerHandle:       o.Buyer.Username,
		}
		if li.LegacyItemID != "" {
			rec.ListingURL = "https://www.ebay.com/itm/" + li.LegacyItemID
		}
		out = append(out, rec)
	}
	return out
}

// ==================== 商品 ====================

func (a *ebayAdapter) inventoryItemBody(input ListingInput) map[string]any {
	condition := input.Condition
	if condition == "" {
		condition = "USED_GOOD"
	}
	return map[string]any{
		"condition": condition,
		"product": map[string]any{
			"title":       input.Title,
			"description": input.Description,
		},
		"availability": map[string]any{
			"shipToLocationAvailability": map[string]any{"quantity": input.Quantity},
		},
	}
}

// CreateListing eBay 以 SKU 作为库存项主键
func (a *ebayAdapter) CreateListing(ctx context.Context, creds Credentials, input ListingInput) (*ListingResult, error) {
	if input.SKU == "" {
		return nil, fmt.Errorf("ebay: sku is required")
	}
	if err := a.UpdateListing(ctx, creds, input.SKU, input); err != nil {
		return nil, err
	}
	return &ListingResult{PlatformListingID: input.SKU}, nil
}

func (a *ebayAdapter) UpdateListing(ctx context.Context, creds Credentials, platformListingID string, input ListingInput) error {
	resp, err := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, "").
		SetHeader("Content-Language", "en-US").
		SetBody(a.inventoryItemBody(input)).
		Put(a.cfg.APIBaseURL + "/sell/inventory/v1/inventory_item/" + url.PathEscape(platformListingID))
	if err != nil {
		return fmt.Errorf("ebay: put inventory item: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ebay: put inventory item [%d]: %s", resp.StatusCode(), pkgnet.ErrorMessage(resp))
	}
	return nil
}

func (a *ebayAdapter) DeleteListing(ctx context.Context, creds Credentials, platformListingID string) error {
	resp, err := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, "").
		Delete(a.cfg.APIBaseURL + "/sell/inventory/v1/inventory_item/" + url.PathEscape(platformListingID))
	if err != nil {
		return fmt.Errorf("ebay: delete inventory item: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ebay: delete inventory item [%d]: %s", resp.StatusCode(), pkgnet.ErrorMessage(resp))
	}
	return nil
}

// ==================== 费用 ====================

var ebayFixedFeeThreshold = decimal.NewFromInt(10)

// CalculateFees 成交费 13.25%，单笔固定费 $0.30 (售价 > $10 时 $0.40)
func (a *ebayAdapter) CalculateFees(price decimal.Decimal) FeeBreakdown {
	fixed := decimal.RequireFromString("0.30")
	if price.GreaterThan(ebayFixedFeeThreshold) {
		fixed = decimal.RequireFromString("0.40")
	}
	return finishFees(FeeBreakdown{
		Platform:      model.PlatformEbay,
		Price:         price,
		FinalValueFee: percentOf(price, "13.25"),
		ListingFee:    decimal.Zero,
		PaymentFee:    decimal.Zero,
		FixedFee:      fixed,
	})
}
