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
	"fliptools/pkg/utils"
)

// EtsyConfig Etsy 应用配置 (公开客户端，PKCE，无 secret)
type EtsyConfig struct {
	ClientID    string // keystring，同时作为 x-api-key
	RedirectURI string
	AuthURL     string
	TokenURL    string
	APIBaseURL  string
	Scopes      []string
	PageSize    int
}

func (c *EtsyConfig) setDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = "https://www.etsy.com/oauth/connect"
	}
	if c.TokenURL == "" {
		c.TokenURL = "https://api.etsy.com/v3/public/oauth/token"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://openapi.etsy.com/v3"
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"transactions_r", "listings_r", "listings_w", "listings_d", "shops_r"}
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		c.PageSize = 100
	}
}

type etsyAdapter struct {
	cfg    EtsyConfig
	client *resty.Client
	states StateStore
	log    *zap.Logger
}

var _ Adapter = (*etsyAdapter)(nil)

// NewEtsyAdapter 创建 Etsy 适配器，states 用于保存 PKCE verifier
func NewEtsyAdapter(cfg EtsyConfig, client *resty.Client, states StateStore, log *zap.Logger) Adapter {
	cfg.setDefaults()
	return &etsyAdapter{cfg: cfg, client: client, states: states, log: log.Named("etsy")}
}

func (a *etsyAdapter) Platform() model.Platform { return model.PlatformEtsy }

func pkceKey(state string) string { return "pkce:" + state }

// ==================== 授权 ====================

// AuthURL 生成 verifier 并按 state 暂存，URL 中只带 S256 challenge
func (a *etsyAdapter) AuthURL(ctx context.Context, state string) (string, error) {
	verifier, err := utils.GenerateRandomString(64)
	if err != nil {
		return "", fmt.Errorf("generate pkce verifier: %w", err)
	}
	if err := a.states.Put(ctx, pkceKey(state), verifier, stateTTL); err != nil {
		return "", fmt.Errorf("store pkce verifier: %w", err)
	}

	params := url.Values{}
	params.Add("response_type", "code")
	params.Add("client_id", a.cfg.ClientID)
	params.Add("redirect_uri", a.cfg.RedirectURI)
	params.Add("scope", strings.Join(a.cfg.Scopes, " "))
	params.Add("state", state)
	params.Add("code_challenge", utils.GenerateCodeChallenge(verifier))
	params.Add("code_challenge_method", "S256")
	return fmt.Sprintf("%s?%s", a.cfg.AuthURL, params.Encode()), nil
}

type etsyTokenResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (a *etsyAdapter) ExchangeCode(ctx context.Context, code, state string) (*TokenPair, error) {
	verifier, ok, err := a.states.Take(ctx, pkceKey(state))
	if err != nil {
		return nil, &AuthExchangeError{Platform: model.PlatformEtsy, Message: "pkce state lookup failed", Err: err}
	}
	if !ok {
		return nil, &AuthExchangeError{Platform: model.PlatformEtsy, Message: "pkce verifier expired or state invalid"}
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "authorization_code",
			"client_id":     a.cfg.ClientID,
			"redirect_uri":  a.cfg.RedirectURI,
			"code":          code,
			"code_verifier": verifier,
		}).
		Post(a.cfg.TokenURL)
	if err != nil {
		return nil, &AuthExchangeError{Platform: model.PlatformEtsy, Message: "network error", Err: err}
	}
	if resp.IsError() {
		return nil, &AuthExchangeError{Platform: model.PlatformEtsy, StatusCode: resp.StatusCode(), Message: pkgnet.ErrorMessage(resp)}
	}

	var tr etsyTokenResp
	if err := pkgnet.DecodeJSON(resp, &tr); err != nil {
		return nil, &AuthExchangeError{Platform: model.PlatformEtsy, Message: "invalid token response", Err: err}
	}
	pair := &TokenPair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}

	// 拉销售必须有 shop_id，这里顺带查一次；失败不阻断授权
	if shopID, name, err := a.lookupShop(ctx, tr.AccessToken); err != nil {
		a.log.Warn("查询店铺信息失败，需手动补充 shop_id", zap.Error(err))
	} else {
		pair.AccountID = shopID
		pair.DisplayName = name
	}
	return pair, nil
}

// lookupShop Etsy 的 access_token 以 "<user_id>." 开头
func (a *etsyAdapter) lookupShop(ctx context.Context, accessToken string) (string, string, error) {
	userID, _, found := strings.Cut(accessToken, ".")
	if !found || userID == "" {
		return "", "", fmt.Errorf("access token carries no user id")
	}
	resp, err := pkgnet.BearerRequest(ctx, a.client, accessToken, a.cfg.ClientID).
		Get(fmt.Sprintf("%s/application/users/%s/shops", a.cfg.APIBaseURL, userID))
	if err != nil {
		return "", "", err
	}
	if resp.IsError() {
		return "", "", fmt.Errorf("get shop [%d]: %s", resp.StatusCode(), pkgnet.ErrorMessage(resp))
	}
	var shop struct {
		ShopID   int64  `json:"shop_id"`
		ShopName string `json:"shop_name"`
	}
	if err := pkgnet.DecodeJSON(resp, &shop); err != nil {
		return "", "", err
	}
	if shop.ShopID == 0 {
		return "", "", fmt.Errorf("user %s has no shop", userID)
	}
	return strconv.FormatInt(shop.ShopID, 10), shop.ShopName, nil
}

func (a *etsyAdapter) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     a.cfg.ClientID,
			"refresh_token": refreshToken,
		}).
		Post(a.cfg.TokenURL)
	if err != nil {
		return nil, &TokenRefreshError{Platform: model.PlatformEtsy, Message: "network error", Err: err}
	}
	if resp.IsError() {
		return nil, &TokenRefreshError{Platform: model.PlatformEtsy, StatusCode: resp.StatusCode(), Message: pkgnet.ErrorMessage(resp)}
	}

	var tr etsyTokenResp
	if err := pkgnet.DecodeJSON(resp, &tr); err != nil {
		return nil, &TokenRefreshError{Platform: model.PlatformEtsy, Message: "invalid token response", Err: err}
	}
	return &TokenPair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// ==================== 销售 ====================

// etsyMoney Etsy 金额 = amount / divisor
type etsyMoney struct {
	Amount       int64  `json:"amount"`
	Divisor      int64  `json:"divisor"`
	CurrencyCode string `json:"currency_code"`
}

func (m etsyMoney) Decimal() decimal.Decimal {
	if m.Divisor == 0 {
		return decimal.NewFromInt(m.Amount)
	}
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(m.Divisor)).Round(2)
}

type etsyTransaction struct {
	TransactionID int64     `json:"transaction_id"`
	Title         string    `json:"title"`
	ListingID     int64     `json:"listing_id"`
	Quantity      int64     `json:"quantity"`
	Price         etsyMoney `json:"price"`
	ShippingCost  etsyMoney `json:"shipping_cost"`
	PaidTimestamp int64     `json:"paid_timestamp"`
}

type etsyReceipt struct {
	ReceiptID       int64             `json:"receipt_id"`
	Name            string            `json:"name"`
	Status          string            `json:"status"`
	IsPaid          bool              `json:"is_paid"`
	CreateTimestamp int64             `json:"create_timestamp"`
	Transactions    []etsyTransaction `json:"transactions"`
}

type etsyReceiptsResp struct {
	Count   int           `json:"count"`
	Results []etsyReceipt `json:"results"`
}

// GetSales 分页拉取已付款收据，每个 transaction 一条记录
func (a *etsyAdapter) GetSales(ctx context.Context, creds Credentials, query SalesQuery) ([]SaleImportRecord, error) {
	if creds.AccountID == "" {
		return nil, fmt.Errorf("etsy: shop id is required, reconnect etsy or set it manually")
	}

	var records []SaleImportRecord
	offset := 0
	endpoint := fmt.Sprintf("%s/application/shops/%s/receipts", a.cfg.APIBaseURL, url.PathEscape(creds.AccountID))

	for page := 1; page <= maxPages; page++ {
		size := pageSize(a.cfg.PageSize, query.Limit, len(records))
		if size <= 0 {
			break
		}

		req := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, a.cfg.ClientID).
			SetQueryParam("limit", strconv.Itoa(size)).
			SetQueryParam("offset", strconv.Itoa(offset)).
			SetQueryParam("was_paid", "true")
		if query.StartDate != nil {
			req.SetQueryParam("min_created", strconv.FormatInt(query.StartDate.Unix(), 10))
		}

		resp, err := req.Get(endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return records, ctx.Err()
			}
			a.log.Warn("拉取收据失败，返回已获取部分", zap.Error(&FetchError{Platform: model.PlatformEtsy, Page: page, Message: err.Error(), Err: err}))
			break
		}
		if resp.IsError() {
			a.log.Warn("拉取收据失败，返回已获取部分", zap.Error(&FetchError{Platform: model.PlatformEtsy, Page: page, StatusCode: resp.StatusCode(), Message: pkgnet.ErrorMessage(resp)}))
			break
		}

		var body etsyReceiptsResp
		if err := pkgnet.DecodeJSON(resp, &body); err != nil {
			a.log.Warn("收据响应解析失败", zap.Int("page", page), zap.Error(err))
			break
		}

		for _, r := range body.Results {
			records = append(records, a.toRecords(r)...)
		}

		offset += len(body.Results)
		if len(body.Results) < size || (body.Count > 0 && offset >= body.Count) {
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

func (a *etsyAdapter) toRecords(r etsyReceipt) []SaleImportRecord {
	if !r.IsPaid || strings.EqualFold(r.Status, "Canceled") || strings.EqualFold(r.Status, "Fully Refunded") {
		return nil
	}

	out := make([]SaleImportRecord, 0, len(r.Transactions))
	for _, t := range r.Transactions {
		qty := t.Quantity
		if qty <= 0 {
			qty = 1
		}
		price := t.Price.Decimal().Mul(decimal.NewFromInt(qty))

		ts := t.PaidTimestamp
		if ts == 0 {
			ts = r.CreateTimestamp
		}

		rec := SaleImportRecord{
			Platform:     model.PlatformEtsy,
			Title:        t.Title,
			Price:        price,
			ShippingCost: t.ShippingCost.Decimal(),
			// 收据接口不含费用明细，按费率估算
			PlatformFees: a.CalculateFees(price).Total,
			SoldAt:       time.Unix(ts, 0).UTC(),
			BuyerHandle:  r.Name,
		}
		// 同一收据可含同一商品的多个变体，以 transaction_id 区分
		if t.TransactionID != 0 {
			rec.ExternalID = strconv.FormatInt(t.TransactionID, 10)
		}
		if t.ListingID != 0 {
			rec.PlatformListingID = strconv.FormatInt(t.ListingID, 10)
			rec.ListingURL = fmt.Sprintf("https://www.etsy.com/listing/%d", t.ListingID)
		}
		out = append(out, rec)
	}
	return out
}

// ==================== 商品 ====================

func etsyListingBody(input ListingInput) map[string]any {
	body := map[string]any{
		"title":       input.Title,
		"description": input.Description,
		"price":       input.Price.InexactFloat64(),
		"quantity":    input.Quantity,
		"who_made":    "someone_else",
		"when_made":   "2020_2025",
		"is_supply":   false,
	}
	if input.SKU != "" {
		body["skus"] = []string{input.SKU}
	}
	return body
}

// CreateListing Etsy 新建的商品为草稿状态
func (a *etsyAdapter) CreateListing(ctx context.Context, creds Credentials, input ListingInput) (*ListingResult, error) {
	if creds.AccountID == "" {
		return nil, fmt.Errorf("etsy: shop id is required")
	}
	resp, err := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, a.cfg.ClientID).
		SetBody(etsyListingBody(input)).
		Post(fmt.Sprintf("%s/application/shops/%s/listings", a.cfg.APIBaseURL, url.PathEscape(creds.AccountID)))
	if err != nil {
		return nil, fmt.Errorf("etsy: create listing: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("etsy: create listing [%d]: %s", resp.StatusCode(), pkgnet.ErrorMessage(resp))
	}

	var out struct {
		ListingID int64  `json:"listing_id"`
		URL       string `json:"url"`
	}
	if err := pkgnet.DecodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &ListingResult{PlatformListingID: strconv.FormatInt(out.ListingID, 10), URL: out.URL}, nil
}

func (a *etsyAdapter) UpdateListing(ctx context.Context, creds Credentials, platformListingID string, input ListingInput) error {
	if creds.AccountID == "" {
		return fmt.Errorf("etsy: shop id is required")
	}
	resp, err := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, a.cfg.ClientID).
		SetBody(etsyListingBody(input)).
		Patch(fmt.Sprintf("%s/application/shops/%s/listings/%s", a.cfg.APIBaseURL, url.PathEscape(creds.AccountID), url.PathEscape(platformListingID)))
	if err != nil {
		return fmt.Errorf("etsy: update listing: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("etsy: update listing [%d]: %s", resp.StatusCode(), pkgnet.ErrorMessage(resp))
	}
	return nil
}

func (a *etsyAdapter) DeleteListing(ctx context.Context, creds Credentials, platformListingID string) error {
	resp, err := pkgnet.BearerRequest(ctx, a.client, creds.AccessToken, a.cfg.ClientID).
		Delete(fmt.Sprintf("%s/application/listings/%s", a.cfg.APIBaseURL, url.PathEscape(platformListingID)))
	if err != nil {
		return fmt.Errorf("etsy: delete listing: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("etsy: delete listing [%d]: %s", resp.StatusCode(), pkgnet.ErrorMessage(resp))
	}
	return nil
}

// ==================== 费用 ====================

// CalculateFees 上架费 $0.20 + 成交费 6.5% + 支付手续费 3% + $0.25
func (a *etsyAdapter) CalculateFees(price decimal.Decimal) FeeBreakdown {
	return finishFees(FeeBreakdown{
		Platform:      model.PlatformEtsy,
		Price:         price,
		ListingFee:    decimal.RequireFromString("0.20"),
		FinalValueFee: percentOf(price, "6.5"),
		PaymentFee:    percentOf(price, "3"),
		FixedFee:      decimal.RequireFromString("0.25"),
	})
}
