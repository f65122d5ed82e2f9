package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fliptools/internal/model"
)

func ebayOrderJSON(id string, status string, lineItems ...map[string]any) map[string]any {
	return map[string]any{
		"orderId":             id,
		"creationDate":        "2024-03-01T10:00:00.000Z",
		"orderPaymentStatus":  status,
		"buyer":               map[string]any{"username": "buyer_" + id},
		"totalMarketplaceFee": map[string]any{"value": "3.00", "currency": "USD"},
		"lineItems":           lineItems,
	}
}

func ebayLine(id, cost string) map[string]any {
	return map[string]any{
		"lineItemId":   id,
		"legacyItemId": "99" + id,
		"title":        "Item " + id,
		"quantity":     1,
		"lineItemCost": map[string]any{"value": cost, "currency": "USD"},
		"deliveryCost": map[string]any{"shippingCost": map[string]any{"value": "5.00"}},
	}
}

func TestEbay_GetSales_Pagination(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/sell/fulfillment/v1/order", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		var orders []map[string]any
		switch offset {
		case 0:
			orders = []map[string]any{
				ebayOrderJSON("o1", "PAID", ebayLine("L1", "20.00"), ebayLine("L2", "10.00")),
				ebayOrderJSON("o2", "PENDING", ebayLine("L3", "8.00")),
			}
		case 2:
			orders = []map[string]any{ebayOrderJSON("o3", "PAID", ebayLine("L4", "15.00"))}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"orders": orders, "total": 3, "offset": offset})
	}))
	defer srv.Close()

	a := NewEbayAdapter(EbayConfig{APIBaseURL: srv.URL, PageSize: 2}, newTestClient(), zap.NewNop())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records, err := a.GetSales(context.Background(), Credentials{AccessToken: "tok"}, SalesQuery{StartDate: &start})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "第二页不满即停止")
	require.Len(t, records, 3)

	ids := []string{records[0].ExternalID, records[1].ExternalID, records[2].ExternalID}
	assert.Equal(t, []string{"L1", "L2", "L4"}, ids, "未付款订单被过滤")

	// 订单佣金 3.00 按 20:10 分摊
	assert.Equal(t, "2.00", records[0].PlatformFees.StringFixed(2))
	assert.Equal(t, "1.00", records[1].PlatformFees.StringFixed(2))
	assert.Equal(t, "20.00", records[0].Price.StringFixed(2))
	assert.Equal(t, "5.00", records[0].ShippingCost.StringFixed(2))
	assert.Equal(t, "https://www.ebay.com/itm/99L1", records[0].ListingURL)
	assert.Equal(t, "buyer_o1", records[0].BuyerHandle)
	assert.Equal(t, model.PlatformEbay, records[0].Platform)
}

func TestEbay_GetSales_PartialOnErrorPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"errors":[{"message":"boom"}]}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"orders": []map[string]any{
				ebayOrderJSON("o1", "PAID", ebayLine("L1", "20.00")),
				ebayOrderJSON("o2", "PAID", ebayLine("L2", "20.00")),
			},
			"total": 10,
		})
	}))
	defer srv.Close()

	a := NewEbayAdapter(EbayConfig{APIBaseURL: srv.URL, PageSize: 2}, newTestClient(), zap.NewNop())
	records, err := a.GetSales(context.Background(), Credentials{AccessToken: "tok"}, SalesQuery{})
	require.NoError(t, err, "翻页失败不向上抛错")
	assert.Len(t, records, 2)
}

func TestEbay_GetSales_Limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"orders": []map[string]any{ebayOrderJSON("o1", "PAID", ebayLine("L1", "20.00"))},
			"total":  10,
		})
	}))
	defer srv.Close()

	a := NewEbayAdapter(EbayConfig{APIBaseURL: srv.URL, PageSize: 50}, newTestClient(), zap.NewNop())
	records, err := a.GetSales(context.Background(), Credentials{AccessToken: "tok"}, SalesQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEbay_ExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cid", user)
		assert.Equal(t, "secret", pass)

		if r.PostForm.Get("code") == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "refresh_token": "rt", "expires_in": 7200,
		})
	}))
	defer srv.Close()

	a := NewEbayAdapter(EbayConfig{ClientID: "cid", ClientSecret: "secret", TokenURL: srv.URL}, newTestClient(), zap.NewNop())

	pair, err := a.ExchangeCode(context.Background(), "good", "s")
	require.NoError(t, err)
	assert.Equal(t, "at", pair.AccessToken)
	assert.Equal(t, "rt", pair.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), pair.ExpiresAt, time.Minute)

	_, err = a.ExchangeCode(context.Background(), "bad", "s")
	var exErr *AuthExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, http.StatusBadRequest, exErr.StatusCode)
	assert.Contains(t, exErr.Message, "invalid_grant")
}

func TestEbay_RefreshRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewEbayAdapter(EbayConfig{TokenURL: srv.URL}, newTestClient(), zap.NewNop())
	_, err := a.RefreshToken(context.Background(), "rt")
	var refreshErr *TokenRefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, http.StatusUnauthorized, refreshErr.StatusCode)
}

func TestEbay_AuthURL(t *testing.T) {
	a := NewEbayAdapter(EbayConfig{ClientID: "cid", RuName: "My-RuName"}, newTestClient(), zap.NewNop())
	u, err := a.AuthURL(context.Background(), "st8")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://auth.ebay.com/oauth2/authorize?"))
	assert.Contains(t, u, "state=st8")
	assert.Contains(t, u, "redirect_uri=My-RuName")
}
