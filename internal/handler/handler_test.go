package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartloop/promo-engine/internal/domain/discount"
	"github.com/cartloop/promo-engine/internal/domain/promo"
	"github.com/cartloop/promo-engine/internal/storage/memory"
)

func newTestServer(t *testing.T, ttl time.Duration, discounts ...*discount.Discount) http.Handler {
	t.Helper()

	store := memory.NewStore()
	for _, d := range discounts {
		store.Put(d)
	}
	engine := promo.New(store, store, ttl)
	return New(engine, store).Routes()
}

func save10() *discount.Discount {
	return &discount.Discount{
		ID:       "d1",
		Code:     "SAVE10",
		Type:     discount.TypePercentage,
		Value:    decimal.NewFromInt(10),
		IsActive: true,
	}
}

func limit1() *discount.Discount {
	return &discount.Discount{
		ID:         "d2",
		Code:       "LIMIT1",
		Type:       discount.TypeFixed,
		Value:      decimal.NewFromInt(5),
		UsageLimit: 1,
		IsActive:   true,
	}
}

const cartBody = `{
	"code": %q,
	"cart": {
		"id": "cart-1",
		"items": [
			{"productId": "tee-1", "categoryId": "apparel", "quantity": 2, "unitPrice": 60},
			{"productId": "mug-1", "categoryId": "kitchen", "quantity": 1, "unitPrice": "20.00"}
		]
	}
}`

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func previewBody(code string) string {
	return strings.Replace(cartBody, "%q", `"`+code+`"`, 1)
}

func TestPreviewEndpoint(t *testing.T) {
	h := newTestServer(t, time.Minute, save10())

	rec := postJSON(t, h, "/promotions/preview", previewBody("save10"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "SAVE10", body["code"])
	assert.Equal(t, true, body["eligible"])
	assert.InDelta(t, 14.0, body["amount"], 0.001)
	assert.InDelta(t, 126.0, body["finalTotal"], 0.001)
	assert.NotContains(t, body, "reason")
}

func TestPreviewIneligible(t *testing.T) {
	h := newTestServer(t, time.Minute, &discount.Discount{
		ID:          "d1",
		Code:        "BIGMIN",
		Type:        discount.TypePercentage,
		Value:       decimal.NewFromInt(10),
		MinPurchase: decimal.NewFromInt(1000),
		IsActive:    true,
	})

	rec := postJSON(t, h, "/promotions/preview", previewBody("BIGMIN"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["eligible"])
	assert.Equal(t, "min_purchase_not_met", body["reason"])
	assert.InDelta(t, 0.0, body["amount"], 0.001)
	assert.InDelta(t, 140.0, body["finalTotal"], 0.001)
}

func TestPreviewUnknownCode(t *testing.T) {
	h := newTestServer(t, time.Minute)

	rec := postJSON(t, h, "/promotions/preview", previewBody("BOGUS"))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewBadRequests(t *testing.T) {
	h := newTestServer(t, time.Minute, save10())

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing code", `{"cart":{"id":"c","items":[{"productId":"p","quantity":1,"unitPrice":5}]}}`},
		{"empty items", `{"code":"SAVE10","cart":{"id":"c","items":[]}}`},
		{"zero quantity", `{"code":"SAVE10","cart":{"id":"c","items":[{"productId":"p","quantity":0,"unitPrice":5}]}}`},
		{"negative price", `{"code":"SAVE10","cart":{"id":"c","items":[{"productId":"p","quantity":1,"unitPrice":-5}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h, "/promotions/preview", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestReserveEndpoint(t *testing.T) {
	h := newTestServer(t, time.Minute, save10())

	rec := postJSON(t, h, "/promotions/reserve", previewBody("SAVE10"))

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)

	token, err := uuid.Parse(body["token"].(string))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, token)
	assert.InDelta(t, 14.0, body["amount"], 0.001)
	assert.InDelta(t, 126.0, body["finalTotal"], 0.001)

	expiresAt, err := time.Parse(timeFormat, body["expiresAt"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)
}

func TestReserveIneligible(t *testing.T) {
	h := newTestServer(t, time.Minute, &discount.Discount{
		ID:       "d1",
		Code:     "OLD10",
		Type:     discount.TypePercentage,
		Value:    decimal.NewFromInt(10),
		EndDate:  time.Now().Add(-time.Hour),
		IsActive: true,
	})

	rec := postJSON(t, h, "/promotions/reserve", previewBody("OLD10"))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "expired", body["reason"])
}

func TestReserveContention(t *testing.T) {
	h := newTestServer(t, time.Minute, limit1())

	rec := postJSON(t, h, "/promotions/reserve", previewBody("LIMIT1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h, "/promotions/reserve", previewBody("LIMIT1"))
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "concurrent_limit_exceeded", body["reason"])
}

func TestCommitAndReleaseEndpoints(t *testing.T) {
	h := newTestServer(t, time.Minute, limit1())

	rec := postJSON(t, h, "/promotions/reserve", previewBody("LIMIT1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decodeBody(t, rec)["token"].(string)

	rec = postJSON(t, h, "/promotions/"+token+"/commit", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Double commit conflicts.
	rec = postJSON(t, h, "/promotions/"+token+"/commit", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	// Releasing a committed reservation conflicts too.
	rec = postJSON(t, h, "/promotions/"+token+"/release", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	// The slot is consumed for good.
	rec = postJSON(t, h, "/promotions/reserve", previewBody("LIMIT1"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "usage_exhausted", decodeBody(t, rec)["reason"])
}

func TestReleaseIdempotent(t *testing.T) {
	h := newTestServer(t, time.Minute, limit1())

	rec := postJSON(t, h, "/promotions/reserve", previewBody("LIMIT1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decodeBody(t, rec)["token"].(string)

	rec = postJSON(t, h, "/promotions/"+token+"/release", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = postJSON(t, h, "/promotions/"+token+"/release", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The slot came back.
	rec = postJSON(t, h, "/promotions/reserve", previewBody("LIMIT1"))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCommitExpiredReservation(t *testing.T) {
	h := newTestServer(t, -time.Second, limit1())

	rec := postJSON(t, h, "/promotions/reserve", previewBody("LIMIT1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decodeBody(t, rec)["token"].(string)

	rec = postJSON(t, h, "/promotions/"+token+"/commit", "")
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestTokenValidation(t *testing.T) {
	h := newTestServer(t, time.Minute, limit1())

	rec := postJSON(t, h, "/promotions/not-a-uuid/commit", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h, "/promotions/"+uuid.NewString()+"/commit", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = getPath(t, h, "/promotions/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReservation(t *testing.T) {
	h := newTestServer(t, time.Minute, limit1())

	rec := postJSON(t, h, "/promotions/reserve", previewBody("LIMIT1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decodeBody(t, rec)["token"].(string)

	rec = getPath(t, h, "/promotions/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, token, body["token"])
	assert.Equal(t, "d2", body["discountId"])
	assert.Equal(t, "cart-1", body["cartId"])
	assert.Equal(t, "reserved", body["state"])
	assert.NotContains(t, body, "committedAt")

	rec = postJSON(t, h, "/promotions/"+token+"/commit", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = getPath(t, h, "/promotions/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "committed", body["state"])
	assert.Contains(t, body, "committedAt")
}

func TestGetDiscountDescriptor(t *testing.T) {
	end := time.Now().Add(48 * time.Hour).UTC()
	h := newTestServer(t, time.Minute, &discount.Discount{
		ID:          "d1",
		Code:        "SUMMER25",
		Type:        discount.TypePercentage,
		Value:       decimal.NewFromInt(25),
		MinPurchase: decimal.NewFromInt(100),
		MaxDiscount: decimal.NewFromInt(500),
		EndDate:     end,
		IsActive:    true,
	})

	rec := getPath(t, h, "/discounts/summer25")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "SUMMER25", body["code"])
	assert.Equal(t, "percentage", body["type"])
	assert.InDelta(t, 25.0, body["value"], 0.001)
	assert.InDelta(t, 100.0, body["minPurchase"], 0.001)
	assert.InDelta(t, 500.0, body["maxDiscount"], 0.001)
	assert.Equal(t, "active", body["availability"])
	assert.Contains(t, body, "endDate")
	assert.NotContains(t, body, "startDate")

	rec = getPath(t, h, "/discounts/NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
