package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/inkwellhq/inkwell/internal/billing/provider"
	"github.com/inkwellhq/inkwell/internal/billing/webhook"
	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/inkwellhq/inkwell/internal/config"
	discountdomain "github.com/inkwellhq/inkwell/internal/discount/domain"
	discountrepository "github.com/inkwellhq/inkwell/internal/discount/repository"
	discountservice "github.com/inkwellhq/inkwell/internal/discount/service"
	"github.com/inkwellhq/inkwell/internal/notification"
	purchasedomain "github.com/inkwellhq/inkwell/internal/purchase/domain"
	purchaserepository "github.com/inkwellhq/inkwell/internal/purchase/repository"
	purchaseservice "github.com/inkwellhq/inkwell/internal/purchase/service"
	subscriptiondomain "github.com/inkwellhq/inkwell/internal/subscription/domain"
	subscriptionrepository "github.com/inkwellhq/inkwell/internal/subscription/repository"
	subscriptionservice "github.com/inkwellhq/inkwell/internal/subscription/service"
	webhookeventdomain "github.com/inkwellhq/inkwell/internal/webhookevent/domain"
	webhookeventrepository "github.com/inkwellhq/inkwell/internal/webhookevent/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

func init() {
	gin.SetMode(gin.TestMode)
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, string, notification.TemplateType, map[string]any) error {
	return nil
}

type env struct {
	server *Server
	subSvc subscriptiondomain.Service
	node   *snowflake.Node
	clk    *clock.FakeClock
}

func newTestServer(t *testing.T) *env {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&webhookeventdomain.WebhookEvent{},
		&purchasedomain.Purchase{},
		&purchasedomain.AnalyticsEvent{},
		&discountdomain.ManualDiscount{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	cfg := config.Config{
		Environment: "test",
		HTTPAddr:    ":0",
		Billing: config.BillingConfig{
			Provider:                  "stripe",
			WebhookSecret:             testSecret,
			SignatureToleranceSeconds: 300,
		},
	}

	plans, err := config.NewPlanConfigHolder()
	require.NoError(t, err)

	subRepo := subscriptionrepository.Provide()
	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  subRepo,
		Clock: clk,
		Plans: plans,
	})
	purchaseSvc := purchaseservice.NewService(purchaseservice.Params{
		DB:      conn,
		Log:     log,
		GenID:   node,
		Repo:    purchaserepository.Provide(),
		SubRepo: subRepo,
		SubSvc:  subSvc,
		Clock:   clk,
	})
	discountSvc := discountservice.NewService(discountservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  discountrepository.Provide(),
		Clock: clk,
	})
	webhookSvc := webhook.NewService(webhook.Params{
		DB:          conn,
		Log:         log,
		GenID:       node,
		Cfg:         cfg,
		Clock:       clk,
		Repo:        webhookeventrepository.Provide(),
		SubSvc:      subSvc,
		PurchaseSvc: purchaseSvc,
		Notifier:    nopNotifier{},
	})

	srv := NewServer(ServerParams{
		Gin:             NewEngine(cfg, log, nil),
		Cfg:             cfg,
		Log:             log,
		GenID:           node,
		WebhookSvc:      webhookSvc,
		SubscriptionSvc: subSvc,
		PurchaseSvc:     purchaseSvc,
		DiscountSvc:     discountSvc,
	})

	return &env{server: srv, subSvc: subSvc, node: node, clk: clk}
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(w, req)
	return w
}

func (e *env) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *env) activate(t *testing.T, userID snowflake.ID) {
	t.Helper()
	_, err := e.subSvc.Activate(context.Background(), subscriptiondomain.ActivateRequest{
		UserID: userID,
		Plan:   "standard",
		Email:  "reader@example.com",
	})
	require.NoError(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestServer(t)

	w := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBillingWebhookAcceptsSignedDelivery(t *testing.T) {
	e := newTestServer(t)
	userID := e.node.Generate()

	payload := fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1741608000,
		"data": {"object": {
			"id": "cs_1",
			"mode": "subscription",
			"subscription": "sub_ref_1",
			"metadata": {"user_id": %q, "plan": "standard"}
		}}
	}`, userID.String())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(payload)))
	req.Header.Set("Stripe-Signature", provider.Sign(testSecret, []byte(payload), e.clk.Now()))
	w := e.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	sub, err := e.subSvc.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
}

func TestBillingWebhookRejectsUnsignedDelivery(t *testing.T) {
	e := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(`{"id":"evt_1"}`)))
	w := e.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSubscriptionReturnsCounters(t *testing.T) {
	e := newTestServer(t)
	userID := e.node.Generate()
	e.activate(t, userID)

	w := e.do(httptest.NewRequest(http.MethodGet, "/api/subscriptions/"+userID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data subscriptionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "active", resp.Data.Status)
	require.Equal(t, 2, resp.Data.FreeQuizzesLimit)
	require.Equal(t, int64(5000), resp.Data.FreeQuizValueCap)
}

func TestGetSubscriptionUnknownUser(t *testing.T) {
	e := newTestServer(t)

	w := e.do(httptest.NewRequest(http.MethodGet, "/api/subscriptions/"+e.node.Generate().String(), nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuoteEndpoint(t *testing.T) {
	e := newTestServer(t)
	userID := e.node.Generate()
	e.activate(t, userID)

	w := e.postJSON(t, "/api/entitlements/quote", gin.H{
		"user_id":    userID.String(),
		"item_type":  "quiz",
		"base_price": 4000,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data subscriptiondomain.PriceQuote `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, subscriptiondomain.FundingFreeQuiz, resp.Data.Funding)
	require.Equal(t, int64(0), resp.Data.Price)
}

func TestQuoteWithoutSubscriptionFullPrice(t *testing.T) {
	e := newTestServer(t)

	w := e.postJSON(t, "/api/entitlements/quote", gin.H{
		"user_id":    e.node.Generate().String(),
		"item_type":  "quiz",
		"base_price": 4000,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data subscriptiondomain.PriceQuote `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, subscriptiondomain.FundingNone, resp.Data.Funding)
	require.Equal(t, int64(4000), resp.Data.Price)
}

func TestConsumeExhaustedIsConflict(t *testing.T) {
	e := newTestServer(t)
	userID := e.node.Generate()
	e.activate(t, userID)

	for i := 0; i < 2; i++ {
		w := e.postJSON(t, "/api/entitlements/consume", gin.H{
			"user_id":    userID.String(),
			"funding":    "free_quiz",
			"base_price": 4000,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := e.postJSON(t, "/api/entitlements/consume", gin.H{
		"user_id":    userID.String(),
		"funding":    "free_quiz",
		"base_price": 4000,
	})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestApplyDiscountUnknownCodeIsValidFalse(t *testing.T) {
	e := newTestServer(t)

	w := e.postJSON(t, "/api/discounts/apply", gin.H{"code": "NOPE"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Valid bool `json:"valid"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Data.Valid)
}

func TestAdminDiscountLifecycle(t *testing.T) {
	e := newTestServer(t)

	w := e.postJSON(t, "/admin/discounts", gin.H{
		"code":             "SPRING25",
		"discount_percent": 25,
		"item_type":        "quiz",
		"valid_from":       "2025-03-01T00:00:00Z",
		"valid_until":      "2025-04-01T00:00:00Z",
		"max_uses":         10,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// Duplicate code conflicts.
	w = e.postJSON(t, "/admin/discounts", gin.H{
		"code":             "SPRING25",
		"discount_percent": 25,
		"item_type":        "quiz",
		"valid_from":       "2025-03-01T00:00:00Z",
		"valid_until":      "2025-04-01T00:00:00Z",
		"max_uses":         10,
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = e.postJSON(t, "/api/discounts/apply", gin.H{"code": "SPRING25"})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.postJSON(t, "/admin/discounts/SPRING25/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.postJSON(t, "/api/discounts/apply", gin.H{"code": "SPRING25"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Valid bool `json:"valid"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Data.Valid)
}

func TestCreatePurchaseEndpoint(t *testing.T) {
	e := newTestServer(t)
	userID := e.node.Generate()
	e.activate(t, userID)

	w := e.postJSON(t, "/api/purchases", gin.H{
		"user_id":        userID.String(),
		"type":           "quiz",
		"item_id":        e.node.Generate().String(),
		"item_title":     "State Capitals",
		"base_price":     4000,
		"price_paid":     0,
		"payment_method": "subscription",
		"funding":        "free_quiz",
	})
	require.Equal(t, http.StatusOK, w.Code)

	list := e.do(httptest.NewRequest(http.MethodGet, "/api/users/"+userID.String()+"/purchases", nil))
	require.Equal(t, http.StatusOK, list.Code)

	var resp struct {
		Data []purchasedomain.Purchase `json:"data"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
}
