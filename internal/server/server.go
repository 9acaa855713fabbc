package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/inkwellhq/inkwell/internal/billing/webhook"
	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/discount"
	discountdomain "github.com/inkwellhq/inkwell/internal/discount/domain"
	"github.com/inkwellhq/inkwell/internal/notification"
	obsmiddleware "github.com/inkwellhq/inkwell/internal/observability/logger"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
	"github.com/inkwellhq/inkwell/internal/providers/email"
	"github.com/inkwellhq/inkwell/internal/purchase"
	purchasedomain "github.com/inkwellhq/inkwell/internal/purchase/domain"
	"github.com/inkwellhq/inkwell/internal/subscription"
	subscriptiondomain "github.com/inkwellhq/inkwell/internal/subscription/domain"
	"github.com/inkwellhq/inkwell/internal/webhookevent"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	email.Module,
	notification.Module,
	webhookevent.Module,
	subscription.Module,
	discount.Module,
	purchase.Module,
	webhook.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger, m *obsmetrics.Metrics) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
		Debug:           cfg.Environment != "production",
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}

	return r
}

func registerGin(cfg config.Config, log *zap.Logger, m *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(cfg, log, m)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	genID           *snowflake.Node
	webhookSvc      *webhook.Service
	subscriptionSvc subscriptiondomain.Service
	purchaseSvc     purchasedomain.Service
	discountSvc     discountdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	WebhookSvc      *webhook.Service
	SubscriptionSvc subscriptiondomain.Service
	PurchaseSvc     purchasedomain.Service
	DiscountSvc     discountdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		genID:           p.GenID,
		webhookSvc:      p.WebhookSvc,
		subscriptionSvc: p.SubscriptionSvc,
		purchaseSvc:     p.PurchaseSvc,
		discountSvc:     p.DiscountSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/billing", s.HandleBillingWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/subscriptions/:user_id", s.GetSubscription)
	api.POST("/subscriptions/:user_id/cancel", s.CancelSubscription)

	api.POST("/entitlements/quote", s.QuoteEntitlement)
	api.POST("/entitlements/consume", s.ConsumeEntitlement)

	api.POST("/purchases", s.CreatePurchase)
	api.GET("/users/:user_id/purchases", s.ListPurchases)

	api.POST("/discounts/apply", s.ApplyDiscount)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.POST("/discounts", s.CreateDiscount)
	admin.GET("/discounts/:code", s.GetDiscount)
	admin.POST("/discounts/:code/deactivate", s.DeactivateDiscount)
}
