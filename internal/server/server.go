package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidewaylabs/tideway/internal/config"
	invoicedomain "github.com/tidewaylabs/tideway/internal/invoice/domain"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	reconcilerdomain "github.com/tidewaylabs/tideway/internal/reconciler/domain"
	subscriptiondomain "github.com/tidewaylabs/tideway/internal/subscription/domain"
	usagedomain "github.com/tidewaylabs/tideway/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	log *zap.Logger
	cfg config.Config
	db  *gorm.DB

	usagesvc    usagedomain.Service
	subsvc      subscriptiondomain.Service
	invoicesvc  invoicedomain.Service
	paymentsvc  paymentdomain.Service
	instruments paymentdomain.InstrumentService
	webhooks    paymentdomain.WebhookAdapter
	reconciler  reconcilerdomain.Service

	registry *prometheus.Registry
	engine   *gin.Engine
}

type Param struct {
	fx.In

	Log         *zap.Logger
	Cfg         config.Config
	DB          *gorm.DB
	Usage       usagedomain.Service
	Subs        subscriptiondomain.Service
	Invoices    invoicedomain.Service
	Payments    paymentdomain.Service
	Instruments paymentdomain.InstrumentService
	Webhooks    paymentdomain.WebhookAdapter
	Reconciler  reconcilerdomain.Service
	Registry    *prometheus.Registry `optional:"true"`
}

func NewServer(p Param) *Server {
	s := &Server{
		log:         p.Log.Named("server"),
		cfg:         p.Cfg,
		db:          p.DB,
		usagesvc:    p.Usage,
		subsvc:      p.Subs,
		invoicesvc:  p.Invoices,
		paymentsvc:  p.Payments,
		instruments: p.Instruments,
		webhooks:    p.Webhooks,
		reconciler:  p.Reconciler,
		registry:    p.Registry,
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.Healthz)
	if s.registry != nil {
		engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	// Webhooks authenticate by signature, not by org header.
	engine.POST("/webhooks/:provider", s.HandleProcessorWebhook)

	v1 := engine.Group("/v1")
	v1.Use(s.OrgRequired())
	{
		v1.POST("/usage", s.RecordUsage)
		v1.GET("/usage/summary", s.GetUsageSummary)

		v1.POST("/subscriptions", s.CreateSubscription)
		v1.GET("/subscriptions/:id", s.GetSubscription)
		v1.POST("/subscriptions/:id/pause", s.PauseSubscription)
		v1.POST("/subscriptions/:id/resume", s.ResumeSubscription)
		v1.POST("/subscriptions/:id/cancel", s.CancelSubscription)
		v1.POST("/subscriptions/:id/close-period", s.ClosePeriod)

		v1.GET("/invoices/:id", s.GetInvoice)
		v1.GET("/invoices/:id/attempts", s.ListPaymentAttempts)
		v1.POST("/invoices/:id/collect", s.CollectInvoice)
		v1.POST("/invoices/:id/adjustments", s.AddInvoiceAdjustment)

		v1.POST("/instruments", s.AttachInstrument)
		v1.DELETE("/instruments/:id", s.DetachInstrument)
		v1.GET("/instruments", s.ListInstruments)
	}

	return engine
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
