package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/handlers"
	"github.com/akylbek/payment-system/pix-charges/internal/telemetry"
)

const serviceName = "pix-charges"

// Deps are the services behind the HTTP API. Idempotency may be nil, in
// which case charge creation is not deduplicated by header.
type Deps struct {
	Charges     handlers.ChargeService
	Reconciler  handlers.Reconciler
	Idempotency gin.HandlerFunc
	Logger      *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware(deps.Logger))

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})

	chargeHandler := handlers.NewChargeHandler(deps.Charges, deps.Logger)
	create := []gin.HandlerFunc{chargeHandler.CreateCharge}
	if deps.Idempotency != nil {
		create = append([]gin.HandlerFunc{deps.Idempotency}, create...)
	}
	r.POST("/charges", create...)
	r.GET("/charges/:txid", chargeHandler.GetCharge)
	r.GET("/charges/:txid/status", chargeHandler.GetChargeStatus)

	// The gateway appends "/pix" to the registered webhook URL; /webhook-pix
	// is kept for receivers registered before that.
	webhookHandler := handlers.NewWebhookHandler(deps.Reconciler, deps.Logger)
	r.POST("/webhook", webhookHandler.Receive)
	r.POST("/webhook/pix", webhookHandler.Receive)
	r.POST("/webhook-pix", webhookHandler.Receive)

	return r
}
