package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/service"
)

const maxWebhookBody = 1 << 20

// Reconciler is implemented by *service.Reconciler.
type Reconciler interface {
	Ingest(ctx context.Context, raw []byte) (*service.IngestResult, error)
}

type WebhookHandler struct {
	reconciler Reconciler
	logger     *zap.Logger
}

func NewWebhookHandler(reconciler Reconciler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, logger: logger}
}

// Receive acknowledges a gateway notification with 200 only once every
// charge it names has been reconciled. Any other status makes the gateway
// redeliver.
func (h *WebhookHandler) Receive(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "could not read body"})
		return
	}

	res, err := h.reconciler.Ingest(c.Request.Context(), raw)
	if err != nil {
		h.logger.Warn("Webhook rejected", zap.Error(err))
		respondError(c, err)
		return
	}

	for _, e := range res.Entries {
		h.logger.Info("Webhook processed",
			zap.String("txid", e.TxID),
			zap.String("outcome", string(e.Outcome)),
			zap.String("status", string(e.Status)),
		)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
