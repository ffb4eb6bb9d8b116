package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/models"
	"github.com/akylbek/payment-system/pix-charges/internal/service"
)

// ChargeService is implemented by *service.ChargeService.
type ChargeService interface {
	Create(ctx context.Context, req service.CreateChargeRequest) (*service.CreateChargeResult, error)
	Get(ctx context.Context, txid string) (*models.Charge, error)
}

type ChargeHandler struct {
	charges ChargeService
	logger  *zap.Logger
}

func NewChargeHandler(charges ChargeService, logger *zap.Logger) *ChargeHandler {
	return &ChargeHandler{charges: charges, logger: logger}
}

type createChargeRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	PayerContact string          `json:"payer_contact"`
}

type chargeView struct {
	TxID        string              `json:"txid"`
	Amount      string              `json:"amount"`
	Status      models.ChargeStatus `json:"status"`
	PayCode     string              `json:"pay_code"`
	Location    string              `json:"location,omitempty"`
	Description string              `json:"description,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (h *ChargeHandler) CreateCharge(c *gin.Context) {
	var req createChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.charges.Create(c.Request.Context(), service.CreateChargeRequest{
		Amount:       req.Amount,
		Description:  req.Description,
		PayerContact: req.PayerContact,
	})
	if err != nil {
		h.logger.Error("Error creating charge", zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"txid":     res.TxID,
		"amount":   res.Amount.StringFixed(2),
		"status":   res.Status,
		"pay_code": res.PayCode,
		"location": res.Location,
		"link":     "/charges/" + res.TxID,
		"artifact": res.ArtifactRef,
	})
}

func (h *ChargeHandler) GetCharge(c *gin.Context) {
	charge, err := h.charges.Get(c.Request.Context(), c.Param("txid"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, chargeView{
		TxID:        charge.TxID,
		Amount:      charge.Amount.StringFixed(2),
		Status:      charge.Status,
		PayCode:     charge.PayCode,
		Location:    charge.Location,
		Description: charge.Description,
		CreatedAt:   charge.CreatedAt,
		UpdatedAt:   charge.UpdatedAt,
	})
}

func (h *ChargeHandler) GetChargeStatus(c *gin.Context) {
	charge, err := h.charges.Get(c.Request.Context(), c.Param("txid"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"txid":   charge.TxID,
		"status": charge.Status,
	})
}
