package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/pix-charges/internal/gateway"
	"github.com/akylbek/payment-system/pix-charges/internal/repository"
	"github.com/akylbek/payment-system/pix-charges/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	TxID  string `json:"txid,omitempty"`
}

func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error()}

	var incErr *service.InconsistencyError
	if errors.As(err, &incErr) {
		resp.TxID = incErr.TxID
	}
	// Store failures carry driver detail that callers have no use for.
	if code == http.StatusInternalServerError {
		resp.Error = http.StatusText(code)
		if incErr != nil {
			resp.Error = "charge was created upstream but could not be recorded"
		}
	}
	c.JSON(code, resp)
}

func mapErrorToHTTPStatus(err error) int {
	var incErr *service.InconsistencyError
	var recErr *service.ReconciliationError

	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrMalformedPayload):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrUnknownCharge),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	case errors.As(err, &incErr):
		return http.StatusInternalServerError

	case errors.As(err, &recErr),
		gateway.IsGatewayFailure(err):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
