package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/pix-charges/internal/models"
)

// ChargeRepository defines the contract for charge data access
type ChargeRepository interface {
	Insert(ctx context.Context, charge *models.Charge) error
	GetByTxID(ctx context.Context, txid string) (*models.Charge, error)
	// TransitionStatus moves the charge from -> to only when it is currently
	// in from. It reports whether the update was applied.
	TransitionStatus(ctx context.Context, txid string, from, to models.ChargeStatus) (bool, error)
}
