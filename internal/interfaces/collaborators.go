package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/pix-charges/internal/models"
)

// Gateway is the upstream PIX gateway as seen by the charge service and the
// webhook reconciler.
type Gateway interface {
	CreateCharge(ctx context.Context, req models.ChargeRequest) (*models.UpstreamCharge, error)
	FetchCharge(ctx context.Context, txid string) (*models.UpstreamCharge, error)
}

// ArtifactRenderer turns a pay code into a scannable image stored under key
// and returns a reference to the stored artifact.
type ArtifactRenderer interface {
	Render(ctx context.Context, key, payCode string) (string, error)
}

// StatePublisher announces committed charge status changes.
type StatePublisher interface {
	PublishState(ctx context.Context, event models.StateEvent) error
}

// PayerNotifier tells the payer their charge was settled.
type PayerNotifier interface {
	NotifyPayer(ctx context.Context, n models.PayerNotification) error
}
