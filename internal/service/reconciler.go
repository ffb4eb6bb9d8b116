package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
	"github.com/akylbek/payment-system/pix-charges/internal/metrics"
	"github.com/akylbek/payment-system/pix-charges/internal/models"
	"github.com/akylbek/payment-system/pix-charges/internal/repository"
)

// Outcome describes what a webhook entry did to its charge.
type Outcome string

const (
	// OutcomeTransitioned means this delivery moved the charge out of PENDING.
	OutcomeTransitioned Outcome = "transitioned"
	// OutcomeReplayed means the charge was already terminal.
	OutcomeReplayed Outcome = "replayed"
	// OutcomeAwaiting means the gateway still reports the charge as unpaid.
	OutcomeAwaiting Outcome = "awaiting"
	// OutcomeSuperseded means a concurrent delivery applied the transition first.
	OutcomeSuperseded Outcome = "superseded"
)

type EntryResult struct {
	TxID    string
	Outcome Outcome
	Status  models.ChargeStatus
}

type IngestResult struct {
	Kind    NotificationKind
	Entries []EntryResult
}

type ReconcilerConfig struct {
	// ConfirmWithGateway re-queries the gateway for every notification
	// instead of trusting the webhook body.
	ConfirmWithGateway bool
}

// Reconciler applies webhook notifications to stored charges.
type Reconciler struct {
	repo      interfaces.ChargeRepository
	gateway   interfaces.Gateway
	publisher interfaces.StatePublisher
	notifier  interfaces.PayerNotifier
	cfg       ReconcilerConfig
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewReconciler(
	repo interfaces.ChargeRepository,
	gateway interfaces.Gateway,
	publisher interfaces.StatePublisher,
	notifier interfaces.PayerNotifier,
	cfg ReconcilerConfig,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("webhook-reconciler"),
	}
}

// MapUpstreamStatus translates a gateway status into the local status it
// settles to. definitive is false while the charge is still awaiting payment.
func MapUpstreamStatus(status string) (to models.ChargeStatus, definitive bool, err error) {
	switch status {
	case models.UpstreamConcluded:
		return models.StatusConcluded, true, nil
	case models.UpstreamRemovedByPayee, models.UpstreamRemovedByGateway:
		return models.StatusFailed, true, nil
	case models.UpstreamActive:
		return models.StatusPending, false, nil
	default:
		return "", false, fmt.Errorf("%w %q", errUnexpectedUpstreamStatus, status)
	}
}

// Ingest parses a raw webhook body and reconciles every charge it names, in
// order. Every entry is attempted; the result holds the entries that
// succeeded and the error is the first failure. Applied entries are terminal,
// so a redelivery of the whole body is safe.
func (r *Reconciler) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	n, err := ParseNotification(raw)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("malformed").Inc()
		r.logger.Warn("Rejected malformed webhook", zap.Error(err))
		return nil, err
	}

	for _, e := range n.Entries {
		if !ValidTxID(e.TxID) {
			metrics.WebhookDeliveries.WithLabelValues("malformed").Inc()
			r.logger.Warn("Rejected webhook with invalid txid", zap.String("txid", e.TxID))
			return nil, fmt.Errorf("%w: invalid txid %q", ErrMalformedPayload, e.TxID)
		}
	}

	// A failing entry must not hold back the rest of the batch: the gateway
	// redelivers the whole body, so a poisoned first entry would otherwise
	// block every later charge forever.
	result := &IngestResult{Kind: n.Kind, Entries: make([]EntryResult, 0, len(n.Entries))}
	var firstErr error
	failed := 0
	for _, e := range n.Entries {
		res, err := r.reconcile(ctx, e)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Entries = append(result.Entries, res)
	}
	if failed > 0 && len(n.Entries) > 1 {
		r.logger.Warn("Webhook batch partially failed",
			zap.Int("entries", len(n.Entries)),
			zap.Int("failed", failed),
			zap.Error(firstErr),
		)
	}
	return result, firstErr
}

func (r *Reconciler) reconcile(ctx context.Context, e NotificationEntry) (EntryResult, error) {
	ctx, span := r.tracer.Start(ctx, "webhook.reconcile", trace.WithAttributes(attribute.String("charge.txid", e.TxID)))
	defer span.End()

	charge, err := r.repo.GetByTxID(ctx, e.TxID)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.WebhookDeliveries.WithLabelValues("unknown").Inc()
		r.logger.Warn("Webhook for unknown charge", zap.String("txid", e.TxID))
		return EntryResult{}, fmt.Errorf("%w: %s", ErrUnknownCharge, e.TxID)
	}
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("store_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return EntryResult{}, err
	}

	if charge.Status.IsTerminal() {
		metrics.WebhookDeliveries.WithLabelValues(string(OutcomeReplayed)).Inc()
		r.logger.Debug("Webhook replay for terminal charge",
			zap.String("txid", e.TxID),
			zap.String("status", string(charge.Status)),
		)
		return EntryResult{TxID: e.TxID, Outcome: OutcomeReplayed, Status: charge.Status}, nil
	}

	upstreamStatus, err := r.upstreamStatus(ctx, e)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("reconciliation_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation failed")
		r.logger.Error("Could not confirm webhook with gateway",
			zap.String("txid", e.TxID),
			zap.Error(err),
		)
		return EntryResult{}, &ReconciliationError{TxID: e.TxID, Err: err}
	}

	to, definitive, err := MapUpstreamStatus(upstreamStatus)
	if err != nil && !r.cfg.ConfirmWithGateway {
		// The bad value came from the body itself; retrying cannot fix it.
		metrics.WebhookDeliveries.WithLabelValues("malformed").Inc()
		r.logger.Warn("Webhook carries unexpected status",
			zap.String("txid", e.TxID),
			zap.String("status", upstreamStatus),
		)
		return EntryResult{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("reconciliation_error").Inc()
		r.logger.Error("Gateway reported unexpected status",
			zap.String("txid", e.TxID),
			zap.String("upstream_status", upstreamStatus),
		)
		return EntryResult{}, &ReconciliationError{TxID: e.TxID, Err: err}
	}
	if !definitive {
		metrics.WebhookDeliveries.WithLabelValues(string(OutcomeAwaiting)).Inc()
		return EntryResult{TxID: e.TxID, Outcome: OutcomeAwaiting, Status: models.StatusPending}, nil
	}

	applied, err := r.transition(ctx, charge, models.StatusPending, to)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("store_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return EntryResult{}, err
	}
	if !applied {
		metrics.WebhookDeliveries.WithLabelValues(string(OutcomeSuperseded)).Inc()
		status := to
		if current, err := r.repo.GetByTxID(ctx, e.TxID); err == nil {
			status = current.Status
		}
		return EntryResult{TxID: e.TxID, Outcome: OutcomeSuperseded, Status: status}, nil
	}

	metrics.WebhookDeliveries.WithLabelValues(string(OutcomeTransitioned)).Inc()
	return EntryResult{TxID: e.TxID, Outcome: OutcomeTransitioned, Status: to}, nil
}

// upstreamStatus returns the status to act on. Without gateway confirmation
// the sender's claim is used; a notification with no status is a receipt.
func (r *Reconciler) upstreamStatus(ctx context.Context, e NotificationEntry) (string, error) {
	if !r.cfg.ConfirmWithGateway {
		if e.Status == "" {
			return models.UpstreamConcluded, nil
		}
		return e.Status, nil
	}

	view, err := r.gateway.FetchCharge(ctx, e.TxID)
	if err != nil {
		return "", err
	}
	return view.Status, nil
}

func (r *Reconciler) transition(ctx context.Context, charge *models.Charge, from, to models.ChargeStatus) (bool, error) {
	applied, err := r.repo.TransitionStatus(ctx, charge.TxID, from, to)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	metrics.ChargeTransitions.WithLabelValues(string(to)).Inc()

	if err := r.publisher.PublishState(ctx, models.StateEvent{
		TxID:          charge.TxID,
		State:         to,
		PreviousState: from,
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		r.logger.Warn("Failed to publish charge state", zap.String("txid", charge.TxID), zap.Error(err))
	}

	r.logger.Info("Charge status transition",
		zap.String("txid", charge.TxID),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(to)),
	)

	if to == models.StatusConcluded {
		r.notifyPayer(ctx, charge)
	}
	return true, nil
}

func (r *Reconciler) notifyPayer(ctx context.Context, charge *models.Charge) {
	err := r.notifier.NotifyPayer(ctx, models.PayerNotification{
		TxID:    charge.TxID,
		Amount:  charge.Amount,
		Contact: charge.PayerContact,
	})
	if err != nil {
		r.logger.Warn("Failed to notify payer",
			zap.String("txid", charge.TxID),
			zap.Error(err),
		)
	}
}
