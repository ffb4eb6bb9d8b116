package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
	"github.com/akylbek/payment-system/pix-charges/internal/metrics"
	"github.com/akylbek/payment-system/pix-charges/internal/models"
)

const (
	maxDescriptionLen = 140
	// maxContactLen matches the payer_contact column.
	maxContactLen = 64
)

// maxAmount is the largest value a NUMERIC(12,2) column holds.
var maxAmount = decimal.RequireFromString("9999999999.99")

type ChargeConfig struct {
	PayeeKey   string
	Expiration time.Duration
}

type CreateChargeRequest struct {
	Amount       decimal.Decimal
	Description  string
	PayerContact string
}

type CreateChargeResult struct {
	TxID        string
	Amount      decimal.Decimal
	Status      models.ChargeStatus
	PayCode     string
	Location    string
	ArtifactRef string
}

// ChargeService issues new charges against the gateway and records them.
type ChargeService struct {
	repo      interfaces.ChargeRepository
	gateway   interfaces.Gateway
	renderer  interfaces.ArtifactRenderer
	publisher interfaces.StatePublisher
	cfg       ChargeConfig
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewChargeService(
	repo interfaces.ChargeRepository,
	gateway interfaces.Gateway,
	renderer interfaces.ArtifactRenderer,
	publisher interfaces.StatePublisher,
	cfg ChargeConfig,
	logger *zap.Logger,
) *ChargeService {
	return &ChargeService{
		repo:      repo,
		gateway:   gateway,
		renderer:  renderer,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("charge-service"),
	}
}

// ValidateAmount accepts positive amounts with at most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 || !amount.Equal(amount.Round(2)) || amount.GreaterThan(maxAmount) {
		return ErrInvalidAmount
	}
	return nil
}

// validateText rejects free-text fields the store cannot hold. It runs before
// the gateway call so a bad input never leaves an unrecorded charge upstream.
func validateText(req CreateChargeRequest) error {
	if utf8.RuneCountInString(req.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if strings.ContainsRune(req.Description, 0) {
		return ErrInvalidDescription
	}
	if utf8.RuneCountInString(req.PayerContact) > maxContactLen || strings.ContainsRune(req.PayerContact, 0) {
		return ErrInvalidContact
	}
	return nil
}

// Create registers a new PENDING charge. A gateway failure leaves nothing
// stored. A store failure after the gateway accepted the charge is returned
// as *InconsistencyError.
func (s *ChargeService) Create(ctx context.Context, req CreateChargeRequest) (*CreateChargeResult, error) {
	ctx, span := s.tracer.Start(ctx, "charge.create")
	defer span.End()

	if err := ValidateAmount(req.Amount); err != nil {
		metrics.ChargesCreated.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := validateText(req); err != nil {
		metrics.ChargesCreated.WithLabelValues("invalid").Inc()
		return nil, err
	}

	txid := NewTxID()
	span.SetAttributes(attribute.String("charge.txid", txid))

	upstream, err := s.gateway.CreateCharge(ctx, models.ChargeRequest{
		TxID:        txid,
		Amount:      req.Amount,
		PayeeKey:    s.cfg.PayeeKey,
		Description: req.Description,
		Expiration:  s.cfg.Expiration,
	})
	if err != nil {
		metrics.ChargesCreated.WithLabelValues("gateway_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway create failed")
		s.logger.Error("Gateway did not create charge",
			zap.String("txid", txid),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create charge %s: %w", txid, err)
	}

	now := time.Now().UTC()
	charge := &models.Charge{
		TxID:         txid,
		Amount:       req.Amount,
		PayeeKey:     s.cfg.PayeeKey,
		Description:  req.Description,
		Status:       models.StatusPending,
		PayCode:      upstream.PayCode,
		Location:     upstream.Location,
		PayerContact: req.PayerContact,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// The charge already exists upstream; a caller hanging up now must not
	// keep it from being recorded.
	if err := s.repo.Insert(context.WithoutCancel(ctx), charge); err != nil {
		metrics.ChargesCreated.WithLabelValues("inconsistent").Inc()
		metrics.ChargeInconsistencies.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge not stored")
		s.logger.Error("Charge created upstream but not stored",
			zap.String("txid", txid),
			zap.String("amount", req.Amount.StringFixed(2)),
			zap.Bool("inconsistency", true),
			zap.Error(err),
		)
		return nil, &InconsistencyError{TxID: txid, Err: err}
	}
	metrics.ChargesCreated.WithLabelValues("ok").Inc()

	artifact, err := s.renderer.Render(ctx, txid, upstream.PayCode)
	if err != nil {
		s.logger.Warn("Failed to render payment artifact",
			zap.String("txid", txid),
			zap.Error(err),
		)
	}

	if err := s.publisher.PublishState(ctx, models.StateEvent{
		TxID:      txid,
		State:     models.StatusPending,
		Timestamp: now,
	}); err != nil {
		s.logger.Warn("Failed to publish charge state", zap.String("txid", txid), zap.Error(err))
	}

	s.logger.Info("Charge created",
		zap.String("txid", txid),
		zap.String("amount", req.Amount.StringFixed(2)),
	)

	return &CreateChargeResult{
		TxID:        txid,
		Amount:      req.Amount,
		Status:      models.StatusPending,
		PayCode:     upstream.PayCode,
		Location:    upstream.Location,
		ArtifactRef: artifact,
	}, nil
}

// Get returns the stored charge. An unknown txid yields repository.ErrNotFound.
func (s *ChargeService) Get(ctx context.Context, txid string) (*models.Charge, error) {
	if !ValidTxID(txid) {
		return nil, ErrInvalidTxID
	}
	return s.repo.GetByTxID(ctx, txid)
}
