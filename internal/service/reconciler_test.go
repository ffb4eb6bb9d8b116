package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/gateway"
	"github.com/akylbek/payment-system/pix-charges/internal/models"
	"github.com/akylbek/payment-system/pix-charges/internal/repository"
	"github.com/akylbek/payment-system/pix-charges/internal/service"
)

const (
	validTxID = "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"
	otherTxID = "f6e5d4c3b2a1f6e5d4c3b2a1f6e5d4c3"
)

type reconcilerFixture struct {
	repo      *memRepo
	gateway   *mockGateway
	publisher *recordingPublisher
	notifier  *recordingNotifier
	rec       *service.Reconciler
}

func newReconcilerFixture(confirm bool) *reconcilerFixture {
	f := &reconcilerFixture{
		repo:      newMemRepo(),
		gateway:   &mockGateway{},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
	}
	f.rec = service.NewReconciler(f.repo, f.gateway, f.publisher, f.notifier,
		service.ReconcilerConfig{ConfirmWithGateway: confirm}, zap.NewNop())
	return f
}

func (f *reconcilerFixture) addCharge(txid string, status models.ChargeStatus) {
	now := time.Now().UTC()
	f.repo.put(models.Charge{
		TxID:         txid,
		Amount:       decimal.RequireFromString("140.00"),
		PayeeKey:     payeeKey,
		Status:       status,
		PayCode:      payCode,
		PayerContact: "5511999990000",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (f *reconcilerFixture) upstreamReports(txid, status string) *mock.Call {
	return f.gateway.On("FetchCharge", mock.Anything, txid).
		Return(&models.UpstreamCharge{TxID: txid, Status: status}, nil)
}

func body(txid string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q}`, txid))
}

func TestIngest_SettledChargeConcludesAndNotifies(t *testing.T) {
	f := newReconcilerFixture(true)
	f.addCharge(validTxID, models.StatusPending)
	f.upstreamReports(validTxID, models.UpstreamConcluded)

	res, err := f.rec.Ingest(context.Background(), body(validTxID))
	require.NoError(t, err)

	assert.Equal(t, service.NotificationSingle, res.Kind)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, service.OutcomeTransitioned, res.Entries[0].Outcome)
	assert.Equal(t, models.StatusConcluded, f.repo.status(validTxID))

	sent := f.notifier.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, validTxID, sent[0].TxID)
	assert.Equal(t, "5511999990000", sent[0].Contact)
	assert.Equal(t, "140.00", sent[0].Amount.StringFixed(2))

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusConcluded, events[0].State)
	assert.Equal(t, models.StatusPending, events[0].PreviousState)
}

func TestIngest_RemovedChargeFails(t *testing.T) {
	for _, status := range []string{models.UpstreamRemovedByPayee, models.UpstreamRemovedByGateway} {
		t.Run(status, func(t *testing.T) {
			f := newReconcilerFixture(true)
			f.addCharge(validTxID, models.StatusPending)
			f.upstreamReports(validTxID, status)

			res, err := f.rec.Ingest(context.Background(), body(validTxID))
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, res.Entries[0].Status)
			assert.Equal(t, models.StatusFailed, f.repo.status(validTxID))
			assert.Empty(t, f.notifier.notifications())
		})
	}
}

func TestIngest_ActiveUpstreamLeavesPending(t *testing.T) {
	f := newReconcilerFixture(true)
	f.addCharge(validTxID, models.StatusPending)
	f.upstreamReports(validTxID, models.UpstreamActive)

	res, err := f.rec.Ingest(context.Background(), body(validTxID))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAwaiting, res.Entries[0].Outcome)
	assert.Equal(t, models.StatusPending, f.repo.status(validTxID))
	assert.Zero(t, f.repo.TransitionCallCount)
}

func TestIngest_ReplayIsAckedWithoutSecondConfirmation(t *testing.T) {
	f := newReconcilerFixture(true)
	f.addCharge(validTxID, models.StatusPending)
	f.upstreamReports(validTxID, models.UpstreamConcluded)

	_, err := f.rec.Ingest(context.Background(), body(validTxID))
	require.NoError(t, err)

	res, err := f.rec.Ingest(context.Background(), body(validTxID))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeReplayed, res.Entries[0].Outcome)
	assert.Equal(t, models.StatusConcluded, f.repo.status(validTxID))

	f.gateway.AssertNumberOfCalls(t, "FetchCharge", 1)
	assert.Len(t, f.notifier.notifications(), 1)
	assert.Len(t, f.publisher.published(), 1)
}

func TestIngest_TerminalChargesNeverMove(t *testing.T) {
	for _, terminal := range []models.ChargeStatus{models.StatusConcluded, models.StatusFailed} {
		for _, claim := range []string{models.UpstreamConcluded, models.UpstreamRemovedByGateway, models.UpstreamActive} {
			t.Run(string(terminal)+"/"+claim, func(t *testing.T) {
				f := newReconcilerFixture(false)
				f.addCharge(validTxID, terminal)

				raw := []byte(fmt.Sprintf(`{"pix":[{"txid":%q,"status":%q}]}`, validTxID, claim))
				res, err := f.rec.Ingest(context.Background(), raw)
				require.NoError(t, err)
				assert.Equal(t, service.OutcomeReplayed, res.Entries[0].Outcome)
				assert.Equal(t, terminal, f.repo.status(validTxID))
				assert.Zero(t, f.repo.TransitionCallCount)
			})
		}
	}
}

func TestIngest_UnknownCharge(t *testing.T) {
	f := newReconcilerFixture(true)

	_, err := f.rec.Ingest(context.Background(), body(validTxID))
	assert.ErrorIs(t, err, service.ErrUnknownCharge)
	assert.Zero(t, f.repo.TransitionCallCount)
	assert.Zero(t, f.repo.count())
	f.gateway.AssertNotCalled(t, "FetchCharge", mock.Anything, mock.Anything)
}

func TestIngest_MalformedTxIDIsNeverLookedUp(t *testing.T) {
	bodies := [][]byte{
		body("abc12345"),
		body("a1b2c3d4-e5f6-a7b8-c9d0-e1f2a3b4c5d6"),
		body("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a7b8"),
		[]byte(fmt.Sprintf(`{"pix":[{"txid":%q},{"txid":"bad!"}]}`, validTxID)),
	}
	for _, raw := range bodies {
		t.Run(string(raw), func(t *testing.T) {
			f := newReconcilerFixture(true)
			f.addCharge(validTxID, models.StatusPending)

			_, err := f.rec.Ingest(context.Background(), raw)
			assert.ErrorIs(t, err, service.ErrMalformedPayload)
			assert.Zero(t, f.repo.GetCallCount)
			assert.Equal(t, models.StatusPending, f.repo.status(validTxID))
		})
	}
}

func TestIngest_UnrecognizedShape(t *testing.T) {
	bodies := []string{``, `not json`, `[]`, `{}`, `{"pix":[]}`, `{"pix":"x"}`, `{"pix":[{"valor":"1.00"}]}`, `{"txid":42}`}
	for _, raw := range bodies {
		t.Run(raw, func(t *testing.T) {
			f := newReconcilerFixture(true)

			_, err := f.rec.Ingest(context.Background(), []byte(raw))
			assert.ErrorIs(t, err, service.ErrMalformedPayload)
			assert.Zero(t, f.repo.GetCallCount)
		})
	}
}

func TestIngest_ConfirmationFailureIsReconciliationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"timeout", &gateway.GatewayError{Op: "fetch_charge", Err: context.DeadlineExceeded}},
		{"rejected", &gateway.GatewayError{Op: "fetch_charge", Status: 500, Body: "oops"}},
		{"not found upstream", fmt.Errorf("fetch charge %s: %w", validTxID, gateway.ErrNotFound)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcilerFixture(true)
			f.addCharge(validTxID, models.StatusPending)
			f.gateway.On("FetchCharge", mock.Anything, validTxID).Return(nil, tt.err)

			_, err := f.rec.Ingest(context.Background(), body(validTxID))

			var recErr *service.ReconciliationError
			require.True(t, errors.As(err, &recErr))
			assert.Equal(t, validTxID, recErr.TxID)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, models.StatusPending, f.repo.status(validTxID))
		})
	}
}

func TestIngest_UnexpectedUpstreamStatus(t *testing.T) {
	f := newReconcilerFixture(true)
	f.addCharge(validTxID, models.StatusPending)
	f.upstreamReports(validTxID, "EM_PROCESSAMENTO")

	_, err := f.rec.Ingest(context.Background(), body(validTxID))
	var recErr *service.ReconciliationError
	assert.True(t, errors.As(err, &recErr))
	assert.Equal(t, models.StatusPending, f.repo.status(validTxID))
}

func TestIngest_StoreFailureOnLookup(t *testing.T) {
	f := newReconcilerFixture(true)
	f.repo.GetError = &repository.StoreError{Op: "get", Err: errors.New("connection refused")}

	_, err := f.rec.Ingest(context.Background(), body(validTxID))
	var storeErr *repository.StoreError
	assert.True(t, errors.As(err, &storeErr))
	assert.NotErrorIs(t, err, service.ErrUnknownCharge)
}

func TestIngest_NotifierFailureStillAcks(t *testing.T) {
	f := newReconcilerFixture(true)
	f.addCharge(validTxID, models.StatusPending)
	f.upstreamReports(validTxID, models.UpstreamConcluded)
	f.notifier.err = errors.New("nats: timeout")
	f.publisher.err = errors.New("kafka: leader not available")

	res, err := f.rec.Ingest(context.Background(), body(validTxID))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeTransitioned, res.Entries[0].Outcome)
	assert.Equal(t, models.StatusConcluded, f.repo.status(validTxID))
}

func TestIngest_ConcurrentDuplicatesTransitionOnce(t *testing.T) {
	const deliveries = 32

	f := newReconcilerFixture(true)
	f.addCharge(validTxID, models.StatusPending)
	f.upstreamReports(validTxID, models.UpstreamConcluded)

	var wg sync.WaitGroup
	outcomes := make([]service.Outcome, deliveries)
	errs := make([]error, deliveries)
	start := make(chan struct{})
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := f.rec.Ingest(context.Background(), body(validTxID))
			errs[i] = err
			if err == nil {
				outcomes[i] = res.Entries[0].Outcome
			}
		}(i)
	}
	close(start)
	wg.Wait()

	transitioned := 0
	for i := 0; i < deliveries; i++ {
		require.NoError(t, errs[i])
		if outcomes[i] == service.OutcomeTransitioned {
			transitioned++
		}
	}
	assert.Equal(t, 1, transitioned)
	assert.Equal(t, models.StatusConcluded, f.repo.status(validTxID))
	assert.Len(t, f.notifier.notifications(), 1)
	assert.Len(t, f.publisher.published(), 1)
}

func TestIngest_BatchProcessesEveryEntry(t *testing.T) {
	f := newReconcilerFixture(true)
	f.addCharge(validTxID, models.StatusPending)
	f.addCharge(otherTxID, models.StatusPending)
	f.upstreamReports(validTxID, models.UpstreamConcluded)
	f.upstreamReports(otherTxID, models.UpstreamRemovedByPayee)

	raw := []byte(fmt.Sprintf(`{"pix":[{"endToEndId":"E1","txid":%q,"valor":"140.00"},{"txid":%q}]}`, validTxID, otherTxID))
	res, err := f.rec.Ingest(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, service.NotificationBatch, res.Kind)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, models.StatusConcluded, f.repo.status(validTxID))
	assert.Equal(t, models.StatusFailed, f.repo.status(otherTxID))
}

func TestIngest_BatchUnknownEntryDoesNotBlockLaterEntries(t *testing.T) {
	f := newReconcilerFixture(true)
	f.addCharge(validTxID, models.StatusPending)
	f.upstreamReports(validTxID, models.UpstreamConcluded)

	raw := []byte(fmt.Sprintf(`{"pix":[{"txid":%q},{"txid":%q}]}`, otherTxID, validTxID))
	res, err := f.rec.Ingest(context.Background(), raw)
	assert.ErrorIs(t, err, service.ErrUnknownCharge)
	require.NotNil(t, res)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, validTxID, res.Entries[0].TxID)
	assert.Equal(t, service.OutcomeTransitioned, res.Entries[0].Outcome)
	assert.Equal(t, models.StatusConcluded, f.repo.status(validTxID))

	// Redelivery still reports the unknown entry and replays the settled one.
	res, err = f.rec.Ingest(context.Background(), raw)
	assert.ErrorIs(t, err, service.ErrUnknownCharge)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, service.OutcomeReplayed, res.Entries[0].Outcome)
	f.gateway.AssertNumberOfCalls(t, "FetchCharge", 1)
	assert.Len(t, f.notifier.notifications(), 1)
}

func TestIngest_BatchReturnsFirstFailure(t *testing.T) {
	f := newReconcilerFixture(true)
	f.addCharge(validTxID, models.StatusPending)
	f.gateway.On("FetchCharge", mock.Anything, validTxID).
		Return(nil, &gateway.GatewayError{Op: "fetch_charge", Status: 503})

	raw := []byte(fmt.Sprintf(`{"pix":[{"txid":%q},{"txid":%q}]}`, validTxID, otherTxID))
	res, err := f.rec.Ingest(context.Background(), raw)

	var recErr *service.ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, validTxID, recErr.TxID)
	assert.Empty(t, res.Entries)
	assert.Equal(t, models.StatusPending, f.repo.status(validTxID))
}

func TestIngest_WithoutConfirmationTrustsBody(t *testing.T) {
	f := newReconcilerFixture(false)
	f.addCharge(validTxID, models.StatusPending)
	f.addCharge(otherTxID, models.StatusPending)

	_, err := f.rec.Ingest(context.Background(), body(validTxID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConcluded, f.repo.status(validTxID))

	raw := []byte(fmt.Sprintf(`{"txid":%q,"status":%q}`, otherTxID, models.UpstreamRemovedByGateway))
	_, err = f.rec.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, f.repo.status(otherTxID))

	f.gateway.AssertNotCalled(t, "FetchCharge", mock.Anything, mock.Anything)
}

func TestIngest_WithoutConfirmationRejectsUnknownBodyStatus(t *testing.T) {
	f := newReconcilerFixture(false)
	f.addCharge(validTxID, models.StatusPending)

	raw := []byte(fmt.Sprintf(`{"txid":%q,"status":"PAGA"}`, validTxID))
	_, err := f.rec.Ingest(context.Background(), raw)

	assert.ErrorIs(t, err, service.ErrMalformedPayload)
	var recErr *service.ReconciliationError
	assert.False(t, errors.As(err, &recErr))
	assert.Equal(t, models.StatusPending, f.repo.status(validTxID))
	f.gateway.AssertNotCalled(t, "FetchCharge", mock.Anything, mock.Anything)
}

func TestCreateThenWebhookScenario(t *testing.T) {
	repo := newMemRepo()
	gw := &mockGateway{}
	publisher := &recordingPublisher{}
	charges := service.NewChargeService(repo, gw, &fakeRenderer{}, publisher,
		service.ChargeConfig{PayeeKey: payeeKey, Expiration: time.Hour}, zap.NewNop())
	rec := service.NewReconciler(repo, gw, publisher, &recordingNotifier{},
		service.ReconcilerConfig{ConfirmWithGateway: true}, zap.NewNop())
	ctx := context.Background()

	gw.On("CreateCharge", mock.Anything, mock.Anything).Return(&models.UpstreamCharge{PayCode: payCode}, nil)
	created, err := charges.Create(ctx, service.CreateChargeRequest{
		Amount:      decimal.RequireFromString("140.00"),
		Description: "trip payment",
	})
	require.NoError(t, err)

	stored, err := charges.Get(ctx, created.TxID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, payCode, stored.PayCode)

	gw.On("FetchCharge", mock.Anything, created.TxID).
		Return(&models.UpstreamCharge{TxID: created.TxID, Status: models.UpstreamConcluded}, nil)
	_, err = rec.Ingest(ctx, body(created.TxID))
	require.NoError(t, err)

	stored, err = charges.Get(ctx, created.TxID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConcluded, stored.Status)
}

func TestMapUpstreamStatus(t *testing.T) {
	tests := []struct {
		upstream   string
		to         models.ChargeStatus
		definitive bool
	}{
		{models.UpstreamConcluded, models.StatusConcluded, true},
		{models.UpstreamRemovedByPayee, models.StatusFailed, true},
		{models.UpstreamRemovedByGateway, models.StatusFailed, true},
		{models.UpstreamActive, models.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.upstream, func(t *testing.T) {
			to, definitive, err := service.MapUpstreamStatus(tt.upstream)
			require.NoError(t, err)
			assert.Equal(t, tt.to, to)
			assert.Equal(t, tt.definitive, definitive)
		})
	}

	_, _, err := service.MapUpstreamStatus("concluida")
	assert.Error(t, err)
}
