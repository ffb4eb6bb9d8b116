package service_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/akylbek/payment-system/pix-charges/internal/models"
	"github.com/akylbek/payment-system/pix-charges/internal/repository"
)

// memRepo is an in-memory ChargeRepository with call counters.
type memRepo struct {
	mu      sync.Mutex
	charges map[string]models.Charge

	InsertCallCount     int32
	GetCallCount        int32
	TransitionCallCount int32

	InsertError error
	GetError    error
}

func newMemRepo() *memRepo {
	return &memRepo{charges: make(map[string]models.Charge)}
}

func (m *memRepo) put(c models.Charge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges[c.TxID] = c
}

func (m *memRepo) status(txid string) models.ChargeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charges[txid].Status
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.charges)
}

func (m *memRepo) Insert(ctx context.Context, charge *models.Charge) error {
	atomic.AddInt32(&m.InsertCallCount, 1)
	if m.InsertError != nil {
		return m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.charges[charge.TxID]; ok {
		return &repository.StoreError{Op: "insert", Err: repository.ErrDuplicate}
	}
	m.charges[charge.TxID] = *charge
	return nil
}

func (m *memRepo) GetByTxID(ctx context.Context, txid string) (*models.Charge, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[txid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m *memRepo) TransitionStatus(ctx context.Context, txid string, from, to models.ChargeStatus) (bool, error) {
	atomic.AddInt32(&m.TransitionCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[txid]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	m.charges[txid] = c
	return true, nil
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCharge(ctx context.Context, req models.ChargeRequest) (*models.UpstreamCharge, error) {
	args := m.Called(ctx, req)
	charge, _ := args.Get(0).(*models.UpstreamCharge)
	return charge, args.Error(1)
}

func (m *mockGateway) FetchCharge(ctx context.Context, txid string) (*models.UpstreamCharge, error) {
	args := m.Called(ctx, txid)
	charge, _ := args.Get(0).(*models.UpstreamCharge)
	return charge, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.StateEvent
	err    error
}

func (p *recordingPublisher) PublishState(ctx context.Context, event models.StateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) published() []models.StateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StateEvent(nil), p.events...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.PayerNotification
	err  error
}

func (n *recordingNotifier) NotifyPayer(ctx context.Context, msg models.PayerNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) notifications() []models.PayerNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.PayerNotification(nil), n.sent...)
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls map[string]string
	err   error
}

func (r *fakeRenderer) Render(ctx context.Context, key, payCode string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]string)
	}
	r.calls[key] = payCode
	if r.err != nil {
		return "", r.err
	}
	return "qrcodes/" + key + ".png", nil
}
