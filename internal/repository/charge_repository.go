package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
	"github.com/akylbek/payment-system/pix-charges/internal/models"
)

const uniqueViolation = "23505"

var _ interfaces.ChargeRepository = (*ChargeRepository)(nil)

// ChargeRepository is the PostgreSQL charge store.
type ChargeRepository struct {
	db *sql.DB
}

func NewChargeRepository(db *sql.DB) *ChargeRepository {
	return &ChargeRepository{db: db}
}

func (r *ChargeRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS charges (
			txid VARCHAR(35) PRIMARY KEY,
			pay_code TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			payee_key VARCHAR(77) NOT NULL,
			description VARCHAR(140) NOT NULL DEFAULT '',
			payer_contact VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_charges_status ON charges(status)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (r *ChargeRepository) Insert(ctx context.Context, charge *models.Charge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO charges (txid, pay_code, location, status, amount, payee_key, description, payer_contact, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, charge.TxID, charge.PayCode, charge.Location, charge.Status, charge.Amount,
		charge.PayeeKey, charge.Description, charge.PayerContact, charge.CreatedAt, charge.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return storeErr("insert", ErrDuplicate)
		}
		return storeErr("insert", err)
	}
	return nil
}

func (r *ChargeRepository) TransitionStatus(ctx context.Context, txid string, from, to models.ChargeStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE charges
		SET status = $1, updated_at = NOW()
		WHERE txid = $2 AND status = $3
	`, to, txid, from)
	if err != nil {
		return false, storeErr("transition", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("transition", err)
	}
	return rows == 1, nil
}

func (r *ChargeRepository) GetByTxID(ctx context.Context, txid string) (*models.Charge, error) {
	var c models.Charge
	err := r.db.QueryRowContext(ctx, `
		SELECT txid, pay_code, location, status, amount, payee_key, description, payer_contact, created_at, updated_at
		FROM charges WHERE txid = $1
	`, txid).Scan(&c.TxID, &c.PayCode, &c.Location, &c.Status, &c.Amount,
		&c.PayeeKey, &c.Description, &c.PayerContact, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return &c, nil
}
