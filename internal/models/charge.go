package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ChargeStatus string

const (
	StatusPending   ChargeStatus = "PENDING"
	StatusConcluded ChargeStatus = "CONCLUDED"
	StatusFailed    ChargeStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ChargeStatus) IsTerminal() bool {
	return s == StatusConcluded || s == StatusFailed
}

// Charge is a request for payment of a fixed amount, identified by its txid.
type Charge struct {
	TxID         string          `json:"txid"`
	Amount       decimal.Decimal `json:"amount"`
	PayeeKey     string          `json:"payee_key"`
	Description  string          `json:"description"`
	Status       ChargeStatus    `json:"status"`
	PayCode      string          `json:"pay_code"`
	Location     string          `json:"location"`
	PayerContact string          `json:"payer_contact,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ChargeRequest is what the gateway needs to register a new charge.
type ChargeRequest struct {
	TxID        string
	Amount      decimal.Decimal
	PayeeKey    string
	Description string
	Expiration  time.Duration
}

// Upstream charge states as reported by the PIX gateway.
const (
	UpstreamActive           = "ATIVA"
	UpstreamConcluded        = "CONCLUIDA"
	UpstreamRemovedByPayee   = "REMOVIDA_PELO_USUARIO_RECEBEDOR"
	UpstreamRemovedByGateway = "REMOVIDA_PELO_PSP"
)

// UpstreamCharge is the gateway's view of a charge.
type UpstreamCharge struct {
	TxID     string
	Status   string
	PayCode  string
	Location string
	Amount   string
}

// Credential is a short-lived bearer token for the gateway.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the credential can still be used at now, keeping
// margin before its expiry.
func (c Credential) Valid(now time.Time, margin time.Duration) bool {
	return c.Token != "" && now.Before(c.ExpiresAt.Add(-margin))
}

// PayerNotification is handed to the payer notification hook once a charge
// is settled.
type PayerNotification struct {
	TxID    string          `json:"txid"`
	Amount  decimal.Decimal `json:"amount"`
	Contact string          `json:"contact"`
}

// StateEvent describes a committed status change.
type StateEvent struct {
	TxID          string       `json:"txid"`
	State         ChargeStatus `json:"state"`
	PreviousState ChargeStatus `json:"previous_state"`
	Timestamp     time.Time    `json:"timestamp"`
}
