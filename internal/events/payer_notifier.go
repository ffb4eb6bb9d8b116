package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
	"github.com/akylbek/payment-system/pix-charges/internal/models"
)

// PayerNotifySubject is where settled-charge notifications are published for
// the messaging worker that contacts the payer.
const PayerNotifySubject = "payer.notify"

var (
	_ interfaces.PayerNotifier = (*NATSNotifier)(nil)
	_ interfaces.PayerNotifier = (*LogNotifier)(nil)
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subj string, data []byte) error
}

type payerMessage struct {
	TxID    string `json:"txid"`
	Amount  string `json:"amount"`
	Contact string `json:"contact"`
}

type NATSNotifier struct {
	conn    Publisher
	subject string
}

func NewNATSNotifier(conn Publisher) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: PayerNotifySubject}
}

func (n *NATSNotifier) NotifyPayer(ctx context.Context, msg models.PayerNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payerMessage{
		TxID:    msg.TxID,
		Amount:  msg.Amount.StringFixed(2),
		Contact: msg.Contact,
	})
	if err != nil {
		return fmt.Errorf("encode payer notification: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish payer notification for %s: %w", msg.TxID, err)
	}
	return nil
}

// LogNotifier only records the notification. Used when no NATS server is
// configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyPayer(_ context.Context, msg models.PayerNotification) error {
	n.logger.Info("Payer notification",
		zap.String("txid", msg.TxID),
		zap.String("amount", msg.Amount.StringFixed(2)),
		zap.String("contact", msg.Contact),
	)
	return nil
}
