package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
	"github.com/akylbek/payment-system/pix-charges/internal/metrics"
	"github.com/akylbek/payment-system/pix-charges/internal/models"
)

var _ interfaces.Gateway = (*Client)(nil)

// TokenSource supplies bearer tokens. CredentialCache is the production
// implementation.
type TokenSource interface {
	Token(ctx context.Context) (models.Credential, error)
	Invalidate(token string)
}

// Client talks to the PIX gateway's charge ("cob") and webhook endpoints.
type Client struct {
	baseURL string
	hc      *http.Client
	tokens  TokenSource
	tracer  trace.Tracer
	logger  *zap.Logger
}

func NewClient(baseURL string, hc *http.Client, tokens TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      hc,
		tokens:  tokens,
		tracer:  otel.Tracer("pix-gateway"),
		logger:  logger,
	}
}

type cobCalendar struct {
	Expiration int `json:"expiracao"`
}

type cobValue struct {
	Original string `json:"original"`
}

type cobRequest struct {
	Calendar     cobCalendar `json:"calendario"`
	Value        cobValue    `json:"valor"`
	Key          string      `json:"chave"`
	PayerMessage string      `json:"solicitacaoPagador,omitempty"`
	TxID         string      `json:"txid"`
}

type cobResponse struct {
	TxID          string   `json:"txid"`
	Status        string   `json:"status"`
	Location      string   `json:"location"`
	BRCode        string   `json:"brcode"`
	PixCopiaECola string   `json:"pixCopiaECola"`
	Value         cobValue `json:"valor"`
}

func (r cobResponse) upstream() *models.UpstreamCharge {
	code := r.BRCode
	if code == "" {
		code = r.PixCopiaECola
	}
	return &models.UpstreamCharge{
		TxID:     r.TxID,
		Status:   r.Status,
		PayCode:  code,
		Location: r.Location,
		Amount:   r.Value.Original,
	}
}

// CreateCharge registers an immediate charge under req.TxID.
func (c *Client) CreateCharge(ctx context.Context, req models.ChargeRequest) (*models.UpstreamCharge, error) {
	const op = "create_charge"

	payload := cobRequest{
		Calendar:     cobCalendar{Expiration: int(req.Expiration / time.Second)},
		Value:        cobValue{Original: req.Amount.StringFixed(2)},
		Key:          req.PayeeKey,
		PayerMessage: req.Description,
		TxID:         req.TxID,
	}

	status, body, err := c.do(ctx, op, http.MethodPost, "/cob", payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &GatewayError{Op: op, Status: status, Body: string(body)}
	}

	var reply cobResponse
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &GatewayError{Op: op, Status: status, Body: string(body), Err: err}
	}
	charge := reply.upstream()
	if charge.PayCode == "" {
		return nil, &GatewayError{Op: op, Status: status, Body: string(body), Err: errors.New("response has no pay code")}
	}
	if charge.TxID == "" {
		charge.TxID = req.TxID
	}
	return charge, nil
}

// FetchCharge returns the gateway's current view of a charge. An unknown
// txid yields ErrNotFound.
func (c *Client) FetchCharge(ctx context.Context, txid string) (*models.UpstreamCharge, error) {
	const op = "fetch_charge"

	status, body, err := c.do(ctx, op, http.MethodGet, "/cob/"+url.PathEscape(txid), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("fetch charge %s: %w", txid, ErrNotFound)
	}
	if status < 200 || status > 299 {
		return nil, &GatewayError{Op: op, Status: status, Body: string(body)}
	}

	var reply cobResponse
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &GatewayError{Op: op, Status: status, Body: string(body), Err: err}
	}
	return reply.upstream(), nil
}

// RegisterWebhook points the gateway's notifications for payeeKey at
// webhookURL.
func (c *Client) RegisterWebhook(ctx context.Context, payeeKey, webhookURL string) error {
	const op = "register_webhook"

	payload := map[string]string{"webhookUrl": webhookURL}
	status, body, err := c.do(ctx, op, http.MethodPut, "/webhook/"+url.PathEscape(payeeKey), payload)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &GatewayError{Op: op, Status: status, Body: string(body)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) (int, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "gateway."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("gateway.path", path),
	)

	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return 0, nil, &GatewayError{Op: op, Err: err}
		}
	}

	start := time.Now()
	status, body, err := c.send(ctx, op, method, path, raw)

	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	metrics.GatewayRequestDuration.WithLabelValues(op, label).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return status, body, err
}

// send performs the request, retrying exactly once with a fresh token when
// the gateway rejects the credential.
func (c *Client) send(ctx context.Context, op, method, path string, raw []byte) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		cred, err := c.tokens.Token(ctx)
		if err != nil {
			return 0, nil, &GatewayError{Op: op, Err: err}
		}

		status, body, err := c.roundTrip(ctx, method, path, raw, cred.Token)
		if err != nil {
			return 0, nil, &GatewayError{Op: op, Err: err}
		}

		if (status == http.StatusUnauthorized || status == http.StatusForbidden) && attempt == 0 {
			c.logger.Info("gateway rejected credential, refreshing",
				zap.String("operation", op),
				zap.Int("status", status),
			)
			c.tokens.Invalidate(cred.Token)
			continue
		}
		return status, body, nil
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, raw []byte, token string) (int, []byte, error) {
	var reader io.Reader
	if raw != nil {
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
