// Package gateway wraps the external payment provider's REST API. All calls
// carry a bearer secret and decode the provider's {status: bool, data: {...}}
// envelope into a tagged Result so malformed responses fail closed.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// MetricsPort counts outbound gateway calls.
type MetricsPort interface {
	GatewayCall(endpoint, outcome string)
}

// Client talks to the payment gateway.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	metrics    MetricsPort
	logger     *slog.Logger
}

// NewClient constructs a Client. httpClient may be nil, in which case a
// default with the given timeout is used.
func NewClient(baseURL, secretKey string, timeout time.Duration, metrics MetricsPort, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Result is the decoded outcome of a gateway call. OK is true only for a 2xx
// response whose envelope carried status=true; everything else, including
// timeouts and undecodable bodies, is a failure.
type Result struct {
	OK        bool
	Reference string
	Code      string
	Message   string
	Raw       json.RawMessage
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// AirtimeRequest purchases airtime for a phone number.
type AirtimeRequest struct {
	Phone     string `json:"phone"`
	Amount    int64  `json:"amount"`
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
}

// DataRequest purchases a data bundle.
type DataRequest struct {
	Phone     string `json:"phone"`
	Amount    int64  `json:"amount"`
	Provider  string `json:"provider"`
	PlanCode  string `json:"plan_code"`
	Reference string `json:"reference"`
}

// RecipientRequest registers a bank payee ahead of an outbound transfer.
type RecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

// TransferRequest initiates an outbound transfer to a registered payee.
type TransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
}

// InitializeRequest starts a hosted funding transaction.
type InitializeRequest struct {
	Amount    int64          `json:"amount"`
	Email     string         `json:"email"`
	Currency  string         `json:"currency"`
	Reference string         `json:"reference"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PurchaseAirtime calls the airtime bill endpoint. The operation reference
// doubles as the gateway's idempotency key.
func (c *Client) PurchaseAirtime(ctx context.Context, req AirtimeRequest) Result {
	return c.post(ctx, "bill/airtime", req)
}

// PurchaseData calls the data bill endpoint.
func (c *Client) PurchaseData(ctx context.Context, req DataRequest) Result {
	return c.post(ctx, "bill/data", req)
}

// CreateTransferRecipient registers the payee and returns its recipient code.
func (c *Client) CreateTransferRecipient(ctx context.Context, req RecipientRequest) Result {
	return c.post(ctx, "transferrecipient", req)
}

// InitiateTransfer starts the payout and returns its transfer code. Settlement
// is asynchronous; the outcome arrives later as a transfer.* webhook.
func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) Result {
	return c.post(ctx, "transfer", req)
}

// InitializeTransaction creates a hosted checkout for wallet funding and
// returns the authorization URL in its data payload.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) Result {
	return c.post(ctx, "transaction/initialize", req)
}

// VerifyTransaction fetches the gateway's view of a funding transaction.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) Result {
	return c.get(ctx, "transaction/verify/"+url.PathEscape(reference))
}

// ReportRow is one record from the gateway's reporting endpoints.
type ReportRow struct {
	Status string `json:"status"`
	Amount int64  `json:"amount"`
	Type   string `json:"type"`
}

// ListTransactions returns the gateway's inbound charges for a day.
func (c *Client) ListTransactions(ctx context.Context, day time.Time) ([]ReportRow, error) {
	return c.list(ctx, "transaction", day)
}

// ListTransfers returns the gateway's outbound transfers for a day.
func (c *Client) ListTransfers(ctx context.Context, day time.Time) ([]ReportRow, error) {
	return c.list(ctx, "transfer", day)
}

// ListBills returns the gateway's bill purchases for a day.
func (c *Client) ListBills(ctx context.Context, day time.Time) ([]ReportRow, error) {
	return c.list(ctx, "bill", day)
}

func (c *Client) list(ctx context.Context, endpoint string, day time.Time) ([]ReportRow, error) {
	date := day.UTC().Format("2006-01-02")
	res := c.get(ctx, fmt.Sprintf("%s?from=%s&to=%s", endpoint, date, date))
	if !res.OK {
		return nil, fmt.Errorf("gateway: %s report: %s", endpoint, res.Message)
	}
	var rows []ReportRow
	if err := json.Unmarshal(res.Raw, &rows); err != nil {
		return nil, fmt.Errorf("gateway: decode %s report: %w", endpoint, err)
	}
	return rows, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return c.failure(endpoint, "encode request failed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return c.failure(endpoint, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint)
}

func (c *Client) get(ctx context.Context, endpoint string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint, nil)
	if err != nil {
		return c.failure(endpoint, err.Error())
	}
	return c.do(req, endpoint)
}

func (c *Client) do(req *http.Request, endpoint string) Result {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A timeout after the gateway may have acted is still treated as a
		// failure; reconciliation surfaces any double fulfilment afterwards.
		c.logger.Warn("gateway call failed", slog.String("endpoint", endpoint), slog.Any("error", err))
		return c.failure(endpoint, "gateway unreachable")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.failure(endpoint, "read response failed")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return c.failure(endpoint, "malformed gateway response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		if c.metrics != nil {
			c.metrics.GatewayCall(endpoint, "failure")
		}
		return Result{OK: false, Message: env.Message, Raw: raw}
	}

	res := Result{OK: true, Message: env.Message, Raw: env.Data}
	var data struct {
		Reference     string `json:"reference"`
		RecipientCode string `json:"recipient_code"`
		TransferCode  string `json:"transfer_code"`
	}
	if err := json.Unmarshal(env.Data, &data); err == nil {
		res.Reference = data.Reference
		switch {
		case data.TransferCode != "":
			res.Code = data.TransferCode
		case data.RecipientCode != "":
			res.Code = data.RecipientCode
		}
	}
	if c.metrics != nil {
		c.metrics.GatewayCall(endpoint, "success")
	}
	return res
}

func (c *Client) failure(endpoint, message string) Result {
	if c.metrics != nil {
		c.metrics.GatewayCall(endpoint, "failure")
	}
	return Result{OK: false, Message: message}
}
