// ledger/http_client.go
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/logger"
)

// HTTPClient talks to the ledger provider over an action-dispatch JSON API.
// Transient failures (network errors, 5xx) are retried with bounded
// exponential backoff; 4xx responses are surfaced immediately.
type HTTPClient struct {
	endpoint   string
	client     *http.Client
	maxRetries uint64
}

func NewHTTPClient(endpoint string, requestTimeout time.Duration, maxRetries uint64) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: requestTimeout},
		maxRetries: maxRetries,
	}
}

type ledgerRequest struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Amount    string `json:"amount,omitempty"`
	TxID      string `json:"tx_id,omitempty"`
}

type ledgerResponse struct {
	Address   string `json:"address,omitempty"`
	Blob      string `json:"blob,omitempty"`
	Amount    string `json:"amount,omitempty"`
	To        string `json:"to,omitempty"`
	Finalized bool   `json:"finalized,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (c *HTTPClient) call(ctx context.Context, req *ledgerRequest) (*ledgerResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var resp *ledgerResponse
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.client.Do(httpReq)
		if err != nil {
			logger.Log.Warnf("Ledger call %s failed, will retry: %v", req.Action, err)
			return err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}

		if httpResp.StatusCode >= 500 {
			logger.Log.Warnf("Ledger call %s returned %d, will retry", req.Action, httpResp.StatusCode)
			return fmt.Errorf("ledger returned %d", httpResp.StatusCode)
		}

		var parsed ledgerResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid ledger response: %w", err))
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("ledger rejected %s: %s", req.Action, parsed.Error))
		}
		resp = &parsed
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) CreateEscrowDestination(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, &ledgerRequest{
		Action:    "create_destination",
		RequestID: uuid.New().String(),
	})
	if err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("ledger returned no destination address")
	}
	return resp.Address, nil
}

func (c *HTTPClient) BuildTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (*TransferInstruction, error) {
	resp, err := c.call(ctx, &ledgerRequest{
		Action:    "build_transfer",
		RequestID: uuid.New().String(),
		From:      from,
		To:        to,
		Amount:    amount.String(),
	})
	if err != nil {
		return nil, err
	}
	return &TransferInstruction{
		From:   from,
		To:     to,
		Amount: amount,
		Blob:   resp.Blob,
	}, nil
}

func (c *HTTPClient) GetTransferStatus(ctx context.Context, txID string) (*TransferStatus, error) {
	resp, err := c.call(ctx, &ledgerRequest{
		Action:    "transfer_status",
		RequestID: uuid.New().String(),
		TxID:      txID,
	})
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(resp.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount in ledger response: %w", err)
	}
	return &TransferStatus{
		Amount:    amount,
		To:        resp.To,
		Finalized: resp.Finalized,
	}, nil
}
