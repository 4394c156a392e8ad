// 变更说明：下游网关客户端。托管、账务与清算所网关走 REST 通道，
// 统一用 resty 客户端承载超时与基址配置。
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const gatewayTimeout = 5 * time.Second

func newRestyClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(gatewayTimeout).
		SetHeader("Content-Type", "application/json")
}

// CustodyGatewayClient 托管方网关客户端。
type CustodyGatewayClient struct {
	http *resty.Client
}

func NewCustodyGatewayClient(baseURL string) *CustodyGatewayClient {
	return &CustodyGatewayClient{http: newRestyClient(baseURL)}
}

func (c *CustodyGatewayClient) GetPosition(ctx context.Context, accountID, isin string) (int64, error) {
	var out struct {
		Quantity int64 `json:"quantity"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		Get(fmt.Sprintf("/positions/%s/%s", accountID, isin))
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("custody gateway: %s", resp.Status())
	}
	return out.Quantity, nil
}

func (c *CustodyGatewayClient) GetBalance(ctx context.Context, accountID, currency string) (int64, error) {
	var out struct {
		Amount int64 `json:"amount"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		Get(fmt.Sprintf("/balances/%s/%s", accountID, currency))
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("custody gateway: %s", resp.Status())
	}
	return out.Amount, nil
}

func (c *CustodyGatewayClient) ListPositions(ctx context.Context, accountID string) (map[string]int64, error) {
	var out struct {
		Positions []struct {
			ISIN     string `json:"isin"`
			Quantity int64  `json:"quantity"`
		} `json:"positions"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		Get(fmt.Sprintf("/positions/%s", accountID))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("custody gateway: %s", resp.Status())
	}
	positions := make(map[string]int64, len(out.Positions))
	for _, p := range out.Positions {
		positions[p.ISIN] = p.Quantity
	}
	return positions, nil
}

func (c *CustodyGatewayClient) Deliver(ctx context.Context, fromAccount, toAccount, isin string, quantity int64) (string, error) {
	var out struct {
		Reference string `json:"reference"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]any{
			"from_account": fromAccount,
			"to_account":   toAccount,
			"isin":         isin,
			"quantity":     quantity,
		}).
		SetResult(&out).
		Post("/deliveries")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("custody gateway: %s", resp.Status())
	}
	return out.Reference, nil
}

// LedgerGatewayClient 账务网关客户端。
type LedgerGatewayClient struct {
	http *resty.Client
}

func NewLedgerGatewayClient(baseURL string) *LedgerGatewayClient {
	return &LedgerGatewayClient{http: newRestyClient(baseURL)}
}

func (c *LedgerGatewayClient) MoveSecurities(ctx context.Context, fromAccount, toAccount, isin string, quantity decimal.Decimal) (string, error) {
	return c.move(ctx, "/movements/securities", map[string]any{
		"from_account": fromAccount,
		"to_account":   toAccount,
		"isin":         isin,
		"quantity":     quantity.String(),
	})
}

func (c *LedgerGatewayClient) MoveCash(ctx context.Context, fromAccount, toAccount string, amount decimal.Decimal, currency string) (string, error) {
	return c.move(ctx, "/movements/cash", map[string]any{
		"from_account": fromAccount,
		"to_account":   toAccount,
		"amount":       amount.String(),
		"currency":     currency,
	})
}

func (c *LedgerGatewayClient) move(ctx context.Context, path string, body map[string]any) (string, error) {
	var out struct {
		MovementRef string `json:"movement_ref"`
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post(path)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("ledger gateway: %s", resp.Status())
	}
	return out.MovementRef, nil
}

func (c *LedgerGatewayClient) Reverse(ctx context.Context, movementRef string) error {
	resp, err := c.http.R().SetContext(ctx).
		Post(fmt.Sprintf("/movements/%s/reverse", movementRef))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("ledger gateway: %s", resp.Status())
	}
	return nil
}

// ClearingGatewayClient 清算所网关客户端。
type ClearingGatewayClient struct {
	http *resty.Client
}

func NewClearingGatewayClient(baseURL string) *ClearingGatewayClient {
	return &ClearingGatewayClient{http: newRestyClient(baseURL)}
}

func (c *ClearingGatewayClient) Submit(ctx context.Context, clearingHouseID string, payload []byte) (string, error) {
	var out struct {
		SubmissionID string `json:"submission_id"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		Post(fmt.Sprintf("/submissions/%s", clearingHouseID))
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("clearing gateway %s: %s", clearingHouseID, resp.Status())
	}
	return out.SubmissionID, nil
}
