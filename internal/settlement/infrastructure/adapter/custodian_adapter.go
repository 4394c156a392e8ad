// 变更说明：托管方适配器。把领域层的 CustodianService 协议落到托管方客户端上，
// 托管侧金额按最小单位（整数）表示，此处负责与 decimal 的换算。
package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

// custodyAmountScale 托管方最小单位换算位数（分）。
const custodyAmountScale = 2

// CustodyClient 托管方客户端协议。
type CustodyClient interface {
	GetPosition(ctx context.Context, accountID, isin string) (int64, error)
	GetBalance(ctx context.Context, accountID, currency string) (int64, error)
	ListPositions(ctx context.Context, accountID string) (map[string]int64, error)
	Deliver(ctx context.Context, fromAccount, toAccount, isin string, quantity int64) (string, error)
}

type CustodianAdapter struct {
	custodyClient CustodyClient
	logger        *slog.Logger
}

func NewCustodianAdapter(client CustodyClient, logger *slog.Logger) domain.CustodianService {
	return &CustodianAdapter{
		custodyClient: client,
		logger:        logger,
	}
}

func (a *CustodianAdapter) QueryPosition(ctx context.Context, account, isin string) (decimal.Decimal, error) {
	position, err := a.custodyClient.GetPosition(ctx, account, isin)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get position: %w", err)
	}
	return decimal.NewFromInt(position), nil
}

func (a *CustodianAdapter) QueryBalance(ctx context.Context, account, currency string) (decimal.Decimal, error) {
	balance, err := a.custodyClient.GetBalance(ctx, account, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return decimal.New(balance, -custodyAmountScale), nil
}

func (a *CustodianAdapter) QueryPositions(ctx context.Context, account string) ([]domain.BookPosition, error) {
	raw, err := a.custodyClient.ListPositions(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	positions := make([]domain.BookPosition, 0, len(raw))
	for isin, quantity := range raw {
		positions = append(positions, domain.BookPosition{
			Account:  account,
			ISIN:     isin,
			Quantity: decimal.NewFromInt(quantity),
		})
	}
	return positions, nil
}

func (a *CustodianAdapter) InstructDelivery(ctx context.Context, ins *domain.SettlementInstruction, account string) (string, error) {
	a.logger.Info("instructing delivery",
		"instruction_id", ins.InstructionID,
		"from", ins.DeliverFrom,
		"to", ins.DeliverTo,
		"isin", ins.ISIN,
		"quantity", ins.PendingQuantity,
	)

	reference, err := a.custodyClient.Deliver(ctx, ins.DeliverFrom, ins.DeliverTo, ins.ISIN, ins.PendingQuantity.IntPart())
	if err != nil {
		a.logger.Error("delivery instruction failed", "instruction_id", ins.InstructionID, "error", err)
		return "", fmt.Errorf("custody deliver: %w", err)
	}

	a.logger.Info("delivery instructed", "instruction_id", ins.InstructionID, "reference", reference)
	return reference, nil
}
