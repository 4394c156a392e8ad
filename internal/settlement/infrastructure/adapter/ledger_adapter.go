// 变更说明：账务适配器。CommitSimultaneous 在账务客户端上按"证券腿先行、
// 资金腿跟进、失败冲正"的次序实现两腿同进同退，对外表现为单次原子提交。
package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

// LedgerClient 账务方客户端协议。Reverse 为冲正接口，凭移动参考号回退。
type LedgerClient interface {
	MoveSecurities(ctx context.Context, fromAccount, toAccount, isin string, quantity decimal.Decimal) (string, error)
	MoveCash(ctx context.Context, fromAccount, toAccount string, amount decimal.Decimal, currency string) (string, error)
	Reverse(ctx context.Context, movementRef string) error
}

type LedgerAdapter struct {
	ledgerClient LedgerClient
	logger       *slog.Logger
}

func NewLedgerAdapter(client LedgerClient, logger *slog.Logger) domain.LedgerService {
	return &LedgerAdapter{
		ledgerClient: client,
		logger:       logger,
	}
}

// CommitSimultaneous 两腿提交。资金腿失败时冲正已完成的证券腿；
// 冲正本身失败属于需要人工介入的严重事故，记日志后把原始错误上抛。
func (a *LedgerAdapter) CommitSimultaneous(ctx context.Context, securities domain.SecuritiesMovement, cash domain.CashMovement) (string, error) {
	settlementRef := fmt.Sprintf("DVP-%d", idgen.GenID())

	securitiesRef, err := a.ledgerClient.MoveSecurities(ctx, securities.FromAccount, securities.ToAccount, securities.ISIN, securities.Quantity)
	if err != nil {
		return "", fmt.Errorf("securities leg: %w", err)
	}

	if _, err := a.ledgerClient.MoveCash(ctx, cash.FromAccount, cash.ToAccount, cash.Amount, cash.Currency); err != nil {
		if revErr := a.ledgerClient.Reverse(ctx, securitiesRef); revErr != nil {
			a.logger.Error("securities leg reversal failed, manual intervention required",
				"settlement_ref", settlementRef,
				"securities_ref", securitiesRef,
				"cash_error", err,
				"reversal_error", revErr,
			)
		}
		return "", fmt.Errorf("cash leg: %w", err)
	}

	a.logger.Info("dvp legs committed",
		"settlement_ref", settlementRef,
		"isin", securities.ISIN,
		"quantity", securities.Quantity,
		"amount", cash.Amount,
		"currency", cash.Currency,
	)
	return settlementRef, nil
}
