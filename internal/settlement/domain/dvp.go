// 变更说明：实现 DVP 券款对付处理器。两项可用性预检都在任何动账之前完成，
// 任一失败则整体失败且不产生部分移动；成功路径调用账务方的同步交收提交，
// 原子性由账务协作方的事务边界保证（本金风险防护）。
package domain

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// SecuritiesMovement 证券腿移动
type SecuritiesMovement struct {
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	ISIN        string          `json:"isin"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// CashMovement 资金腿移动
type CashMovement struct {
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// DVPResult DVP 处理结果
type DVPResult struct {
	Committed     bool            `json:"committed"`
	SettlementRef string          `json:"settlement_ref"`
	Reasons       []FailureReason `json:"reasons"`
}

// DVPProcessor 券款对付处理器
type DVPProcessor struct {
	custodian CustodianService
	ledger    LedgerService
}

func NewDVPProcessor(custodian CustodianService, ledger LedgerService) *DVPProcessor {
	return &DVPProcessor{custodian: custodian, ledger: ledger}
}

// Process 执行 DVP/RVP 交收。
// 预检：交付方证券头寸足额、付款方资金足额，两项独立检查全部先于任何提交。
// 任一不足即返回失败与具体原因集合，不做任何移动；全部通过才调用
// CommitSimultaneous，两腿同进同退。
func (p *DVPProcessor) Process(ctx context.Context, ins *SettlementInstruction) (*DVPResult, error) {
	if !ins.SettlementType.RequiresPayment() {
		return nil, fmt.Errorf("instruction %s is %s, not a payment settlement", ins.InstructionID, ins.SettlementType)
	}

	result := &DVPResult{}

	position, err := p.custodian.QueryPosition(ctx, ins.DeliverFrom, ins.ISIN)
	if err != nil {
		return nil, fmt.Errorf("query securities position: %w", err)
	}
	if position.LessThan(ins.PendingQuantity) {
		result.Reasons = append(result.Reasons, FailInsufficientSecurities)
	}

	balance, err := p.custodian.QueryBalance(ctx, ins.CashFrom, ins.Currency)
	if err != nil {
		return nil, fmt.Errorf("query cash balance: %w", err)
	}
	if balance.LessThan(ins.NetAmount) {
		result.Reasons = append(result.Reasons, FailInsufficientCash)
	}

	if len(result.Reasons) > 0 {
		return result, nil
	}

	securities := SecuritiesMovement{
		FromAccount: ins.DeliverFrom,
		ToAccount:   ins.DeliverTo,
		ISIN:        ins.ISIN,
		Quantity:    ins.PendingQuantity,
	}
	cash := CashMovement{
		FromAccount: ins.CashFrom,
		ToAccount:   ins.CashTo,
		Amount:      ins.NetAmount,
		Currency:    ins.Currency,
	}

	ref, err := p.ledger.CommitSimultaneous(ctx, securities, cash)
	if err != nil {
		return nil, fmt.Errorf("simultaneous commit: %w", err)
	}

	result.Committed = true
	result.SettlementRef = ref
	return result, nil
}
