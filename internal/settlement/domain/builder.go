package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeCapture 上游成交记录。交易与头寸归外部系统所有，这里只引用 ID。
type TradeCapture struct {
	TradeID        string
	ISIN           string
	Currency       string
	CountryOfIssue string
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	BuyerAccount   string
	SellerAccount  string
	BuyerCashAcct  string
	SellerCashAcct string
	TradeDate      time.Time
	SettlementType SettlementType
	Fees           []InstructionFee
}

// InstructionBuilder 从成交记录构建结算指令。
// 纯构造，无副作用；节假日日历属于外部日历服务，这里只做自然日偏移。
type InstructionBuilder struct{}

func NewInstructionBuilder() *InstructionBuilder {
	return &InstructionBuilder{}
}

// SettlementDateFor 按结算周期计算交收日。
// T+0 当日，CUSTOM 使用调用方提供的日期，其余为交易日 + N 个自然日。
func (b *InstructionBuilder) SettlementDateFor(tradeDate time.Time, cycle SettlementCycle, customDate time.Time) (time.Time, error) {
	switch {
	case cycle == CycleCustom:
		if customDate.IsZero() {
			return time.Time{}, errors.New("custom settlement cycle requires an explicit date")
		}
		return customDate, nil
	case cycle >= CycleT0 && cycle <= CycleT3:
		return tradeDate.AddDate(0, 0, int(cycle)), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported settlement cycle %d", cycle)
	}
}

// Build 构建一条 PENDING 指令：毛额 = 数量 × 价格，净额 = 毛额 ± 费用（按资金方向）。
func (b *InstructionBuilder) Build(instructionID, createdBy string, trade TradeCapture, cycle SettlementCycle, customDate time.Time) (*SettlementInstruction, error) {
	if trade.TradeID == "" {
		return nil, errors.New("trade id is required")
	}
	settlementDate, err := b.SettlementDateFor(trade.TradeDate, cycle, customDate)
	if err != nil {
		return nil, err
	}

	gross := trade.Quantity.Mul(trade.Price)
	fees := append([]InstructionFee(nil), trade.Fees...)
	totalFees := decimal.Zero
	for i := range fees {
		fees[i].InstructionID = instructionID
		totalFees = totalFees.Add(fees[i].Amount)
	}

	ins := &SettlementInstruction{
		InstructionID:    instructionID,
		TradeID:          trade.TradeID,
		ISIN:             trade.ISIN,
		Currency:         trade.Currency,
		CountryOfIssue:   trade.CountryOfIssue,
		Quantity:         trade.Quantity,
		Price:            trade.Price,
		GrossAmount:      gross,
		NetAmount:        gross.Add(totalFees),
		Fees:             fees,
		DeliverFrom:      trade.SellerAccount,
		DeliverTo:        trade.BuyerAccount,
		TradeDate:        trade.TradeDate,
		SettlementDate:   settlementDate,
		Cycle:            cycle,
		SettlementType:   trade.SettlementType,
		Status:           StatusPending,
		OriginalQuantity: trade.Quantity,
		SettledQuantity:  decimal.Zero,
		PendingQuantity:  trade.Quantity,
		MaxRetry:         3,
		CreatedBy:        createdBy,
		Version:          1,
	}

	if trade.SettlementType.RequiresPayment() {
		ins.CashFrom = trade.BuyerCashAcct
		ins.CashTo = trade.SellerCashAcct
	}
	return ins, nil
}
