// Package application 包含结算引擎的用例逻辑(Use Cases)。
// 这一层负责编排领域对象、仓储与外部协作方，完成具体业务功能。
package application

import (
	"time"

	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

// CreateInstructionRequest 创建结算指令请求 DTO。
// 数量与价格使用字符串以保持精度（与接口层解耦的传输对象）。
type CreateInstructionRequest struct {
	TradeID        string    `json:"trade_id"`
	ISIN           string    `json:"isin"`
	Currency       string    `json:"currency"`
	CountryOfIssue string    `json:"country_of_issue"`
	Quantity       string    `json:"quantity"`
	Price          string    `json:"price"`
	BuyerAccount   string    `json:"buyer_account"`
	SellerAccount  string    `json:"seller_account"`
	BuyerCashAcct  string    `json:"buyer_cash_account"`
	SellerCashAcct string    `json:"seller_cash_account"`
	TradeDate      time.Time `json:"trade_date"`
	SettlementType string    `json:"settlement_type"`
	Cycle          int       `json:"cycle"`
	CustomDate     time.Time `json:"custom_date"`
	CreatedBy      string    `json:"created_by"`
	Fees           []FeeDTO  `json:"fees"`
}

// FeeDTO 费用明细 DTO
type FeeDTO struct {
	FeeType  string `json:"fee_type"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MatchRequest 匹配请求
type MatchRequest struct {
	BuyInstructionID  string `json:"buy_instruction_id"`
	SellInstructionID string `json:"sell_instruction_id"`
	Actor             string `json:"actor"`
}

// PartialDeliveryRequest 部分交收请求
type PartialDeliveryRequest struct {
	InstructionID string `json:"instruction_id"`
	Quantity      string `json:"quantity"`
	Actor         string `json:"actor"`
}

// ResolveBreakRequest 差异处置请求
type ResolveBreakRequest struct {
	BreakID string `json:"break_id"`
	Actor   string `json:"actor"`
	Notes   string `json:"notes"`
}

// InstructionDTO 指令视图
type InstructionDTO struct {
	InstructionID   string `json:"instruction_id"`
	TradeID         string `json:"trade_id"`
	ISIN            string `json:"isin"`
	Currency        string `json:"currency"`
	Quantity        string `json:"quantity"`
	Price           string `json:"price"`
	GrossAmount     string `json:"gross_amount"`
	NetAmount       string `json:"net_amount"`
	SettlementType  string `json:"settlement_type"`
	SettlementDate  string `json:"settlement_date"`
	Status          string `json:"status"`
	SettledQuantity string `json:"settled_quantity"`
	PendingQuantity string `json:"pending_quantity"`
	MatchID         string `json:"match_id,omitempty"`
	FailReason      string `json:"fail_reason,omitempty"`
	Version         int64  `json:"version"`
}

func toInstructionDTO(ins *domain.SettlementInstruction) *InstructionDTO {
	return &InstructionDTO{
		InstructionID:   ins.InstructionID,
		TradeID:         ins.TradeID,
		ISIN:            ins.ISIN,
		Currency:        ins.Currency,
		Quantity:        ins.Quantity.String(),
		Price:           ins.Price.String(),
		GrossAmount:     ins.GrossAmount.String(),
		NetAmount:       ins.NetAmount.String(),
		SettlementType:  ins.SettlementType.String(),
		SettlementDate:  ins.SettlementDate.Format("2006-01-02"),
		Status:          ins.Status.String(),
		SettledQuantity: ins.SettledQuantity.String(),
		PendingQuantity: ins.PendingQuantity.String(),
		MatchID:         ins.MatchID,
		FailReason:      string(ins.FailReason),
		Version:         ins.Version,
	}
}

// settlementTypeFromString 解析结算类型；未知类型回落到 DVP。
func settlementTypeFromString(s string) domain.SettlementType {
	switch s {
	case "RVP":
		return domain.SettlementRVP
	case "DAP":
		return domain.SettlementDAP
	case "FOP":
		return domain.SettlementFOP
	case "DFP":
		return domain.SettlementDFP
	case "RFP":
		return domain.SettlementRFP
	default:
		return domain.SettlementDVP
	}
}
