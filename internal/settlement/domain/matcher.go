// 变更说明：实现买卖双边指令的逐字段容差匹配。匹配本身无副作用且与输入顺序
// 无关，同样输入重复运行得到相同判定，支持幂等重算。
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 参与匹配的字段名
const (
	FieldISIN           = "isin"
	FieldSettlementDate = "settlement_date"
	FieldQuantity       = "quantity"
	FieldNetAmount      = "net_amount"
)

// ToleranceConfig 匹配容差配置。ISIN 与交收日恒为精确匹配。
type ToleranceConfig struct {
	Quantity decimal.Decimal `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// DefaultTolerances 默认容差：数量 0，金额 0.01 个货币单位。
func DefaultTolerances() ToleranceConfig {
	return ToleranceConfig{
		Quantity: decimal.Zero,
		Amount:   decimal.NewFromFloat(0.01),
	}
}

// FieldDiff 未匹配字段诊断：双方取值与所用容差。
type FieldDiff struct {
	Field     string `json:"field"`
	BuyValue  string `json:"buy_value"`
	SellValue string `json:"sell_value"`
	Tolerance string `json:"tolerance"`
	// Variance 有符号差值（卖方 − 买方），数值字段填写。
	Variance decimal.Decimal `json:"variance"`
}

// MatchResult 匹配结果。非匹配不是错误，是需要调查的正常结果。
type MatchResult struct {
	MatchID            string      `json:"match_id"`
	BuyInstructionID   string      `json:"buy_instruction_id"`
	SellInstructionID  string      `json:"sell_instruction_id"`
	MatchedFields      []string    `json:"matched_fields"`
	UnmatchedFields    []FieldDiff `json:"unmatched_fields"`
	Matched            bool        `json:"matched"`
	MatchedAt          time.Time   `json:"matched_at"`
}

// Matcher 双边指令匹配器
type Matcher struct {
	tolerances ToleranceConfig
}

func NewMatcher(tolerances ToleranceConfig) *Matcher {
	return &Matcher{tolerances: tolerances}
}

// Match 逐字段比对买卖双方指令。全部字段在容差内则判定匹配；
// 任一字段超差则双方都保持未匹配，没有部分匹配状态。
// MatchID 由调用方在判定匹配后赋予（见 AssignMatch）。
func (m *Matcher) Match(buy, sell *SettlementInstruction) *MatchResult {
	result := &MatchResult{
		BuyInstructionID:  buy.InstructionID,
		SellInstructionID: sell.InstructionID,
	}

	// 精确字段
	if buy.ISIN == sell.ISIN {
		result.MatchedFields = append(result.MatchedFields, FieldISIN)
	} else {
		result.UnmatchedFields = append(result.UnmatchedFields, FieldDiff{
			Field:     FieldISIN,
			BuyValue:  buy.ISIN,
			SellValue: sell.ISIN,
			Tolerance: "exact",
		})
	}

	buyDate := buy.SettlementDate.Format("2006-01-02")
	sellDate := sell.SettlementDate.Format("2006-01-02")
	if buyDate == sellDate {
		result.MatchedFields = append(result.MatchedFields, FieldSettlementDate)
	} else {
		result.UnmatchedFields = append(result.UnmatchedFields, FieldDiff{
			Field:     FieldSettlementDate,
			BuyValue:  buyDate,
			SellValue: sellDate,
			Tolerance: "exact",
		})
	}

	// 容差字段
	m.compareDecimal(result, FieldQuantity, buy.Quantity, sell.Quantity, m.tolerances.Quantity)
	m.compareDecimal(result, FieldNetAmount, buy.NetAmount, sell.NetAmount, m.tolerances.Amount)

	result.Matched = len(result.UnmatchedFields) == 0
	return result
}

func (m *Matcher) compareDecimal(result *MatchResult, field string, buyValue, sellValue, tolerance decimal.Decimal) {
	variance := sellValue.Sub(buyValue)
	if variance.Abs().LessThanOrEqual(tolerance) {
		result.MatchedFields = append(result.MatchedFields, field)
		return
	}
	result.UnmatchedFields = append(result.UnmatchedFields, FieldDiff{
		Field:     field,
		BuyValue:  buyValue.String(),
		SellValue: sellValue.String(),
		Tolerance: tolerance.String(),
		Variance:  variance,
	})
}

// AssignMatch 为匹配成功的结果赋予匹配 ID 与时间戳，并推进双方指令状态。
func AssignMatch(result *MatchResult, matchID, actor string, buy, sell *SettlementInstruction) error {
	if !result.Matched {
		return errors.New("cannot assign a match id to an unmatched result")
	}
	if err := buy.MarkMatched(matchID, actor); err != nil {
		return err
	}
	if err := sell.MarkMatched(matchID, actor); err != nil {
		return err
	}
	result.MatchID = matchID
	result.MatchedAt = time.Now()
	return nil
}
