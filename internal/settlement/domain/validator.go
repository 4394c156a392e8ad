package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// grossAmountEpsilon 毛额校验容差。毛额可能合法地含费调整，超差只给警告。
var grossAmountEpsilon = decimal.NewFromFloat(0.01)

// ValidationIssue 字段级校验信息
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult 校验结果：errors 阻断后续流程，warnings 由调用方自行决定。
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// ValidateInstruction 纯函数校验，不修改指令。同一指令重复校验结果恒等。
func ValidateInstruction(ins *SettlementInstruction) ValidationResult {
	var result ValidationResult

	fail := func(field, msg string) {
		result.Errors = append(result.Errors, ValidationIssue{Field: field, Message: msg})
	}
	warn := func(field, msg string) {
		result.Warnings = append(result.Warnings, ValidationIssue{Field: field, Message: msg})
	}

	if ins.InstructionID == "" {
		fail("instruction_id", "instruction id is required")
	}
	if ins.TradeID == "" {
		fail("trade_id", "trade id is required")
	}
	if ins.ISIN == "" {
		fail("isin", "isin is required")
	}
	if ins.Quantity.Sign() <= 0 {
		fail("quantity", "quantity must be positive")
	}
	if ins.Price.Sign() <= 0 {
		fail("price", "price must be positive")
	}
	if ins.DeliverFrom == "" {
		fail("deliver_from", "deliver-from account is required")
	}
	if ins.DeliverTo == "" {
		fail("deliver_to", "deliver-to account is required")
	}

	if ins.SettlementType.RequiresPayment() {
		if ins.CashFrom == "" {
			fail("cash_from", fmt.Sprintf("cash-from account is required for %s settlement", ins.SettlementType))
		}
		if ins.CashTo == "" {
			fail("cash_to", fmt.Sprintf("cash-to account is required for %s settlement", ins.SettlementType))
		}
	} else {
		if ins.CashFrom != "" || ins.CashTo != "" {
			fail("cash_from", fmt.Sprintf("cash legs must be absent for %s settlement", ins.SettlementType))
		}
	}

	// T+0 允许同日；其余周期交收日必须严格晚于交易日。
	switch {
	case ins.SettlementDate.Before(ins.TradeDate):
		fail("settlement_date", "settlement date must not precede trade date")
	case ins.Cycle != CycleT0 && !ins.SettlementDate.After(ins.TradeDate):
		fail("settlement_date", "settlement date must be after trade date")
	}

	if ins.Quantity.Sign() > 0 && ins.Price.Sign() > 0 {
		expected := ins.Quantity.Mul(ins.Price)
		if expected.Sub(ins.GrossAmount).Abs().GreaterThan(grossAmountEpsilon) {
			warn("gross_amount", fmt.Sprintf("gross amount %s deviates from quantity*price %s", ins.GrossAmount, expected))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}
