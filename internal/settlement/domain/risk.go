// 变更说明：实现结算/对手方风险监控：单指令的封顶线性风险分解、对手方敞口
// 对限额的占用评估，以及跨币种交收的时区窗口（Herstatt）风险检查。
// 本组件只做参考性计算，不阻断交收；是否阻断由调用侧的工作流决策。
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// RiskConfig 风险参数。
type RiskConfig struct {
	// VolatilityHaircut 重置成本的波动率折扣系数（如 0.08）。
	VolatilityHaircut decimal.Decimal
	// CreditWeight / LiquidityWeight 信用与流动性风险的本金占比系数。
	CreditWeight    decimal.Decimal
	LiquidityWeight decimal.Decimal
	// OperationalFixed 固定操作风险载荷。
	OperationalFixed decimal.Decimal
	// HerstattThreshold 触发同步交收建议的跨币种敞口阈值。
	HerstattThreshold decimal.Decimal
}

// DefaultRiskConfig 默认参数。
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		VolatilityHaircut: decimal.NewFromFloat(0.08),
		CreditWeight:      decimal.NewFromFloat(0.02),
		LiquidityWeight:   decimal.NewFromFloat(0.01),
		OperationalFixed:  decimal.NewFromInt(1000),
		HerstattThreshold: decimal.NewFromInt(1_000_000),
	}
}

// RiskExposure 单条指令的风险分解。派生数据，随时由当前指令重算，不作为权威状态持久化。
type RiskExposure struct {
	InstructionID   string          `json:"instruction_id"`
	Principal       decimal.Decimal `json:"principal"`
	ReplacementCost decimal.Decimal `json:"replacement_cost"`
	Credit          decimal.Decimal `json:"credit"`
	Liquidity       decimal.Decimal `json:"liquidity"`
	Operational     decimal.Decimal `json:"operational"`
	Total           decimal.Decimal `json:"total"`
}

// CounterpartyExposure 对手方汇总敞口对限额的评估。
type CounterpartyExposure struct {
	Counterparty     string          `json:"counterparty"`
	Exposure         decimal.Decimal `json:"exposure"`
	Limit            decimal.Decimal `json:"limit"`
	UtilizationPct   decimal.Decimal `json:"utilization_pct"`
	Breached         bool            `json:"breached"`
	InstructionCount int             `json:"instruction_count"`
}

// HerstattAssessment 跨币种交收时区风险评估。
type HerstattAssessment struct {
	InstructionID   string          `json:"instruction_id"`
	BaseCurrency    string          `json:"base_currency"`
	SettleCurrency  string          `json:"settle_currency"`
	WindowHours     int             `json:"window_hours"`
	ExposureAtRisk  decimal.Decimal `json:"exposure_at_risk"`
	Level           RiskLevel       `json:"level"`
	Recommendation  string          `json:"recommendation"`
	AssessedAt      time.Time       `json:"assessed_at"`
}

// currencyUTCOffsets 主要结算币种所在市场的 UTC 偏移（小时）。
// 粗粒度即可：这里量化的是两条币种腿最终性之间的时间窗，不是精确时钟。
var currencyUTCOffsets = map[string]int{
	"USD": -5,
	"CAD": -5,
	"BRL": -3,
	"GBP": 0,
	"EUR": 1,
	"CHF": 1,
	"ZAR": 2,
	"INR": 5,
	"CNY": 8,
	"HKD": 8,
	"SGD": 8,
	"JPY": 9,
	"KRW": 9,
	"AUD": 10,
	"NZD": 12,
}

// RiskMonitor 风险监控器
type RiskMonitor struct {
	cfg RiskConfig
}

func NewRiskMonitor(cfg RiskConfig) *RiskMonitor {
	return &RiskMonitor{cfg: cfg}
}

// InstructionExposure 封顶线性分解：
// 本金 = 未交收部分的结算价值；重置成本 = 本金 × 波动率折扣；
// 信用/流动性按系数、操作风险取固定载荷；合计为各项之和。
func (m *RiskMonitor) InstructionExposure(ins *SettlementInstruction) RiskExposure {
	principal := ins.PendingQuantity.Mul(ins.Price)
	replacement := principal.Mul(m.cfg.VolatilityHaircut)
	credit := principal.Mul(m.cfg.CreditWeight)
	liquidity := principal.Mul(m.cfg.LiquidityWeight)

	exposure := RiskExposure{
		InstructionID:   ins.InstructionID,
		Principal:       principal,
		ReplacementCost: replacement,
		Credit:          credit,
		Liquidity:       liquidity,
		Operational:     m.cfg.OperationalFixed,
	}
	exposure.Total = principal.Add(replacement).Add(credit).Add(liquidity).Add(m.cfg.OperationalFixed)
	return exposure
}

// CounterpartyExposure 聚合对手方所有未终结指令的敞口，对配置限额给出占用率与越限标记。
func (m *RiskMonitor) CounterpartyExposure(counterparty string, limit decimal.Decimal, instructions []*SettlementInstruction) CounterpartyExposure {
	result := CounterpartyExposure{
		Counterparty: counterparty,
		Limit:        limit,
	}
	for _, ins := range instructions {
		if ins.Status.IsTerminal() {
			continue
		}
		result.Exposure = result.Exposure.Add(m.InstructionExposure(ins).Total)
		result.InstructionCount++
	}
	if limit.Sign() > 0 {
		result.UtilizationPct = result.Exposure.Div(limit).Mul(decimal.NewFromInt(100))
		result.Breached = result.UtilizationPct.GreaterThan(decimal.NewFromInt(100))
	}
	return result
}

// AssessHerstatt 评估跨币种交收的时区窗口风险。
// 两币种市场时差越大，一腿已付出而另一腿尚未到账的窗口越长；
// 敞口超过阈值时建议同步（PVP）交收。
func (m *RiskMonitor) AssessHerstatt(ins *SettlementInstruction, baseCurrency string) HerstattAssessment {
	assessment := HerstattAssessment{
		InstructionID:  ins.InstructionID,
		BaseCurrency:   baseCurrency,
		SettleCurrency: ins.Currency,
		AssessedAt:     time.Now(),
	}

	if ins.Currency == baseCurrency {
		assessment.Level = RiskLevelLow
		assessment.Recommendation = "none: single-currency settlement"
		return assessment
	}

	baseOffset, okBase := currencyUTCOffsets[baseCurrency]
	settleOffset, okSettle := currencyUTCOffsets[ins.Currency]
	window := 0
	if okBase && okSettle {
		window = baseOffset - settleOffset
		if window < 0 {
			window = -window
		}
	}
	assessment.WindowHours = window

	principal := ins.PendingQuantity.Mul(ins.Price)
	// 敞口按窗口在 24 小时中的占比折算。
	assessment.ExposureAtRisk = principal.Mul(decimal.NewFromInt(int64(window))).Div(decimal.NewFromInt(24))

	switch {
	case assessment.ExposureAtRisk.GreaterThan(m.cfg.HerstattThreshold):
		assessment.Level = RiskLevelCritical
		assessment.Recommendation = "use synchronized (PVP) settlement"
	case window >= 8:
		assessment.Level = RiskLevelHigh
		assessment.Recommendation = "prefer same-day matched timing or netting"
	case window > 0:
		assessment.Level = RiskLevelMedium
		assessment.Recommendation = "monitor settlement window"
	default:
		assessment.Level = RiskLevelLow
		assessment.Recommendation = "none"
	}
	return assessment
}
