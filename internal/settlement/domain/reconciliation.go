// 变更说明：实现两类对账（成交对结算指令、内部头寸对托管方头寸），共享同一
// 算法骨架：以自然连接键构建 B 侧索引，扫描 A 侧逐条归类，再反向扫描 B 侧
// 捕获缺口的非对称情况。对账对输入只读，差异处置是单独的显式动作。
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BreakType 对账差异类型
type BreakType string

const (
	BreakTradeMissingSettlement BreakType = "TRADE_MISSING_SETTLEMENT"
	BreakOrphanedSettlement     BreakType = "ORPHANED_SETTLEMENT"
	BreakDuplicateInstruction   BreakType = "DUPLICATE_INSTRUCTION"
	BreakQuantityMismatch       BreakType = "QUANTITY_MISMATCH"
	BreakPriceMismatch          BreakType = "PRICE_MISMATCH"
	BreakPositionMissing        BreakType = "POSITION_MISSING"
)

// BreakSeverity 差异严重级别
type BreakSeverity string

const (
	SeverityLow      BreakSeverity = "LOW"
	SeverityMedium   BreakSeverity = "MEDIUM"
	SeverityHigh     BreakSeverity = "HIGH"
	SeverityCritical BreakSeverity = "CRITICAL"
)

// 差异处置状态：open -> resolved 单向。
const (
	BreakOpen     = "OPEN"
	BreakResolved = "RESOLVED"
)

// ReconciliationBreak 对账差异。不是异常，而是需要显式处置的一等数据。
type ReconciliationBreak struct {
	gorm.Model
	BreakID   string          `gorm:"column:break_id;type:varchar(64);uniqueIndex;not null" json:"break_id"`
	RunID     string          `gorm:"column:run_id;type:varchar(64);index;not null" json:"run_id"`
	RecordKey string          `gorm:"column:record_key;type:varchar(128);index;not null" json:"record_key"`
	Type      BreakType       `gorm:"column:break_type;type:varchar(32);not null" json:"type"`
	Severity  BreakSeverity   `gorm:"column:severity;type:varchar(16);not null" json:"severity"`
	Expected  string          `gorm:"column:expected;type:varchar(255)" json:"expected"`
	Actual    string          `gorm:"column:actual;type:varchar(255)" json:"actual"`
	Variance  decimal.Decimal `gorm:"column:variance;type:decimal(20,4)" json:"variance"`

	ResolutionStatus string     `gorm:"column:resolution_status;type:varchar(16);not null;default:'OPEN'" json:"resolution_status"`
	ResolvedBy       string     `gorm:"column:resolved_by;type:varchar(64)" json:"resolved_by"`
	ResolutionNotes  string     `gorm:"column:resolution_notes;type:varchar(512)" json:"resolution_notes"`
	ResolvedAt       *time.Time `gorm:"column:resolved_at" json:"resolved_at"`
}

func (ReconciliationBreak) TableName() string {
	return "reconciliation_breaks"
}

// Resolve 处置差异：记录处置人与可选备注，只允许 open -> resolved。
func (b *ReconciliationBreak) Resolve(actor, notes string) error {
	if b.ResolutionStatus == BreakResolved {
		return fmt.Errorf("%w: %s", ErrBreakAlreadyResolved, b.BreakID)
	}
	if actor == "" {
		return fmt.Errorf("resolving break %s requires an actor", b.BreakID)
	}
	now := time.Now()
	b.ResolutionStatus = BreakResolved
	b.ResolvedBy = actor
	b.ResolutionNotes = notes
	b.ResolvedAt = &now
	return nil
}

// ReconciliationRun 一次对账运行的汇总记录。
type ReconciliationRun struct {
	gorm.Model
	RunID        string          `gorm:"column:run_id;type:varchar(64);uniqueIndex;not null" json:"run_id"`
	Kind         string          `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	TotalRecords int             `gorm:"column:total_records;not null" json:"total_records"`
	MatchedCount int             `gorm:"column:matched_count;not null" json:"matched_count"`
	BreakCount   int             `gorm:"column:break_count;not null" json:"break_count"`
	Rate         decimal.Decimal `gorm:"column:rate;type:decimal(8,6);not null" json:"rate"`
	RunAt        time.Time       `gorm:"column:run_at;not null" json:"run_at"`
}

func (ReconciliationRun) TableName() string {
	return "reconciliation_runs"
}

// 对账运行类型
const (
	ReconKindTradeSettlement    = "TRADE_VS_SETTLEMENT"
	ReconKindPositionSettlement = "POSITION_VS_SETTLEMENT"
)

// BookPosition 一方头寸记录（内部账簿或托管方/街边）。
type BookPosition struct {
	Account  string          `json:"account"`
	ISIN     string          `json:"isin"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ReconciliationReport 对账结果：对账率 + 完整差异清单。
type ReconciliationReport struct {
	Run    *ReconciliationRun     `json:"run"`
	Breaks []*ReconciliationBreak `json:"breaks"`
}

// BreakIDSource 差异 ID 生成函数，由调用方注入（生产用雪花 ID）。
type BreakIDSource func() string

// ReconciliationEngine 对账引擎
type ReconciliationEngine struct {
	nextBreakID BreakIDSource
}

func NewReconciliationEngine(nextBreakID BreakIDSource) *ReconciliationEngine {
	return &ReconciliationEngine{nextBreakID: nextBreakID}
}

// ReconcileTrades 成交对结算指令：每笔成交必须恰有一条对应指令。
// 数量与价格按精确相等比对（股数为整数，不设容差）。
func (e *ReconciliationEngine) ReconcileTrades(runID string, trades []TradeCapture, instructions []*SettlementInstruction) *ReconciliationReport {
	report := &ReconciliationReport{
		Run: &ReconciliationRun{
			RunID: runID,
			Kind:  ReconKindTradeSettlement,
			RunAt: time.Now(),
		},
	}

	// 每笔成交应恰有一条在册指令。被修订冻结的旧版本已由新指令取代，
	// 不参与匹配；同一成交出现第二条在册指令则记为重复差异。
	byTrade := make(map[string]*SettlementInstruction, len(instructions))
	for _, ins := range instructions {
		if ins.Status == StatusAmended {
			continue
		}
		if kept, dup := byTrade[ins.TradeID]; dup {
			report.Breaks = append(report.Breaks, e.newBreak(runID, ins.TradeID, BreakDuplicateInstruction, SeverityHigh,
				kept.InstructionID, ins.InstructionID, decimal.Zero))
			continue
		}
		byTrade[ins.TradeID] = ins
	}

	seen := make(map[string]bool, len(trades))
	for _, trade := range trades {
		seen[trade.TradeID] = true
		ins, ok := byTrade[trade.TradeID]
		if !ok {
			report.Breaks = append(report.Breaks, e.newBreak(runID, trade.TradeID, BreakTradeMissingSettlement, SeverityHigh,
				trade.Quantity.String(), "", trade.Quantity.Neg()))
			continue
		}
		matched := true
		if !ins.Quantity.Equal(trade.Quantity) {
			matched = false
			report.Breaks = append(report.Breaks, e.newBreak(runID, trade.TradeID, BreakQuantityMismatch, SeverityHigh,
				trade.Quantity.String(), ins.Quantity.String(), ins.Quantity.Sub(trade.Quantity)))
		}
		if !ins.Price.Equal(trade.Price) {
			matched = false
			report.Breaks = append(report.Breaks, e.newBreak(runID, trade.TradeID, BreakPriceMismatch, SeverityMedium,
				trade.Price.String(), ins.Price.String(), ins.Price.Sub(trade.Price)))
		}
		if matched {
			report.Run.MatchedCount++
		}
	}

	// 反向扫描：存在指令但没有成交来源的孤儿。
	for _, ins := range instructions {
		if !seen[ins.TradeID] {
			report.Breaks = append(report.Breaks, e.newBreak(runID, ins.TradeID, BreakOrphanedSettlement, SeverityHigh,
				"", ins.Quantity.String(), ins.Quantity))
		}
	}

	report.Run.TotalRecords = len(trades) + countUnseen(instructions, seen)
	e.finalize(report)
	return report
}

// ReconcilePositions 内部头寸对托管方头寸：连接键为 ISIN+账户，零容差。
func (e *ReconciliationEngine) ReconcilePositions(runID string, book, street []BookPosition) *ReconciliationReport {
	key := func(p BookPosition) string { return p.ISIN + "|" + p.Account }

	streetByKey := make(map[string]BookPosition, len(street))
	for _, p := range street {
		streetByKey[key(p)] = p
	}

	report := &ReconciliationReport{
		Run: &ReconciliationRun{
			RunID: runID,
			Kind:  ReconKindPositionSettlement,
			RunAt: time.Now(),
		},
	}

	seen := make(map[string]bool, len(book))
	for _, pos := range book {
		k := key(pos)
		seen[k] = true
		streetPos, ok := streetByKey[k]
		if !ok {
			report.Breaks = append(report.Breaks, e.newBreak(runID, k, BreakPositionMissing, SeverityCritical,
				pos.Quantity.String(), "", pos.Quantity.Neg()))
			continue
		}
		if !streetPos.Quantity.Equal(pos.Quantity) {
			report.Breaks = append(report.Breaks, e.newBreak(runID, k, BreakQuantityMismatch, SeverityHigh,
				pos.Quantity.String(), streetPos.Quantity.String(), streetPos.Quantity.Sub(pos.Quantity)))
			continue
		}
		report.Run.MatchedCount++
	}

	total := len(book)
	for _, p := range street {
		if !seen[key(p)] {
			report.Breaks = append(report.Breaks, e.newBreak(runID, key(p), BreakPositionMissing, SeverityCritical,
				"", p.Quantity.String(), p.Quantity))
			total++
		}
	}

	report.Run.TotalRecords = total
	e.finalize(report)
	return report
}

func (e *ReconciliationEngine) newBreak(runID, recordKey string, breakType BreakType, severity BreakSeverity, expected, actual string, variance decimal.Decimal) *ReconciliationBreak {
	return &ReconciliationBreak{
		BreakID:          e.nextBreakID(),
		RunID:            runID,
		RecordKey:        recordKey,
		Type:             breakType,
		Severity:         severity,
		Expected:         expected,
		Actual:           actual,
		Variance:         variance,
		ResolutionStatus: BreakOpen,
	}
}

func (e *ReconciliationEngine) finalize(report *ReconciliationReport) {
	report.Run.BreakCount = len(report.Breaks)
	if report.Run.TotalRecords > 0 {
		report.Run.Rate = decimal.NewFromInt(int64(report.Run.MatchedCount)).
			Div(decimal.NewFromInt(int64(report.Run.TotalRecords)))
	}
}

func countUnseen(instructions []*SettlementInstruction, seen map[string]bool) int {
	n := 0
	for _, ins := range instructions {
		if !seen[ins.TradeID] {
			n++
		}
	}
	return n
}
