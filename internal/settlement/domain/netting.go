// 变更说明：实现按（对手方、交收日、币种）分组的多边净额引擎。净额组按快照
// 计算、只读不改成员指令，各分组之间无共享可变状态，天然支持并行。
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 净额组状态：计算结果先是参考性的，显式标记后才按净额交收。
const (
	NettingStatusAdvisory     = "ADVISORY"
	NettingStatusSettledAsNet = "SETTLED_AS_NET"
)

// NettingGroup 净额组：同一对手方、同一交收日、同一币种的指令聚合。
// 永远由快照重算，不是记录系统。
type NettingGroup struct {
	gorm.Model
	NettingID      string    `gorm:"column:netting_id;type:varchar(64);uniqueIndex;not null" json:"netting_id"`
	Counterparty   string    `gorm:"column:counterparty;type:varchar(64);index;not null" json:"counterparty"`
	SettlementDate time.Time `gorm:"column:settlement_date;index;not null" json:"settlement_date"`
	Currency       string    `gorm:"column:currency;type:varchar(3);not null" json:"currency"`

	GrossSecuritiesReceivable decimal.Decimal `gorm:"column:gross_securities_receivable;type:decimal(20,4);not null" json:"gross_securities_receivable"`
	GrossSecuritiesPayable    decimal.Decimal `gorm:"column:gross_securities_payable;type:decimal(20,4);not null" json:"gross_securities_payable"`
	GrossCashReceivable       decimal.Decimal `gorm:"column:gross_cash_receivable;type:decimal(20,2);not null" json:"gross_cash_receivable"`
	GrossCashPayable          decimal.Decimal `gorm:"column:gross_cash_payable;type:decimal(20,2);not null" json:"gross_cash_payable"`

	NetSecurities decimal.Decimal `gorm:"column:net_securities;type:decimal(20,4);not null" json:"net_securities"`
	NetCash       decimal.Decimal `gorm:"column:net_cash;type:decimal(20,2);not null" json:"net_cash"`

	// Efficiency = (gross − |net|) / gross，0 表示毫无抵销，趋近 1 表示几乎全抵。
	Efficiency decimal.Decimal `gorm:"column:efficiency;type:decimal(8,6);not null" json:"efficiency"`

	InstructionIDs string `gorm:"column:instruction_ids;type:text" json:"instruction_ids"`
	Status         string `gorm:"column:status;type:varchar(20);not null" json:"status"`
	ComputedAt     time.Time `gorm:"column:computed_at;not null" json:"computed_at"`
}

func (NettingGroup) TableName() string {
	return "netting_groups"
}

// MarkSettledAsNet 将参考性净额组显式标记为按净额交收。
func (g *NettingGroup) MarkSettledAsNet() error {
	if g.Status == NettingStatusSettledAsNet {
		return fmt.Errorf("netting group %s already settled as net", g.NettingID)
	}
	g.Status = NettingStatusSettledAsNet
	return nil
}

// NettingEngine 多边净额引擎
type NettingEngine struct{}

func NewNettingEngine() *NettingEngine {
	return &NettingEngine{}
}

// nettingEligible 只有尚未进入交收的活跃指令参与净额。
func nettingEligible(s *SettlementInstruction) bool {
	switch s.Status {
	case StatusPending, StatusMatched, StatusConfirmed:
		return true
	default:
		return false
	}
}

// Compute 对一个对手方、一个交收日、一个币种的指令快照计算净额。
// 从对手方视角分类：对手方在 deliver-to 侧为证券应收（资金应付），
// 在 deliver-from 侧为证券应付（资金应收）。计算不修改任何成员指令。
func (e *NettingEngine) Compute(nettingID, counterparty string, settlementDate time.Time, currency string, instructions []*SettlementInstruction) (*NettingGroup, error) {
	group := &NettingGroup{
		NettingID:      nettingID,
		Counterparty:   counterparty,
		SettlementDate: settlementDate,
		Currency:       currency,
		Status:         NettingStatusAdvisory,
		ComputedAt:     time.Now(),
	}

	var ids []string
	for _, ins := range instructions {
		if !nettingEligible(ins) || ins.Currency != currency {
			continue
		}
		switch counterparty {
		case ins.DeliverTo:
			group.GrossSecuritiesReceivable = group.GrossSecuritiesReceivable.Add(ins.PendingQuantity)
			if ins.SettlementType.RequiresPayment() {
				group.GrossCashPayable = group.GrossCashPayable.Add(ins.NetAmount)
			}
		case ins.DeliverFrom:
			group.GrossSecuritiesPayable = group.GrossSecuritiesPayable.Add(ins.PendingQuantity)
			if ins.SettlementType.RequiresPayment() {
				group.GrossCashReceivable = group.GrossCashReceivable.Add(ins.NetAmount)
			}
		default:
			return nil, fmt.Errorf("instruction %s does not involve counterparty %s", ins.InstructionID, counterparty)
		}
		ids = append(ids, ins.InstructionID)
	}

	group.NetSecurities = group.GrossSecuritiesReceivable.Sub(group.GrossSecuritiesPayable)
	group.NetCash = group.GrossCashReceivable.Sub(group.GrossCashPayable)
	group.Efficiency = nettingEfficiency(group)
	group.InstructionIDs = strings.Join(ids, ",")
	return group, nil
}

// nettingEfficiency 按证券与资金两侧的总毛额与总净额计算抵销效率。
// 无可净额的退化组（毛额为 0）效率为 0。
func nettingEfficiency(g *NettingGroup) decimal.Decimal {
	gross := g.GrossSecuritiesReceivable.Add(g.GrossSecuritiesPayable).
		Add(g.GrossCashReceivable).Add(g.GrossCashPayable)
	if gross.Sign() == 0 {
		return decimal.Zero
	}
	net := g.NetSecurities.Abs().Add(g.NetCash.Abs())
	return gross.Sub(net).Div(gross)
}
