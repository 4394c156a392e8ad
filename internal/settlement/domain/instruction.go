// 变更说明：实现结算指令聚合根，覆盖完整生命周期状态机（匹配、确认、交收、
// 部分交收、失败、取消、修改），以及乐观并发版本号与可审计的状态流转历史。
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InstructionStatus 结算指令状态
type InstructionStatus int8

const (
	StatusPending          InstructionStatus = 1 // 待处理
	StatusMatched          InstructionStatus = 2 // 已匹配
	StatusConfirmed        InstructionStatus = 3 // 已确认
	StatusSettled          InstructionStatus = 4 // 已交收（终态）
	StatusPartiallySettled InstructionStatus = 5 // 部分交收
	StatusFailed           InstructionStatus = 6 // 交收失败
	StatusCancelled        InstructionStatus = 7 // 已取消（终态）
	StatusAmended          InstructionStatus = 8 // 已修改（原指令冻结）
)

func (s InstructionStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusMatched:
		return "MATCHED"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusSettled:
		return "SETTLED"
	case StatusPartiallySettled:
		return "PARTIALLY_SETTLED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusAmended:
		return "AMENDED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 终态指令不再接受任何变更。
func (s InstructionStatus) IsTerminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// legalTransitions 状态机允许的流转。AMENDED 由 Amend 单独处理（任意非终态可达）。
var legalTransitions = map[InstructionStatus][]InstructionStatus{
	StatusPending:          {StatusMatched, StatusConfirmed, StatusSettled, StatusPartiallySettled, StatusFailed, StatusCancelled},
	StatusMatched:          {StatusConfirmed, StatusSettled, StatusPartiallySettled, StatusFailed, StatusCancelled},
	StatusConfirmed:        {StatusSettled, StatusPartiallySettled, StatusFailed, StatusCancelled},
	StatusPartiallySettled: {StatusSettled, StatusPartiallySettled, StatusFailed, StatusCancelled},
	StatusFailed:           {StatusPending, StatusCancelled},
	StatusAmended:          {},
	StatusSettled:          {},
	StatusCancelled:        {},
}

func canTransition(from, to InstructionStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SettlementType 结算类型
type SettlementType int8

const (
	SettlementDVP SettlementType = 1 // 券款对付
	SettlementRVP SettlementType = 2 // 付款收券
	SettlementDAP SettlementType = 3 // 付券收款
	SettlementFOP SettlementType = 4 // 纯券过户（无资金）
	SettlementDFP SettlementType = 5 // 免费付券
	SettlementRFP SettlementType = 6 // 免费收券
)

func (t SettlementType) String() string {
	switch t {
	case SettlementDVP:
		return "DVP"
	case SettlementRVP:
		return "RVP"
	case SettlementDAP:
		return "DAP"
	case SettlementFOP:
		return "FOP"
	case SettlementDFP:
		return "DFP"
	case SettlementRFP:
		return "RFP"
	default:
		return "UNKNOWN"
	}
}

// RequiresPayment 是否含资金腿。
func (t SettlementType) RequiresPayment() bool {
	return t == SettlementDVP || t == SettlementRVP || t == SettlementDAP
}

// SettlementCycle 结算周期 T+N
type SettlementCycle int8

const (
	CycleT0     SettlementCycle = 0
	CycleT1     SettlementCycle = 1
	CycleT2     SettlementCycle = 2
	CycleT3     SettlementCycle = 3
	CycleCustom SettlementCycle = -1 // 自定义日期，由调用方提供
)

func (c SettlementCycle) String() string {
	if c == CycleCustom {
		return "CUSTOM"
	}
	return fmt.Sprintf("T+%d", int(c))
}

// SettlementInstruction 结算指令聚合根
type SettlementInstruction struct {
	gorm.Model
	InstructionID string `gorm:"column:instruction_id;type:varchar(64);uniqueIndex;not null" json:"instruction_id"`
	TradeID       string `gorm:"column:trade_id;type:varchar(64);index;not null" json:"trade_id"`

	ISIN           string          `gorm:"column:isin;type:varchar(12);index;not null" json:"isin"`
	Currency       string          `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	CountryOfIssue string          `gorm:"column:country_of_issue;type:varchar(2)" json:"country_of_issue"`
	Quantity       decimal.Decimal `gorm:"column:quantity;type:decimal(20,4);not null" json:"quantity"`
	Price          decimal.Decimal `gorm:"column:price;type:decimal(18,8);not null" json:"price"`
	GrossAmount    decimal.Decimal `gorm:"column:gross_amount;type:decimal(20,2);not null" json:"gross_amount"`
	NetAmount      decimal.Decimal `gorm:"column:net_amount;type:decimal(20,2);not null" json:"net_amount"`
	Fees           []InstructionFee `gorm:"foreignKey:InstructionID;references:InstructionID" json:"fees"`

	// 证券腿与资金腿的四个参与方
	DeliverFrom string `gorm:"column:deliver_from;type:varchar(64);index;not null" json:"deliver_from"`
	DeliverTo   string `gorm:"column:deliver_to;type:varchar(64);index;not null" json:"deliver_to"`
	CashFrom    string `gorm:"column:cash_from;type:varchar(64)" json:"cash_from"`
	CashTo      string `gorm:"column:cash_to;type:varchar(64)" json:"cash_to"`

	TradeDate      time.Time       `gorm:"column:trade_date;not null" json:"trade_date"`
	SettlementDate time.Time       `gorm:"column:settlement_date;index;not null" json:"settlement_date"`
	Cycle          SettlementCycle `gorm:"column:cycle;type:tinyint;not null" json:"cycle"`
	SettlementType SettlementType  `gorm:"column:settlement_type;type:tinyint;not null;default:1" json:"settlement_type"`

	// 路由信息，由 SSI 富化填充
	ClearingHouseID    string `gorm:"column:clearing_house_id;type:varchar(32);index" json:"clearing_house_id"`
	CustodianID        string `gorm:"column:custodian_id;type:varchar(32)" json:"custodian_id"`
	SafekeepingAccount string `gorm:"column:safekeeping_account;type:varchar(64)" json:"safekeeping_account"`
	CashAccount        string `gorm:"column:cash_account;type:varchar(64)" json:"cash_account"`
	CounterpartyBIC    string `gorm:"column:counterparty_bic;type:varchar(11)" json:"counterparty_bic"`

	Status     InstructionStatus `gorm:"column:status;type:tinyint;not null;default:1" json:"status"`
	FailReason FailureReason     `gorm:"column:fail_reason;type:varchar(32)" json:"fail_reason"`
	RetryCount int               `gorm:"column:retry_count;default:0" json:"retry_count"`
	MaxRetry   int               `gorm:"column:max_retry;default:3" json:"max_retry"`

	// 数量守恒不变式：SettledQuantity + PendingQuantity == OriginalQuantity
	OriginalQuantity decimal.Decimal `gorm:"column:original_quantity;type:decimal(20,4);not null" json:"original_quantity"`
	SettledQuantity  decimal.Decimal `gorm:"column:settled_quantity;type:decimal(20,4);not null" json:"settled_quantity"`
	PendingQuantity  decimal.Decimal `gorm:"column:pending_quantity;type:decimal(20,4);not null" json:"pending_quantity"`

	MatchID     string `gorm:"column:match_id;type:varchar(64);index" json:"match_id"`
	AmendedFrom string `gorm:"column:amended_from;type:varchar(64);index" json:"amended_from"`

	CreatedBy   string     `gorm:"column:created_by;type:varchar(64)" json:"created_by"`
	MatchedAt   *time.Time `gorm:"column:matched_at" json:"matched_at"`
	ConfirmedAt *time.Time `gorm:"column:confirmed_at" json:"confirmed_at"`
	SettledAt   *time.Time `gorm:"column:settled_at" json:"settled_at"`

	// 乐观并发版本号：所有写入必须携带读取时的版本，由仓储做条件更新。
	Version int64 `gorm:"column:version;not null;default:1" json:"version"`

	History []StatusTransition `gorm:"foreignKey:InstructionID;references:InstructionID" json:"history"`
}

func (SettlementInstruction) TableName() string {
	return "settlement_instructions"
}

// InstructionFee 指令费用明细
type InstructionFee struct {
	gorm.Model
	InstructionID string          `gorm:"column:instruction_id;type:varchar(64);index;not null" json:"instruction_id"`
	FeeType       string          `gorm:"column:fee_type;type:varchar(32);not null" json:"fee_type"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Currency      string          `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
}

func (InstructionFee) TableName() string {
	return "settlement_instruction_fees"
}

// StatusTransition 状态流转记录，只追加，供审计与状态查询消费。
type StatusTransition struct {
	gorm.Model
	InstructionID string            `gorm:"column:instruction_id;type:varchar(64);index;not null" json:"instruction_id"`
	FromStatus    InstructionStatus `gorm:"column:from_status;type:tinyint;not null" json:"from_status"`
	ToStatus      InstructionStatus `gorm:"column:to_status;type:tinyint;not null" json:"to_status"`
	Actor         string            `gorm:"column:actor;type:varchar(64);not null" json:"actor"`
	Reason        string            `gorm:"column:reason;type:varchar(255)" json:"reason"`
	OccurredAt    time.Time         `gorm:"column:occurred_at;not null" json:"occurred_at"`
}

func (StatusTransition) TableName() string {
	return "settlement_status_transitions"
}

// transition 执行一次状态流转并记录历史。终态与非法流转均拒绝。
func (s *SettlementInstruction) transition(to InstructionStatus, actor, reason string) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: instruction %s is %s", ErrTerminalState, s.InstructionID, s.Status)
	}
	if !canTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.recordTransition(to, actor, reason)
	return nil
}

func (s *SettlementInstruction) recordTransition(to InstructionStatus, actor, reason string) {
	s.History = append(s.History, StatusTransition{
		InstructionID: s.InstructionID,
		FromStatus:    s.Status,
		ToStatus:      to,
		Actor:         actor,
		Reason:        reason,
		OccurredAt:    time.Now(),
	})
	s.Status = to
}

// MarkMatched 标记匹配成功。
func (s *SettlementInstruction) MarkMatched(matchID, actor string) error {
	if err := s.transition(StatusMatched, actor, "matched "+matchID); err != nil {
		return err
	}
	now := time.Now()
	s.MatchID = matchID
	s.MatchedAt = &now
	return nil
}

// Confirm 确认指令。
func (s *SettlementInstruction) Confirm(actor string) error {
	if err := s.transition(StatusConfirmed, actor, ""); err != nil {
		return err
	}
	now := time.Now()
	s.ConfirmedAt = &now
	return nil
}

// Settle 全额交收完成。
func (s *SettlementInstruction) Settle(actor string) error {
	if err := s.transition(StatusSettled, actor, ""); err != nil {
		return err
	}
	now := time.Now()
	s.SettledQuantity = s.OriginalQuantity
	s.PendingQuantity = decimal.Zero
	s.SettledAt = &now
	return nil
}

// ApplyPartialDelivery 部分交收：显式操作，不是 DVP 失败后的退路。
// 守恒式 settled + pending == original 在每一步之后都成立。
func (s *SettlementInstruction) ApplyPartialDelivery(quantity decimal.Decimal, actor string) error {
	if quantity.Sign() <= 0 {
		return fmt.Errorf("partial delivery quantity must be positive, got %s", quantity)
	}
	if quantity.GreaterThan(s.PendingQuantity) {
		return fmt.Errorf("partial delivery %s exceeds pending quantity %s", quantity, s.PendingQuantity)
	}
	next := StatusPartiallySettled
	if quantity.Equal(s.PendingQuantity) {
		next = StatusSettled
	}
	if err := s.transition(next, actor, fmt.Sprintf("delivered %s", quantity)); err != nil {
		return err
	}
	s.SettledQuantity = s.SettledQuantity.Add(quantity)
	s.PendingQuantity = s.PendingQuantity.Sub(quantity)
	if next == StatusSettled {
		now := time.Now()
		s.SettledAt = &now
	}
	return nil
}

// Fail 交收失败，记录类型化原因。
func (s *SettlementInstruction) Fail(reason FailureReason, actor string) error {
	if err := s.transition(StatusFailed, actor, string(reason)); err != nil {
		return err
	}
	s.FailReason = reason
	return nil
}

// Retry 失败重试：重新回到待处理，由重试上限约束。
func (s *SettlementInstruction) Retry(actor string) error {
	if s.Status != StatusFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, s.Status)
	}
	if s.RetryCount >= s.MaxRetry {
		return fmt.Errorf("max retry count %d exceeded for %s", s.MaxRetry, s.InstructionID)
	}
	if err := s.transition(StatusPending, actor, fmt.Sprintf("retry %d", s.RetryCount+1)); err != nil {
		return err
	}
	s.RetryCount++
	s.FailReason = ""
	return nil
}

// Cancel 取消指令。终态指令返回错误而非静默忽略。
func (s *SettlementInstruction) Cancel(actor, reason string) error {
	return s.transition(StatusCancelled, actor, reason)
}

// CanRetry 是否还能重试。
func (s *SettlementInstruction) CanRetry() bool {
	return s.Status == StatusFailed && s.RetryCount < s.MaxRetry
}

// Amend 修改指令：原指令冻结为 AMENDED，返回引用原指令的新版本指令。
// 新指令回到 PENDING，重新走校验与匹配。
func (s *SettlementInstruction) Amend(newInstructionID, actor string) (*SettlementInstruction, error) {
	if s.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot amend %s instruction %s", ErrTerminalState, s.Status, s.InstructionID)
	}
	if s.Status == StatusAmended {
		return nil, fmt.Errorf("%w: instruction %s already amended", ErrInvalidTransition, s.InstructionID)
	}
	s.recordTransition(StatusAmended, actor, "superseded by "+newInstructionID)

	amended := *s
	amended.Model = gorm.Model{}
	amended.InstructionID = newInstructionID
	amended.AmendedFrom = s.InstructionID
	amended.Status = StatusPending
	amended.MatchID = ""
	amended.MatchedAt = nil
	amended.ConfirmedAt = nil
	amended.SettledAt = nil
	amended.FailReason = ""
	amended.RetryCount = 0
	amended.Version = 1
	amended.CreatedBy = actor
	amended.History = []StatusTransition{}
	amended.Fees = append([]InstructionFee(nil), s.Fees...)
	for i := range amended.Fees {
		amended.Fees[i].Model = gorm.Model{}
		amended.Fees[i].InstructionID = newInstructionID
	}
	return &amended, nil
}

// Enrich 以标准结算指令（SSI）补全托管与账户路由；仅覆盖缺失字段。
func (s *SettlementInstruction) Enrich(ssi *StandingInstruction) {
	if ssi == nil {
		return
	}
	if s.ClearingHouseID == "" {
		s.ClearingHouseID = ssi.ClearingHouseID
	}
	if s.CustodianID == "" {
		s.CustodianID = ssi.CustodianID
	}
	if s.SafekeepingAccount == "" {
		s.SafekeepingAccount = ssi.SafekeepingAccount
	}
	if s.CashAccount == "" {
		s.CashAccount = ssi.CashAccount
	}
	if s.CounterpartyBIC == "" {
		s.CounterpartyBIC = ssi.BIC
	}
}

// TotalFees 费用合计（指令币种）。
func (s *SettlementInstruction) TotalFees() decimal.Decimal {
	total := decimal.Zero
	for _, f := range s.Fees {
		total = total.Add(f.Amount)
	}
	return total
}
