package domain

import (
	"time"
)

// SettlementEvent 结算领域事件接口
type SettlementEvent interface {
	EventType() string
	OccurredAt() time.Time
}

type BaseEvent struct {
	Timestamp time.Time
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// 事件主题
const (
	TopicInstructionCreated   = "settlement.instruction.created"
	TopicInstructionMatched   = "settlement.instruction.matched"
	TopicInstructionSettled   = "settlement.instruction.settled"
	TopicInstructionFailed    = "settlement.instruction.failed"
	TopicInstructionCancelled = "settlement.instruction.cancelled"
	TopicInstructionAmended   = "settlement.instruction.amended"
	TopicInstructionEnriched  = "settlement.instruction.enriched"
	TopicNettingComputed      = "settlement.netting.computed"
	TopicBreakDetected        = "settlement.reconciliation.break"
)

// InstructionCreatedEvent 指令创建事件
type InstructionCreatedEvent struct {
	BaseEvent
	InstructionID  string
	TradeID        string
	ISIN           string
	NetAmount      string
	SettlementDate string
}

func (e InstructionCreatedEvent) EventType() string { return "InstructionCreated" }

// InstructionMatchedEvent 指令匹配事件
type InstructionMatchedEvent struct {
	BaseEvent
	MatchID           string
	BuyInstructionID  string
	SellInstructionID string
}

func (e InstructionMatchedEvent) EventType() string { return "InstructionMatched" }

// InstructionSettledEvent 指令交收完成事件，部分交收时 Partial 为 true。
type InstructionSettledEvent struct {
	BaseEvent
	InstructionID   string
	SettlementRef   string
	SettledQuantity string
	Partial         bool
}

func (e InstructionSettledEvent) EventType() string { return "InstructionSettled" }

// InstructionFailedEvent 交收失败事件
type InstructionFailedEvent struct {
	BaseEvent
	InstructionID string
	Reason        string
	Policy        string
}

func (e InstructionFailedEvent) EventType() string { return "InstructionFailed" }

// InstructionCancelledEvent 指令取消事件
type InstructionCancelledEvent struct {
	BaseEvent
	InstructionID string
	Reason        string
}

func (e InstructionCancelledEvent) EventType() string { return "InstructionCancelled" }

// InstructionAmendedEvent 指令修改事件：原指令冻结，新指令接续。
type InstructionAmendedEvent struct {
	BaseEvent
	OriginalID string
	AmendedID  string
}

func (e InstructionAmendedEvent) EventType() string { return "InstructionAmended" }

// InstructionEnrichedEvent SSI 富化审计事件：记录本次查得并填入的路由信息。
type InstructionEnrichedEvent struct {
	BaseEvent
	InstructionID   string
	ClearingHouseID string
	CustodianID     string
}

func (e InstructionEnrichedEvent) EventType() string { return "InstructionEnriched" }

// NettingComputedEvent 净额组计算完成事件
type NettingComputedEvent struct {
	BaseEvent
	NettingID     string
	Counterparty  string
	NetSecurities string
	NetCash       string
	Efficiency    string
}

func (e NettingComputedEvent) EventType() string { return "NettingComputed" }

// BreakDetectedEvent 对账差异事件
type BreakDetectedEvent struct {
	BaseEvent
	BreakID   string
	RunID     string
	BreakType string
	Severity  string
}

func (e BreakDetectedEvent) EventType() string { return "BreakDetected" }
