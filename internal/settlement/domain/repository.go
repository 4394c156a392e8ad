package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// InstructionRepository 结算指令仓储接口。
// 读取返回最近一次已提交版本；Update 是条件写：以指令携带的 Version 为期望值
// 做比较交换，不一致时返回 ErrVersionConflict，由调用方决定重读或上报。
type InstructionRepository interface {
	Save(ctx context.Context, ins *SettlementInstruction) error
	Update(ctx context.Context, ins *SettlementInstruction) error
	Get(ctx context.Context, instructionID string) (*SettlementInstruction, error)
	GetByTradeID(ctx context.Context, tradeID string) (*SettlementInstruction, error)
	FindPendingByDate(ctx context.Context, date time.Time, limit int) ([]*SettlementInstruction, error)
	FindByDate(ctx context.Context, date time.Time, limit int) ([]*SettlementInstruction, error)
	FindByCounterpartyAndDate(ctx context.Context, counterparty string, date time.Time) ([]*SettlementInstruction, error)
	FindActiveByCounterparty(ctx context.Context, counterparty string) ([]*SettlementInstruction, error)
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// NettingRepository 净额组仓储接口。净额组是重算产物，Save 覆盖同键旧结果。
type NettingRepository interface {
	Save(ctx context.Context, group *NettingGroup) error
	Get(ctx context.Context, nettingID string) (*NettingGroup, error)
	FindByDate(ctx context.Context, date time.Time) ([]*NettingGroup, error)
}

// ReconciliationRepository 对账运行与差异仓储接口。
type ReconciliationRepository interface {
	SaveRun(ctx context.Context, run *ReconciliationRun, breaks []*ReconciliationBreak) error
	GetBreak(ctx context.Context, breakID string) (*ReconciliationBreak, error)
	UpdateBreak(ctx context.Context, brk *ReconciliationBreak) error
	ListOpenBreaks(ctx context.Context, limit int) ([]*ReconciliationBreak, error)
}

// StandingInstruction 标准结算指令（SSI）查询结果。
type StandingInstruction struct {
	ClearingHouseID    string
	CustodianID        string
	SafekeepingAccount string
	CashAccount        string
	BIC                string
}

// ReferenceDataService 参考数据协作方。
// 查无结果时返回 (nil, nil)；引擎优雅降级，沿用指令自带账户。
type ReferenceDataService interface {
	GetStandingInstruction(ctx context.Context, partyA, partyB, currency string) (*StandingInstruction, error)
}

// StatusUpdate 清算所回报解析结果。
type StatusUpdate struct {
	InstructionID string
	Status        InstructionStatus
	Reason        FailureReason
	Reference     string
}

// ClearingHouseConnector 清算所连接器。报文视为不透明载荷，
// 按指令上的清算所标识选择相应适配器做格式解析。
// Submit 带有界超时；超时后指令停留在最近确认状态，由调用方重试或升级。
type ClearingHouseConnector interface {
	Submit(ctx context.Context, ins *SettlementInstruction) (submissionID string, err error)
	ParseConfirmation(ctx context.Context, clearingHouseID string, raw []byte) (*StatusUpdate, error)
}

// CustodianService 托管方协作方：DVP 预检与托管对账消费。
type CustodianService interface {
	InstructDelivery(ctx context.Context, ins *SettlementInstruction, account string) (reference string, err error)
	QueryPosition(ctx context.Context, account, isin string) (decimal.Decimal, error)
	QueryBalance(ctx context.Context, account, currency string) (decimal.Decimal, error)
	QueryPositions(ctx context.Context, account string) ([]BookPosition, error)
}

// LedgerService 账务协作方：唯一提供原子性的接口。
// 契约是"两腿同时成功或同时失败"，原子性如何实现由账务方的事务边界决定。
type LedgerService interface {
	CommitSimultaneous(ctx context.Context, securities SecuritiesMovement, cash CashMovement) (settlementID string, err error)
}
