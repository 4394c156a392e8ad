package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
	"gorm.io/gorm"
)

// activeStatuses 尚未到达终态的指令状态集合。
var activeStatuses = []domain.InstructionStatus{
	domain.StatusPending,
	domain.StatusMatched,
	domain.StatusConfirmed,
	domain.StatusPartiallySettled,
	domain.StatusFailed,
}

type instructionRepository struct {
	db *gorm.DB
}

// NewInstructionRepository 创建并返回一个新的 instructionRepository 实例。
func NewInstructionRepository(db *gorm.DB) domain.InstructionRepository {
	return &instructionRepository{db: db}
}

func (r *instructionRepository) Save(ctx context.Context, ins *domain.SettlementInstruction) error {
	// Create 级联写入费用明细与首条状态历史。
	return r.getDB(ctx).WithContext(ctx).Create(ins).Error
}

// Update 乐观锁条件更新：以指令携带的版本为期望值做比较交换。
// 版本不一致返回 ErrVersionConflict，由调用方决定重读或上报。
// 新增的状态历史（ID 为零值）在版本校验通过后追加写入。
func (r *instructionRepository) Update(ctx context.Context, ins *domain.SettlementInstruction) error {
	db := r.getDB(ctx)
	currentVersion := ins.Version

	result := db.WithContext(ctx).Model(&domain.SettlementInstruction{}).
		Where("instruction_id = ? AND version = ?", ins.InstructionID, currentVersion).
		Updates(map[string]any{
			"status":              ins.Status,
			"fail_reason":         ins.FailReason,
			"retry_count":         ins.RetryCount,
			"settled_quantity":    ins.SettledQuantity,
			"pending_quantity":    ins.PendingQuantity,
			"match_id":            ins.MatchID,
			"clearing_house_id":   ins.ClearingHouseID,
			"custodian_id":        ins.CustodianID,
			"safekeeping_account": ins.SafekeepingAccount,
			"cash_account":        ins.CashAccount,
			"counterparty_bic":    ins.CounterpartyBIC,
			"matched_at":          ins.MatchedAt,
			"confirmed_at":        ins.ConfirmedAt,
			"settled_at":          ins.SettledAt,
			"version":             currentVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	ins.Version = currentVersion + 1

	for i := range ins.History {
		if ins.History[i].ID != 0 {
			continue
		}
		if err := db.WithContext(ctx).Create(&ins.History[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *instructionRepository) Get(ctx context.Context, instructionID string) (*domain.SettlementInstruction, error) {
	var ins domain.SettlementInstruction
	err := r.getDB(ctx).WithContext(ctx).
		Preload("Fees").Preload("History").
		Where("instruction_id = ?", instructionID).
		First(&ins).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ins, nil
}

func (r *instructionRepository) GetByTradeID(ctx context.Context, tradeID string) (*domain.SettlementInstruction, error) {
	var ins domain.SettlementInstruction
	err := r.getDB(ctx).WithContext(ctx).
		Preload("Fees").
		Where("trade_id = ?", tradeID).
		First(&ins).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ins, nil
}

func (r *instructionRepository) FindPendingByDate(ctx context.Context, date time.Time, limit int) ([]*domain.SettlementInstruction, error) {
	dayStart, dayEnd := dayRange(date)
	var list []*domain.SettlementInstruction
	err := r.getDB(ctx).WithContext(ctx).
		Preload("Fees").
		Where("settlement_date >= ? AND settlement_date < ?", dayStart, dayEnd).
		Where("status IN ?", activeStatuses).
		Order("id asc").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// FindByDate 取对账日全部指令，不筛状态。对账需要看到已终结的指令，
// 否则当日已交收的成交会被误报为缺失。
func (r *instructionRepository) FindByDate(ctx context.Context, date time.Time, limit int) ([]*domain.SettlementInstruction, error) {
	dayStart, dayEnd := dayRange(date)
	var list []*domain.SettlementInstruction
	err := r.getDB(ctx).WithContext(ctx).
		Preload("Fees").
		Where("settlement_date >= ? AND settlement_date < ?", dayStart, dayEnd).
		Order("id asc").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *instructionRepository) FindByCounterpartyAndDate(ctx context.Context, counterparty string, date time.Time) ([]*domain.SettlementInstruction, error) {
	dayStart, dayEnd := dayRange(date)
	var list []*domain.SettlementInstruction
	err := r.getDB(ctx).WithContext(ctx).
		Preload("Fees").
		Where("settlement_date >= ? AND settlement_date < ?", dayStart, dayEnd).
		Where("deliver_from = ? OR deliver_to = ?", counterparty, counterparty).
		Order("id asc").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *instructionRepository) FindActiveByCounterparty(ctx context.Context, counterparty string) ([]*domain.SettlementInstruction, error) {
	var list []*domain.SettlementInstruction
	err := r.getDB(ctx).WithContext(ctx).
		Where("deliver_from = ? OR deliver_to = ?", counterparty, counterparty).
		Where("status IN ?", activeStatuses).
		Order("id asc").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *instructionRepository) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		txCtx := contextx.WithTx(ctx, tx)
		return fn(txCtx)
	})
}

func (r *instructionRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

// dayRange 把交收日规整为 [当日零点, 次日零点) 的半开区间。
func dayRange(date time.Time) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return start, start.AddDate(0, 0, 1)
}
