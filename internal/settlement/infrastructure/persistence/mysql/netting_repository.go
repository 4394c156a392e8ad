package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
	"gorm.io/gorm"
)

type nettingRepository struct {
	db *gorm.DB
}

// NewNettingRepository 创建并返回一个新的 nettingRepository 实例。
func NewNettingRepository(db *gorm.DB) domain.NettingRepository {
	return &nettingRepository{db: db}
}

// Save 净额组是重算产物，同键（对手方 + 交收日 + 币种）覆盖旧结果。
func (r *nettingRepository) Save(ctx context.Context, group *domain.NettingGroup) error {
	db := r.getDB(ctx)

	var existing domain.NettingGroup
	err := db.WithContext(ctx).
		Where("counterparty = ? AND settlement_date = ? AND currency = ?",
			group.Counterparty, group.SettlementDate, group.Currency).
		First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.WithContext(ctx).Create(group).Error
		}
		return err
	}

	group.ID = existing.ID
	return db.WithContext(ctx).Save(group).Error
}

func (r *nettingRepository) Get(ctx context.Context, nettingID string) (*domain.NettingGroup, error) {
	var group domain.NettingGroup
	err := r.getDB(ctx).WithContext(ctx).Where("netting_id = ?", nettingID).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (r *nettingRepository) FindByDate(ctx context.Context, date time.Time) ([]*domain.NettingGroup, error) {
	dayStart, dayEnd := dayRange(date)
	var list []*domain.NettingGroup
	err := r.getDB(ctx).WithContext(ctx).
		Where("settlement_date >= ? AND settlement_date < ?", dayStart, dayEnd).
		Order("id asc").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *nettingRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
