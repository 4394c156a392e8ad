package mysql

import (
	"context"
	"errors"

	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
	"gorm.io/gorm"
)

type reconciliationRepository struct {
	db *gorm.DB
}

// NewReconciliationRepository 创建并返回一个新的 reconciliationRepository 实例。
func NewReconciliationRepository(db *gorm.DB) domain.ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

// SaveRun 运行汇总与差异清单一并写入，调用方负责事务边界。
func (r *reconciliationRepository) SaveRun(ctx context.Context, run *domain.ReconciliationRun, breaks []*domain.ReconciliationBreak) error {
	db := r.getDB(ctx)
	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		return err
	}
	if len(breaks) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(breaks).Error
}

func (r *reconciliationRepository) GetBreak(ctx context.Context, breakID string) (*domain.ReconciliationBreak, error) {
	var brk domain.ReconciliationBreak
	err := r.getDB(ctx).WithContext(ctx).Where("break_id = ?", breakID).First(&brk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &brk, nil
}

func (r *reconciliationRepository) UpdateBreak(ctx context.Context, brk *domain.ReconciliationBreak) error {
	result := r.getDB(ctx).WithContext(ctx).Model(&domain.ReconciliationBreak{}).
		Where("break_id = ?", brk.BreakID).
		Updates(map[string]any{
			"resolution_status": brk.ResolutionStatus,
			"resolved_by":       brk.ResolvedBy,
			"resolution_notes":  brk.ResolutionNotes,
			"resolved_at":       brk.ResolvedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("reconciliation break not found: " + brk.BreakID)
	}
	return nil
}

func (r *reconciliationRepository) ListOpenBreaks(ctx context.Context, limit int) ([]*domain.ReconciliationBreak, error) {
	var list []*domain.ReconciliationBreak
	err := r.getDB(ctx).WithContext(ctx).
		Where("resolution_status = ?", domain.BreakOpen).
		Order("id asc").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *reconciliationRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return r.db
}
