// 变更说明：参考数据适配器。SSI 主数据由参考数据域维护，这里只读查询；
// 查无记录返回 (nil, nil)，由应用层优雅降级。
package adapter

import (
	"context"
	"errors"

	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
	"gorm.io/gorm"
)

// StandingInstructionRecord SSI 主数据记录。
type StandingInstructionRecord struct {
	gorm.Model
	PartyA             string `gorm:"column:party_a;type:varchar(64);index:idx_ssi_parties;not null"`
	PartyB             string `gorm:"column:party_b;type:varchar(64);index:idx_ssi_parties;not null"`
	Currency           string `gorm:"column:currency;type:varchar(3);index:idx_ssi_parties;not null"`
	ClearingHouseID    string `gorm:"column:clearing_house_id;type:varchar(32)"`
	CustodianID        string `gorm:"column:custodian_id;type:varchar(32)"`
	SafekeepingAccount string `gorm:"column:safekeeping_account;type:varchar(64)"`
	CashAccount        string `gorm:"column:cash_account;type:varchar(64)"`
	BIC                string `gorm:"column:bic;type:varchar(11)"`
}

func (StandingInstructionRecord) TableName() string {
	return "standing_instructions"
}

type RefDataAdapter struct {
	db *gorm.DB
}

func NewRefDataAdapter(db *gorm.DB) domain.ReferenceDataService {
	return &RefDataAdapter{db: db}
}

func (a *RefDataAdapter) GetStandingInstruction(ctx context.Context, partyA, partyB, currency string) (*domain.StandingInstruction, error) {
	var record StandingInstructionRecord
	err := a.db.WithContext(ctx).
		Where("party_a = ? AND party_b = ? AND currency = ?", partyA, partyB, currency).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.StandingInstruction{
		ClearingHouseID:    record.ClearingHouseID,
		CustodianID:        record.CustodianID,
		SafekeepingAccount: record.SafekeepingAccount,
		CashAccount:        record.CashAccount,
		BIC:                record.BIC,
	}, nil
}
