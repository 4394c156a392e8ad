// 变更说明：清算所连接器。报文是不透明载荷，按清算所标识选择对应的
// 格式解析器；各清算所的回报模式互不兼容，每家一份显式 schema。
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

// 支持的清算所标识
const (
	ClearingHouseDTC       = "DTC"
	ClearingHouseEuroclear = "EUROCLEAR"
)

// ClearingClient 清算所提交通道协议。
type ClearingClient interface {
	Submit(ctx context.Context, clearingHouseID string, payload []byte) (submissionID string, err error)
}

type ClearingHouseAdapter struct {
	clearingClient ClearingClient
	logger         *slog.Logger
}

func NewClearingHouseAdapter(client ClearingClient, logger *slog.Logger) domain.ClearingHouseConnector {
	return &ClearingHouseAdapter{
		clearingClient: client,
		logger:         logger,
	}
}

// submission 对外提交的指令报文。
type submission struct {
	InstructionID  string `json:"instruction_id"`
	ISIN           string `json:"isin"`
	Quantity       string `json:"quantity"`
	NetAmount      string `json:"net_amount"`
	Currency       string `json:"currency"`
	SettlementDate string `json:"settlement_date"`
	DeliverFrom    string `json:"deliver_from"`
	DeliverTo      string `json:"deliver_to"`
	SettlementType string `json:"settlement_type"`
}

func (a *ClearingHouseAdapter) Submit(ctx context.Context, ins *domain.SettlementInstruction) (string, error) {
	if ins.ClearingHouseID == "" {
		return "", fmt.Errorf("instruction %s has no clearing house routing", ins.InstructionID)
	}

	payload, err := json.Marshal(submission{
		InstructionID:  ins.InstructionID,
		ISIN:           ins.ISIN,
		Quantity:       ins.PendingQuantity.String(),
		NetAmount:      ins.NetAmount.String(),
		Currency:       ins.Currency,
		SettlementDate: ins.SettlementDate.Format("2006-01-02"),
		DeliverFrom:    ins.DeliverFrom,
		DeliverTo:      ins.DeliverTo,
		SettlementType: ins.SettlementType.String(),
	})
	if err != nil {
		return "", err
	}

	submissionID, err := a.clearingClient.Submit(ctx, ins.ClearingHouseID, payload)
	if err != nil {
		return "", fmt.Errorf("submit to %s: %w", ins.ClearingHouseID, err)
	}

	a.logger.Info("instruction submitted to clearing house",
		"instruction_id", ins.InstructionID,
		"clearing_house_id", ins.ClearingHouseID,
		"submission_id", submissionID,
	)
	return submissionID, nil
}

// ParseConfirmation 按清算所标识分发到对应解析器。未知清算所直接拒绝。
func (a *ClearingHouseAdapter) ParseConfirmation(ctx context.Context, clearingHouseID string, raw []byte) (*domain.StatusUpdate, error) {
	switch clearingHouseID {
	case ClearingHouseDTC:
		return parseDTCConfirmation(raw)
	case ClearingHouseEuroclear:
		return parseEuroclearConfirmation(raw)
	default:
		return nil, fmt.Errorf("unsupported clearing house %q", clearingHouseID)
	}
}

// dtcConfirmation DTC 回报格式。
type dtcConfirmation struct {
	InstructionRef string `json:"instruction_ref"`
	StatusCode     string `json:"status_code"` // CONF / SETT / FAIL
	ReasonCode     string `json:"reason_code"`
	ControlNumber  string `json:"control_number"`
}

func parseDTCConfirmation(raw []byte) (*domain.StatusUpdate, error) {
	var conf dtcConfirmation
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, fmt.Errorf("malformed DTC confirmation: %w", err)
	}
	if conf.InstructionRef == "" {
		return nil, fmt.Errorf("DTC confirmation missing instruction_ref")
	}

	update := &domain.StatusUpdate{
		InstructionID: conf.InstructionRef,
		Reference:     conf.ControlNumber,
	}
	switch conf.StatusCode {
	case "CONF":
		update.Status = domain.StatusConfirmed
	case "SETT":
		update.Status = domain.StatusSettled
	case "FAIL":
		update.Status = domain.StatusFailed
		update.Reason = dtcFailureReason(conf.ReasonCode)
	default:
		return nil, fmt.Errorf("unknown DTC status code %q", conf.StatusCode)
	}
	return update, nil
}

func dtcFailureReason(code string) domain.FailureReason {
	switch code {
	case "SEC":
		return domain.FailInsufficientSecurities
	case "FND":
		return domain.FailInsufficientCash
	case "BLK":
		return domain.FailAccountBlocked
	default:
		return domain.FailCounterpartyFail
	}
}

// euroclearConfirmation Euroclear 回报格式，与 DTC 的字段与状态码互不兼容。
type euroclearConfirmation struct {
	Reference struct {
		SenderRef string `json:"sender_ref"`
		CommonRef string `json:"common_ref"`
	} `json:"reference"`
	Lifecycle string `json:"lifecycle"` // MATCHED_CONFIRMED / SETTLED / UNSETTLED
	Narrative string `json:"narrative"`
}

func parseEuroclearConfirmation(raw []byte) (*domain.StatusUpdate, error) {
	var conf euroclearConfirmation
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, fmt.Errorf("malformed Euroclear confirmation: %w", err)
	}
	if conf.Reference.SenderRef == "" {
		return nil, fmt.Errorf("Euroclear confirmation missing sender_ref")
	}

	update := &domain.StatusUpdate{
		InstructionID: conf.Reference.SenderRef,
		Reference:     conf.Reference.CommonRef,
	}
	switch conf.Lifecycle {
	case "MATCHED_CONFIRMED":
		update.Status = domain.StatusConfirmed
	case "SETTLED":
		update.Status = domain.StatusSettled
	case "UNSETTLED":
		update.Status = domain.StatusFailed
		update.Reason = domain.FailCounterpartyFail
	default:
		return nil, fmt.Errorf("unknown Euroclear lifecycle %q", conf.Lifecycle)
	}
	return update, nil
}
