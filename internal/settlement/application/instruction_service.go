package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

// submitTimeout 清算所提交的有界超时。超时后指令停留在最近确认状态，
// 调用方据此重试或升级，绝不留下半更新的指令。
const submitTimeout = 10 * time.Second

// InstructionService 结算指令应用服务：创建、富化、校验、生命周期流转与交收。
type InstructionService struct {
	repo          domain.InstructionRepository
	builder       *domain.InstructionBuilder
	dvp           *domain.DVPProcessor
	refData       domain.ReferenceDataService
	clearingHouse domain.ClearingHouseConnector
	publisher     domain.EventPublisher
	logger        *slog.Logger
}

func NewInstructionService(
	repo domain.InstructionRepository,
	dvp *domain.DVPProcessor,
	refData domain.ReferenceDataService,
	clearingHouse domain.ClearingHouseConnector,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *InstructionService {
	return &InstructionService{
		repo:          repo,
		builder:       domain.NewInstructionBuilder(),
		dvp:           dvp,
		refData:       refData,
		clearingHouse: clearingHouse,
		publisher:     publisher,
		logger:        logger,
	}
}

// CreateInstruction 从成交记录构建、校验并持久化一条结算指令。
// SSI 富化失败或查无结果时优雅降级，沿用指令自带账户。
func (s *InstructionService) CreateInstruction(ctx context.Context, req *CreateInstructionRequest) (*InstructionDTO, domain.ValidationResult, error) {
	var empty domain.ValidationResult

	// 幂等：同一成交只生成一条指令。
	existing, err := s.repo.GetByTradeID(ctx, req.TradeID)
	if err != nil {
		return nil, empty, err
	}
	if existing != nil {
		return toInstructionDTO(existing), domain.ValidateInstruction(existing), nil
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return nil, empty, fmt.Errorf("invalid quantity format: %w", err)
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return nil, empty, fmt.Errorf("invalid price format: %w", err)
	}

	fees := make([]domain.InstructionFee, 0, len(req.Fees))
	for _, f := range req.Fees {
		amount, err := decimal.NewFromString(f.Amount)
		if err != nil {
			return nil, empty, fmt.Errorf("invalid fee amount format: %w", err)
		}
		fees = append(fees, domain.InstructionFee{FeeType: f.FeeType, Amount: amount, Currency: f.Currency})
	}

	trade := domain.TradeCapture{
		TradeID:        req.TradeID,
		ISIN:           req.ISIN,
		Currency:       req.Currency,
		CountryOfIssue: req.CountryOfIssue,
		Quantity:       quantity,
		Price:          price,
		BuyerAccount:   req.BuyerAccount,
		SellerAccount:  req.SellerAccount,
		BuyerCashAcct:  req.BuyerCashAcct,
		SellerCashAcct: req.SellerCashAcct,
		TradeDate:      req.TradeDate,
		SettlementType: settlementTypeFromString(req.SettlementType),
		Fees:           fees,
	}

	instructionID := fmt.Sprintf("SI-%d", idgen.GenID())
	ins, err := s.builder.Build(instructionID, req.CreatedBy, trade, domain.SettlementCycle(req.Cycle), req.CustomDate)
	if err != nil {
		return nil, empty, err
	}

	validation := domain.ValidateInstruction(ins)
	if !validation.Valid {
		return nil, validation, nil
	}

	enriched := s.enrich(ctx, ins)

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Save(txCtx, ins); err != nil {
			return err
		}
		if err := s.publishInTx(ctx, txCtx, domain.TopicInstructionCreated, ins.InstructionID, domain.InstructionCreatedEvent{
			BaseEvent:      domain.BaseEvent{Timestamp: time.Now()},
			InstructionID:  ins.InstructionID,
			TradeID:        ins.TradeID,
			ISIN:           ins.ISIN,
			NetAmount:      ins.NetAmount.String(),
			SettlementDate: ins.SettlementDate.Format("2006-01-02"),
		}); err != nil {
			return err
		}
		if !enriched {
			return nil
		}
		return s.publishInTx(ctx, txCtx, domain.TopicInstructionEnriched, ins.InstructionID, domain.InstructionEnrichedEvent{
			BaseEvent:       domain.BaseEvent{Timestamp: time.Now()},
			InstructionID:   ins.InstructionID,
			ClearingHouseID: ins.ClearingHouseID,
			CustodianID:     ins.CustodianID,
		})
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to save instruction", "instruction_id", instructionID, "trade_id", req.TradeID, "error", err)
		return nil, empty, fmt.Errorf("failed to save instruction: %w", err)
	}

	s.logger.InfoContext(ctx, "settlement instruction created",
		"instruction_id", ins.InstructionID,
		"trade_id", ins.TradeID,
		"settlement_date", ins.SettlementDate.Format("2006-01-02"),
		"warnings", len(validation.Warnings),
	)
	return toInstructionDTO(ins), validation, nil
}

// enrich SSI 富化，返回是否查得并应用了标准结算指令。
// 协作方不可用或查无数据时降级为指令自带账户。
func (s *InstructionService) enrich(ctx context.Context, ins *domain.SettlementInstruction) bool {
	if s.refData == nil {
		return false
	}
	ssi, err := s.refData.GetStandingInstruction(ctx, ins.DeliverFrom, ins.DeliverTo, ins.Currency)
	if err != nil {
		s.logger.WarnContext(ctx, "ssi lookup failed, using instruction-supplied accounts",
			"instruction_id", ins.InstructionID, "error", err)
		return false
	}
	if ssi == nil {
		return false
	}
	ins.Enrich(ssi)
	return true
}

// GetInstruction 查询单条指令。
func (s *InstructionService) GetInstruction(ctx context.Context, instructionID string) (*domain.SettlementInstruction, error) {
	ins, err := s.repo.Get(ctx, instructionID)
	if err != nil {
		return nil, err
	}
	if ins == nil {
		return nil, domain.ErrInstructionNotFound
	}
	return ins, nil
}

// Validate 对已存指令重新校验（幂等，不修改指令）。
func (s *InstructionService) Validate(ctx context.Context, instructionID string) (domain.ValidationResult, error) {
	ins, err := s.GetInstruction(ctx, instructionID)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return domain.ValidateInstruction(ins), nil
}

// Confirm 确认指令。
func (s *InstructionService) Confirm(ctx context.Context, instructionID, actor string) (*InstructionDTO, error) {
	ins, err := s.GetInstruction(ctx, instructionID)
	if err != nil {
		return nil, err
	}
	if err := ins.Confirm(actor); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, ins); err != nil {
		return nil, err
	}
	return toInstructionDTO(ins), nil
}

// SettleDVP 对 DVP/RVP 指令执行券款对付。
// 预检失败时指令转入 FAILED 并记录类型化原因；成功则按账务回执完成交收。
func (s *InstructionService) SettleDVP(ctx context.Context, instructionID, actor string) (*domain.DVPResult, error) {
	ins, err := s.GetInstruction(ctx, instructionID)
	if err != nil {
		return nil, err
	}

	result, err := s.dvp.Process(ctx, ins)
	if err != nil {
		return nil, err
	}

	if !result.Committed {
		reason := result.Reasons[0]
		if err := ins.Fail(reason, actor); err != nil {
			return nil, err
		}
		err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
			if err := s.repo.Update(txCtx, ins); err != nil {
				return err
			}
			return s.publishInTx(ctx, txCtx, domain.TopicInstructionFailed, ins.InstructionID, domain.InstructionFailedEvent{
				BaseEvent:     domain.BaseEvent{Timestamp: time.Now()},
				InstructionID: ins.InstructionID,
				Reason:        string(reason),
				Policy:        reason.DefaultPolicy().String(),
			})
		})
		if err != nil {
			return nil, err
		}
		s.logger.WarnContext(ctx, "dvp settlement failed",
			"instruction_id", ins.InstructionID, "reasons", result.Reasons)
		return result, nil
	}

	if err := ins.Settle(actor); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, ins); err != nil {
			return err
		}
		return s.publishInTx(ctx, txCtx, domain.TopicInstructionSettled, ins.InstructionID, domain.InstructionSettledEvent{
			BaseEvent:       domain.BaseEvent{Timestamp: time.Now()},
			InstructionID:   ins.InstructionID,
			SettlementRef:   result.SettlementRef,
			SettledQuantity: ins.SettledQuantity.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "dvp settlement committed",
		"instruction_id", ins.InstructionID, "settlement_ref", result.SettlementRef)
	return result, nil
}

// PartialDelivery 显式的部分交收操作，保持数量守恒不变式。
func (s *InstructionService) PartialDelivery(ctx context.Context, req *PartialDeliveryRequest) (*InstructionDTO, error) {
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity format: %w", err)
	}
	ins, err := s.GetInstruction(ctx, req.InstructionID)
	if err != nil {
		return nil, err
	}
	if err := ins.ApplyPartialDelivery(quantity, req.Actor); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, ins); err != nil {
			return err
		}
		return s.publishInTx(ctx, txCtx, domain.TopicInstructionSettled, ins.InstructionID, domain.InstructionSettledEvent{
			BaseEvent:       domain.BaseEvent{Timestamp: time.Now()},
			InstructionID:   ins.InstructionID,
			SettledQuantity: ins.SettledQuantity.String(),
			Partial:         ins.Status == domain.StatusPartiallySettled,
		})
	})
	if err != nil {
		return nil, err
	}
	return toInstructionDTO(ins), nil
}

// Cancel 取消指令。终态指令返回 ErrTerminalState。
func (s *InstructionService) Cancel(ctx context.Context, instructionID, actor, reason string) (*InstructionDTO, error) {
	ins, err := s.GetInstruction(ctx, instructionID)
	if err != nil {
		return nil, err
	}
	if err := ins.Cancel(actor, reason); err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, ins); err != nil {
			return err
		}
		return s.publishInTx(ctx, txCtx, domain.TopicInstructionCancelled, ins.InstructionID, domain.InstructionCancelledEvent{
			BaseEvent:     domain.BaseEvent{Timestamp: time.Now()},
			InstructionID: ins.InstructionID,
			Reason:        reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return toInstructionDTO(ins), nil
}

// Amend 修改指令：原指令冻结为 AMENDED，新指令引用原指令并重新进入生命周期。
func (s *InstructionService) Amend(ctx context.Context, instructionID, actor string) (*InstructionDTO, error) {
	ins, err := s.GetInstruction(ctx, instructionID)
	if err != nil {
		return nil, err
	}

	amendedID := fmt.Sprintf("SI-%d", idgen.GenID())
	amended, err := ins.Amend(amendedID, actor)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, ins); err != nil {
			return err
		}
		if err := s.repo.Save(txCtx, amended); err != nil {
			return err
		}
		return s.publishInTx(ctx, txCtx, domain.TopicInstructionAmended, ins.InstructionID, domain.InstructionAmendedEvent{
			BaseEvent:  domain.BaseEvent{Timestamp: time.Now()},
			OriginalID: ins.InstructionID,
			AmendedID:  amendedID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "instruction amended", "original_id", ins.InstructionID, "amended_id", amendedID)
	return toInstructionDTO(amended), nil
}

// Retry 按失败处置策略重试。仅 HOLD_AND_RETRY 类失败可自动重试。
func (s *InstructionService) Retry(ctx context.Context, instructionID, actor string) (*InstructionDTO, error) {
	ins, err := s.GetInstruction(ctx, instructionID)
	if err != nil {
		return nil, err
	}
	if policy := ins.FailReason.DefaultPolicy(); policy != domain.PolicyHoldAndRetry {
		return nil, fmt.Errorf("failure reason %s requires %s, not automatic retry", ins.FailReason, policy)
	}
	if err := ins.Retry(actor); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, ins); err != nil {
		return nil, err
	}
	return toInstructionDTO(ins), nil
}

// SubmitToClearingHouse 向清算所提交指令，调用带有界超时。
func (s *InstructionService) SubmitToClearingHouse(ctx context.Context, instructionID string) (string, error) {
	ins, err := s.GetInstruction(ctx, instructionID)
	if err != nil {
		return "", err
	}
	if s.clearingHouse == nil {
		return "", fmt.Errorf("no clearing house connector configured")
	}

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	submissionID, err := s.clearingHouse.Submit(submitCtx, ins)
	if err != nil {
		s.logger.ErrorContext(ctx, "clearing house submission failed",
			"instruction_id", instructionID, "error", err)
		return "", fmt.Errorf("submit to clearing house: %w", err)
	}
	return submissionID, nil
}

// ApplyConfirmation 应用清算所回报：按指令的清算所标识解析，推进状态。
func (s *InstructionService) ApplyConfirmation(ctx context.Context, clearingHouseID string, raw []byte) (*InstructionDTO, error) {
	update, err := s.clearingHouse.ParseConfirmation(ctx, clearingHouseID, raw)
	if err != nil {
		return nil, fmt.Errorf("parse confirmation: %w", err)
	}

	ins, err := s.GetInstruction(ctx, update.InstructionID)
	if err != nil {
		return nil, err
	}

	actor := "clearing-house:" + clearingHouseID
	switch update.Status {
	case domain.StatusConfirmed:
		err = ins.Confirm(actor)
	case domain.StatusSettled:
		err = ins.Settle(actor)
	case domain.StatusFailed:
		err = ins.Fail(update.Reason, actor)
	default:
		err = fmt.Errorf("unsupported confirmation status %s", update.Status)
	}
	if err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, ins); err != nil {
		return nil, err
	}
	return toInstructionDTO(ins), nil
}

// publishInTx 在当前事务内写 outbox 记录 (Outbox Pattern)；未配置发布者时跳过。
func (s *InstructionService) publishInTx(ctx, txCtx context.Context, topic, key string, event domain.SettlementEvent) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.PublishInTx(ctx, contextx.GetTx(txCtx), topic, key, event)
}
