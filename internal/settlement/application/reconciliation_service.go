package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

// reconBatchLimit 单次对账拉取的指令上限。
const reconBatchLimit = 10000

// ReconciliationService 对账应用服务：成交对指令、头寸对托管两类运行，
// 以及差异的显式处置。差异是一等数据，随运行结果一并落库。
type ReconciliationService struct {
	instructions domain.InstructionRepository
	runs         domain.ReconciliationRepository
	custodian    domain.CustodianService
	engine       *domain.ReconciliationEngine
	publisher    domain.EventPublisher
	logger       *slog.Logger
}

func NewReconciliationService(
	instructions domain.InstructionRepository,
	runs domain.ReconciliationRepository,
	custodian domain.CustodianService,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		instructions: instructions,
		runs:         runs,
		custodian:    custodian,
		engine: domain.NewReconciliationEngine(func() string {
			return fmt.Sprintf("BRK-%d", idgen.GenID())
		}),
		publisher: publisher,
		logger:    logger,
	}
}

// ReconcileTrades 成交记录对结算指令对账。
// 成交快照由上游系统提供，指令侧取对账日全量且不筛状态，
// 已交收或已撤销的指令同样参与匹配。
func (s *ReconciliationService) ReconcileTrades(ctx context.Context, date time.Time, trades []domain.TradeCapture) (*domain.ReconciliationReport, error) {
	instructions, err := s.instructions.FindByDate(ctx, date, reconBatchLimit)
	if err != nil {
		return nil, err
	}

	runID := fmt.Sprintf("REC-%d", idgen.GenID())
	report := s.engine.ReconcileTrades(runID, trades, instructions)
	if err := s.persistReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ReconcilePositions 内部账簿头寸对托管方头寸对账。
// 街边头寸逐账户向托管方查询；查询失败整体中止，不产出半份报告。
func (s *ReconciliationService) ReconcilePositions(ctx context.Context, book []domain.BookPosition) (*domain.ReconciliationReport, error) {
	seen := make(map[string]bool)
	var street []domain.BookPosition
	for _, pos := range book {
		if seen[pos.Account] {
			continue
		}
		seen[pos.Account] = true
		positions, err := s.custodian.QueryPositions(ctx, pos.Account)
		if err != nil {
			return nil, fmt.Errorf("query custodian positions for %s: %w", pos.Account, err)
		}
		street = append(street, positions...)
	}

	runID := fmt.Sprintf("REC-%d", idgen.GenID())
	report := s.engine.ReconcilePositions(runID, book, street)
	if err := s.persistReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ResolveBreak 处置一条差异。已处置差异返回 ErrBreakAlreadyResolved。
func (s *ReconciliationService) ResolveBreak(ctx context.Context, req *ResolveBreakRequest) (*domain.ReconciliationBreak, error) {
	brk, err := s.runs.GetBreak(ctx, req.BreakID)
	if err != nil {
		return nil, err
	}
	if brk == nil {
		return nil, fmt.Errorf("reconciliation break %s not found", req.BreakID)
	}
	if err := brk.Resolve(req.Actor, req.Notes); err != nil {
		return nil, err
	}
	if err := s.runs.UpdateBreak(ctx, brk); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "reconciliation break resolved",
		"break_id", brk.BreakID, "resolved_by", req.Actor)
	return brk, nil
}

// ListOpenBreaks 查询未处置差异。
func (s *ReconciliationService) ListOpenBreaks(ctx context.Context, limit int) ([]*domain.ReconciliationBreak, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.runs.ListOpenBreaks(ctx, limit)
}

// persistReport 运行汇总与差异同事务落库，差异事件经 outbox 发出。
func (s *ReconciliationService) persistReport(ctx context.Context, report *domain.ReconciliationReport) error {
	err := s.instructions.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.runs.SaveRun(txCtx, report.Run, report.Breaks); err != nil {
			return err
		}
		if s.publisher == nil {
			return nil
		}
		for _, brk := range report.Breaks {
			event := domain.BreakDetectedEvent{
				BaseEvent: domain.BaseEvent{Timestamp: time.Now()},
				BreakID:   brk.BreakID,
				RunID:     brk.RunID,
				BreakType: string(brk.Type),
				Severity:  string(brk.Severity),
			}
			if err := s.publisher.PublishInTx(ctx, contextx.GetTx(txCtx), domain.TopicBreakDetected, brk.BreakID, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "reconciliation run persisted",
		"run_id", report.Run.RunID,
		"kind", report.Run.Kind,
		"total", report.Run.TotalRecords,
		"matched", report.Run.MatchedCount,
		"breaks", report.Run.BreakCount,
		"rate", report.Run.Rate.String(),
	)
	return nil
}
