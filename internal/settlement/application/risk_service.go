package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

// RiskService 交收风险监控应用服务。
// 所有度量都是派生数据，按当前指令快照即时重算，不落库。
type RiskService struct {
	repo    domain.InstructionRepository
	monitor *domain.RiskMonitor
	logger  *slog.Logger
}

func NewRiskService(repo domain.InstructionRepository, cfg domain.RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		repo:    repo,
		monitor: domain.NewRiskMonitor(cfg),
		logger:  logger,
	}
}

// InstructionExposure 单条指令的风险分解。
func (s *RiskService) InstructionExposure(ctx context.Context, instructionID string) (*domain.RiskExposure, error) {
	ins, err := s.repo.Get(ctx, instructionID)
	if err != nil {
		return nil, err
	}
	if ins == nil {
		return nil, domain.ErrInstructionNotFound
	}
	exposure := s.monitor.InstructionExposure(ins)
	return &exposure, nil
}

// CounterpartyExposure 对手方全部活跃指令的汇总敞口对限额评估。
// 越限不阻断任何交收，只告警，处置由风控人员决定。
func (s *RiskService) CounterpartyExposure(ctx context.Context, counterparty string, limit decimal.Decimal) (*domain.CounterpartyExposure, error) {
	instructions, err := s.repo.FindActiveByCounterparty(ctx, counterparty)
	if err != nil {
		return nil, err
	}

	exposure := s.monitor.CounterpartyExposure(counterparty, limit, instructions)
	if exposure.Breached {
		s.logger.WarnContext(ctx, "counterparty exposure limit breached",
			"counterparty", counterparty,
			"exposure", exposure.Exposure.String(),
			"limit", limit.String(),
			"utilization_pct", exposure.UtilizationPct.String(),
		)
	}
	return &exposure, nil
}

// AssessHerstatt 跨币种交收的时区风险评估。
func (s *RiskService) AssessHerstatt(ctx context.Context, instructionID, baseCurrency string) (*domain.HerstattAssessment, error) {
	if baseCurrency == "" {
		return nil, fmt.Errorf("base currency is required")
	}
	ins, err := s.repo.Get(ctx, instructionID)
	if err != nil {
		return nil, err
	}
	if ins == nil {
		return nil, domain.ErrInstructionNotFound
	}

	assessment := s.monitor.AssessHerstatt(ins, baseCurrency)
	if assessment.Level == domain.RiskLevelCritical {
		s.logger.WarnContext(ctx, "critical herstatt exposure",
			"instruction_id", instructionID,
			"base_currency", baseCurrency,
			"settle_currency", assessment.SettleCurrency,
			"exposure_at_risk", assessment.ExposureAtRisk.String(),
		)
	}
	return &assessment, nil
}
