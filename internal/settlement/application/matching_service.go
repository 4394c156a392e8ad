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

// MatchingService 跨对手方匹配应用服务。
// 匹配判定与字段差异是纯领域计算；MatchID 仅在判定通过后分配。
type MatchingService struct {
	repo      domain.InstructionRepository
	matcher   *domain.Matcher
	publisher domain.EventPublisher
	logger    *slog.Logger
}

func NewMatchingService(
	repo domain.InstructionRepository,
	tolerances domain.ToleranceConfig,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *MatchingService {
	return &MatchingService{
		repo:      repo,
		matcher:   domain.NewMatcher(tolerances),
		publisher: publisher,
		logger:    logger,
	}
}

// Match 比对买卖双边指令。判定通过时为双方标记同一 MatchID 并持久化；
// 不通过时仅返回逐字段差异报告，指令状态不变。
func (s *MatchingService) Match(ctx context.Context, req *MatchRequest) (*domain.MatchResult, error) {
	buy, err := s.repo.Get(ctx, req.BuyInstructionID)
	if err != nil {
		return nil, err
	}
	if buy == nil {
		return nil, fmt.Errorf("buy instruction %s: %w", req.BuyInstructionID, domain.ErrInstructionNotFound)
	}
	sell, err := s.repo.Get(ctx, req.SellInstructionID)
	if err != nil {
		return nil, err
	}
	if sell == nil {
		return nil, fmt.Errorf("sell instruction %s: %w", req.SellInstructionID, domain.ErrInstructionNotFound)
	}

	result := s.matcher.Match(buy, sell)
	if !result.Matched {
		s.logger.InfoContext(ctx, "instructions unmatched",
			"buy_instruction_id", buy.InstructionID,
			"sell_instruction_id", sell.InstructionID,
			"unmatched_fields", len(result.UnmatchedFields),
		)
		return result, nil
	}

	matchID := fmt.Sprintf("MTH-%d", idgen.GenID())
	if err := domain.AssignMatch(result, matchID, req.Actor, buy, sell); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, buy); err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, sell); err != nil {
			return err
		}
		if s.publisher == nil {
			return nil
		}
		event := domain.InstructionMatchedEvent{
			BaseEvent:         domain.BaseEvent{Timestamp: time.Now()},
			MatchID:           matchID,
			BuyInstructionID:  buy.InstructionID,
			SellInstructionID: sell.InstructionID,
		}
		return s.publisher.PublishInTx(ctx, contextx.GetTx(txCtx), domain.TopicInstructionMatched, matchID, event)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "instructions matched",
		"match_id", matchID,
		"buy_instruction_id", buy.InstructionID,
		"sell_instruction_id", sell.InstructionID,
	)
	return result, nil
}
