package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
	"golang.org/x/sync/errgroup"
)

// eodWorkers 日终批量净额计算的并发分区数上限。
const eodWorkers = 8

// NettingService 多边净额应用服务。
// 净额组是咨询性产物，指令仍按毛额逐笔交收，直到净额组被显式采纳。
type NettingService struct {
	instructions domain.InstructionRepository
	groups       domain.NettingRepository
	engine       *domain.NettingEngine
	publisher    domain.EventPublisher
	logger       *slog.Logger
}

func NewNettingService(
	instructions domain.InstructionRepository,
	groups domain.NettingRepository,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *NettingService {
	return &NettingService{
		instructions: instructions,
		groups:       groups,
		engine:       domain.NewNettingEngine(),
		publisher:    publisher,
		logger:       logger,
	}
}

// ComputeForCounterparty 按对手方 + 交收日 + 币种计算一个净额组并持久化。
func (s *NettingService) ComputeForCounterparty(ctx context.Context, counterparty string, settlementDate time.Time, currency string) (*domain.NettingGroup, error) {
	candidates, err := s.instructions.FindByCounterpartyAndDate(ctx, counterparty, settlementDate)
	if err != nil {
		return nil, err
	}

	nettingID := fmt.Sprintf("NET-%d", idgen.GenID())
	group, err := s.engine.Compute(nettingID, counterparty, settlementDate, currency, candidates)
	if err != nil {
		return nil, err
	}

	if err := s.saveAndPublish(ctx, group); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "netting group computed",
		"netting_id", group.NettingID,
		"counterparty", counterparty,
		"currency", currency,
		"net_securities", group.NetSecurities.String(),
		"net_cash", group.NetCash.String(),
		"efficiency", group.Efficiency.String(),
	)
	return group, nil
}

// EODNettingBatch 日终净额批次结果：净额组清单与批次汇总。
type EODNettingBatch struct {
	SettlementDate string                 `json:"settlement_date"`
	Instructions   int                    `json:"instructions"`
	Partitions     int                    `json:"partitions"`
	Failures       int                    `json:"failures"`
	AvgEfficiency  string                 `json:"avg_efficiency"`
	Groups         []*domain.NettingGroup `json:"groups"`
}

// RunEndOfDay 日终批量净额：对当日全部待交收指令按对手方 + 币种分区，
// 分区之间互不相交，可安全并发计算。单分区失败不阻断其他分区，
// 错误汇总后随批次结果整体返回。
func (s *NettingService) RunEndOfDay(ctx context.Context, settlementDate time.Time, batchLimit int) (*EODNettingBatch, error) {
	pending, err := s.instructions.FindPendingByDate(ctx, settlementDate, batchLimit)
	if err != nil {
		return nil, err
	}

	type partitionKey struct {
		counterparty string
		currency     string
	}
	partitions := make(map[partitionKey][]*domain.SettlementInstruction)
	for _, ins := range pending {
		// 每条指令涉及两个当事方，对双方各归入一个分区。
		for _, party := range []string{ins.DeliverTo, ins.DeliverFrom} {
			if party == "" {
				continue
			}
			key := partitionKey{counterparty: party, currency: ins.Currency}
			partitions[key] = append(partitions[key], ins)
		}
	}

	keys := make([]partitionKey, 0, len(partitions))
	for key := range partitions {
		keys = append(keys, key)
	}
	// 固定遍历顺序，批次产出可复现。
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].counterparty != keys[j].counterparty {
			return keys[i].counterparty < keys[j].counterparty
		}
		return keys[i].currency < keys[j].currency
	})

	var (
		mu     sync.Mutex
		groups []*domain.NettingGroup
		errs   []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(eodWorkers)
	for _, key := range keys {
		key := key
		instructions := partitions[key]
		g.Go(func() error {
			nettingID := fmt.Sprintf("NET-%d", idgen.GenID())
			group, err := s.engine.Compute(nettingID, key.counterparty, settlementDate, key.currency, instructions)
			if err == nil {
				err = s.saveAndPublish(gctx, group)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s/%s: %v", key.counterparty, key.currency, err))
				return nil
			}
			groups = append(groups, group)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 组内按分区键排序产出，效率做简单算术平均作批次指标。
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Counterparty != groups[j].Counterparty {
			return groups[i].Counterparty < groups[j].Counterparty
		}
		return groups[i].Currency < groups[j].Currency
	})
	avg := decimal.Zero
	for _, group := range groups {
		avg = avg.Add(group.Efficiency)
	}
	if len(groups) > 0 {
		avg = avg.Div(decimal.NewFromInt(int64(len(groups)))).Round(4)
	}

	batch := &EODNettingBatch{
		SettlementDate: settlementDate.Format("2006-01-02"),
		Instructions:   len(pending),
		Partitions:     len(keys),
		Failures:       len(errs),
		AvgEfficiency:  avg.String(),
		Groups:         groups,
	}

	s.logger.InfoContext(ctx, "end of day netting completed",
		"settlement_date", batch.SettlementDate,
		"partitions", batch.Partitions,
		"groups", len(groups),
		"failures", batch.Failures,
	)
	if len(errs) > 0 {
		return batch, fmt.Errorf("netting failed for %d partitions: %s", len(errs), strings.Join(errs, "; "))
	}
	return batch, nil
}

// MarkSettledAsNet 采纳净额组：组内指令批量置为已交收。
// 咨询结果自此成为交收事实，这是净额组唯一的状态跃迁。
func (s *NettingService) MarkSettledAsNet(ctx context.Context, nettingID, actor string) (*domain.NettingGroup, error) {
	group, err := s.groups.Get(ctx, nettingID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("netting group %s not found", nettingID)
	}
	if err := group.MarkSettledAsNet(); err != nil {
		return nil, err
	}

	err = s.instructions.WithTx(ctx, func(txCtx context.Context) error {
		for _, instructionID := range strings.Split(group.InstructionIDs, ",") {
			if instructionID == "" {
				continue
			}
			ins, err := s.instructions.Get(txCtx, instructionID)
			if err != nil {
				return err
			}
			if ins == nil {
				return fmt.Errorf("netted instruction %s: %w", instructionID, domain.ErrInstructionNotFound)
			}
			if err := ins.Settle(actor); err != nil {
				return fmt.Errorf("settle netted instruction %s: %w", instructionID, err)
			}
			if err := s.instructions.Update(txCtx, ins); err != nil {
				return err
			}
		}
		return s.groups.Save(txCtx, group)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "netting group settled as net", "netting_id", nettingID, "actor", actor)
	return group, nil
}

// GetGroup 查询净额组。
func (s *NettingService) GetGroup(ctx context.Context, nettingID string) (*domain.NettingGroup, error) {
	group, err := s.groups.Get(ctx, nettingID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("netting group %s not found", nettingID)
	}
	return group, nil
}

func (s *NettingService) saveAndPublish(ctx context.Context, group *domain.NettingGroup) error {
	return s.instructions.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.groups.Save(txCtx, group); err != nil {
			return err
		}
		if s.publisher == nil {
			return nil
		}
		event := domain.NettingComputedEvent{
			BaseEvent:     domain.BaseEvent{Timestamp: time.Now()},
			NettingID:     group.NettingID,
			Counterparty:  group.Counterparty,
			NetSecurities: group.NetSecurities.String(),
			NetCash:       group.NetCash.String(),
			Efficiency:    group.Efficiency.String(),
		}
		return s.publisher.PublishInTx(ctx, contextx.GetTx(txCtx), domain.TopicNettingComputed, group.NettingID, event)
	})
}
