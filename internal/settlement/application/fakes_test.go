package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeInstructionRepo is an in-memory InstructionRepository. WithTx runs the
// callback directly; conditional-version semantics are simulated on Update.
type fakeInstructionRepo struct {
	mu           sync.Mutex
	byID         map[string]*domain.SettlementInstruction
	byTradeID    map[string]*domain.SettlementInstruction
	saveErr      error
	updateErr    error
	updateCalls  int
	conflictOnce bool
}

func newFakeInstructionRepo() *fakeInstructionRepo {
	return &fakeInstructionRepo{
		byID:      make(map[string]*domain.SettlementInstruction),
		byTradeID: make(map[string]*domain.SettlementInstruction),
	}
}

func (r *fakeInstructionRepo) Save(ctx context.Context, ins *domain.SettlementInstruction) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[ins.InstructionID] = ins
	r.byTradeID[ins.TradeID] = ins
	return nil
}

func (r *fakeInstructionRepo) Update(ctx context.Context, ins *domain.SettlementInstruction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	if r.updateErr != nil {
		return r.updateErr
	}
	if r.conflictOnce {
		r.conflictOnce = false
		return domain.ErrVersionConflict
	}
	ins.Version++
	r.byID[ins.InstructionID] = ins
	return nil
}

func (r *fakeInstructionRepo) Get(ctx context.Context, instructionID string) (*domain.SettlementInstruction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[instructionID], nil
}

func (r *fakeInstructionRepo) GetByTradeID(ctx context.Context, tradeID string) (*domain.SettlementInstruction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byTradeID[tradeID], nil
}

func (r *fakeInstructionRepo) FindPendingByDate(ctx context.Context, date time.Time, limit int) ([]*domain.SettlementInstruction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SettlementInstruction
	for _, ins := range r.byID {
		if ins.SettlementDate.Format("2006-01-02") == date.Format("2006-01-02") && !ins.Status.IsTerminal() {
			out = append(out, ins)
		}
	}
	return out, nil
}

func (r *fakeInstructionRepo) FindByDate(ctx context.Context, date time.Time, limit int) ([]*domain.SettlementInstruction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SettlementInstruction
	for _, ins := range r.byID {
		if ins.SettlementDate.Format("2006-01-02") == date.Format("2006-01-02") {
			out = append(out, ins)
		}
	}
	return out, nil
}

func (r *fakeInstructionRepo) FindByCounterpartyAndDate(ctx context.Context, counterparty string, date time.Time) ([]*domain.SettlementInstruction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SettlementInstruction
	for _, ins := range r.byID {
		if ins.DeliverFrom == counterparty || ins.DeliverTo == counterparty {
			out = append(out, ins)
		}
	}
	return out, nil
}

func (r *fakeInstructionRepo) FindActiveByCounterparty(ctx context.Context, counterparty string) ([]*domain.SettlementInstruction, error) {
	return r.FindByCounterpartyAndDate(ctx, counterparty, time.Time{})
}

func (r *fakeInstructionRepo) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// fakePublisher records every event it is handed.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Topic string
	Key   string
	Event any
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, event any) error {
	return p.record(topic, key, event)
}

func (p *fakePublisher) PublishInTx(ctx context.Context, tx any, topic, key string, event any) error {
	return p.record(topic, key, event)
}

func (p *fakePublisher) record(topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Key: key, Event: event})
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

type fakeRefData struct {
	ssi *domain.StandingInstruction
	err error
}

func (f *fakeRefData) GetStandingInstruction(ctx context.Context, partyA, partyB, currency string) (*domain.StandingInstruction, error) {
	return f.ssi, f.err
}

type fakeServiceCustodian struct {
	position decimal.Decimal
	balance  decimal.Decimal
}

func (f *fakeServiceCustodian) InstructDelivery(ctx context.Context, ins *domain.SettlementInstruction, account string) (string, error) {
	return "DLV-1", nil
}

func (f *fakeServiceCustodian) QueryPosition(ctx context.Context, account, isin string) (decimal.Decimal, error) {
	return f.position, nil
}

func (f *fakeServiceCustodian) QueryBalance(ctx context.Context, account, currency string) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeServiceCustodian) QueryPositions(ctx context.Context, account string) ([]domain.BookPosition, error) {
	return nil, nil
}

type fakeServiceLedger struct {
	ref string
	err error
}

func (f *fakeServiceLedger) CommitSimultaneous(ctx context.Context, securities domain.SecuritiesMovement, cash domain.CashMovement) (string, error) {
	return f.ref, f.err
}

type fakeClearingConnector struct {
	submissionID string
	submitErr    error
	update       *domain.StatusUpdate
	parseErr     error
}

func (f *fakeClearingConnector) Submit(ctx context.Context, ins *domain.SettlementInstruction) (string, error) {
	return f.submissionID, f.submitErr
}

func (f *fakeClearingConnector) ParseConfirmation(ctx context.Context, clearingHouseID string, raw []byte) (*domain.StatusUpdate, error) {
	return f.update, f.parseErr
}
