package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCustodian struct {
	positions map[string]decimal.Decimal // account|isin
	balances  map[string]decimal.Decimal // account|currency
	queryErr  error
}

func (f *fakeCustodian) InstructDelivery(ctx context.Context, ins *SettlementInstruction, account string) (string, error) {
	return "DLV-1", nil
}

func (f *fakeCustodian) QueryPosition(ctx context.Context, account, isin string) (decimal.Decimal, error) {
	if f.queryErr != nil {
		return decimal.Zero, f.queryErr
	}
	return f.positions[account+"|"+isin], nil
}

func (f *fakeCustodian) QueryBalance(ctx context.Context, account, currency string) (decimal.Decimal, error) {
	if f.queryErr != nil {
		return decimal.Zero, f.queryErr
	}
	return f.balances[account+"|"+currency], nil
}

func (f *fakeCustodian) QueryPositions(ctx context.Context, account string) ([]BookPosition, error) {
	return nil, nil
}

type fakeLedger struct {
	ref     string
	err     error
	commits int
}

func (f *fakeLedger) CommitSimultaneous(ctx context.Context, securities SecuritiesMovement, cash CashMovement) (string, error) {
	f.commits++
	if f.err != nil {
		return "", f.err
	}
	return f.ref, nil
}

func dvpInstruction(t *testing.T) *SettlementInstruction {
	t.Helper()
	ins := validInstruction(t)
	require.Equal(t, SettlementDVP, ins.SettlementType)
	return ins
}

func TestDVPCommitsWhenBothLegsAreCovered(t *testing.T) {
	ins := dvpInstruction(t)
	custodian := &fakeCustodian{
		positions: map[string]decimal.Decimal{ins.DeliverFrom + "|" + ins.ISIN: decimal.NewFromInt(500)},
		balances:  map[string]decimal.Decimal{ins.CashFrom + "|" + ins.Currency: decimal.NewFromInt(100000)},
	}
	ledger := &fakeLedger{ref: "DVP-42"}

	result, err := NewDVPProcessor(custodian, ledger).Process(context.Background(), ins)
	require.NoError(t, err)

	assert.True(t, result.Committed)
	assert.Equal(t, "DVP-42", result.SettlementRef)
	assert.Empty(t, result.Reasons)
	assert.Equal(t, 1, ledger.commits)
}

func TestDVPInsufficientCashBlocksCommit(t *testing.T) {
	ins := dvpInstruction(t)
	custodian := &fakeCustodian{
		positions: map[string]decimal.Decimal{ins.DeliverFrom + "|" + ins.ISIN: decimal.NewFromInt(500)},
		balances:  map[string]decimal.Decimal{ins.CashFrom + "|" + ins.Currency: decimal.NewFromInt(10)},
	}
	ledger := &fakeLedger{ref: "DVP-43"}

	result, err := NewDVPProcessor(custodian, ledger).Process(context.Background(), ins)
	require.NoError(t, err)

	assert.False(t, result.Committed)
	assert.Equal(t, []FailureReason{FailInsufficientCash}, result.Reasons)
	assert.Equal(t, 0, ledger.commits, "no movement may happen before both prechecks pass")
}

func TestDVPReportsBothShortfalls(t *testing.T) {
	ins := dvpInstruction(t)
	custodian := &fakeCustodian{
		positions: map[string]decimal.Decimal{},
		balances:  map[string]decimal.Decimal{},
	}
	ledger := &fakeLedger{}

	result, err := NewDVPProcessor(custodian, ledger).Process(context.Background(), ins)
	require.NoError(t, err)

	assert.False(t, result.Committed)
	assert.Equal(t, []FailureReason{FailInsufficientSecurities, FailInsufficientCash}, result.Reasons)
	assert.Equal(t, 0, ledger.commits)
}

func TestDVPRejectsFreeOfPayment(t *testing.T) {
	ins := dvpInstruction(t)
	ins.SettlementType = SettlementFOP

	_, err := NewDVPProcessor(&fakeCustodian{}, &fakeLedger{}).Process(context.Background(), ins)
	assert.Error(t, err)
}

func TestDVPPropagatesInfrastructureErrors(t *testing.T) {
	ins := dvpInstruction(t)
	custodian := &fakeCustodian{queryErr: errors.New("custody gateway unavailable")}

	_, err := NewDVPProcessor(custodian, &fakeLedger{}).Process(context.Background(), ins)
	assert.Error(t, err, "infrastructure failure is an error, not a settlement fail")

	covered := &fakeCustodian{
		positions: map[string]decimal.Decimal{ins.DeliverFrom + "|" + ins.ISIN: decimal.NewFromInt(500)},
		balances:  map[string]decimal.Decimal{ins.CashFrom + "|" + ins.Currency: decimal.NewFromInt(100000)},
	}
	ledger := &fakeLedger{err: errors.New("ledger rejected commit")}

	_, err = NewDVPProcessor(covered, ledger).Process(context.Background(), ins)
	assert.Error(t, err)
}

func TestDVPPartialChecksPendingQuantityOnly(t *testing.T) {
	ins := dvpInstruction(t)
	require.NoError(t, ins.ApplyPartialDelivery(decimal.NewFromInt(300), "engine"))

	// position covers the remaining 200 but not the original 500
	custodian := &fakeCustodian{
		positions: map[string]decimal.Decimal{ins.DeliverFrom + "|" + ins.ISIN: decimal.NewFromInt(200)},
		balances:  map[string]decimal.Decimal{ins.CashFrom + "|" + ins.Currency: decimal.NewFromInt(100000)},
	}
	ledger := &fakeLedger{ref: "DVP-44"}

	result, err := NewDVPProcessor(custodian, ledger).Process(context.Background(), ins)
	require.NoError(t, err)
	assert.True(t, result.Committed)
}
