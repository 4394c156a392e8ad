package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
)

func createRequest() *CreateInstructionRequest {
	return &CreateInstructionRequest{
		TradeID:        "TRD-1001",
		ISIN:           "US0378331005",
		Currency:       "USD",
		CountryOfIssue: "US",
		Quantity:       "500",
		Price:          "100",
		BuyerAccount:   "ACC-BUY",
		SellerAccount:  "ACC-SELL",
		BuyerCashAcct:  "CASH-BUY",
		SellerCashAcct: "CASH-SELL",
		TradeDate:      time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		SettlementType: "DVP",
		Cycle:          2,
		CreatedBy:      "trade-feed",
		Fees: []FeeDTO{
			{FeeType: "COMMISSION", Amount: "25.50", Currency: "USD"},
			{FeeType: "SEC_FEE", Amount: "4.50", Currency: "USD"},
		},
	}
}

func newTestInstructionService(repo *fakeInstructionRepo, publisher *fakePublisher) *InstructionService {
	custodian := &fakeServiceCustodian{
		position: decimal.NewFromInt(1_000_000),
		balance:  decimal.NewFromInt(10_000_000),
	}
	dvp := domain.NewDVPProcessor(custodian, &fakeServiceLedger{ref: "DVP-1"})
	return NewInstructionService(repo, dvp, &fakeRefData{}, &fakeClearingConnector{}, publisher, discardLogger())
}

func TestCreateInstruction(t *testing.T) {
	repo := newFakeInstructionRepo()
	publisher := &fakePublisher{}
	svc := newTestInstructionService(repo, publisher)

	dto, validation, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)
	require.NotNil(t, dto)

	assert.True(t, validation.Valid)
	assert.Equal(t, "TRD-1001", dto.TradeID)
	assert.Equal(t, "50030", dto.NetAmount)
	assert.Equal(t, "2025-01-08", dto.SettlementDate)
	assert.Equal(t, "PENDING", dto.Status)

	saved, err := repo.GetByTradeID(context.Background(), "TRD-1001")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, []string{domain.TopicInstructionCreated}, publisher.topics())
}

func TestCreateInstructionIsIdempotentPerTrade(t *testing.T) {
	repo := newFakeInstructionRepo()
	publisher := &fakePublisher{}
	svc := newTestInstructionService(repo, publisher)

	first, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)
	second, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	assert.Equal(t, first.InstructionID, second.InstructionID)
	assert.Len(t, publisher.events, 1, "duplicate trade must not publish again")
}

func TestConfirmPropagatesVersionConflict(t *testing.T) {
	repo := newFakeInstructionRepo()
	svc := newTestInstructionService(repo, &fakePublisher{})

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	// a concurrent writer bumped the version between read and write
	repo.conflictOnce = true
	_, err = svc.Confirm(context.Background(), dto.InstructionID, "ops")
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestCreateInstructionRejectsInvalid(t *testing.T) {
	repo := newFakeInstructionRepo()
	svc := newTestInstructionService(repo, &fakePublisher{})

	req := createRequest()
	req.ISIN = ""
	dto, validation, err := svc.CreateInstruction(context.Background(), req)

	require.NoError(t, err, "validation rejection is a result, not an error")
	assert.Nil(t, dto)
	assert.False(t, validation.Valid)
	saved, _ := repo.GetByTradeID(context.Background(), "TRD-1001")
	assert.Nil(t, saved, "invalid instructions are never persisted")
}

func TestCreateInstructionEnrichesFromSSI(t *testing.T) {
	repo := newFakeInstructionRepo()
	publisher := &fakePublisher{}
	svc := newTestInstructionService(repo, publisher)
	svc.refData = &fakeRefData{ssi: &domain.StandingInstruction{
		ClearingHouseID:    "DTC",
		CustodianID:        "CUST-1",
		SafekeepingAccount: "SAFE-1",
		CashAccount:        "CASH-1",
		BIC:                "IRVTUS3N",
	}}

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	saved, _ := repo.Get(context.Background(), dto.InstructionID)
	require.NotNil(t, saved)
	assert.Equal(t, "DTC", saved.ClearingHouseID)
	assert.Equal(t, "CUST-1", saved.CustodianID)
	assert.Equal(t, []string{domain.TopicInstructionCreated, domain.TopicInstructionEnriched}, publisher.topics())
}

func TestCreateInstructionDegradesWhenSSIUnavailable(t *testing.T) {
	repo := newFakeInstructionRepo()
	svc := newTestInstructionService(repo, &fakePublisher{})
	svc.refData = &fakeRefData{err: context.DeadlineExceeded}

	dto, validation, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err, "ssi outage must not block instruction creation")
	require.NotNil(t, dto)
	assert.True(t, validation.Valid)
}

func TestSettleDVPCommits(t *testing.T) {
	repo := newFakeInstructionRepo()
	publisher := &fakePublisher{}
	svc := newTestInstructionService(repo, publisher)

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	result, err := svc.SettleDVP(context.Background(), dto.InstructionID, "engine")
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.Equal(t, "DVP-1", result.SettlementRef)

	saved, _ := repo.Get(context.Background(), dto.InstructionID)
	assert.Equal(t, domain.StatusSettled, saved.Status)
	assert.Contains(t, publisher.topics(), domain.TopicInstructionSettled)
}

func TestSettleDVPShortfallFailsInstruction(t *testing.T) {
	repo := newFakeInstructionRepo()
	publisher := &fakePublisher{}
	svc := newTestInstructionService(repo, publisher)
	svc.dvp = domain.NewDVPProcessor(
		&fakeServiceCustodian{position: decimal.NewFromInt(1_000_000), balance: decimal.NewFromInt(10)},
		&fakeServiceLedger{},
	)

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	result, err := svc.SettleDVP(context.Background(), dto.InstructionID, "engine")
	require.NoError(t, err)
	assert.False(t, result.Committed)
	assert.Equal(t, []domain.FailureReason{domain.FailInsufficientCash}, result.Reasons)

	saved, _ := repo.Get(context.Background(), dto.InstructionID)
	assert.Equal(t, domain.StatusFailed, saved.Status)
	assert.Equal(t, domain.FailInsufficientCash, saved.FailReason)
	assert.Contains(t, publisher.topics(), domain.TopicInstructionFailed)
}

func TestPartialDeliveryService(t *testing.T) {
	repo := newFakeInstructionRepo()
	svc := newTestInstructionService(repo, &fakePublisher{})

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	updated, err := svc.PartialDelivery(context.Background(), &PartialDeliveryRequest{
		InstructionID: dto.InstructionID,
		Quantity:      "200",
		Actor:         "engine",
	})
	require.NoError(t, err)
	assert.Equal(t, "PARTIALLY_SETTLED", updated.Status)
	assert.Equal(t, "200", updated.SettledQuantity)
	assert.Equal(t, "300", updated.PendingQuantity)
}

func TestAmendFreezesAndReplaces(t *testing.T) {
	repo := newFakeInstructionRepo()
	publisher := &fakePublisher{}
	svc := newTestInstructionService(repo, publisher)

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	amended, err := svc.Amend(context.Background(), dto.InstructionID, "ops")
	require.NoError(t, err)
	assert.NotEqual(t, dto.InstructionID, amended.InstructionID)
	assert.Equal(t, "PENDING", amended.Status)

	original, _ := repo.Get(context.Background(), dto.InstructionID)
	assert.Equal(t, domain.StatusAmended, original.Status)
	assert.Contains(t, publisher.topics(), domain.TopicInstructionAmended)
}

func TestRetryRespectsFailurePolicy(t *testing.T) {
	repo := newFakeInstructionRepo()
	svc := newTestInstructionService(repo, &fakePublisher{})

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	ins, _ := repo.Get(context.Background(), dto.InstructionID)
	require.NoError(t, ins.Fail(domain.FailRegulatoryHold, "engine"))

	_, err = svc.Retry(context.Background(), dto.InstructionID, "ops")
	assert.Error(t, err, "escalate-only failures cannot be auto-retried")

	require.NoError(t, ins.Retry("ops"))
	require.NoError(t, ins.Fail(domain.FailInsufficientCash, "engine"))

	retried, err := svc.Retry(context.Background(), dto.InstructionID, "ops")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", retried.Status)
}

func TestCancelTerminalInstruction(t *testing.T) {
	repo := newFakeInstructionRepo()
	svc := newTestInstructionService(repo, &fakePublisher{})

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)
	_, err = svc.SettleDVP(context.Background(), dto.InstructionID, "engine")
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), dto.InstructionID, "ops", "too late")
	assert.ErrorIs(t, err, domain.ErrTerminalState)
}

func TestGetInstructionNotFound(t *testing.T) {
	svc := newTestInstructionService(newFakeInstructionRepo(), &fakePublisher{})
	_, err := svc.GetInstruction(context.Background(), "SI-MISSING")
	assert.ErrorIs(t, err, domain.ErrInstructionNotFound)
}

func TestApplyConfirmationAdvancesStatus(t *testing.T) {
	repo := newFakeInstructionRepo()
	svc := newTestInstructionService(repo, &fakePublisher{})

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	svc.clearingHouse = &fakeClearingConnector{update: &domain.StatusUpdate{
		InstructionID: dto.InstructionID,
		Status:        domain.StatusConfirmed,
	}}

	updated, err := svc.ApplyConfirmation(context.Background(), "DTC", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", updated.Status)

	saved, _ := repo.Get(context.Background(), dto.InstructionID)
	require.Len(t, saved.History, 1)
	assert.Equal(t, "clearing-house:DTC", saved.History[0].Actor)
}

func TestSubmitToClearingHouse(t *testing.T) {
	repo := newFakeInstructionRepo()
	svc := newTestInstructionService(repo, &fakePublisher{})
	svc.clearingHouse = &fakeClearingConnector{submissionID: "SUB-1"}

	dto, _, err := svc.CreateInstruction(context.Background(), createRequest())
	require.NoError(t, err)

	submissionID, err := svc.SubmitToClearingHouse(context.Background(), dto.InstructionID)
	require.NoError(t, err)
	assert.Equal(t, "SUB-1", submissionID)
}
