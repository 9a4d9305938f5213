package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"locker-backend/internal/clients"
	"locker-backend/internal/models"
	"locker-backend/internal/repository"
	"locker-backend/internal/testutil"
)

const (
	testChainID       int64 = 137
	testLockerAddress       = "0x1000000000000000000000000000000000000001"
	testSender              = "0x2000000000000000000000000000000000000002"
	testToken               = "0x2791bca1f2de4661ed88a30c99a7a9449aa84174"
	testRecipient           = "0x3000000000000000000000000000000000000003"
	testSettlement          = "0x4000000000000000000000000000000000000004"
)

// fakeExecutor records submissions; failOn makes the n-th call (1-based) fail
type fakeExecutor struct {
	mu       sync.Mutex
	requests []clients.ExecuteRequest
	failOn   map[int]bool
	inFlight int
	overlap  bool
	hold     time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, req clients.ExecuteRequest) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.requests = append(f.requests, req)
	n := len(f.requests)
	fail := f.failOn[n]
	hold := f.hold
	f.mu.Unlock()

	if hold > 0 {
		time.Sleep(hold)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if fail {
		return "", errors.New("executor unavailable")
	}
	return fmt.Sprintf("0x%064x", n), nil
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeExecutor) request(i int) clients.ExecuteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

type fakeOffRamp struct {
	addresses map[string]string
	err       error
}

func (f *fakeOffRamp) ResolveSettlementAddress(ctx context.Context, accountID string, chainID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.addresses[accountID], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishTransferEvent(event string, transfer *models.TokenTransfer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event+":"+transfer.TxHash)
	return nil
}

func (p *recordingPublisher) count(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type fixture struct {
	t         *testing.T
	db        *gorm.DB
	transfers repository.TransferRepository
	lockers   repository.LockerRepository
	policies  repository.PolicyRepository
	locker    *models.Locker
	policy    *models.Policy
	executor  *fakeExecutor
	offRamp   *fakeOffRamp
	publisher *recordingPublisher
	engine    *AutomationEngine
	ingest    *IngestService
	logger    *logrus.Logger
}

func forward(id, allocation string) models.Automation {
	return models.Automation{
		ID:               id,
		Type:             models.AutomationTypeForwardTo,
		Allocation:       allocation,
		Status:           models.AutomationStatusReady,
		RecipientAddress: testRecipient,
	}
}

// newFixture locker with a policy holding the given automations and a usable credential
func newFixture(t *testing.T, automations ...models.Automation) *fixture {
	t.Helper()
	ctx := context.Background()

	db := testutil.NewTestDB(t)
	f := &fixture{
		t:         t,
		db:        db,
		transfers: repository.NewTransferRepository(db),
		lockers:   repository.NewLockerRepository(db),
		policies:  repository.NewPolicyRepository(db),
		executor:  &fakeExecutor{failOn: map[int]bool{}},
		offRamp:   &fakeOffRamp{addresses: map[string]string{"acct-1": testSettlement}},
		publisher: &recordingPublisher{},
		logger:    testutil.NewTestLogger(),
	}

	f.locker = &models.Locker{UserID: "user-1", ChainID: testChainID, Address: testLockerAddress}
	require.NoError(t, f.lockers.Create(ctx, f.locker))

	f.policy = &models.Policy{
		LockerID:            f.locker.ID,
		ChainID:             testChainID,
		Automations:         models.AutomationList(automations),
		EncryptedSessionKey: "0xsealed-session-key",
	}
	require.NoError(t, f.policies.Create(ctx, f.policy))

	f.engine = f.newEngine(InlineDispatcher{})
	f.ingest = NewIngestService(NewDepositClassifier(f.lockers, nil), f.transfers, f.engine, f.publisher, f.logger)
	return f
}

func (f *fixture) newEngine(dispatcher Dispatcher) *AutomationEngine {
	return NewAutomationEngine(AutomationEngineDeps{
		Transfers:  f.transfers,
		Lockers:    f.lockers,
		Policies:   NewPolicyLookupService(f.policies, nil, f.logger),
		Executor:   NewExecutionOrchestrator(f.executor, f.logger),
		OffRamp:    f.offRamp,
		Dispatcher: dispatcher,
		Publisher:  f.publisher,
		Logger:     f.logger,
	})
}

func (f *fixture) activePolicy() *ActivePolicy {
	f.t.Helper()
	policy, err := NewPolicyLookupService(f.policies, nil, f.logger).GetActivePolicy(context.Background(), f.locker.ID, testChainID)
	require.NoError(f.t, err)
	require.NotNil(f.t, policy)
	return policy
}

// storeDeposit upserts an inbound deposit of amount into the ledger
func (f *fixture) storeDeposit(hash, amount string, confirmed bool) *models.TokenTransfer {
	f.t.Helper()
	stored, _, err := f.transfers.Upsert(context.Background(), &models.TokenTransfer{
		ChainID:         testChainID,
		TxHash:          hash,
		LockerID:        f.locker.ID,
		Direction:       models.TransferDirectionIn,
		ContractAddress: testToken,
		TokenSymbol:     "USDC",
		TokenDecimals:   6,
		FromAddress:     testSender,
		ToAddress:       testLockerAddress,
		Amount:          amount,
		IsConfirmed:     confirmed,
	})
	require.NoError(f.t, err)
	return stored
}

func (f *fixture) outbound(depositID string) []*models.TokenTransfer {
	f.t.Helper()
	rows, err := f.transfers.FindByTrigger(context.Background(), depositID)
	require.NoError(f.t, err)
	return rows
}

func erc20Payload(hash string, confirmed bool, from, to, value string) *IndexerPayload {
	return &IndexerPayload{
		Confirmed: confirmed,
		ChainID:   "0x89",
		StreamID:  "stream-1",
		ERC20Transfers: []IndexerERC20Transfer{{
			TransactionHash: hash,
			Contract:        testToken,
			From:            from,
			To:              to,
			Value:           value,
			TokenSymbol:     "USDC",
			TokenDecimals:   "6",
		}},
	}
}
