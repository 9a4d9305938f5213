package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"locker-backend/internal/clients"
	"locker-backend/internal/metrics"
	"locker-backend/internal/models"
	"locker-backend/internal/repository"
	"locker-backend/internal/utils"
)

// ErrInvalidAllocation allocation is not a fraction in [0, 1]
var ErrInvalidAllocation = errors.New("allocation must be a fraction between 0 and 1")

// PolicyLookup source of active policies
type PolicyLookup interface {
	GetActivePolicy(ctx context.Context, lockerID string, chainID int64) (*ActivePolicy, error)
}

// LockerLookup source of lockers by id
type LockerLookup interface {
	GetByID(ctx context.Context, id string) (*models.Locker, error)
}

// TransferExecutor submits one transfer call with a policy's credential
type TransferExecutor interface {
	Execute(ctx context.Context, policy *ActivePolicy, call TransferCall) (string, error)
}

// SettlementResolver resolves off-ramp settlement addresses; "" means unresolved
type SettlementResolver interface {
	ResolveSettlementAddress(ctx context.Context, accountID string, chainID int64) (string, error)
}

// TransferPublisher receives ledger change events
type TransferPublisher interface {
	PublishTransferEvent(event string, transfer *models.TokenTransfer) error
}

// AutomationEngineDeps collaborators of the engine, constructed once at startup
type AutomationEngineDeps struct {
	Transfers       repository.TransferRepository
	Lockers         LockerLookup
	Policies        PolicyLookup
	Executor        TransferExecutor
	OffRamp         SettlementResolver
	Dispatcher      Dispatcher
	Publisher       TransferPublisher // optional
	SubmissionDelay time.Duration
	Logger          *logrus.Logger
}

// AutomationEngine decides whether a deposit triggers its locker's policy and spawns
// one outbound transfer per eligible automation
type AutomationEngine struct {
	transfers       repository.TransferRepository
	lockers         LockerLookup
	policies        PolicyLookup
	executor        TransferExecutor
	offRamp         SettlementResolver
	dispatcher      Dispatcher
	publisher       TransferPublisher
	submissionDelay time.Duration
	wait            func(ctx context.Context, d time.Duration) error
	logger          *logrus.Logger
}

// NewAutomationEngine creates the engine; a nil Dispatcher runs automations inline
func NewAutomationEngine(deps AutomationEngineDeps) *AutomationEngine {
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = InlineDispatcher{}
	}
	return &AutomationEngine{
		transfers:       deps.Transfers,
		lockers:         deps.Lockers,
		policies:        deps.Policies,
		executor:        deps.Executor,
		offRamp:         deps.OffRamp,
		dispatcher:      dispatcher,
		publisher:       deps.Publisher,
		submissionDelay: deps.SubmissionDelay,
		wait:            sleepContext,
		logger:          deps.Logger,
	}
}

// ShouldTrigger runs the eligibility gates in order without writing anything.
// false covers every "not eligible" outcome; the error is reserved for lookup failures.
func (e *AutomationEngine) ShouldTrigger(ctx context.Context, transfer *models.TokenTransfer) (bool, error) {
	// direction, state and confirmation
	if !transfer.IsAutomationCandidate() {
		return false, nil
	}

	policy, err := e.policies.GetActivePolicy(ctx, transfer.LockerID, transfer.ChainID)
	if err != nil {
		return false, err
	}
	if policy == nil {
		return false, nil
	}
	return policy.Credential.Usable(), nil
}

// ComputeSplitAmount floor(deposit * allocation) in exact integer arithmetic
func ComputeSplitAmount(deposit *big.Int, allocation string) (*big.Int, error) {
	if deposit == nil || deposit.Sign() < 0 {
		return nil, fmt.Errorf("invalid deposit amount %v", deposit)
	}

	fraction, ok := new(big.Rat).SetString(strings.TrimSpace(allocation))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAllocation, allocation)
	}
	if fraction.Sign() < 0 || fraction.Cmp(big.NewRat(1, 1)) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAllocation, allocation)
	}

	out := new(big.Int).Mul(deposit, fraction.Num())
	return out.Quo(out, fraction.Denom()), nil
}

// GenerateAutomations entry point for every ingestion surface. Returns true when this
// call claimed the deposit and handed its automations to the dispatcher.
func (e *AutomationEngine) GenerateAutomations(ctx context.Context, transfer *models.TokenTransfer) (bool, error) {
	eligible, err := e.ShouldTrigger(ctx, transfer)
	if err != nil {
		metrics.AutomationTriggers.WithLabelValues("error").Inc()
		return false, err
	}
	if !eligible {
		metrics.AutomationTriggers.WithLabelValues("skipped").Inc()
		return false, nil
	}

	claimed, err := e.transfers.MarkAutomationStarted(ctx, transfer.ID)
	if err != nil {
		metrics.AutomationTriggers.WithLabelValues("error").Inc()
		return false, err
	}
	if !claimed {
		metrics.AutomationTriggers.WithLabelValues("lost_claim").Inc()
		e.logger.WithField("transfer_id", transfer.ID).Debug("[Engine] Deposit already claimed by another invocation")
		return false, nil
	}

	deposit := *transfer
	deposit.AutomationState = models.AutomationStateStarted
	metrics.AutomationTriggers.WithLabelValues("triggered").Inc()

	e.logger.WithFields(logrus.Fields{
		"transfer_id": deposit.ID,
		"locker_id":   deposit.LockerID,
		"chain_id":    deposit.ChainID,
		"amount":      deposit.Amount,
	}).Info("🚀 [Engine] Deposit marked STARTED, dispatching automations")

	err = e.dispatcher.Dispatch(ctx, &deposit, func(runCtx context.Context) {
		e.SpawnAutomations(runCtx, &deposit)
	})
	if err != nil {
		// the row stays STARTED and shows up in the stalled deposit report
		e.logger.WithField("transfer_id", deposit.ID).Errorf("❌ [Engine] Failed to dispatch automations: %v", err)
	}
	return true, nil
}

// SpawnAutomations processes the policy's automations one after another, pausing
// between consecutive executor submissions. Returns the outbound rows written.
func (e *AutomationEngine) SpawnAutomations(ctx context.Context, deposit *models.TokenTransfer) []*models.TokenTransfer {
	log := e.logger.WithFields(logrus.Fields{"transfer_id": deposit.ID, "locker_id": deposit.LockerID})

	locker, err := e.lockers.GetByID(ctx, deposit.LockerID)
	if err != nil {
		log.Errorf("❌ [Engine] Failed to load locker: %v", err)
		return nil
	}
	policy, err := e.policies.GetActivePolicy(ctx, deposit.LockerID, deposit.ChainID)
	if err != nil {
		log.Errorf("❌ [Engine] Failed to load policy: %v", err)
		return nil
	}
	if policy == nil {
		log.Warn("⚠️ [Engine] Policy disappeared before automations ran")
		return nil
	}

	var (
		spawned   []*models.TokenTransfer
		submitted bool
	)
	for i := range policy.Policy.Automations {
		automation := policy.Policy.Automations[i]

		call, ok := e.prepareCall(ctx, deposit, automation, policy)
		if !ok {
			continue
		}

		if submitted && e.submissionDelay > 0 {
			if err := e.wait(ctx, e.submissionDelay); err != nil {
				log.Warnf("⚠️ [Engine] Stopped before automation %s: %v", automation.ID, err)
				break
			}
		}
		submitted = true

		if out := e.submit(ctx, deposit, automation, policy, locker, call); out != nil {
			spawned = append(spawned, out)
		}
	}

	log.WithField("spawned", len(spawned)).Info("✅ [Engine] Automations processed")
	return spawned
}

// SpawnAutomation runs a single automation against a deposit. Returns nil whenever
// the automation does not move funds or its submission fails; never fails the caller.
func (e *AutomationEngine) SpawnAutomation(ctx context.Context, deposit *models.TokenTransfer, automation models.Automation, policy *ActivePolicy, locker *models.Locker) *models.TokenTransfer {
	call, ok := e.prepareCall(ctx, deposit, automation, policy)
	if !ok {
		return nil
	}
	return e.submit(ctx, deposit, automation, policy, locker, call)
}

// prepareCall applies the per-automation gates and computes the transfer to submit
func (e *AutomationEngine) prepareCall(ctx context.Context, deposit *models.TokenTransfer, automation models.Automation, policy *ActivePolicy) (TransferCall, bool) {
	log := e.logger.WithFields(logrus.Fields{
		"transfer_id":   deposit.ID,
		"automation_id": automation.ID,
		"type":          automation.Type,
	})

	if automation.Status != models.AutomationStatusReady {
		log.Debugf("[Engine] Skipping automation in status %s", automation.Status)
		return TransferCall{}, false
	}
	if automation.Type == models.AutomationTypeSavings {
		return TransferCall{}, false
	}
	if policy.Credential.Invalid() {
		log.Warn("⚠️ [Engine] Session key marked invalid, skipping automation")
		return TransferCall{}, false
	}
	if deposit.IsNativeAsset() {
		log.Warn("⚠️ [Engine] Native asset automation is not supported")
		return TransferCall{}, false
	}

	var recipient string
	switch automation.Type {
	case models.AutomationTypeForwardTo:
		recipient = automation.RecipientAddress
	case models.AutomationTypeOffRamp:
		resolved, err := e.offRamp.ResolveSettlementAddress(ctx, automation.OffRampAccountID, deposit.ChainID)
		if err != nil {
			log.Errorf("❌ [Engine] Off-ramp lookup failed: %v", err)
			return TransferCall{}, false
		}
		recipient = resolved
	default:
		log.Warnf("⚠️ [Engine] Unknown automation type %q", automation.Type)
		return TransferCall{}, false
	}
	if !utils.IsEvmAddress(recipient) {
		log.Warnf("⚠️ [Engine] No usable recipient (%q)", recipient)
		return TransferCall{}, false
	}

	depositAmount, err := deposit.AmountInt()
	if err != nil {
		log.Errorf("❌ [Engine] %v", err)
		return TransferCall{}, false
	}
	amount, err := ComputeSplitAmount(depositAmount, automation.Allocation)
	if err != nil {
		log.Errorf("❌ [Engine] %v", err)
		return TransferCall{}, false
	}
	if amount.Sign() == 0 {
		log.Info("[Engine] Split rounds down to zero, nothing to send")
		return TransferCall{}, false
	}

	return TransferCall{Asset: deposit.ContractAddress, Recipient: recipient, Amount: amount}, true
}

// submit calls the executor and records the outbound row once a hash exists
func (e *AutomationEngine) submit(ctx context.Context, deposit *models.TokenTransfer, automation models.Automation, policy *ActivePolicy, locker *models.Locker, call TransferCall) *models.TokenTransfer {
	log := e.logger.WithFields(logrus.Fields{
		"transfer_id":   deposit.ID,
		"automation_id": automation.ID,
		"type":          automation.Type,
		"recipient":     call.Recipient,
		"amount":        call.Amount.String(),
	})

	txHash, err := e.executor.Execute(ctx, policy, call)
	if err != nil {
		metrics.AutomationSubmissions.WithLabelValues(string(automation.Type), "failed").Inc()
		log.Errorf("❌ [Engine] Automation submission failed: %v", err)
		return nil
	}

	stored, _, err := e.transfers.Upsert(ctx, outboundTransfer(deposit, locker, call.Recipient, call.Amount, txHash))
	if err != nil {
		metrics.AutomationSubmissions.WithLabelValues(string(automation.Type), "unrecorded").Inc()
		log.WithField("tx_hash", txHash).Errorf("❌ [Engine] Transfer submitted but ledger write failed: %v", err)
		return nil
	}

	metrics.AutomationSubmissions.WithLabelValues(string(automation.Type), "submitted").Inc()
	log.WithField("tx_hash", txHash).Info("✅ [Engine] Automation submitted")

	if e.publisher != nil {
		if err := e.publisher.PublishTransferEvent(clients.TransferEventSpawned, stored); err != nil {
			log.Warnf("⚠️ [Engine] Failed to publish spawned transfer: %v", err)
		}
	}
	return stored
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
