package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"locker-backend/internal/clients"
	"locker-backend/internal/metrics"
	"locker-backend/internal/models"
	"locker-backend/internal/utils"
)

const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

var erc20ABI = mustParseABI(erc20TransferABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI definition: %v", err))
	}
	return parsed
}

// Executor submits signed calls on behalf of a locker
type Executor interface {
	Execute(ctx context.Context, req clients.ExecuteRequest) (string, error)
}

// TransferCall token movement requested by one automation
type TransferCall struct {
	Asset     string   // token contract
	Recipient string
	Amount    *big.Int // smallest unit
}

// ExecutionOrchestrator turns transfer calls into executor submissions
type ExecutionOrchestrator struct {
	executor Executor
	logger   *logrus.Logger
}

// NewExecutionOrchestrator creates a new ExecutionOrchestrator
func NewExecutionOrchestrator(executor Executor, logger *logrus.Logger) *ExecutionOrchestrator {
	return &ExecutionOrchestrator{executor: executor, logger: logger}
}

// EncodeTransferCall ERC-20 transfer(address,uint256) payload sent to the asset contract
func EncodeTransferCall(call TransferCall) (clients.CallPayload, error) {
	if !utils.IsEvmAddress(call.Asset) {
		return clients.CallPayload{}, fmt.Errorf("invalid asset contract %q", call.Asset)
	}
	if !utils.IsEvmAddress(call.Recipient) {
		return clients.CallPayload{}, fmt.Errorf("invalid recipient %q", call.Recipient)
	}
	if call.Amount == nil || call.Amount.Sign() < 0 {
		return clients.CallPayload{}, fmt.Errorf("invalid transfer amount %v", call.Amount)
	}

	data, err := erc20ABI.Pack("transfer", common.HexToAddress(call.Recipient), call.Amount)
	if err != nil {
		return clients.CallPayload{}, fmt.Errorf("failed to encode transfer call: %w", err)
	}
	return clients.CallPayload{
		To:    utils.NormalizeAddress(call.Asset),
		Value: "0",
		Data:  hexutil.Encode(data),
	}, nil
}

// Execute returns the hash of the submitted transaction. On-chain success is not
// interpreted here; confirmation arrives later through ledger ingestion.
func (o *ExecutionOrchestrator) Execute(ctx context.Context, policy *ActivePolicy, call TransferCall) (string, error) {
	payload, err := EncodeTransferCall(call)
	if err != nil {
		return "", err
	}

	req := clients.ExecuteRequest{
		Policy: clients.ExecutionPolicy{
			LockerID:            policy.Policy.LockerID,
			ChainID:             policy.Policy.ChainID,
			EncryptedCredential: policy.Credential.Encrypted,
		},
		CallPayload: payload,
	}

	start := time.Now()
	txHash, err := o.executor.Execute(ctx, req)
	metrics.ExecutorCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("executor call failed: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"locker_id": policy.Policy.LockerID,
		"chain_id":  policy.Policy.ChainID,
		"asset":     payload.To,
		"recipient": call.Recipient,
		"amount":    call.Amount.String(),
		"tx_hash":   txHash,
	}).Info("📤 [Executor] Transfer submitted")
	return utils.NormalizeTxHash(txHash), nil
}

// outboundTransfer ledger row for a submitted automation; written only once a hash exists
func outboundTransfer(deposit *models.TokenTransfer, locker *models.Locker, recipient string, amount *big.Int, txHash string) *models.TokenTransfer {
	depositID := deposit.ID
	return &models.TokenTransfer{
		ChainID:               deposit.ChainID,
		TxHash:                txHash,
		LockerID:              locker.ID,
		Direction:             models.TransferDirectionOut,
		ContractAddress:       deposit.ContractAddress,
		TokenSymbol:           deposit.TokenSymbol,
		TokenDecimals:         deposit.TokenDecimals,
		FromAddress:           utils.NormalizeAddress(locker.Address),
		ToAddress:             utils.NormalizeAddress(recipient),
		Amount:                amount.String(),
		IsConfirmed:           false,
		AutomationState:       models.AutomationStateStarted,
		TriggeredByTransferID: &depositID,
	}
}
