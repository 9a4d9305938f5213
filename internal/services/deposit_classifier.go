package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"locker-backend/internal/config"
	"locker-backend/internal/models"
	"locker-backend/internal/utils"
)

var (
	// ErrAmbiguousDirection the resolved locker is neither sender nor recipient
	ErrAmbiguousDirection = errors.New("transfer direction is ambiguous")
	// ErrInvalidAmount transfer value is not a non-negative base-10 integer
	ErrInvalidAmount = errors.New("transfer amount is not an integer")
)

// IndexerPayload stream webhook body delivered by the blockchain indexer
type IndexerPayload struct {
	Confirmed      bool                   `json:"confirmed"`
	ChainID        string                 `json:"chainId"`
	StreamID       string                 `json:"streamId"`
	Tag            string                 `json:"tag"`
	Txs            []IndexerTx            `json:"txs"`
	ERC20Transfers []IndexerERC20Transfer `json:"erc20Transfers"`
}

// IndexerTx native value transfer
type IndexerTx struct {
	Hash        string `json:"hash"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Value       string `json:"value"`
}

// IndexerERC20Transfer decoded ERC-20 Transfer log
type IndexerERC20Transfer struct {
	TransactionHash string `json:"transactionHash"`
	Contract        string `json:"contract"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimals   string `json:"tokenDecimals"`
}

// IsEmpty indexer test pings carry no transactions
func (p *IndexerPayload) IsEmpty() bool {
	return len(p.Txs) == 0 && len(p.ERC20Transfers) == 0
}

// LockerResolver looks a locker up by on-chain address; nil, nil when none matches
type LockerResolver interface {
	FindByAddress(ctx context.Context, chainID int64, address string) (*models.Locker, error)
}

// NetworkResolver native asset metadata per chain
type NetworkResolver interface {
	NetworkByChainID(chainID int64) (*config.NetworkConfig, bool)
}

// candidateTransfer chain-agnostic view of the first qualifying transfer
type candidateTransfer struct {
	hash     string
	contract string
	from     string
	to       string
	value    string
	symbol   string
	decimals int
}

// DepositClassifier turns indexer payloads into ledger rows
type DepositClassifier struct {
	lockers  LockerResolver
	networks NetworkResolver
}

// NewDepositClassifier networks may be nil; native transfers then default to ETH/18
func NewDepositClassifier(lockers LockerResolver, networks NetworkResolver) *DepositClassifier {
	return &DepositClassifier{lockers: lockers, networks: networks}
}

// Classify returns nil, nil for payloads that do not concern any locker.
// Only the first qualifying transfer is considered; a token transfer wins over a native one.
func (c *DepositClassifier) Classify(ctx context.Context, payload *IndexerPayload) (*models.TokenTransfer, error) {
	if payload == nil || payload.IsEmpty() {
		return nil, nil
	}

	chainID, err := utils.ParseChainID(payload.ChainID)
	if err != nil {
		return nil, err
	}

	candidate := c.pickCandidate(payload, chainID)
	if candidate == nil {
		return nil, nil
	}

	amount, ok := new(big.Int).SetString(strings.TrimSpace(candidate.value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q in %s", ErrInvalidAmount, candidate.value, candidate.hash)
	}

	locker, err := c.lockers.FindByAddress(ctx, chainID, candidate.to)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve locker by recipient: %w", err)
	}
	if locker == nil {
		locker, err = c.lockers.FindByAddress(ctx, chainID, candidate.from)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve locker by sender: %w", err)
		}
	}
	if locker == nil {
		return nil, nil
	}

	var direction models.TransferDirection
	switch {
	case utils.SameAddress(locker.Address, candidate.to):
		direction = models.TransferDirectionIn
	case utils.SameAddress(locker.Address, candidate.from):
		direction = models.TransferDirectionOut
	default:
		return nil, fmt.Errorf("%w: locker %s on %s", ErrAmbiguousDirection, locker.ID, candidate.hash)
	}

	return &models.TokenTransfer{
		ChainID:         chainID,
		TxHash:          utils.NormalizeTxHash(candidate.hash),
		LockerID:        locker.ID,
		Direction:       direction,
		ContractAddress: utils.NormalizeAddress(candidate.contract),
		TokenSymbol:     candidate.symbol,
		TokenDecimals:   candidate.decimals,
		FromAddress:     utils.NormalizeAddress(candidate.from),
		ToAddress:       utils.NormalizeAddress(candidate.to),
		Amount:          amount.String(),
		IsConfirmed:     payload.Confirmed,
		AutomationState: models.AutomationStateNotStarted,
	}, nil
}

func (c *DepositClassifier) pickCandidate(payload *IndexerPayload, chainID int64) *candidateTransfer {
	if len(payload.ERC20Transfers) > 0 {
		transfer := payload.ERC20Transfers[0]
		// indexers send decimals as a string; a missing value is recorded as 0
		decimals, _ := strconv.Atoi(strings.TrimSpace(transfer.TokenDecimals))
		return &candidateTransfer{
			hash:     transfer.TransactionHash,
			contract: transfer.Contract,
			from:     transfer.From,
			to:       transfer.To,
			value:    transfer.Value,
			symbol:   transfer.TokenSymbol,
			decimals: decimals,
		}
	}

	for _, tx := range payload.Txs {
		value, ok := new(big.Int).SetString(strings.TrimSpace(tx.Value), 10)
		if ok && value.Sign() <= 0 {
			continue
		}
		symbol, decimals := "ETH", 18
		if c.networks != nil {
			if network, found := c.networks.NetworkByChainID(chainID); found {
				symbol, decimals = network.NativeSymbol, network.NativeDecimals
			}
		}
		return &candidateTransfer{
			hash:     tx.Hash,
			contract: models.NativeAssetAddress,
			from:     tx.FromAddress,
			to:       tx.ToAddress,
			value:    tx.Value,
			symbol:   symbol,
			decimals: decimals,
		}
	}
	return nil
}
