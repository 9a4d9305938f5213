package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locker-backend/internal/config"
	"locker-backend/internal/models"
)

type staticNetworks map[int64]config.NetworkConfig

func (n staticNetworks) NetworkByChainID(chainID int64) (*config.NetworkConfig, bool) {
	network, ok := n[chainID]
	if !ok {
		return nil, false
	}
	return &network, true
}

func TestClassify_InboundTokenTransfer(t *testing.T) {
	f := newFixture(t)
	classifier := NewDepositClassifier(f.lockers, nil)

	payload := erc20Payload("0xABCDEF", true, testSender, testLockerAddress, "1000")
	payload.ERC20Transfers[0].Contract = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	transfer, err := classifier.Classify(context.Background(), payload)
	require.NoError(t, err)
	require.NotNil(t, transfer)

	assert.Equal(t, testChainID, transfer.ChainID)
	assert.Equal(t, "0xabcdef", transfer.TxHash)
	assert.Equal(t, f.locker.ID, transfer.LockerID)
	assert.Equal(t, models.TransferDirectionIn, transfer.Direction)
	assert.Equal(t, testToken, transfer.ContractAddress)
	assert.Equal(t, "USDC", transfer.TokenSymbol)
	assert.Equal(t, 6, transfer.TokenDecimals)
	assert.Equal(t, "1000", transfer.Amount)
	assert.True(t, transfer.IsConfirmed)
	assert.Equal(t, models.AutomationStateNotStarted, transfer.AutomationState)
}

func TestClassify_OutboundWhenLockerSends(t *testing.T) {
	f := newFixture(t)
	classifier := NewDepositClassifier(f.lockers, nil)

	transfer, err := classifier.Classify(context.Background(), erc20Payload("0x01", false, testLockerAddress, testRecipient, "5"))
	require.NoError(t, err)
	require.NotNil(t, transfer)
	assert.Equal(t, models.TransferDirectionOut, transfer.Direction)
	assert.False(t, transfer.IsConfirmed)
}

func TestClassify_IgnoredPayloads(t *testing.T) {
	f := newFixture(t)
	classifier := NewDepositClassifier(f.lockers, nil)
	ctx := context.Background()

	transfer, err := classifier.Classify(ctx, &IndexerPayload{ChainID: "0x89"})
	require.NoError(t, err)
	assert.Nil(t, transfer, "empty test ping")

	transfer, err = classifier.Classify(ctx, erc20Payload("0x01", true, testSender, testRecipient, "1000"))
	require.NoError(t, err)
	assert.Nil(t, transfer, "no locker involved")

	other := erc20Payload("0x01", true, testSender, testLockerAddress, "1000")
	other.ChainID = "0x1"
	transfer, err = classifier.Classify(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, transfer, "locker address on another chain")

	zeroNative := &IndexerPayload{ChainID: "0x89", Txs: []IndexerTx{{Hash: "0x02", FromAddress: testSender, ToAddress: testLockerAddress, Value: "0"}}}
	transfer, err = classifier.Classify(ctx, zeroNative)
	require.NoError(t, err)
	assert.Nil(t, transfer, "zero-value transactions are not transfers")
}

func TestClassify_Errors(t *testing.T) {
	f := newFixture(t)
	classifier := NewDepositClassifier(f.lockers, nil)
	ctx := context.Background()

	_, err := classifier.Classify(ctx, erc20Payload("0x01", true, testSender, testLockerAddress, "-5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = classifier.Classify(ctx, erc20Payload("0x01", true, testSender, testLockerAddress, "12.5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	badChain := erc20Payload("0x01", true, testSender, testLockerAddress, "1")
	badChain.ChainID = "polygon"
	_, err = classifier.Classify(ctx, badChain)
	assert.Error(t, err)
}

func TestClassify_TokenTransferWinsOverNative(t *testing.T) {
	f := newFixture(t)
	classifier := NewDepositClassifier(f.lockers, nil)

	payload := erc20Payload("0x0a", true, testSender, testLockerAddress, "42")
	payload.Txs = []IndexerTx{{Hash: "0x0a", FromAddress: testSender, ToAddress: testLockerAddress, Value: "7"}}

	transfer, err := classifier.Classify(context.Background(), payload)
	require.NoError(t, err)
	require.NotNil(t, transfer)
	assert.Equal(t, "42", transfer.Amount)
	assert.False(t, transfer.IsNativeAsset())
}

func TestClassify_NativeTransferUsesNetworkMetadata(t *testing.T) {
	f := newFixture(t)
	networks := staticNetworks{testChainID: {ChainID: testChainID, Name: "polygon", NativeSymbol: "POL", NativeDecimals: 18, Enabled: true}}
	classifier := NewDepositClassifier(f.lockers, networks)

	payload := &IndexerPayload{
		Confirmed: true,
		ChainID:   "137",
		Txs: []IndexerTx{
			{Hash: "0x01", FromAddress: testSender, ToAddress: testLockerAddress, Value: "0"},
			{Hash: "0x02", FromAddress: testSender, ToAddress: testLockerAddress, Value: "1000000000000000000"},
		},
	}
	transfer, err := classifier.Classify(context.Background(), payload)
	require.NoError(t, err)
	require.NotNil(t, transfer)

	assert.Equal(t, "0x02", transfer.TxHash)
	assert.True(t, transfer.IsNativeAsset())
	assert.Equal(t, "POL", transfer.TokenSymbol)
	assert.Equal(t, 18, transfer.TokenDecimals)

	classifier = NewDepositClassifier(f.lockers, nil)
	transfer, err = classifier.Classify(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "ETH", transfer.TokenSymbol)
}
