package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locker-backend/internal/models"
)

func TestIngest_PendingThenConfirmedDeposit(t *testing.T) {
	f := newFixture(t, forward("a1", "0.1"), forward("a2", "0.2"))
	ctx := context.Background()

	result, err := f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload("0xAA", false, testSender, testLockerAddress, "1000"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Created)
	assert.False(t, result.Triggered, "pending deposit")
	assert.Equal(t, 0, f.executor.calls())

	// duplicate pending delivery changes nothing
	result, err = f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload("0xaa", false, testSender, testLockerAddress, "1000"))
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.False(t, result.Triggered)

	result, err = f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload("0xaa", true, testSender, testLockerAddress, "1000"))
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.True(t, result.Triggered)
	assert.True(t, result.Transfer.IsConfirmed)

	assert.Equal(t, 2, f.executor.calls())
	rows := f.outbound(result.Transfer.ID)
	require.Len(t, rows, 2)

	// redelivering the confirmed payload never spawns again
	result, err = f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload("0xaa", true, testSender, testLockerAddress, "1000"))
	require.NoError(t, err)
	assert.False(t, result.Triggered)
	assert.Equal(t, 2, f.executor.calls())

	assert.Equal(t, 1, f.publisher.count("transfer.created"))
	assert.Equal(t, 2, f.publisher.count("transfer.confirmed"))
	assert.Equal(t, 2, f.publisher.count("transfer.spawned"))
}

func TestIngest_SpawnedTransferObservedOnChain(t *testing.T) {
	f := newFixture(t, forward("a1", "0.1"))
	ctx := context.Background()

	result, err := f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload("0xaa", true, testSender, testLockerAddress, "1000"))
	require.NoError(t, err)
	require.True(t, result.Triggered)
	depositID := result.Transfer.ID

	spawnedHash := fmt.Sprintf("0x%064x", 1)
	observed, err := f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload(spawnedHash, false, testLockerAddress, testRecipient, "100"))
	require.NoError(t, err)
	assert.False(t, observed.Created, "the executor hash was already recorded")

	observed, err = f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload(spawnedHash, true, testLockerAddress, testRecipient, "100"))
	require.NoError(t, err)
	assert.False(t, observed.Triggered)

	out := observed.Transfer
	assert.Equal(t, models.TransferDirectionOut, out.Direction)
	assert.True(t, out.IsConfirmed)
	assert.Equal(t, models.AutomationStateStarted, out.AutomationState)
	require.NotNil(t, out.TriggeredByTransferID)
	assert.Equal(t, depositID, *out.TriggeredByTransferID)
	assert.Equal(t, 1, f.executor.calls())
}

func TestIngest_IndexerReportsSpawnedTransferFirst(t *testing.T) {
	f := newFixture(t, forward("a1", "0.1"))
	ctx := context.Background()

	// the first executor call returns this hash; the indexer sees it before the engine writes
	spawnedHash := fmt.Sprintf("0x%064x", 1)
	observed, err := f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload(spawnedHash, false, testLockerAddress, testRecipient, "100"))
	require.NoError(t, err)
	require.True(t, observed.Created)
	assert.Nil(t, observed.Transfer.TriggeredByTransferID)

	result, err := f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload("0xaa", true, testSender, testLockerAddress, "1000"))
	require.NoError(t, err)
	require.True(t, result.Triggered)
	assert.Equal(t, 1, f.executor.calls())

	children := f.outbound(result.Transfer.ID)
	require.Len(t, children, 1)
	assert.Equal(t, observed.Transfer.ID, children[0].ID)
	assert.Equal(t, models.AutomationStateStarted, children[0].AutomationState)

	reconciliation := NewReconciliationService(f.transfers, time.Minute, time.Minute, f.logger)
	reconciliation.now = func() time.Time { return time.Now().Add(time.Hour) }
	stalled, err := reconciliation.FindStalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, stalled)
}

func TestIngest_IgnoresForeignAndEmptyPayloads(t *testing.T) {
	f := newFixture(t, forward("a1", "0.1"))
	ctx := context.Background()

	result, err := f.ingest.IngestIndexerPayload(ctx, SourceWebhook, &IndexerPayload{ChainID: "0x89"})
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload("0xbb", true, testSender, testRecipient, "1000"))
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = f.ingest.IngestIndexerPayload(ctx, SourceWebhook, erc20Payload("0xbb", true, testSender, testLockerAddress, "oops"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestHandleDBHook_TokenTransfer(t *testing.T) {
	f := newFixture(t, forward("a1", "0.1"))
	ctx := context.Background()
	deposit := f.storeDeposit("0x01", "1000", true)

	record, err := json.Marshal(map[string]interface{}{
		"id":               deposit.ID,
		"is_confirmed":     false, // stale body, the reloaded row wins
		"automation_state": "NOT_STARTED",
	})
	require.NoError(t, err)

	require.NoError(t, f.ingest.HandleDBHook(ctx, &DBHookPayload{Type: "UPDATE", Table: "token_transfers", Record: record}))
	assert.Equal(t, 1, f.executor.calls())

	// a second notification for the same row is harmless
	require.NoError(t, f.ingest.HandleDBHook(ctx, &DBHookPayload{Type: "UPDATE", Table: "token_transfers", Record: record}))
	assert.Equal(t, 1, f.executor.calls())

	unknown := json.RawMessage(`{"id":"does-not-exist"}`)
	assert.NoError(t, f.ingest.HandleDBHook(ctx, &DBHookPayload{Type: "INSERT", Table: "token_transfers", Record: unknown}))

	assert.Error(t, f.ingest.HandleDBHook(ctx, &DBHookPayload{Type: "INSERT", Table: "token_transfers", Record: json.RawMessage(`{}`)}))
	assert.NoError(t, f.ingest.HandleDBHook(ctx, &DBHookPayload{Type: "INSERT", Table: "lockers", Record: json.RawMessage(`{"id":"x"}`)}))
}

func TestHandleDBHook_PolicyReplay(t *testing.T) {
	f := newFixture(t, forward("a1", "0.1"))
	ctx := context.Background()

	// deposits that arrived before the session key was provisioned
	f.policy.EncryptedSessionKey = ""
	require.NoError(t, f.policies.Save(ctx, f.policy))
	first := f.storeDeposit("0x01", "1000", true)
	second := f.storeDeposit("0x02", "500", true)
	pending := f.storeDeposit("0x03", "700", false)

	triggered, err := f.ingest.TriggerTransfer(ctx, SourceManual, first.ID)
	require.NoError(t, err)
	assert.False(t, triggered)

	f.policy.EncryptedSessionKey = "0xsealed-session-key"
	require.NoError(t, f.policies.Save(ctx, f.policy))

	record, err := json.Marshal(map[string]interface{}{"lockerId": f.locker.ID, "chainId": "0x89"})
	require.NoError(t, err)
	require.NoError(t, f.ingest.HandleDBHook(ctx, &DBHookPayload{Type: "UPDATE", Table: "policies", Record: record}))

	assert.Equal(t, 2, f.executor.calls())
	assert.Len(t, f.outbound(first.ID), 1)
	assert.Len(t, f.outbound(second.ID), 1)
	assert.Empty(t, f.outbound(pending.ID))

	// replaying again finds the deposits STARTED
	n, err := f.ingest.ReplayLocker(ctx, f.locker.ID, testChainID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandleDBHook_PolicyRecordFormats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snake := json.RawMessage(fmt.Sprintf(`{"locker_id":%q,"chain_id":137}`, f.locker.ID))
	assert.NoError(t, f.ingest.HandleDBHook(ctx, &DBHookPayload{Table: "policies", Record: snake}))

	assert.Error(t, f.ingest.HandleDBHook(ctx, &DBHookPayload{Table: "policies", Record: json.RawMessage(`{"locker_id":"x"}`)}))
	assert.Error(t, f.ingest.HandleDBHook(ctx, &DBHookPayload{Table: "policies", Record: json.RawMessage(`{"chain_id":137}`)}))
}

func TestTriggerTransfer_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingest.TriggerTransfer(context.Background(), SourceManual, "missing")
	assert.Error(t, err)
}

type stubSubscriber struct {
	subject string
	handler func(subject string, data []byte)
}

func (s *stubSubscriber) Subscribe(subject string, handler func(subject string, data []byte)) error {
	s.subject = subject
	s.handler = handler
	return nil
}

func TestSubscribeIndexer_ChainIDFromSubject(t *testing.T) {
	f := newFixture(t, forward("a1", "0.1"))
	subscriber := &stubSubscriber{}
	require.NoError(t, f.ingest.SubscribeIndexer(context.Background(), subscriber, "indexer.transfers.>"))
	assert.Equal(t, "indexer.transfers.>", subscriber.subject)

	payload := erc20Payload("0xcc", true, testSender, testLockerAddress, "1000")
	payload.ChainID = ""
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	subscriber.handler("indexer.transfers.0x89", data)
	subscriber.handler("indexer.transfers.0x89", []byte("not json"))

	stored, err := f.transfers.GetByHash(context.Background(), "0xcc", testChainID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStateStarted, stored.AutomationState)
	assert.Equal(t, 1, f.executor.calls())
}
