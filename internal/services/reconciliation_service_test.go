package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindStalled_ReportsStartedDepositsWithoutChildren(t *testing.T) {
	f := newFixture(t, forward("a1", "0.1"))
	ctx := context.Background()

	healthy := f.storeDeposit("0x01", "1000", true)
	triggered, err := f.engine.GenerateAutomations(ctx, healthy)
	require.NoError(t, err)
	require.True(t, triggered)

	// claimed but the process died before any submission
	orphan := f.storeDeposit("0x02", "1000", true)
	claimed, err := f.transfers.MarkAutomationStarted(ctx, orphan.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	f.storeDeposit("0x03", "1000", true)

	service := NewReconciliationService(f.transfers, time.Minute, 15*time.Minute, f.logger)

	stalled, err := service.FindStalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, stalled, "nothing is older than the threshold yet")

	service.now = func() time.Time { return time.Now().Add(time.Hour) }
	stalled, err = service.FindStalled(ctx)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, orphan.ID, stalled[0].Transfer.ID)
	assert.NotEmpty(t, stalled[0].StartedFor)

	reloaded, err := f.transfers.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, reloaded.UpdatedAt.Unix(), stalled[0].StartedSince.Unix())
	assert.Equal(t, 1, f.executor.calls(), "reconciliation never re-triggers")
}

func TestReconciliationRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	service := NewReconciliationService(f.transfers, 10*time.Millisecond, time.Minute, f.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
