package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"locker-backend/internal/metrics"
	"locker-backend/internal/models"
	"locker-backend/internal/repository"
)

// StalledDeposit deposit claimed for automation with no outbound transfer recorded
type StalledDeposit struct {
	Transfer     *models.TokenTransfer `json:"transfer"`
	StartedFor   string                `json:"started_for"`
	StartedSince time.Time             `json:"started_since"`
}

// ReconciliationService reports deposits left STARTED with zero children. It never
// re-triggers them: an operator decides whether funds still need to move.
type ReconciliationService struct {
	transfers    repository.TransferRepository
	interval     time.Duration
	stalledAfter time.Duration
	now          func() time.Time
	logger       *logrus.Logger
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(transfers repository.TransferRepository, interval, stalledAfter time.Duration, logger *logrus.Logger) *ReconciliationService {
	return &ReconciliationService{
		transfers:    transfers,
		interval:     interval,
		stalledAfter: stalledAfter,
		now:          time.Now,
		logger:       logger,
	}
}

// FindStalled deposits STARTED longer than the stall threshold without children
func (s *ReconciliationService) FindStalled(ctx context.Context) ([]StalledDeposit, error) {
	now := s.now()
	transfers, err := s.transfers.FindStalled(ctx, now.Add(-s.stalledAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to query stalled deposits: %w", err)
	}

	stalled := make([]StalledDeposit, 0, len(transfers))
	for _, transfer := range transfers {
		stalled = append(stalled, StalledDeposit{
			Transfer:     transfer,
			StartedFor:   now.Sub(transfer.UpdatedAt).Round(time.Second).String(),
			StartedSince: transfer.UpdatedAt,
		})
	}
	metrics.StalledDeposits.Set(float64(len(stalled)))
	return stalled, nil
}

// Run scans once at startup and then on every tick until ctx is cancelled
func (s *ReconciliationService) Run(ctx context.Context) error {
	s.logger.Infof("🚀 [Reconcile] Stalled deposit scan every %v (threshold %v)", s.interval, s.stalledAfter)
	s.scan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scan(ctx)
		case <-ctx.Done():
			s.logger.Info("🛑 [Reconcile] Stalled deposit scan stopped")
			return nil
		}
	}
}

func (s *ReconciliationService) scan(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	stalled, err := s.FindStalled(scanCtx)
	if err != nil {
		s.logger.Errorf("❌ [Reconcile] %v", err)
		return
	}
	for _, deposit := range stalled {
		s.logger.WithFields(logrus.Fields{
			"transfer_id": deposit.Transfer.ID,
			"locker_id":   deposit.Transfer.LockerID,
			"chain_id":    deposit.Transfer.ChainID,
			"tx_hash":     deposit.Transfer.TxHash,
			"started_for": deposit.StartedFor,
		}).Warn("⚠️ [Reconcile] Deposit STARTED without outbound transfers")
	}
	if len(stalled) == 0 {
		s.logger.Debug("[Reconcile] No stalled deposits")
	}
}
