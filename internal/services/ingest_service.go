package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"locker-backend/internal/clients"
	"locker-backend/internal/metrics"
	"locker-backend/internal/models"
	"locker-backend/internal/repository"
	"locker-backend/internal/utils"
)

// Ingestion sources, used as metric labels
const (
	SourceWebhook  = "webhook"
	SourceDBHook   = "db_hook"
	SourceNATS     = "nats"
	SourceListener = "pg_listener"
	SourceManual   = "manual"
)

// IngestResult outcome of one indexer payload
type IngestResult struct {
	Transfer  *models.TokenTransfer `json:"transfer,omitempty"`
	Created   bool                  `json:"created"`
	Triggered bool                  `json:"triggered"`
}

// DBHookPayload datastore change notification body
type DBHookPayload struct {
	Type   string          `json:"type"` // INSERT, UPDATE
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// policyHookRecord subset of a policies row needed to replay deposits.
// Column names arrive snake_case from the datastore and camelCase from the API layer.
type policyHookRecord struct {
	LockerID      string          `json:"locker_id"`
	ChainID       json.RawMessage `json:"chain_id"`
	LockerIDCamel string          `json:"lockerId"`
	ChainIDCamel  json.RawMessage `json:"chainId"`
}

func (r policyHookRecord) lockerID() string {
	if r.LockerID != "" {
		return r.LockerID
	}
	return r.LockerIDCamel
}

func (r policyHookRecord) chainID() json.RawMessage {
	if len(r.ChainID) > 0 {
		return r.ChainID
	}
	return r.ChainIDCamel
}

// IngestService feeds observations from every surface into the ledger and the engine
type IngestService struct {
	classifier *DepositClassifier
	transfers  repository.TransferRepository
	engine     *AutomationEngine
	publisher  TransferPublisher
	logger     *logrus.Logger
}

// NewIngestService publisher may be nil
func NewIngestService(classifier *DepositClassifier, transfers repository.TransferRepository, engine *AutomationEngine, publisher TransferPublisher, logger *logrus.Logger) *IngestService {
	return &IngestService{
		classifier: classifier,
		transfers:  transfers,
		engine:     engine,
		publisher:  publisher,
		logger:     logger,
	}
}

// IngestIndexerPayload classify, upsert and try to trigger. A nil result with nil error
// means the payload was intentionally ignored.
func (s *IngestService) IngestIndexerPayload(ctx context.Context, source string, payload *IndexerPayload) (*IngestResult, error) {
	transfer, err := s.classifier.Classify(ctx, payload)
	if err != nil {
		metrics.IngestEvents.WithLabelValues(source, "invalid").Inc()
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	if transfer == nil {
		metrics.IngestEvents.WithLabelValues(source, "ignored").Inc()
		return nil, nil
	}

	wasConfirmed := transfer.IsConfirmed
	stored, created, err := s.transfers.Upsert(ctx, transfer)
	if errors.Is(err, repository.ErrUpsertConflict) {
		// one more lookup settles a lost insert race
		stored, created, err = s.transfers.Upsert(ctx, transfer)
	}
	if err != nil {
		metrics.LedgerUpserts.WithLabelValues("error").Inc()
		metrics.IngestEvents.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("ledger upsert failed: %w", err)
	}
	s.recordUpsert(stored, created, wasConfirmed)

	s.logger.WithFields(logrus.Fields{
		"source":    source,
		"tx_hash":   stored.TxHash,
		"chain_id":  stored.ChainID,
		"direction": stored.Direction,
		"confirmed": stored.IsConfirmed,
		"created":   created,
	}).Info("📥 [Ingest] Transfer recorded")

	triggered, err := s.engine.GenerateAutomations(ctx, stored)
	if err != nil {
		metrics.IngestEvents.WithLabelValues(source, "error").Inc()
		return &IngestResult{Transfer: stored, Created: created}, fmt.Errorf("automation trigger failed: %w", err)
	}

	metrics.IngestEvents.WithLabelValues(source, "processed").Inc()
	return &IngestResult{Transfer: stored, Created: created, Triggered: triggered}, nil
}

// HandleDBHook reacts to datastore change notifications for transfers and policies
func (s *IngestService) HandleDBHook(ctx context.Context, hook *DBHookPayload) error {
	switch hook.Table {
	case "token_transfers":
		var record struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(hook.Record, &record); err != nil {
			return fmt.Errorf("invalid token transfer record: %w", err)
		}
		if record.ID == "" {
			return fmt.Errorf("token transfer record has no id")
		}
		_, err := s.TriggerTransfer(ctx, SourceDBHook, record.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WithField("transfer_id", record.ID).Warn("⚠️ [Ingest] Change notification for unknown transfer")
			return nil
		}
		return err

	case "policies":
		var record policyHookRecord
		if err := json.Unmarshal(hook.Record, &record); err != nil {
			return fmt.Errorf("invalid policy record: %w", err)
		}
		chainID, err := parseHookChainID(record.chainID())
		if err != nil {
			return err
		}
		_, err = s.ReplayLocker(ctx, record.lockerID(), chainID)
		return err

	default:
		metrics.IngestEvents.WithLabelValues(SourceDBHook, "ignored").Inc()
		s.logger.Debugf("[Ingest] Ignoring change on table %q", hook.Table)
		return nil
	}
}

// TriggerTransfer reloads a ledger row and runs the engine on its current state.
// Returns gorm.ErrRecordNotFound when the transfer does not exist.
func (s *IngestService) TriggerTransfer(ctx context.Context, source, transferID string) (bool, error) {
	transfer, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.IngestEvents.WithLabelValues(source, "ignored").Inc()
		}
		return false, err
	}

	triggered, err := s.engine.GenerateAutomations(ctx, transfer)
	if err != nil {
		metrics.IngestEvents.WithLabelValues(source, "error").Inc()
		return false, err
	}
	metrics.IngestEvents.WithLabelValues(source, "processed").Inc()
	return triggered, nil
}

// ReplayLocker re-evaluates every inbound transfer of a locker on a chain, typically
// after its policy became usable. Already STARTED deposits are skipped by the engine.
func (s *IngestService) ReplayLocker(ctx context.Context, lockerID string, chainID int64) (int, error) {
	if lockerID == "" {
		return 0, fmt.Errorf("policy record has no locker id")
	}

	transfers, err := s.transfers.ListForReplay(ctx, lockerID, chainID)
	if err != nil {
		return 0, fmt.Errorf("failed to list transfers for replay: %w", err)
	}

	triggered := 0
	for _, transfer := range transfers {
		ok, err := s.engine.GenerateAutomations(ctx, transfer)
		if err != nil {
			s.logger.WithField("transfer_id", transfer.ID).Errorf("❌ [Ingest] Replay failed: %v", err)
			continue
		}
		if ok {
			triggered++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"locker_id": lockerID,
		"chain_id":  chainID,
		"scanned":   len(transfers),
		"triggered": triggered,
	}).Info("🔁 [Ingest] Policy replay finished")
	return triggered, nil
}

func (s *IngestService) recordUpsert(stored *models.TokenTransfer, created, confirmedObservation bool) {
	var event string
	switch {
	case created:
		metrics.LedgerUpserts.WithLabelValues("created").Inc()
		event = clients.TransferEventCreated
	case confirmedObservation && stored.IsConfirmed:
		metrics.LedgerUpserts.WithLabelValues("confirmed").Inc()
		event = clients.TransferEventConfirmed
	default:
		metrics.LedgerUpserts.WithLabelValues("noop").Inc()
		return
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransferEvent(event, stored); err != nil {
		s.logger.WithField("tx_hash", stored.TxHash).Warnf("⚠️ [Ingest] Failed to publish %s: %v", event, err)
	}
}

// parseHookChainID chain ids in datastore records are JSON numbers or hex/decimal strings
func parseHookChainID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("policy record has no chain id")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		text = string(raw)
	}
	return utils.ParseChainID(text)
}
