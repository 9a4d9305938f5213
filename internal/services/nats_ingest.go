package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"locker-backend/internal/utils"
)

// MessageSubscriber raw message subscription, implemented by clients.NATSClient
type MessageSubscriber interface {
	Subscribe(subject string, handler func(subject string, data []byte)) error
}

// SubscribeIndexer consumes indexer payloads published on subject. When a payload
// omits its chain id, the last subject token supplies it (indexer.transfers.0x89).
func (s *IngestService) SubscribeIndexer(ctx context.Context, subscriber MessageSubscriber, subject string) error {
	return subscriber.Subscribe(subject, func(msgSubject string, data []byte) {
		handleCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		var payload IndexerPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			s.logger.WithField("subject", msgSubject).Warnf("⚠️ [NATS] Dropping malformed indexer payload: %v", err)
			return
		}
		if payload.ChainID == "" {
			if chainID, err := utils.ChainIDFromSubject(msgSubject); err == nil {
				payload.ChainID = utils.FormatChainID(chainID)
			}
		}

		result, err := s.IngestIndexerPayload(handleCtx, SourceNATS, &payload)
		if err != nil {
			s.logger.WithField("subject", msgSubject).Errorf("❌ [NATS] Indexer payload failed: %v", err)
			return
		}
		if result != nil {
			s.logger.WithFields(logrus.Fields{
				"subject":   msgSubject,
				"tx_hash":   result.Transfer.TxHash,
				"triggered": result.Triggered,
			}).Debug("[NATS] Indexer payload processed")
		}
	})
}
