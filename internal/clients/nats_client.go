package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"locker-backend/internal/config"
	"locker-backend/internal/metrics"
	"locker-backend/internal/models"
)

// Ledger event types published for the reporting datastore
const (
	TransferEventCreated   = "transfer.created"
	TransferEventConfirmed = "transfer.confirmed"
	TransferEventSpawned   = "transfer.spawned"
)

// TransferEvent ledger change published on <ledgerSubject>.<chainId>
type TransferEvent struct {
	Event      string                `json:"event"`
	Transfer   *models.TokenTransfer `json:"transfer"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// NATSClient NATS client
type NATSClient struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	ledgerSubject string
	logger        *logrus.Logger
	subs          []*nats.Subscription
}

// NewNATSClient Create NATS client
func NewNATSClient(cfg config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("locker-backend"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warnf("⚠️ [NATS] Connection lost: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("✅ [NATS] Reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Infof("✅ [NATS] Connected to %s (timeout %v)", cfg.URL, connectTimeout)
	return &NATSClient{
		conn:          conn,
		js:            js,
		ledgerSubject: cfg.LedgerSubject,
		logger:        logger,
	}, nil
}

// Subscribe delivers raw message payloads to handler. Plain core subscription first,
// JetStream push subscription when the subject is only served by a stream.
func (c *NATSClient) Subscribe(subject string, handler func(subject string, data []byte)) error {
	msgHandler := func(msg *nats.Msg) {
		metrics.NATSMessagesReceived.WithLabelValues(subject).Inc()
		handler(msg.Subject, msg.Data)
	}

	sub, err := c.conn.Subscribe(subject, msgHandler)
	if err == nil {
		c.subs = append(c.subs, sub)
		c.logger.Infof("✅ [NATS] Subscribed: %s", subject)
		return nil
	}

	c.logger.Warnf("⚠️ [NATS] Core subscription failed, trying JetStream: %v", err)
	sub, err = c.js.Subscribe(subject, func(msg *nats.Msg) {
		msgHandler(msg)
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Infof("✅ [NATS] JetStream subscribed: %s", subject)
	return nil
}

// PublishTransferEvent publishes a ledger change for the reporting datastore
func (c *NATSClient) PublishTransferEvent(event string, transfer *models.TokenTransfer) error {
	data, err := json.Marshal(TransferEvent{Event: event, Transfer: transfer, OccurredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal transfer event: %w", err)
	}

	subject := fmt.Sprintf("%s.%d", c.ledgerSubject, transfer.ChainID)
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish transfer event: %w", err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(event).Inc()
	c.logger.Debugf("📤 [NATS] Published %s for %s on %s", event, transfer.TxHash, subject)
	return nil
}

// Close drains subscriptions and closes the connection
func (c *NATSClient) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	if c.conn != nil {
		_ = c.conn.Drain()
		metrics.NATSConnectionStatus.Set(0)
	}
}

// GetConnection Get NATS connection
func (c *NATSClient) GetConnection() *nats.Conn {
	return c.conn
}
