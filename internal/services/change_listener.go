package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"locker-backend/internal/metrics"
)

// transferNotification payload emitted by the token_transfers change trigger
type transferNotification struct {
	ID string `json:"id"`
	Op string `json:"op"`
}

// ChangeListener in-process replacement for the datastore webhook: LISTENs on the
// channel fed by the token_transfers trigger and runs the engine on each changed row
type ChangeListener struct {
	dsn     string
	channel string
	ingest  *IngestService
	logger  *logrus.Logger
}

// NewChangeListener creates a listener; dsn must be a lib/pq connection string
func NewChangeListener(dsn, channel string, ingest *IngestService, logger *logrus.Logger) *ChangeListener {
	return &ChangeListener{dsn: dsn, channel: channel, ingest: ingest, logger: logger}
}

// Run blocks until ctx is cancelled
func (l *ChangeListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, 2*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		switch event {
		case pq.ListenerEventConnected, pq.ListenerEventReconnected:
			metrics.EventListenerStatus.WithLabelValues(SourceListener).Set(1)
			l.logger.Infof("✅ [Listener] Listening on %s", l.channel)
		case pq.ListenerEventDisconnected:
			metrics.EventListenerStatus.WithLabelValues(SourceListener).Set(0)
			l.logger.Warnf("⚠️ [Listener] Disconnected: %v", err)
		case pq.ListenerEventConnectionAttemptFailed:
			metrics.EventListenerErrors.WithLabelValues(SourceListener, "connect").Inc()
			l.logger.Warnf("⚠️ [Listener] Connection attempt failed: %v", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}

	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case notification := <-listener.Notify:
			// nil after a reconnect; notifications sent while down are lost and
			// such deposits are picked up by the next db hook or replay
			if notification == nil {
				continue
			}
			l.handle(ctx, notification.Extra)

		case <-keepalive.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warnf("⚠️ [Listener] Ping failed: %v", err)
			}

		case <-ctx.Done():
			metrics.EventListenerStatus.WithLabelValues(SourceListener).Set(0)
			l.logger.Info("🛑 [Listener] Stopped")
			return nil
		}
	}
}

func (l *ChangeListener) handle(ctx context.Context, payload string) {
	var n transferNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil || n.ID == "" {
		metrics.EventListenerErrors.WithLabelValues(SourceListener, "payload").Inc()
		l.logger.Warnf("⚠️ [Listener] Unrecognized notification %q", payload)
		return
	}

	handleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	triggered, err := l.ingest.TriggerTransfer(handleCtx, SourceListener, n.ID)
	if err != nil {
		metrics.EventListenerErrors.WithLabelValues(SourceListener, "trigger").Inc()
		l.logger.WithField("transfer_id", n.ID).Errorf("❌ [Listener] Trigger failed: %v", err)
		return
	}
	l.logger.WithFields(logrus.Fields{
		"transfer_id": n.ID,
		"op":          n.Op,
		"triggered":   triggered,
	}).Debug("[Listener] Change processed")
}
