package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"locker-backend/internal/services"
)

// TransferIngestor ingestion operations behind the HTTP surfaces
type TransferIngestor interface {
	IngestIndexerPayload(ctx context.Context, source string, payload *services.IndexerPayload) (*services.IngestResult, error)
	HandleDBHook(ctx context.Context, hook *services.DBHookPayload) error
	TriggerTransfer(ctx context.Context, source, transferID string) (bool, error)
}

// WebhookHandler indexer and datastore webhooks. Both always answer 200 so that
// senders do not retry payloads that can never succeed; failures are logged.
type WebhookHandler struct {
	ingest  TransferIngestor
	timeout time.Duration
	logger  *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingest TransferIngestor, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{ingest: ingest, timeout: 2 * time.Minute, logger: logger}
}

// IndexerWebhook receives stream payloads from the blockchain indexer
// POST /api/webhooks/indexer
func (h *WebhookHandler) IndexerWebhook(c *gin.Context) {
	var payload services.IndexerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warnf("⚠️ [Webhook] Malformed indexer payload: %v", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "malformed payload"})
		return
	}

	// the engine keeps running when the indexer hangs up
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.timeout)
	defer cancel()

	result, err := h.ingest.IngestIndexerPayload(ctx, services.SourceWebhook, &payload)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"stream_id": payload.StreamID,
			"chain_id":  payload.ChainID,
		}).Errorf("❌ [Webhook] Indexer payload failed: %v", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}

	if result == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "ignored": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"transfer_id": result.Transfer.ID,
		"created":     result.Created,
		"triggered":   result.Triggered,
	})
}

// DBHook receives datastore change notifications
// POST /api/hooks/db
func (h *WebhookHandler) DBHook(c *gin.Context) {
	var hook services.DBHookPayload
	if err := c.ShouldBindJSON(&hook); err != nil {
		h.logger.Warnf("⚠️ [Webhook] Malformed change notification: %v", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "malformed payload"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.timeout)
	defer cancel()

	if err := h.ingest.HandleDBHook(ctx, &hook); err != nil {
		h.logger.WithFields(logrus.Fields{
			"table": hook.Table,
			"type":  hook.Type,
		}).Errorf("❌ [Webhook] Change notification failed: %v", err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// TriggerRequest manual trigger body
type TriggerRequest struct {
	TransferID string `json:"transferId" binding:"required"`
}

// TriggerAutomation re-runs the engine on a stored transfer
// POST /api/automations/trigger
func (h *WebhookHandler) TriggerAutomation(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "transferId is required"})
		return
	}

	triggered, err := h.ingest.TriggerTransfer(c.Request.Context(), services.SourceManual, req.TransferID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "transfer not found", "transfer_id": req.TransferID})
		return
	}
	if err != nil {
		h.logger.WithField("transfer_id", req.TransferID).Errorf("❌ [Webhook] Manual trigger failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"transfer_id": req.TransferID,
		"service":     c.GetString("service_name"),
		"triggered":   triggered,
	}).Info("🔧 [Webhook] Manual trigger")
	c.JSON(http.StatusOK, gin.H{"success": true, "triggered": triggered})
}
