package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	handlersinternal "locker-backend/internal/handlers/internal"
	"locker-backend/internal/models"
	"locker-backend/internal/services"
)

// TransferReader read side of the ledger
type TransferReader interface {
	GetByID(ctx context.Context, id string) (*models.TokenTransfer, error)
	FindByLocker(ctx context.Context, lockerID string, direction *models.TransferDirection) ([]*models.TokenTransfer, error)
	FindByTrigger(ctx context.Context, inboundID string) ([]*models.TokenTransfer, error)
}

// StalledFinder reconciliation report source
type StalledFinder interface {
	FindStalled(ctx context.Context) ([]services.StalledDeposit, error)
}

// TransferHandler ledger queries
type TransferHandler struct {
	transfers TransferReader
	stalled   StalledFinder
	logger    *logrus.Logger
}

// NewTransferHandler creates a new TransferHandler
func NewTransferHandler(transfers TransferReader, stalled StalledFinder, logger *logrus.Logger) *TransferHandler {
	return &TransferHandler{transfers: transfers, stalled: stalled, logger: logger}
}

// GetTransfer returns one ledger row and, for deposits, the transfers it spawned
// GET /api/transfers/:id
func (h *TransferHandler) GetTransfer(c *gin.Context) {
	id := c.Param("id")
	transfer, err := h.transfers.GetByID(c.Request.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		handlersinternal.RespondWithError(c, http.StatusNotFound, "not_found", "Transfer not found", gin.H{"id": id})
		return
	}
	if err != nil {
		h.logger.WithField("transfer_id", id).Errorf("❌ [API] Failed to load transfer: %v", err)
		handlersinternal.RespondWithError(c, http.StatusInternalServerError, "database_error", "Failed to load transfer", nil)
		return
	}

	response := gin.H{"success": true, "transfer": transfer}
	if transfer.Direction == models.TransferDirectionIn {
		spawned, err := h.transfers.FindByTrigger(c.Request.Context(), transfer.ID)
		if err != nil {
			h.logger.WithField("transfer_id", id).Errorf("❌ [API] Failed to load spawned transfers: %v", err)
			handlersinternal.RespondWithError(c, http.StatusInternalServerError, "database_error", "Failed to load spawned transfers", nil)
			return
		}
		response["spawned"] = spawned
	}
	c.JSON(http.StatusOK, response)
}

// ListLockerTransfers lists a locker's transfers, optionally by direction
// GET /api/lockers/:lockerId/transfers?direction=IN
func (h *TransferHandler) ListLockerTransfers(c *gin.Context) {
	lockerID := c.Param("lockerId")
	direction, ok := handlersinternal.ParseDirection(c.Query("direction"))
	if !ok {
		handlersinternal.RespondWithError(c, http.StatusBadRequest, "invalid_direction", "direction must be IN or OUT", gin.H{"received": c.Query("direction")})
		return
	}

	transfers, err := h.transfers.FindByLocker(c.Request.Context(), lockerID, direction)
	if err != nil {
		h.logger.WithField("locker_id", lockerID).Errorf("❌ [API] Failed to list transfers: %v", err)
		handlersinternal.RespondWithError(c, http.StatusInternalServerError, "database_error", "Failed to list transfers", nil)
		return
	}
	if transfers == nil {
		transfers = []*models.TokenTransfer{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"locker_id": lockerID,
		"count":     len(transfers),
		"transfers": transfers,
	})
}

// ListStalled deposits STARTED without any outbound transfer
// GET /api/admin/reconciliation/stalled
func (h *TransferHandler) ListStalled(c *gin.Context) {
	stalled, err := h.stalled.FindStalled(c.Request.Context())
	if err != nil {
		h.logger.Errorf("❌ [API] Stalled deposit query failed: %v", err)
		handlersinternal.RespondWithError(c, http.StatusInternalServerError, "database_error", "Failed to query stalled deposits", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(stalled),
		"stalled": stalled,
	})
}
