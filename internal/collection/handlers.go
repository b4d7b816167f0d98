package collection

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/blockforge/auctionhouse/internal/economy"
	"github.com/blockforge/auctionhouse/pkg/response"
)

// GinHandlers contains HTTP handlers for the collection box
type GinHandlers struct {
	service *Service
	economy economy.Provider
}

func NewGinHandlers(service *Service, provider economy.Provider) *GinHandlers {
	return &GinHandlers{service: service, economy: provider}
}

// CollectionHandler handles GET requests for the caller's pending entries
func (h *GinHandlers) CollectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.service.Collection(c.GetString("playerID"))
		response.Handle(c, gin.H{"entries": entries, "count": len(entries)}, err)
	}
}

// CollectEntryHandler handles DELETE requests that claim a single entry.
// The conditional row delete is the exclusivity gate and runs before any
// payout, so a racing double claim yields 410, never a duplicate deposit.
// Item entries are removed on the caller's confirmation, so a failed
// grant simply leaves the entry for a later claim.
func (h *GinHandlers) CollectEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetString("playerID")
		entry, err := h.service.Entry(c.Param("entry_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if entry == nil || entry.PlayerID != playerID {
			response.NotFound(c, "Collection entry not found")
			return
		}

		if entry.Type == TypeMoney {
			err = h.service.ClaimMoney(entry, h.economy.Deposit)
		} else {
			err = h.service.RemoveEntry(entry.EntryID)
		}
		if err != nil {
			if errors.Is(err, ErrEntryGone) {
				c.JSON(410, gin.H{
					"success": false,
					"error":   gin.H{"code": "ENTRY_GONE", "message": "Entry already collected"},
				})
				return
			}
			response.Handle(c, nil, err)
			return
		}
		response.Handle(c, entry, nil)
	}
}

// NotificationsHandler handles GET requests that drain queued messages.
// Delivered messages are removed; a repeat call returns an empty set.
func (h *GinHandlers) NotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := h.service.Drain(c.GetString("playerID"))
		response.Handle(c, gin.H{"notifications": notifications, "count": len(notifications)}, err)
	}
}
