package economy

import (
	"github.com/gin-gonic/gin"

	"github.com/blockforge/auctionhouse/pkg/response"
)

// GinHandlers contains HTTP handlers for wallet endpoints
type GinHandlers struct {
	wallet *Wallet
}

func NewGinHandlers(wallet *Wallet) *GinHandlers {
	return &GinHandlers{wallet: wallet}
}

// BalanceHandler handles GET requests for the caller's balance
func (h *GinHandlers) BalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetString("playerID")
		balance := h.wallet.GetBalance(playerID)
		response.Success(c, gin.H{
			"player_id": playerID,
			"balance":   balance,
			"formatted": FormatAmount(balance),
		})
	}
}

type depositRequest struct {
	PlayerID string  `json:"player_id" binding:"required"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
}

// DepositHandler handles POST requests to credit an account (internal,
// used for provisioning and external economy reconciliation)
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req depositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.wallet.EnsureAccount(req.PlayerID); err != nil {
			response.Handle(c, nil, err)
			return
		}
		if !h.wallet.Deposit(req.PlayerID, req.Amount) {
			response.InternalError(c, "Deposit failed")
			return
		}

		response.Success(c, gin.H{"player_id": req.PlayerID, "balance": h.wallet.GetBalance(req.PlayerID)})
	}
}
