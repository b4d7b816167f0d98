package auction

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/blockforge/auctionhouse/internal/types"
	"github.com/blockforge/auctionhouse/pkg/response"
)

// GinHandlers contains HTTP handlers for auction endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ActorFromContext rebuilds the acting player from the claims the JWT
// middleware stored. The request body never supplies identity.
func ActorFromContext(c *gin.Context) Actor {
	perms, _ := c.Get("permissions")
	permissions, _ := perms.([]string)
	return Actor{
		ID:          c.GetString("playerID"),
		DisplayName: c.GetString("displayName"),
		Tier:        c.GetString("tier"),
		Permissions: permissions,
	}
}

// BanGuard rejects banned players before any auction operation runs.
func (h *GinHandlers) BanGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetString("playerID")
		banned, err := h.service.IsBanned(playerID)
		if err != nil {
			log.Error().Err(err).Str("player_id", playerID).Msg("ban check failed")
			response.InternalError(c, "An unexpected error occurred")
			c.Abort()
			return
		}
		if banned {
			response.Forbidden(c, types.ErrBanned.Error())
			c.Abort()
			return
		}
		c.Next()
	}
}

type createListingRequest struct {
	Item          types.ItemPayload `json:"item" binding:"required"`
	StartPrice    float64           `json:"start_price" binding:"required"`
	BuyoutPrice   float64           `json:"buyout_price"`
	DurationHours int               `json:"duration_hours"`
}

// CreateListingHandler handles POST requests to list an item for sale
func (h *GinHandlers) CreateListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createListingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		listing, err := h.service.CreateListing(ActorFromContext(c), req.Item,
			req.StartPrice, req.BuyoutPrice, req.DurationHours)
		response.Handle(c, listing, err)
	}
}

// GetListingHandler handles GET requests for a single listing
func (h *GinHandlers) GetListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listing, err := h.service.GetListing(c.Param("listing_id"))
		if err == nil && listing == nil {
			response.NotFound(c, "Listing not found")
			return
		}
		response.Handle(c, listing, err)
	}
}

type listingPage struct {
	Listings []Listing `json:"listings"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PerPage  int       `json:"per_page"`
}

// ListListingsHandler handles GET requests to browse active listings
// Query parameters: category, q (search), page, per_page
func (h *GinHandlers) ListListingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage := pagination(c)

		var (
			listings []Listing
			total    int64
			err      error
		)
		if q := c.Query("q"); q != "" {
			listings, total, err = h.service.SearchListings(q, page, perPage)
		} else {
			listings, total, err = h.service.ActiveListings(c.Query("category"), page, perPage)
		}
		response.Handle(c, listingPage{Listings: listings, Total: total, Page: page, PerPage: perPage}, err)
	}
}

// MyListingsHandler handles GET requests for the caller's active listings
func (h *GinHandlers) MyListingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage := pagination(c)
		listings, total, err := h.service.PlayerListings(c.GetString("playerID"), page, perPage)
		response.Handle(c, listingPage{Listings: listings, Total: total, Page: page, PerPage: perPage}, err)
	}
}

type placeBidRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

// PlaceBidHandler handles POST requests to bid on a listing
func (h *GinHandlers) PlaceBidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req placeBidRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		listing, err := h.service.PlaceBid(ActorFromContext(c), c.Param("listing_id"), req.Amount)
		response.Handle(c, listing, err)
	}
}

// BuyNowHandler handles POST requests to buy a listing outright
func (h *GinHandlers) BuyNowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		transaction, err := h.service.BuyNow(ActorFromContext(c), c.Param("listing_id"))
		response.Handle(c, transaction, err)
	}
}

// CancelListingHandler handles DELETE requests to withdraw a listing
func (h *GinHandlers) CancelListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.service.CancelListing(ActorFromContext(c), c.Param("listing_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "listing cancelled"})
	}
}

type transactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Total        int64         `json:"total"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
}

// TransactionsHandler handles GET requests for the caller's sale history
func (h *GinHandlers) TransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage := pagination(c)
		transactions, total, err := h.service.Transactions(c.GetString("playerID"), page, perPage)
		response.Handle(c, transactionPage{Transactions: transactions, Total: total, Page: page, PerPage: perPage}, err)
	}
}

type banRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	Reason   string `json:"reason"`
}

// BanHandler handles POST requests to bar a player (internal)
func (h *GinHandlers) BanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req banRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.Ban(req.PlayerID, c.GetString("playerID"), req.Reason); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "player banned"})
	}
}

// UnbanHandler handles DELETE requests to lift a ban (internal)
func (h *GinHandlers) UnbanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.Unban(c.Param("player_id")); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "player unbanned"})
	}
}

func pagination(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "0"))
	if page < 0 {
		page = 0
	}
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "45"))
	if perPage < 1 || perPage > 100 {
		perPage = 45
	}
	return page, perPage
}
