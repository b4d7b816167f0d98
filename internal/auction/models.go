package auction

import (
	"time"

	"gorm.io/gorm"
)

const (
	StatusActive    = "ACTIVE"
	StatusSold      = "SOLD"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"

	SaleTypeBid    = "BID"
	SaleTypeBuyout = "BUYOUT"
)

// Listing is a single item offered for sale. Status moves one way:
// ACTIVE to exactly one of SOLD, EXPIRED or CANCELLED; a terminal row is
// never written again.
type Listing struct {
	gorm.Model        `json:"-"`
	ListingID         string    `gorm:"uniqueIndex" json:"listing_id"`
	SellerID          string    `gorm:"index" json:"seller_id"`
	SellerName        string    `json:"seller_name"`
	ItemData          []byte    `json:"item_data,omitempty"`
	ItemMaterial      string    `gorm:"index" json:"item_material"`
	ItemDisplayName   string    `json:"item_display_name"`
	StartPrice        float64   `json:"start_price"`
	BuyoutPrice       float64   `json:"buyout_price,omitempty"` // 0 means no buyout
	CurrentBid        float64   `json:"current_bid"`
	CurrentBidderID   string    `json:"current_bidder_id,omitempty"`
	CurrentBidderName string    `json:"current_bidder_name,omitempty"`
	Category          string    `gorm:"index" json:"category"`
	ListedAt          time.Time `json:"listed_at"`
	ExpiresAt         time.Time `gorm:"index" json:"expires_at"`
	Status            string    `gorm:"index" json:"status"`
	ListingFee        float64   `json:"listing_fee"`
	SnipeExtensions   int       `json:"snipe_extensions"`
}

// HasBids reports whether anyone currently holds the high bid.
func (l *Listing) HasBids() bool {
	return l.CurrentBid > 0 && l.CurrentBidderID != ""
}

// HasBuyout reports whether the listing can be bought outright.
func (l *Listing) HasBuyout() bool {
	return l.BuyoutPrice > 0
}

// TimeLeft returns the remaining seconds before expiry, never negative.
func (l *Listing) TimeLeft() int64 {
	left := time.Until(l.ExpiresAt)
	if left < 0 {
		return 0
	}
	return int64(left.Seconds())
}

// Bid is one accepted bid. Append-only: the listing's current bid fields
// are a cached pointer to the latest row here.
type Bid struct {
	gorm.Model `json:"-"`
	BidID      string    `gorm:"uniqueIndex" json:"bid_id"`
	ListingID  string    `gorm:"index" json:"listing_id"`
	BidderID   string    `gorm:"index" json:"bidder_id"`
	BidderName string    `json:"bidder_name"`
	Amount     float64   `json:"amount"`
	PlacedAt   time.Time `json:"placed_at"`
}

// Transaction is a completed sale record. Immutable once written; there
// is at most one per listing.
type Transaction struct {
	gorm.Model    `json:"-"`
	TransactionID string    `gorm:"uniqueIndex" json:"transaction_id"`
	ListingID     string    `gorm:"uniqueIndex" json:"listing_id"`
	SellerID      string    `gorm:"index" json:"seller_id"`
	BuyerID       string    `gorm:"index" json:"buyer_id"`
	ItemData      []byte    `json:"item_data,omitempty"`
	ItemMaterial  string    `json:"item_material"`
	SalePrice     float64   `json:"sale_price"`
	SaleType      string    `json:"sale_type"` // BID or BUYOUT
	TaxAmount     float64   `json:"tax_amount"`
	FeeAmount     float64   `json:"fee_amount"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Ban bars a player from every auction operation at the API boundary.
type Ban struct {
	gorm.Model `json:"-"`
	PlayerID   string    `gorm:"uniqueIndex" json:"player_id"`
	BannedBy   string    `json:"banned_by"`
	Reason     string    `json:"reason"`
	BannedAt   time.Time `json:"banned_at"`
}
