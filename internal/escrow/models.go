package escrow

import (
	"time"

	"gorm.io/gorm"
)

// Hold is currency reserved against a bidder's open bid. At most one
// hold exists per listing at any time: the current high bidder's.
type Hold struct {
	gorm.Model `json:"-"`
	HoldID     string    `gorm:"uniqueIndex" json:"hold_id"`
	ListingID  string    `gorm:"index" json:"listing_id"`
	BidderID   string    `gorm:"index" json:"bidder_id"`
	Amount     float64   `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}
