package escrow

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger tracks escrow holds. Methods take the caller's *gorm.DB so they
// can run inside the settlement transaction that mutates the listing:
// a hold is only durable once that transaction commits.
type Ledger struct {
	db      *gorm.DB
	durable bool
}

// NewLedger returns a ledger. durable=false ("escrow disabled") skips the
// hold rows but the engine still withdraws and checks affordability at
// commit time, so it is purely a reduced-durability mode.
func NewLedger(db *gorm.DB, durable bool) *Ledger {
	return &Ledger{db: db, durable: durable}
}

// Durable reports whether hold rows are persisted.
func (l *Ledger) Durable() bool { return l.durable }

// Hold records a new escrow hold. The caller has already withdrawn the
// amount from the bidder's balance.
func (l *Ledger) Hold(tx *gorm.DB, listingID, bidderID string, amount float64) error {
	if !l.durable {
		return nil
	}
	return tx.Create(&Hold{
		HoldID:    "ESC_" + uuid.New().String(),
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: time.Now(),
	}).Error
}

// Release deletes a bidder's hold on a listing and returns its amount so
// the caller can redirect the money (collection queue refund). ok is
// false when no hold exists.
func (l *Ledger) Release(tx *gorm.DB, listingID, bidderID string) (float64, bool, error) {
	var hold Hold
	err := tx.Where("listing_id = ? AND bidder_id = ?", listingID, bidderID).First(&hold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if err := tx.Unscoped().Delete(&hold).Error; err != nil {
		return 0, false, err
	}
	return hold.Amount, true, nil
}

// ReleaseAll deletes every hold on a listing and returns them for refund.
// Used by the cancel and no-bid expiry paths.
func (l *Ledger) ReleaseAll(tx *gorm.DB, listingID string) ([]Hold, error) {
	var holds []Hold
	if err := tx.Where("listing_id = ?", listingID).Find(&holds).Error; err != nil {
		return nil, err
	}
	if len(holds) == 0 {
		return nil, nil
	}
	if err := tx.Unscoped().Where("listing_id = ?", listingID).Delete(&Hold{}).Error; err != nil {
		return nil, err
	}
	return holds, nil
}

// Consume deletes the winner's hold without refund: the held amount
// becomes the sale proceeds.
func (l *Ledger) Consume(tx *gorm.DB, listingID, bidderID string) error {
	return tx.Unscoped().Where("listing_id = ? AND bidder_id = ?", listingID, bidderID).Delete(&Hold{}).Error
}

// OpenHolds returns a bidder's outstanding holds. Used by tests to check
// escrow conservation and by admin tooling.
func (l *Ledger) OpenHolds(bidderID string) ([]Hold, error) {
	var holds []Hold
	if err := l.db.Where("bidder_id = ?", bidderID).Find(&holds).Error; err != nil {
		return nil, err
	}
	return holds, nil
}
