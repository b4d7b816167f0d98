package auction

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateListing(listing *Listing) error {
	return d.db.Create(listing).Error
}

func (d *Database) GetListing(listingID string) (*Listing, error) {
	var listing Listing
	if err := d.db.Where("listing_id = ?", listingID).First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &listing, nil
}

func (d *Database) ActiveListings(category string, page, perPage int) ([]Listing, error) {
	var listings []Listing
	q := d.db.Where("status = ?", StatusActive)
	if category != "" && category != "All" {
		q = q.Where("category = ?", category)
	}
	if err := q.Order("listed_at DESC").Limit(perPage).Offset(page * perPage).Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

func (d *Database) CountActive(category string) (int64, error) {
	var count int64
	q := d.db.Model(&Listing{}).Where("status = ?", StatusActive)
	if category != "" && category != "All" {
		q = q.Where("category = ?", category)
	}
	return count, q.Count(&count).Error
}

func (d *Database) SearchListings(query string, page, perPage int) ([]Listing, error) {
	var listings []Listing
	pattern := "%" + query + "%"
	if err := d.db.Where("status = ? AND (item_material LIKE ? OR item_display_name LIKE ?)",
		StatusActive, pattern, pattern).
		Order("listed_at DESC").Limit(perPage).Offset(page * perPage).
		Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

func (d *Database) CountSearch(query string) (int64, error) {
	var count int64
	pattern := "%" + query + "%"
	err := d.db.Model(&Listing{}).
		Where("status = ? AND (item_material LIKE ? OR item_display_name LIKE ?)",
			StatusActive, pattern, pattern).
		Count(&count).Error
	return count, err
}

func (d *Database) PlayerActiveListings(sellerID string, page, perPage int) ([]Listing, error) {
	var listings []Listing
	if err := d.db.Where("seller_id = ? AND status = ?", sellerID, StatusActive).
		Order("listed_at DESC").Limit(perPage).Offset(page * perPage).
		Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

func (d *Database) CountPlayerActive(sellerID string) (int64, error) {
	var count int64
	err := d.db.Model(&Listing{}).
		Where("seller_id = ? AND status = ?", sellerID, StatusActive).
		Count(&count).Error
	return count, err
}

// ExpiredListings returns ACTIVE rows whose expiry has passed.
func (d *Database) ExpiredListings(now time.Time) ([]Listing, error) {
	var listings []Listing
	if err := d.db.Where("status = ? AND expires_at <= ?", StatusActive, now).
		Find(&listings).Error; err != nil {
		return nil, err
	}
	return listings, nil
}

// ClaimStatus moves a listing out of ACTIVE. The WHERE clause is the
// claim: it only lands while the row is still ACTIVE, so of two racing
// settlements exactly one sees RowsAffected == 1.
func (d *Database) ClaimStatus(tx *gorm.DB, listingID, to string) (bool, error) {
	result := tx.Model(&Listing{}).
		Where("listing_id = ? AND status = ?", listingID, StatusActive).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ApplyBid writes the new high-bid state (and any anti-snipe extension)
// and appends the audit row, on the caller's transaction.
func (d *Database) ApplyBid(tx *gorm.DB, listing *Listing, bid *Bid) error {
	result := tx.Model(&Listing{}).
		Where("listing_id = ? AND status = ?", listing.ListingID, StatusActive).
		Updates(map[string]interface{}{
			"current_bid":         listing.CurrentBid,
			"current_bidder_id":   listing.CurrentBidderID,
			"current_bidder_name": listing.CurrentBidderName,
			"expires_at":          listing.ExpiresAt,
			"snipe_extensions":    listing.SnipeExtensions,
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return tx.Create(bid).Error
}

func (d *Database) CreateTransaction(tx *gorm.DB, t *Transaction) error {
	return tx.Create(t).Error
}

func (d *Database) Transactions(playerID string, page, perPage int) ([]Transaction, error) {
	var transactions []Transaction
	if err := d.db.Where("seller_id = ? OR buyer_id = ?", playerID, playerID).
		Order("completed_at DESC").Limit(perPage).Offset(page * perPage).
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

func (d *Database) CountTransactions(playerID string) (int64, error) {
	var count int64
	err := d.db.Model(&Transaction{}).
		Where("seller_id = ? OR buyer_id = ?", playerID, playerID).
		Count(&count).Error
	return count, err
}

func (d *Database) TransactionForListing(listingID string) (*Transaction, error) {
	var t Transaction
	if err := d.db.Where("listing_id = ?", listingID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (d *Database) CreateBan(ban *Ban) error {
	// re-banning updates the existing row
	var existing Ban
	err := d.db.Where("player_id = ?", ban.PlayerID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(ban).Error
	}
	if err != nil {
		return err
	}
	existing.BannedBy = ban.BannedBy
	existing.Reason = ban.Reason
	existing.BannedAt = ban.BannedAt
	return d.db.Save(&existing).Error
}

func (d *Database) DeleteBan(playerID string) (bool, error) {
	result := d.db.Unscoped().Where("player_id = ?", playerID).Delete(&Ban{})
	return result.RowsAffected > 0, result.Error
}

func (d *Database) IsBanned(playerID string) (bool, error) {
	var count int64
	err := d.db.Model(&Ban{}).Where("player_id = ?", playerID).Count(&count).Error
	return count > 0, err
}

// Handle exposes the underlying connection for settlement transactions
// that span the escrow and collection tables.
func (d *Database) Handle() *gorm.DB {
	return d.db
}
