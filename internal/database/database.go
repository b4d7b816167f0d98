package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/blockforge/auctionhouse/internal/auction"
	"github.com/blockforge/auctionhouse/internal/collection"
	"github.com/blockforge/auctionhouse/internal/database/migrations"
	"github.com/blockforge/auctionhouse/internal/economy"
	"github.com/blockforge/auctionhouse/internal/escrow"
	"github.com/blockforge/auctionhouse/internal/pricehistory"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddSnipeExtensions(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&auction.Listing{},
		&auction.Bid{},
		&auction.Transaction{},
		&auction.Ban{},
		&escrow.Hold{},
		&collection.Entry{},
		&collection.Notification{},
		&pricehistory.Record{},
		&economy.Account{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
