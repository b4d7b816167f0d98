package auction

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/blockforge/auctionhouse/internal/collection"
	"github.com/blockforge/auctionhouse/internal/config"
	"github.com/blockforge/auctionhouse/internal/economy"
	"github.com/blockforge/auctionhouse/internal/escrow"
	"github.com/blockforge/auctionhouse/internal/pricehistory"
	"github.com/blockforge/auctionhouse/internal/types"
)

// Permissions a session token may carry.
const (
	PermBypassFee      = "ah.bypass.fee"
	PermBypassTax      = "ah.bypass.tax"
	PermBypassCooldown = "ah.bypass.cooldown"
	PermAdmin          = "ah.admin"
)

// Actor identifies the player behind an operation, taken from the
// session token, never from the request body.
type Actor struct {
	ID          string
	DisplayName string
	Tier        string
	Permissions []string
}

// Can reports whether the actor holds a permission.
func (a Actor) Can(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Service is the listing registry and the single authoritative mutation
// path. One mutex serializes every state transition; each mutating call
// re-fetches the listing inside the lock before acting, so a snapshot a
// caller held across a confirmation dialog can never be trusted by
// mistake. Nothing is reported as done until its store write committed.
type Service struct {
	db         *Database
	cfg        *config.Store
	economy    economy.Provider
	escrow     *escrow.Ledger
	collection *collection.Service
	prices     *pricehistory.Service

	mu          sync.Mutex
	lastListing map[string]time.Time // sellerID -> last createListing, for cooldown
}

func NewService(
	gormDB *gorm.DB,
	cfg *config.Store,
	provider economy.Provider,
	ledger *escrow.Ledger,
	coll *collection.Service,
	prices *pricehistory.Service,
) *Service {
	return &Service{
		db:          NewDatabase(gormDB),
		cfg:         cfg,
		economy:     provider,
		escrow:      ledger,
		collection:  coll,
		prices:      prices,
		lastListing: make(map[string]time.Time),
	}
}

// CreateListing validates and creates a listing, charging the listing
// fee up front. The fee is non-refundable; it is returned only when the
// store insert itself fails.
func (s *Service) CreateListing(seller Actor, item types.ItemPayload, startPrice, buyoutPrice float64, durationHours int) (*Listing, error) {
	cfg := s.cfg.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.IsBlacklisted(item.Material) {
		return nil, types.Validationf("%s cannot be listed", item.Material)
	}

	active, err := s.db.CountPlayerActive(seller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count seller listings: %w", err)
	}
	if max := cfg.MaxListings(seller.Tier); active >= int64(max) {
		return nil, types.Validationf("listing limit reached (%d)", max)
	}

	if !seller.Can(PermBypassCooldown) {
		if last, ok := s.lastListing[seller.ID]; ok {
			cooldown := time.Duration(cfg.Listings.CooldownSeconds) * time.Second
			if wait := cooldown - time.Since(last); wait > 0 {
				return nil, types.Validationf("listing cooldown, retry in %ds", int(wait.Seconds())+1)
			}
		}
	}

	if startPrice < cfg.Listings.MinPrice {
		return nil, types.Validationf("price below minimum %s", s.economy.Format(cfg.Listings.MinPrice))
	}
	if startPrice > cfg.Listings.MaxPrice {
		return nil, types.Validationf("price above maximum %s", s.economy.Format(cfg.Listings.MaxPrice))
	}
	if buyoutPrice > 0 {
		if buyoutPrice > cfg.Listings.MaxPrice {
			return nil, types.Validationf("buyout above maximum %s", s.economy.Format(cfg.Listings.MaxPrice))
		}
		if buyoutPrice < startPrice {
			buyoutPrice = startPrice
		}
	} else {
		buyoutPrice = 0
	}

	fee := startPrice * (cfg.Listings.FeePercent / 100.0)
	if seller.Can(PermBypassFee) {
		fee = 0
	}
	if fee > 0 && !s.economy.Withdraw(seller.ID, fee) {
		return nil, types.ErrInsufficientFunds
	}

	now := time.Now()
	listing := &Listing{
		ListingID:       "LST_" + uuid.New().String(),
		SellerID:        seller.ID,
		SellerName:      seller.DisplayName,
		ItemData:        item.Data,
		ItemMaterial:    item.Material,
		ItemDisplayName: item.DisplayName,
		StartPrice:      startPrice,
		BuyoutPrice:     buyoutPrice,
		Category:        DetectCategory(item.Material),
		ListedAt:        now,
		ExpiresAt:       now.Add(time.Duration(cfg.AllowedDuration(durationHours)) * time.Hour),
		Status:          StatusActive,
		ListingFee:      fee,
	}

	if err := s.db.CreateListing(listing); err != nil {
		if fee > 0 {
			s.refundOrQueue(seller.ID, fee, "Listing fee refund: "+item.DisplayName)
		}
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	s.lastListing[seller.ID] = now

	log.Info().
		Str("listing_id", listing.ListingID).
		Str("seller_id", seller.ID).
		Str("material", listing.ItemMaterial).
		Float64("start_price", startPrice).
		Float64("fee", fee).
		Msg("listing created")
	return listing, nil
}

// GetListing returns a listing, nil when unknown. Read-only; callers may
// race mutations and must treat the result as a snapshot.
func (s *Service) GetListing(listingID string) (*Listing, error) {
	return s.db.GetListing(listingID)
}

func (s *Service) ActiveListings(category string, page, perPage int) ([]Listing, int64, error) {
	listings, err := s.db.ActiveListings(category, page, perPage)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.db.CountActive(category)
	return listings, total, err
}

func (s *Service) SearchListings(query string, page, perPage int) ([]Listing, int64, error) {
	listings, err := s.db.SearchListings(query, page, perPage)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.db.CountSearch(query)
	return listings, total, err
}

func (s *Service) PlayerListings(sellerID string, page, perPage int) ([]Listing, int64, error) {
	listings, err := s.db.PlayerActiveListings(sellerID, page, perPage)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.db.CountPlayerActive(sellerID)
	return listings, total, err
}

// MinimumBid returns the lowest acceptable next bid for a listing.
func (s *Service) MinimumBid(listing *Listing) float64 {
	cfg := s.cfg.Snapshot()
	if listing.HasBids() {
		return listing.CurrentBid * (1 + cfg.Bidding.MinIncrementPercent/100.0)
	}
	return listing.StartPrice
}

// PlaceBid applies a bid against the authoritative listing state. On
// acceptance the amount moves into escrow, the previous high bidder's
// hold is refunded to their collection queue, and a late bid extends the
// expiry until the anti-snipe cap.
func (s *Service) PlaceBid(bidder Actor, listingID string, amount float64) (*Listing, error) {
	cfg := s.cfg.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	listing, err := s.db.GetListing(listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	if listing == nil {
		return nil, types.ErrNotFound
	}
	if listing.Status != StatusActive {
		return nil, types.ErrStale
	}
	if listing.SellerID == bidder.ID {
		return nil, types.Validationf("cannot bid on your own listing")
	}
	if minBid := s.MinimumBid(listing); amount < minBid {
		return nil, types.Validationf("bid below minimum %s", s.economy.Format(minBid))
	}

	// Money first. A refused withdraw aborts with no state change.
	if !s.economy.Withdraw(bidder.ID, amount) {
		return nil, types.ErrInsufficientFunds
	}

	prevBidderID := listing.CurrentBidderID
	prevRefund := 0.0

	err = s.db.Handle().Transaction(func(tx *gorm.DB) error {
		if listing.HasBids() {
			refund, ok, err := s.escrow.Release(tx, listing.ListingID, prevBidderID)
			if err != nil {
				return err
			}
			if !ok {
				// non-durable escrow mode: the held amount is the cached bid
				refund = listing.CurrentBid
			}
			prevRefund = refund
			if err := s.collection.AddMoney(tx, prevBidderID, refund,
				"Outbid on "+listing.ItemDisplayName); err != nil {
				return err
			}
		}

		if err := s.escrow.Hold(tx, listing.ListingID, bidder.ID, amount); err != nil {
			return err
		}

		listing.CurrentBid = amount
		listing.CurrentBidderID = bidder.ID
		listing.CurrentBidderName = bidder.DisplayName

		if cfg.AntiSnipe.Enabled &&
			listing.SnipeExtensions < cfg.AntiSnipe.MaxExtensions &&
			time.Until(listing.ExpiresAt) <= time.Duration(cfg.AntiSnipe.TriggerSeconds)*time.Second {
			listing.ExpiresAt = listing.ExpiresAt.Add(time.Duration(cfg.AntiSnipe.ExtensionSeconds) * time.Second)
			listing.SnipeExtensions++
		}

		return s.db.ApplyBid(tx, listing, &Bid{
			BidID:      "BID_" + uuid.New().String(),
			ListingID:  listing.ListingID,
			BidderID:   bidder.ID,
			BidderName: bidder.DisplayName,
			Amount:     amount,
			PlacedAt:   time.Now(),
		})
	})
	if err != nil {
		// the bid never happened; give the bidder their money back
		s.refundOrQueue(bidder.ID, amount, "Bid refund: "+listing.ItemDisplayName)
		return nil, fmt.Errorf("failed to commit bid: %w", err)
	}

	if prevBidderID != "" {
		s.collection.Notify(prevBidderID, "ah-outbid", map[string]string{
			"item":   listing.ItemDisplayName,
			"amount": s.economy.Format(prevRefund),
		})
	}

	log.Info().
		Str("listing_id", listing.ListingID).
		Str("bidder_id", bidder.ID).
		Float64("amount", amount).
		Int("snipe_extensions", listing.SnipeExtensions).
		Msg("bid placed")
	return listing, nil
}

// BuyNow settles a listing at its buyout price.
func (s *Service) BuyNow(buyer Actor, listingID string) (*Transaction, error) {
	cfg := s.cfg.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	listing, err := s.db.GetListing(listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	if listing == nil {
		return nil, types.ErrNotFound
	}
	if listing.Status != StatusActive {
		return nil, types.ErrStale
	}
	if !listing.HasBuyout() {
		return nil, types.Validationf("listing has no buyout price")
	}
	if listing.SellerID == buyer.ID {
		return nil, types.Validationf("cannot buy your own listing")
	}

	price := listing.BuyoutPrice
	if !s.economy.Withdraw(buyer.ID, price) {
		return nil, types.ErrInsufficientFunds
	}

	tax := price * (cfg.Listings.SalesTaxPercent / 100.0)
	if buyer.Can(PermBypassTax) {
		tax = 0
	}

	transaction, err := s.settle(listing, buyer.ID, price, SaleTypeBuyout, tax)
	if err != nil {
		s.refundOrQueue(buyer.ID, price, "Purchase refund: "+listing.ItemDisplayName)
		return nil, err
	}

	s.collection.Notify(listing.SellerID, "ah-item-sold", map[string]string{
		"item":  listing.ItemDisplayName,
		"price": s.economy.Format(price),
		"tax":   s.economy.Format(tax),
	})

	log.Info().
		Str("listing_id", listing.ListingID).
		Str("buyer_id", buyer.ID).
		Float64("price", price).
		Msg("listing bought out")
	return transaction, nil
}

// CancelListing withdraws an ACTIVE listing, returning the item to the
// seller and refunding any escrow to the bidder's collection queue. The
// listing fee is not refunded.
func (s *Service) CancelListing(actor Actor, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, err := s.db.GetListing(listingID)
	if err != nil {
		return fmt.Errorf("failed to fetch listing: %w", err)
	}
	if listing == nil {
		return types.ErrNotFound
	}
	if listing.Status != StatusActive {
		return types.ErrStale
	}
	if listing.SellerID != actor.ID && !actor.Can(PermAdmin) {
		return types.Validationf("only the seller can cancel a listing")
	}

	err = s.db.Handle().Transaction(func(tx *gorm.DB) error {
		claimed, err := s.db.ClaimStatus(tx, listing.ListingID, StatusCancelled)
		if err != nil {
			return err
		}
		if !claimed {
			return types.ErrStale
		}
		if err := s.refundEscrow(tx, listing, "Listing cancelled: "+listing.ItemDisplayName); err != nil {
			return err
		}
		return s.collection.AddItem(tx, listing.SellerID, listing.ItemData,
			"Listing cancelled: "+listing.ItemDisplayName)
	})
	if err != nil {
		return fmt.Errorf("failed to cancel listing: %w", err)
	}

	if listing.HasBids() {
		s.collection.Notify(listing.CurrentBidderID, "ah-listing-cancelled", map[string]string{
			"item": listing.ItemDisplayName,
		})
	}

	log.Info().Str("listing_id", listing.ListingID).Str("by", actor.ID).Msg("listing cancelled")
	return nil
}

// SettleExpired resolves one expired listing: a win for the current
// bidder when one exists, a return to the seller otherwise. Safe to call
// for rows that were settled in the meantime; the claim no-ops.
func (s *Service) SettleExpired(listingID string) error {
	cfg := s.cfg.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	listing, err := s.db.GetListing(listingID)
	if err != nil {
		return fmt.Errorf("failed to fetch listing: %w", err)
	}
	if listing == nil || listing.Status != StatusActive {
		return nil // settled by a concurrent action
	}
	if listing.ExpiresAt.After(time.Now()) {
		return nil // extended since the sweep query
	}

	if listing.HasBids() {
		tax := listing.CurrentBid * (cfg.Listings.SalesTaxPercent / 100.0)
		if _, err := s.settle(listing, listing.CurrentBidderID, listing.CurrentBid, SaleTypeBid, tax); err != nil {
			return err
		}
		s.collection.Notify(listing.SellerID, "ah-item-sold", map[string]string{
			"item":  listing.ItemDisplayName,
			"price": s.economy.Format(listing.CurrentBid),
			"tax":   s.economy.Format(tax),
		})
		s.collection.Notify(listing.CurrentBidderID, "ah-bid-won", map[string]string{
			"item": listing.ItemDisplayName,
		})
		log.Info().
			Str("listing_id", listing.ListingID).
			Str("winner_id", listing.CurrentBidderID).
			Float64("price", listing.CurrentBid).
			Msg("expired listing settled to high bidder")
		return nil
	}

	err = s.db.Handle().Transaction(func(tx *gorm.DB) error {
		claimed, err := s.db.ClaimStatus(tx, listing.ListingID, StatusExpired)
		if err != nil {
			return err
		}
		if !claimed {
			return types.ErrStale
		}
		if err := s.refundEscrow(tx, listing, "Listing expired: "+listing.ItemDisplayName); err != nil {
			return err
		}
		return s.collection.AddItem(tx, listing.SellerID, listing.ItemData,
			"Listing expired: "+listing.ItemDisplayName)
	})
	if err != nil {
		return fmt.Errorf("failed to expire listing: %w", err)
	}

	s.collection.Notify(listing.SellerID, "ah-listing-expired", map[string]string{
		"item": listing.ItemDisplayName,
	})
	log.Info().Str("listing_id", listing.ListingID).Msg("listing expired unsold")
	return nil
}

// settle moves a listing to SOLD in one transaction: status claim, escrow
// resolution, proceeds and item to the collection queues, transaction
// record. The winner's money is already held (escrow for bids, the fresh
// withdrawal for buyouts). Price history feeds after commit; its failure
// never unwinds a sale.
func (s *Service) settle(listing *Listing, buyerID string, price float64, saleType string, tax float64) (*Transaction, error) {
	transaction := &Transaction{
		TransactionID: "TXN_" + uuid.New().String(),
		ListingID:     listing.ListingID,
		SellerID:      listing.SellerID,
		BuyerID:       buyerID,
		ItemData:      listing.ItemData,
		ItemMaterial:  listing.ItemMaterial,
		SalePrice:     price,
		SaleType:      saleType,
		TaxAmount:     tax,
		FeeAmount:     listing.ListingFee,
		CompletedAt:   time.Now(),
	}

	err := s.db.Handle().Transaction(func(tx *gorm.DB) error {
		claimed, err := s.db.ClaimStatus(tx, listing.ListingID, StatusSold)
		if err != nil {
			return err
		}
		if !claimed {
			return types.ErrStale
		}

		if saleType == SaleTypeBid {
			// the winner's escrow becomes the proceeds
			if err := s.escrow.Consume(tx, listing.ListingID, buyerID); err != nil {
				return err
			}
		} else if listing.HasBids() {
			// buyout over an open bid: refund the bidder
			if err := s.refundEscrow(tx, listing, "Outbid by buyout: "+listing.ItemDisplayName); err != nil {
				return err
			}
		}

		if err := s.collection.AddMoney(tx, listing.SellerID, price-tax,
			"Item sold: "+listing.ItemDisplayName); err != nil {
			return err
		}
		if err := s.collection.AddItem(tx, buyerID, listing.ItemData,
			"Purchased: "+listing.ItemDisplayName); err != nil {
			return err
		}
		return s.db.CreateTransaction(tx, transaction)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to settle listing: %w", err)
	}

	if err := s.prices.RecordSale(listing.ItemMaterial, price, time.Now()); err != nil {
		log.Warn().Err(err).Str("material", listing.ItemMaterial).Msg("failed to record price history")
	}
	return transaction, nil
}

// refundOrQueue returns money owed after a failed commit. A refused
// wallet deposit falls back to the collection queue, the engine's
// durable path for money owed, so the amount is never silently lost.
func (s *Service) refundOrQueue(playerID string, amount float64, reason string) {
	if s.economy.Deposit(playerID, amount) {
		return
	}
	log.Error().
		Str("player_id", playerID).
		Float64("amount", amount).
		Str("reason", reason).
		Msg("wallet refund refused, queueing to collection")
	if err := s.collection.AddMoney(s.db.Handle(), playerID, amount, reason); err != nil {
		log.Error().Err(err).
			Str("player_id", playerID).
			Float64("amount", amount).
			Msg("failed to queue refund to collection")
	}
}

// refundEscrow returns every open hold on a listing to its bidder's
// collection queue. Covers the non-durable escrow mode by falling back
// to the cached current bid.
func (s *Service) refundEscrow(tx *gorm.DB, listing *Listing, reason string) error {
	holds, err := s.escrow.ReleaseAll(tx, listing.ListingID)
	if err != nil {
		return err
	}
	if len(holds) == 0 && listing.HasBids() && !s.escrow.Durable() {
		return s.collection.AddMoney(tx, listing.CurrentBidderID, listing.CurrentBid, reason)
	}
	for _, hold := range holds {
		if err := s.collection.AddMoney(tx, hold.BidderID, hold.Amount, reason); err != nil {
			return err
		}
	}
	return nil
}

// Transactions returns a player's sale history, newest first.
func (s *Service) Transactions(playerID string, page, perPage int) ([]Transaction, int64, error) {
	transactions, err := s.db.Transactions(playerID, page, perPage)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.db.CountTransactions(playerID)
	return transactions, total, err
}

// Ban bars a player from the auction house.
func (s *Service) Ban(playerID, bannedBy, reason string) error {
	return s.db.CreateBan(&Ban{
		PlayerID: playerID,
		BannedBy: bannedBy,
		Reason:   reason,
		BannedAt: time.Now(),
	})
}

// Unban lifts a ban; returns ErrNotFound when none exists.
func (s *Service) Unban(playerID string) error {
	removed, err := s.db.DeleteBan(playerID)
	if err != nil {
		return err
	}
	if !removed {
		return types.ErrNotFound
	}
	return nil
}

func (s *Service) IsBanned(playerID string) (bool, error) {
	return s.db.IsBanned(playerID)
}
