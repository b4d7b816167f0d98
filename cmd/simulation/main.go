package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/blockforge/auctionhouse/internal/auction"
	"github.com/blockforge/auctionhouse/internal/auth"
	"github.com/blockforge/auctionhouse/internal/collection"
	"github.com/blockforge/auctionhouse/internal/config"
	"github.com/blockforge/auctionhouse/internal/database"
	"github.com/blockforge/auctionhouse/internal/economy"
	"github.com/blockforge/auctionhouse/internal/escrow"
	"github.com/blockforge/auctionhouse/internal/pricehistory"
	"github.com/blockforge/auctionhouse/pkg/middleware"
)

const (
	numPlayers    = 8
	minListings   = 3
	maxListings   = 10
	biddingRounds = 5
	startingFunds = 25000.0
	serverAddress = "http://localhost:8080"
	adminPlayerID = "SIM_ADMIN"
)

var (
	materials = []string{
		"DIAMOND_SWORD", "NETHERITE_PICKAXE", "ENCHANTED_BOOK", "GOLDEN_APPLE",
		"ELYTRA", "DIAMOND_CHESTPLATE", "BOW", "SHULKER_BOX", "EMERALD_BLOCK",
		"TRIDENT",
	}
	tiers = []string{"default", "vip", "mvp"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// addFailure records a failed call for the route
func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// player is one simulated auction house participant
type player struct {
	id    string
	name  string
	tier  string
	token string
}

// simulationClient handles HTTP communication with the auction house API
type simulationClient struct {
	baseURL string
	client  *http.Client
	stats   map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"deposit": {name: "Fund Account"},
			"list":    {name: "Create Listing"},
			"browse":  {name: "Browse Listings"},
			"bid":     {name: "Place Bid"},
			"buyout":  {name: "Buy Now"},
			"collect": {name: "Collect Entry"},
		},
	}
}

// authenticate obtains a session token for a simulated player
func (sc *simulationClient) authenticate(playerID, displayName, tier string, permissions []string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	session := auth.SessionRequest{
		APIKey:      auth.TestAPIKey,
		APISecret:   auth.TestAPISecret,
		PlayerID:    playerID,
		DisplayName: displayName,
		Tier:        tier,
		Permissions: permissions,
	}

	body, err := json.Marshal(session)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// do issues an authenticated request and decodes the standard response
// envelope into out (when out is non-nil)
func (sc *simulationClient) do(method, path, token string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// fundAccount credits a player's wallet via the internal deposit endpoint
func (sc *simulationClient) fundAccount(adminToken, playerID string, amount float64) error {
	start := time.Now()
	defer func() {
		sc.stats["deposit"].addDuration(time.Since(start))
	}()

	payload := map[string]interface{}{
		"player_id": playerID,
		"amount":    amount,
	}
	if err := sc.do("POST", "/api/v1/internal/accounts/deposit", adminToken, payload, nil); err != nil {
		sc.stats["deposit"].addFailure()
		return err
	}
	return nil
}

// createListing lists a random item for the player
// Returns the listing ID on success
func (sc *simulationClient) createListing(p *player, material string, startPrice, buyoutPrice float64) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["list"].addDuration(time.Since(start))
	}()

	payload := map[string]interface{}{
		"item": map[string]interface{}{
			"material":     material,
			"display_name": strings.ReplaceAll(material, "_", " "),
		},
		"start_price":    startPrice,
		"buyout_price":   buyoutPrice,
		"duration_hours": 24,
	}

	var listing auction.Listing
	if err := sc.do("POST", "/api/v1/listings", p.token, payload, &listing); err != nil {
		sc.stats["list"].addFailure()
		return "", err
	}
	if listing.ListingID == "" {
		return "", fmt.Errorf("no listing ID in response")
	}
	return listing.ListingID, nil
}

// browseListings fetches a page of active listings
func (sc *simulationClient) browseListings() ([]auction.Listing, error) {
	start := time.Now()
	defer func() {
		sc.stats["browse"].addDuration(time.Since(start))
	}()

	var page struct {
		Listings []auction.Listing `json:"listings"`
		Total    int64             `json:"total"`
	}
	if err := sc.do("GET", "/api/v1/listings?per_page=100", "", nil, &page); err != nil {
		sc.stats["browse"].addFailure()
		return nil, err
	}
	return page.Listings, nil
}

// placeBid submits a bid on a listing
func (sc *simulationClient) placeBid(p *player, listingID string, amount float64) error {
	start := time.Now()
	defer func() {
		sc.stats["bid"].addDuration(time.Since(start))
	}()

	payload := map[string]interface{}{"amount": amount}
	path := fmt.Sprintf("/api/v1/listings/%s/bids", listingID)
	if err := sc.do("POST", path, p.token, payload, nil); err != nil {
		sc.stats["bid"].addFailure()
		return err
	}
	return nil
}

// buyNow purchases a listing outright
func (sc *simulationClient) buyNow(p *player, listingID string) (*auction.Transaction, error) {
	start := time.Now()
	defer func() {
		sc.stats["buyout"].addDuration(time.Since(start))
	}()

	var txn auction.Transaction
	path := fmt.Sprintf("/api/v1/listings/%s/buyout", listingID)
	if err := sc.do("POST", path, p.token, nil, &txn); err != nil {
		sc.stats["buyout"].addFailure()
		return nil, err
	}
	return &txn, nil
}

// collectAll claims every pending collection entry for the player
// Returns the number of entries claimed
func (sc *simulationClient) collectAll(p *player) (int, error) {
	var box struct {
		Entries []collection.Entry `json:"entries"`
		Count   int                `json:"count"`
	}
	if err := sc.do("GET", "/api/v1/collection", p.token, nil, &box); err != nil {
		return 0, err
	}

	claimed := 0
	for _, entry := range box.Entries {
		start := time.Now()
		path := fmt.Sprintf("/api/v1/collection/%s", entry.EntryID)
		if err := sc.do("DELETE", path, p.token, nil, nil); err != nil {
			sc.stats["collect"].addFailure()
			log.Error().Err(err).Str("entry_id", entry.EntryID).Msg("Failed to collect entry")
			continue
		}
		sc.stats["collect"].addDuration(time.Since(start))
		claimed++
	}
	return claimed, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the auction house simulation
// It starts a local API server and simulates multiple concurrent players
// listing, bidding, buying out and collecting
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient := newSimulationClient()

	// Admin token funds the player wallets
	adminToken, err := simClient.authenticate(adminPlayerID, "Simulation Admin", "default", []string{"ah.admin"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate admin")
	}

	// Create and fund the simulated players
	players := make([]*player, 0, numPlayers)
	for i := 0; i < numPlayers; i++ {
		p := &player{
			id:   fmt.Sprintf("PLAYER_%d", i),
			name: fmt.Sprintf("Player%d", i),
			tier: tiers[rand.Intn(len(tiers))],
		}
		token, err := simClient.authenticate(p.id, p.name, p.tier, nil)
		if err != nil {
			log.Fatal().Err(err).Str("player_id", p.id).Msg("Failed to authenticate player")
		}
		p.token = token

		if err := simClient.fundAccount(adminToken, p.id, startingFunds); err != nil {
			log.Fatal().Err(err).Str("player_id", p.id).Msg("Failed to fund player")
		}
		players = append(players, p)
	}
	log.Info().Int("players", len(players)).Msg("Players funded, starting simulation")

	// Collect statistics during the run
	stats := struct {
		ListingsCreated int
		FailedListings  int
		BidsPlaced      int
		RejectedBids    int
		Buyouts         int
		FailedBuyouts   int
		EntriesClaimed  int
		TotalValue      float64
		StartTime       time.Time
		Materials       map[string]int
	}{
		StartTime: time.Now(),
		Materials: make(map[string]int),
	}

	// Listing phase: each player lists a random batch of items
	var statsMu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range players {
		wg.Add(1)
		go func(p *player) {
			defer wg.Done()
			count := rand.Intn(maxListings-minListings) + minListings
			for i := 0; i < count; i++ {
				material := materials[rand.Intn(len(materials))]
				startPrice := float64(rand.Intn(900) + 100)
				buyoutPrice := 0.0
				// Two thirds of listings offer a buyout
				if rand.Intn(3) > 0 {
					buyoutPrice = startPrice * (1.5 + rand.Float64())
				}

				listingID, err := simClient.createListing(p, material, startPrice, buyoutPrice)
				statsMu.Lock()
				if err != nil {
					stats.FailedListings++
					statsMu.Unlock()
					log.Error().Err(err).Str("player_id", p.id).Str("material", material).
						Msg("Failed to create listing")
					continue
				}
				stats.ListingsCreated++
				stats.Materials[material]++
				statsMu.Unlock()

				log.Info().
					Str("player_id", p.id).
					Str("listing_id", listingID).
					Str("material", material).
					Float64("start_price", startPrice).
					Float64("buyout_price", buyoutPrice).
					Msg("Listing created")

				// The listing cooldown applies per seller
				time.Sleep(time.Duration(1100+rand.Intn(500)) * time.Millisecond)
			}
		}(p)
	}
	wg.Wait()

	// Bidding phase: players browse and bid each other up
	for round := 0; round < biddingRounds; round++ {
		listings, err := simClient.browseListings()
		if err != nil {
			log.Error().Err(err).Msg("Failed to browse listings")
			continue
		}

		for _, p := range players {
			if len(listings) == 0 {
				break
			}
			target := listings[rand.Intn(len(listings))]
			if target.SellerID == p.id {
				continue
			}

			// Occasionally buy out instead of bidding
			if target.HasBuyout() && rand.Intn(4) == 0 {
				txn, err := simClient.buyNow(p, target.ListingID)
				statsMu.Lock()
				if err != nil {
					stats.FailedBuyouts++
					statsMu.Unlock()
					log.Debug().Err(err).Str("listing_id", target.ListingID).Msg("Buyout rejected")
					continue
				}
				stats.Buyouts++
				stats.TotalValue += txn.SalePrice
				statsMu.Unlock()
				log.Info().
					Str("player_id", p.id).
					Str("listing_id", target.ListingID).
					Float64("price", txn.SalePrice).
					Msg("Listing bought out")
				continue
			}

			minBid := target.StartPrice
			if target.HasBids() {
				minBid = target.CurrentBid * 1.05
			}
			amount := minBid * (1.0 + rand.Float64()*0.2)

			if err := simClient.placeBid(p, target.ListingID, amount); err != nil {
				statsMu.Lock()
				stats.RejectedBids++
				statsMu.Unlock()
				log.Debug().Err(err).Str("listing_id", target.ListingID).Msg("Bid rejected")
				continue
			}
			statsMu.Lock()
			stats.BidsPlaced++
			statsMu.Unlock()
			log.Info().
				Str("player_id", p.id).
				Str("listing_id", target.ListingID).
				Float64("amount", amount).
				Msg("Bid placed")
		}
	}

	// Collection phase: players claim whatever the settlements owed them
	for _, p := range players {
		claimed, err := simClient.collectAll(p)
		if err != nil {
			log.Error().Err(err).Str("player_id", p.id).Msg("Failed to fetch collection")
			continue
		}
		stats.EntriesClaimed += claimed
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🏷️  AUCTION HOUSE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Auction Statistics
--------------------
Listings Created: %d
Failed Listings:  %d
Bids Placed:      %d
Rejected Bids:    %d
Buyouts:          %d
Failed Buyouts:   %d
Entries Claimed:  %d
Buyout Value:     $%.2f
Duration:         %v

📈 Material Distribution
----------------------
`, stats.ListingsCreated, stats.FailedListings, stats.BidsPlaced, stats.RejectedBids,
		stats.Buyouts, stats.FailedBuyouts, stats.EntriesClaimed,
		stats.TotalValue, duration.Round(time.Millisecond))

	// Print material distribution with simple ASCII bar chart
	maxMaterialCount := 0
	for _, count := range stats.Materials {
		if count > maxMaterialCount {
			maxMaterialCount = count
		}
	}
	for material, count := range stats.Materials {
		barLength := int(float64(count) / float64(maxMaterialCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-20s: %s (%d)\n", material, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("listings", stats.ListingsCreated).
		Int("bids", stats.BidsPlaced).
		Int("buyouts", stats.Buyouts).
		Float64("buyout_value", stats.TotalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer initializes and starts the auction house API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Isolated database for each simulation run
	os.Setenv("AH_SERVER_DB_PATH", fmt.Sprintf("simulation-%d.db", time.Now().Unix()))
	// Simulated sellers list fast; shrink the cooldown
	os.Setenv("AH_LISTINGS_COOLDOWN_SECONDS", "1")

	cfgStore, err := config.Load("simulation.yaml")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := cfgStore.Snapshot()

	// Initialize database
	db, err := database.NewDatabase(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(cfg.Server.JWTSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	wallet := economy.NewWallet(db)
	collectionService := collection.NewService(db, nil, cfg.Notify.QueueOffline)
	priceService := pricehistory.NewService(db)
	ledger := escrow.NewLedger(db, cfg.Bidding.EscrowEnabled)
	auctionService := auction.NewService(db, cfgStore, wallet, ledger, collectionService, priceService)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	auctionHandlers := auction.NewGinHandlers(auctionService)
	collectionHandlers := collection.NewGinHandlers(collectionService, wallet)
	priceHandlers := pricehistory.NewGinHandlers(priceService)
	economyHandlers := economy.NewGinHandlers(wallet)

	// Setup routes
	setupRoutes(router, cfg.Server.JWTSecret, authHandlers, auctionHandlers,
		collectionHandlers, priceHandlers, economyHandlers)

	// Start the server
	return router.Run(":" + cfg.Server.Port)
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	auctionHandlers *auction.GinHandlers,
	collectionHandlers *collection.GinHandlers,
	priceHandlers *pricehistory.GinHandlers,
	economyHandlers *economy.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Public browsing routes
		v1.GET("/listings", auctionHandlers.ListListingsHandler())
		v1.GET("/listings/:listing_id", auctionHandlers.GetListingHandler())
		v1.GET("/prices/:material", priceHandlers.HistoryHandler())

		// Player routes
		player := v1.Group("")
		player.Use(middleware.JWTAuth(jwtSecret))
		{
			player.GET("/balance", economyHandlers.BalanceHandler())
			player.GET("/transactions", auctionHandlers.TransactionsHandler())
			player.GET("/collection", collectionHandlers.CollectionHandler())
			player.DELETE("/collection/:entry_id", collectionHandlers.CollectEntryHandler())
			player.GET("/notifications", collectionHandlers.NotificationsHandler())

			mutations := player.Group("")
			mutations.Use(auctionHandlers.BanGuard())
			{
				mutations.POST("/listings", auctionHandlers.CreateListingHandler())
				mutations.GET("/listings/mine", auctionHandlers.MyListingsHandler())
				mutations.POST("/listings/:listing_id/bids", auctionHandlers.PlaceBidHandler())
				mutations.POST("/listings/:listing_id/buyout", auctionHandlers.BuyNowHandler())
				mutations.DELETE("/listings/:listing_id", auctionHandlers.CancelListingHandler())
			}
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/accounts/deposit", economyHandlers.DepositHandler())
			internal.POST("/bans", auctionHandlers.BanHandler())
			internal.DELETE("/bans/:player_id", auctionHandlers.UnbanHandler())
		}
	}
}
