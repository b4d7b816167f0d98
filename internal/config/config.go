package config

import (
	"errors"
	"io/fs"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is one immutable snapshot of the auction house settings.
// Mutating operations read a snapshot once at entry so a mid-flight
// reload never changes the rules under a running settlement.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Listings  ListingsConfig  `mapstructure:"listings"`
	Bidding   BiddingConfig   `mapstructure:"bidding"`
	AntiSnipe AntiSnipeConfig `mapstructure:"anti_snipe"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Notify    NotifyConfig    `mapstructure:"notifications"`
	History   HistoryConfig   `mapstructure:"price_history"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	DBPath    string `mapstructure:"db_path"`
	JWTSecret string `mapstructure:"jwt_secret"`
	RedisAddr string `mapstructure:"redis_addr"`
}

type ListingsConfig struct {
	Durations            []int          `mapstructure:"durations"`      // allowed duration hours
	DefaultDuration      int            `mapstructure:"default_duration"`
	FeePercent           float64        `mapstructure:"fee_percent"`
	SalesTaxPercent      float64        `mapstructure:"sales_tax_percent"`
	CooldownSeconds      int            `mapstructure:"cooldown_seconds"`
	MaxDefault           int            `mapstructure:"max_default"`
	MaxPerTier           map[string]int `mapstructure:"max_per_tier"`
	MinPrice             float64        `mapstructure:"min_price"`
	MaxPrice             float64        `mapstructure:"max_price"`
	BlacklistedMaterials []string       `mapstructure:"blacklisted_materials"`
}

type BiddingConfig struct {
	MinIncrementPercent float64 `mapstructure:"min_increment_percent"`
	EscrowEnabled       bool    `mapstructure:"escrow"`
}

type AntiSnipeConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	TriggerSeconds   int  `mapstructure:"trigger_seconds"`
	ExtensionSeconds int  `mapstructure:"extension_seconds"`
	MaxExtensions    int  `mapstructure:"max_extensions"`
}

type SweepConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

type NotifyConfig struct {
	Sound        string `mapstructure:"sound"`
	QueueOffline bool   `mapstructure:"queue_offline"`
}

type HistoryConfig struct {
	RetentionDays int    `mapstructure:"retention_days"`
	PruneSchedule string `mapstructure:"prune_schedule"`
}

// IsBlacklisted reports whether a material may not be listed.
func (c *Config) IsBlacklisted(material string) bool {
	for _, m := range c.Listings.BlacklistedMaterials {
		if strings.EqualFold(m, material) {
			return true
		}
	}
	return false
}

// MaxListings returns the concurrent listing cap for a seller tier.
func (c *Config) MaxListings(tier string) int {
	if n, ok := c.Listings.MaxPerTier[strings.ToLower(tier)]; ok && n > 0 {
		return n
	}
	return c.Listings.MaxDefault
}

// AllowedDuration clamps a requested duration to the configured set,
// falling back to the default when the request is absent or unknown.
func (c *Config) AllowedDuration(hours int) int {
	for _, d := range c.Listings.Durations {
		if d == hours {
			return hours
		}
	}
	return c.Listings.DefaultDuration
}

// Store holds the live configuration and serves atomic snapshots.
type Store struct {
	v   *viper.Viper
	cur atomic.Pointer[Config]
}

// Load reads the YAML file at path (plus AH_* env overrides) and returns
// a Store serving it. A missing file is not an error: defaults apply.
func Load(path string) (*Store, error) {
	v := viper.New()
	v.SetEnvPrefix("AH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	// A missing file means run on defaults; anything else is fatal.
	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	s := &Store{v: v}
	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	s.cur.Store(cfg)
	return s, nil
}

// Snapshot returns the current immutable configuration.
func (s *Store) Snapshot() *Config {
	return s.cur.Load()
}

// Watch re-reads the file on change and swaps the snapshot. A file that
// fails to parse leaves the previous snapshot in place.
func (s *Store) Watch() {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := unmarshal(s.v)
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("config reload failed, keeping previous settings")
			return
		}
		s.cur.Store(cfg)
		log.Info().Str("file", e.Name).Msg("configuration reloaded")
	})
	s.v.WatchConfig()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.db_path", "auction.db")
	v.SetDefault("server.jwt_secret", "auction-secret-key")
	v.SetDefault("server.redis_addr", "")

	v.SetDefault("listings.durations", []int{1, 6, 12, 24, 48, 72})
	v.SetDefault("listings.default_duration", 24)
	v.SetDefault("listings.fee_percent", 2.0)
	v.SetDefault("listings.sales_tax_percent", 5.0)
	v.SetDefault("listings.cooldown_seconds", 10)
	v.SetDefault("listings.max_default", 5)
	v.SetDefault("listings.min_price", 1.0)
	v.SetDefault("listings.max_price", 1000000.0)
	v.SetDefault("listings.blacklisted_materials", []string{})

	v.SetDefault("bidding.min_increment_percent", 5.0)
	v.SetDefault("bidding.escrow", true)

	v.SetDefault("anti_snipe.enabled", true)
	v.SetDefault("anti_snipe.trigger_seconds", 30)
	v.SetDefault("anti_snipe.extension_seconds", 30)
	v.SetDefault("anti_snipe.max_extensions", 3)

	v.SetDefault("sweep.interval_seconds", 5)

	v.SetDefault("notifications.sound", "ENTITY_EXPERIENCE_ORB_PICKUP")
	v.SetDefault("notifications.queue_offline", true)

	v.SetDefault("price_history.retention_days", 90)
	v.SetDefault("price_history.prune_schedule", "0 0 4 * * *")
}
