package collection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrEntryGone is returned when a claimed entry no longer exists, either
// never created or already delivered.
var ErrEntryGone = errors.New("collection entry no longer exists")

// Publisher is an optional live-delivery hook. Publish returns the number
// of receivers; zero means nobody was listening and the message should be
// queued instead. The service treats a nil Publisher as "nobody online".
type Publisher interface {
	Publish(playerID, key string, data map[string]string) (int64, error)
}

// Service is the collection and notification queue. Items and money owed
// to players land here and wait until claimed; delivery is caller-driven
// so nothing is lost when a grant fails.
type Service struct {
	db           *Database
	pub          Publisher
	queueOffline bool
}

func NewService(gormDB *gorm.DB, pub Publisher, queueOffline bool) *Service {
	return &Service{
		db:           NewDatabase(gormDB),
		pub:          pub,
		queueOffline: queueOffline,
	}
}

// AddItem queues an item for a player inside the caller's transaction.
func (s *Service) AddItem(tx *gorm.DB, playerID string, item []byte, reason string) error {
	return s.db.AddEntry(tx, playerID, TypeItem, item, 0, reason)
}

// AddMoney queues currency for a player inside the caller's transaction.
func (s *Service) AddMoney(tx *gorm.DB, playerID string, amount float64, reason string) error {
	return s.db.AddEntry(tx, playerID, TypeMoney, nil, amount, reason)
}

// Collection lists everything waiting for a player.
func (s *Service) Collection(playerID string) ([]Entry, error) {
	return s.db.GetEntries(playerID)
}

// Entry fetches a single entry, nil when absent.
func (s *Service) Entry(entryID string) (*Entry, error) {
	return s.db.GetEntry(entryID)
}

// RemoveEntry deletes a delivered entry. The caller must have granted the
// item or deposited the money first; on a failed grant it simply does not
// call RemoveEntry and the entry waits for the next claim attempt.
func (s *Service) RemoveEntry(entryID string) error {
	deleted, err := s.db.DeleteEntry(entryID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrEntryGone
	}
	return nil
}

// ClaimMoney delivers a MONEY entry to the player's balance. The
// conditional delete runs first as the exclusivity gate, so two racing
// claims of the same entry deposit at most once; the loser gets
// ErrEntryGone before any money moves. A refused deposit re-queues the
// entry under its original reason so the amount is never lost.
func (s *Service) ClaimMoney(entry *Entry, deposit func(playerID string, amount float64) bool) error {
	if err := s.RemoveEntry(entry.EntryID); err != nil {
		return err
	}
	if !deposit(entry.PlayerID, entry.Amount) {
		if err := s.db.AddEntry(s.db.db, entry.PlayerID, TypeMoney, nil, entry.Amount, entry.Reason); err != nil {
			log.Error().Err(err).
				Str("player_id", entry.PlayerID).
				Float64("amount", entry.Amount).
				Msg("failed to re-queue entry after refused deposit")
			return fmt.Errorf("deposit of %.2f failed and the entry could not be restored: %w", entry.Amount, err)
		}
		return fmt.Errorf("deposit of %.2f failed, entry re-queued", entry.Amount)
	}
	return nil
}

// Notify delivers a message to a player: live when a publisher has a
// receiver for them, queued otherwise. Publish failures never fail the
// operation that triggered the notification.
func (s *Service) Notify(playerID, key string, data map[string]string) {
	if s.pub != nil {
		receivers, err := s.pub.Publish(playerID, key, data)
		if err != nil {
			log.Warn().Err(err).Str("player_id", playerID).Str("key", key).Msg("live notification publish failed")
		} else if receivers > 0 {
			return
		}
	}
	if !s.queueOffline {
		return
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("notification data encode failed")
		encoded = []byte("{}")
	}
	if err := s.db.QueueNotification(playerID, key, string(encoded)); err != nil {
		log.Error().Err(err).Str("player_id", playerID).Str("key", key).Msg("failed to queue notification")
	}
}

// Drain returns and removes a player's queued notifications, oldest
// first. Called by session code when the player comes online.
func (s *Service) Drain(playerID string) ([]Notification, error) {
	return s.db.DrainNotifications(playerID)
}
