package collection

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// AddEntry inserts a collection entry on the given handle, which is the
// settlement transaction when called from a settlement path.
func (d *Database) AddEntry(tx *gorm.DB, playerID, entryType string, item []byte, amount float64, reason string) error {
	return tx.Create(&Entry{
		EntryID:   "COL_" + uuid.New().String(),
		PlayerID:  playerID,
		Type:      entryType,
		ItemData:  item,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now(),
	}).Error
}

func (d *Database) GetEntries(playerID string) ([]Entry, error) {
	var entries []Entry
	if err := d.db.Where("player_id = ?", playerID).Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *Database) GetEntry(entryID string) (*Entry, error) {
	var entry Entry
	if err := d.db.Where("entry_id = ?", entryID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// DeleteEntry removes a delivered entry. RowsAffected distinguishes a
// real delete from a repeat attempt so an entry can never be claimed twice.
func (d *Database) DeleteEntry(entryID string) (bool, error) {
	result := d.db.Unscoped().Where("entry_id = ?", entryID).Delete(&Entry{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (d *Database) QueueNotification(playerID, key, data string) error {
	return d.db.Create(&Notification{
		PlayerID:    playerID,
		MessageKey:  key,
		MessageData: data,
		CreatedAt:   time.Now(),
	}).Error
}

// DrainNotifications fetches and deletes a player's queued notifications
// in one transaction, oldest first.
func (d *Database) DrainNotifications(playerID string) ([]Notification, error) {
	var notes []Notification
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("player_id = ?", playerID).Order("created_at ASC").Find(&notes).Error; err != nil {
			return err
		}
		if len(notes) == 0 {
			return nil
		}
		return tx.Unscoped().Where("player_id = ?", playerID).Delete(&Notification{}).Error
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}
